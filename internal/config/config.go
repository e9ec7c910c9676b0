package config

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"obgateway/internal/crypto"
)

type AppCfg struct {
	Env     string
	Port    string
	BaseURL string
	// LogLevel is a zerolog level name.
	LogLevel string
}

// Sandbox reports whether the process runs against the in-process sandbox ASPSP.
func (a AppCfg) Sandbox() bool { return a.Env == "sandbox" }

type StoreCfg struct {
	Driver string // postgres | memory
	DSN    string
}

type RedisCfg struct {
	// Addr empty means locks and the account cache stay in process.
	Addr            string
	LockTTL         time.Duration
	AccountCacheTTL time.Duration
}

type SecurityCfg struct {
	AESKey []byte
	// APITokenSHA256 is the hex SHA-256 of the bearer token API callers present.
	APITokenSHA256 string
	AdminToken     string
}

type ASPSPCfg struct {
	Provider       string
	BaseURL        string
	AuthURL        string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	SandboxBalance string
}

type TimeoutCfg struct {
	Upstream time.Duration
	Auth     time.Duration
}

type PagingCfg struct {
	DefaultSize int
	MaxSize     int
}

type JobsCfg struct {
	PollInterval time.Duration
	// RefreshPaymentsSchedule seeds a REFRESH_PAYMENTS schedule at startup; empty disables it.
	RefreshPaymentsSchedule string
}

type Cfg struct {
	App      AppCfg
	Store    StoreCfg
	Redis    RedisCfg
	Sec      SecurityCfg
	ASPSP    ASPSPCfg
	Timeouts TimeoutCfg
	Paging   PagingCfg
	Jobs     JobsCfg
}

// Load reads .env (if present) and the environment, exiting on invalid settings.
func Load() Cfg {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env")
	}
	v := viper.New()
	v.AutomaticEnv()
	cfg, err := Parse(v)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	return cfg
}

// Parse builds the configuration from v, applying defaults.
func Parse(v *viper.Viper) (Cfg, error) {
	v.SetDefault("APP_ENV", "sandbox")
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_BASE_URL", "http://localhost:8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("ASPSP_PROVIDER", "sandbox")
	v.SetDefault("SANDBOX_BALANCE", "1000.00")
	v.SetDefault("UPSTREAM_TIMEOUT", "10s")
	v.SetDefault("AUTH_TIMEOUT", "15s")
	v.SetDefault("PAGE_SIZE_DEFAULT", 25)
	v.SetDefault("PAGE_SIZE_MAX", 100)
	v.SetDefault("SCHEDULER_POLL_INTERVAL", "15s")
	v.SetDefault("REFRESH_PAYMENTS_SCHEDULE", "0 */5 * * * *")
	v.SetDefault("LOCK_TTL", "30s")
	v.SetDefault("ACCOUNT_CACHE_TTL", "6h")

	cfg := Cfg{
		App: AppCfg{
			Env:      strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
			Port:     v.GetString("APP_PORT"),
			BaseURL:  strings.TrimRight(v.GetString("APP_BASE_URL"), "/"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		Store: StoreCfg{
			Driver: strings.ToLower(v.GetString("STORE_DRIVER")),
			DSN:    v.GetString("DB_DSN"),
		},
		Redis: RedisCfg{
			Addr:            v.GetString("REDIS_ADDR"),
			LockTTL:         v.GetDuration("LOCK_TTL"),
			AccountCacheTTL: v.GetDuration("ACCOUNT_CACHE_TTL"),
		},
		Sec: SecurityCfg{
			APITokenSHA256: strings.ToLower(strings.TrimSpace(v.GetString("API_TOKEN_SHA256"))),
			AdminToken:     strings.TrimSpace(v.GetString("ADMIN_TOKEN")),
		},
		ASPSP: ASPSPCfg{
			Provider:       strings.ToLower(v.GetString("ASPSP_PROVIDER")),
			BaseURL:        v.GetString("ASPSP_BASE_URL"),
			AuthURL:        v.GetString("ASPSP_AUTH_URL"),
			TokenURL:       v.GetString("ASPSP_TOKEN_URL"),
			ClientID:       v.GetString("ASPSP_CLIENT_ID"),
			ClientSecret:   v.GetString("ASPSP_CLIENT_SECRET"),
			SandboxBalance: v.GetString("SANDBOX_BALANCE"),
		},
		Timeouts: TimeoutCfg{
			Upstream: v.GetDuration("UPSTREAM_TIMEOUT"),
			Auth:     v.GetDuration("AUTH_TIMEOUT"),
		},
		Paging: PagingCfg{
			DefaultSize: v.GetInt("PAGE_SIZE_DEFAULT"),
			MaxSize:     v.GetInt("PAGE_SIZE_MAX"),
		},
		Jobs: JobsCfg{
			PollInterval:            v.GetDuration("SCHEDULER_POLL_INTERVAL"),
			RefreshPaymentsSchedule: strings.TrimSpace(v.GetString("REFRESH_PAYMENTS_SCHEDULE")),
		},
	}

	// fail fast on required settings
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.DSN == "" {
			return cfg, fmt.Errorf("DB_DSN is required with STORE_DRIVER=postgres")
		}
	case "memory":
	default:
		return cfg, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", cfg.Store.Driver)
	}
	if cfg.Timeouts.Upstream <= 0 || cfg.Timeouts.Auth <= 0 {
		return cfg, fmt.Errorf("UPSTREAM_TIMEOUT and AUTH_TIMEOUT must be positive")
	}
	if cfg.Paging.DefaultSize <= 0 || cfg.Paging.MaxSize < cfg.Paging.DefaultSize {
		return cfg, fmt.Errorf("PAGE_SIZE_DEFAULT must be positive and at most PAGE_SIZE_MAX")
	}
	if len(cfg.Sec.APITokenSHA256) != 64 {
		return cfg, fmt.Errorf("API_TOKEN_SHA256 must be a hex SHA-256 digest")
	}
	if cfg.ASPSP.Provider == "openbanking" && (cfg.ASPSP.BaseURL == "" || cfg.ASPSP.TokenURL == "" || cfg.ASPSP.ClientID == "") {
		return cfg, fmt.Errorf("ASPSP_BASE_URL, ASPSP_TOKEN_URL and ASPSP_CLIENT_ID are required for the openbanking provider")
	}

	keyB64 := strings.TrimSpace(v.GetString("AES_256_KEY_BASE64"))
	switch {
	case keyB64 != "":
		key, err := crypto.ParseKey(keyB64)
		if err != nil {
			return cfg, fmt.Errorf("AES_256_KEY_BASE64: %w", err)
		}
		cfg.Sec.AESKey = key
	case cfg.App.Sandbox():
		cfg.Sec.AESKey = make([]byte, crypto.KeySize)
		if _, err := rand.Read(cfg.Sec.AESKey); err != nil {
			return cfg, err
		}
		log.Warn().Msg("AES_256_KEY_BASE64 not set, using an ephemeral key; stored grants will not survive a restart")
	default:
		return cfg, fmt.Errorf("AES_256_KEY_BASE64 is required outside the sandbox")
	}
	return cfg, nil
}
