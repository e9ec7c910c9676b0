package config

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

const tokenDigest = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func base() *viper.Viper {
	v := viper.New()
	v.Set("STORE_DRIVER", "memory")
	v.Set("API_TOKEN_SHA256", tokenDigest)
	return v
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(base())
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.App.Sandbox() || cfg.App.Port != "8080" || cfg.ASPSP.Provider != "sandbox" {
		t.Fatalf("app defaults %+v %+v", cfg.App, cfg.ASPSP)
	}
	if cfg.Timeouts.Upstream != 10*time.Second || cfg.Jobs.PollInterval != 15*time.Second || cfg.Redis.AccountCacheTTL != 6*time.Hour {
		t.Fatalf("durations %+v %+v %+v", cfg.Timeouts, cfg.Jobs, cfg.Redis)
	}
	if cfg.Jobs.RefreshPaymentsSchedule != "0 */5 * * * *" {
		t.Fatalf("refresh payments schedule %q", cfg.Jobs.RefreshPaymentsSchedule)
	}
	if cfg.Paging.DefaultSize != 25 || cfg.Paging.MaxSize != 100 {
		t.Fatalf("paging %+v", cfg.Paging)
	}
	if len(cfg.Sec.AESKey) != 32 {
		t.Fatal("sandbox did not get an ephemeral key")
	}
}

func TestParseKey(t *testing.T) {
	v := base()
	key := strings.Repeat("k", 32)
	v.Set("AES_256_KEY_BASE64", base64.StdEncoding.EncodeToString([]byte(key)))
	v.Set("APP_ENV", "production")
	cfg, err := Parse(v)
	if err != nil {
		t.Fatal(err)
	}
	if string(cfg.Sec.AESKey) != key {
		t.Fatal("key not decoded")
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string]map[string]any{
		"postgres without dsn": {"STORE_DRIVER": "postgres"},
		"unknown driver":       {"STORE_DRIVER": "sqlite"},
		"missing api token":    {"API_TOKEN_SHA256": ""},
		"short key":            {"AES_256_KEY_BASE64": base64.StdEncoding.EncodeToString([]byte("short"))},
		"no key in production": {"APP_ENV": "production"},
		"page sizes":           {"PAGE_SIZE_DEFAULT": 50, "PAGE_SIZE_MAX": 10},
		"zero timeout":         {"UPSTREAM_TIMEOUT": "0s"},
		"openbanking config":   {"ASPSP_PROVIDER": "openbanking"},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			v := base()
			for k, val := range overrides {
				v.Set(k, val)
			}
			if _, err := Parse(v); err == nil {
				t.Fatal("configuration accepted")
			}
		})
	}
}
