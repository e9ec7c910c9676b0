package partnership

import (
	"fmt"
	"strings"
	"time"

	"obgateway/internal/pagination"
)

// Partnership is a TPP's registered connection to one ASPSP.
type Partnership struct {
	PartnershipID    string    `json:"PartnershipId"`
	Name             string    `json:"Name"`
	Provider         string    `json:"Provider"`
	Modules          []Module  `json:"Modules"`
	CreationDateTime time.Time `json:"CreationDateTime"`
}

// Module is an Open Banking capability a partnership may support.
type Module string

const (
	ModuleAIS   Module = "ais"
	ModulePIS   Module = "pis"
	ModuleCBPII Module = "cbpii"
	ModuleCOP   Module = "cop"
)

var allModules = []Module{ModuleAIS, ModulePIS, ModuleCBPII, ModuleCOP}

// ParseModule normalizes and validates a module name.
func ParseModule(s string) (Module, error) {
	m := Module(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range allModules {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown module %q", s)
}

// New creates a partnership with validation.
func New(id, name, provider string, modules []Module, now time.Time) (*Partnership, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("partnership name is required")
	}
	if len(name) > 140 {
		return nil, fmt.Errorf("partnership name must be at most 140 characters")
	}
	if strings.TrimSpace(provider) == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if len(modules) == 0 {
		return nil, fmt.Errorf("at least one module is required")
	}
	seen := make(map[Module]bool, len(modules))
	var uniq []Module
	for _, m := range modules {
		if _, err := ParseModule(string(m)); err != nil {
			return nil, err
		}
		if !seen[m] {
			seen[m] = true
			uniq = append(uniq, m)
		}
	}
	return &Partnership{
		PartnershipID:    id,
		Name:             name,
		Provider:         provider,
		Modules:          uniq,
		CreationDateTime: now,
	}, nil
}

// Supports reports whether the partnership offers module m.
func (p *Partnership) Supports(m Module) bool {
	for _, have := range p.Modules {
		if have == m {
			return true
		}
	}
	return false
}

func (p *Partnership) PageKey() pagination.Cursor {
	return pagination.Cursor{At: p.CreationDateTime, ID: p.PartnershipID}
}
