// Package policy holds the named retry policies looked up per call.
package policy

import (
	"fmt"
	"sort"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
)

// Built-in policy names.
const (
	Default     = "default"
	Network     = "network"
	Database    = "database"
	API         = "api"
	RateLimited = "rate_limited"
	Critical    = "critical"
)

// Policy defines retry behavior for one class of operation.
type Policy struct {
	Name       string          `yaml:"-"`
	MaxRetries int             `yaml:"max_retries"`
	Strategy   domain.Strategy `yaml:"strategy"`
	BaseDelay  time.Duration   `yaml:"base_delay"`
	MaxDelay   time.Duration   `yaml:"max_delay"`
	Multiplier float64         `yaml:"multiplier"`
	Jitter     bool            `yaml:"jitter"`
}

// MaxRetriesLimit bounds max_retries of custom policies.
const MaxRetriesLimit = 100

// Validate checks that a custom policy is usable.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 || p.MaxRetries > MaxRetriesLimit {
		return fmt.Errorf("policy %s: max_retries must be between 0 and %d", p.Name, MaxRetriesLimit)
	}
	if !p.Strategy.Valid() {
		return fmt.Errorf("policy %s: unknown strategy %q", p.Name, p.Strategy)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("policy %s: delays must be >= 0", p.Name)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("policy %s: max_delay %v below base_delay %v", p.Name, p.MaxDelay, p.BaseDelay)
	}
	if p.Strategy == domain.StrategyExponentialBackoff && p.Multiplier < 1 {
		return fmt.Errorf("policy %s: multiplier must be >= 1", p.Name)
	}
	return nil
}

// builtins returns a fresh copy of the built-in table.
func builtins() map[string]Policy {
	return map[string]Policy{
		Default: {
			Name:       Default,
			MaxRetries: 3,
			Strategy:   domain.StrategyExponentialBackoff,
			BaseDelay:  1000 * time.Millisecond,
			MaxDelay:   30000 * time.Millisecond,
			Multiplier: 2,
			Jitter:     true,
		},
		Network: {
			Name:       Network,
			MaxRetries: 5,
			Strategy:   domain.StrategyExponentialBackoff,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   10000 * time.Millisecond,
			Multiplier: 2,
			Jitter:     true,
		},
		Database: {
			Name:       Database,
			MaxRetries: 3,
			Strategy:   domain.StrategyExponentialBackoff,
			BaseDelay:  100 * time.Millisecond,
			MaxDelay:   5000 * time.Millisecond,
			Multiplier: 1.5,
			Jitter:     true,
		},
		API: {
			Name:       API,
			MaxRetries: 4,
			Strategy:   domain.StrategyExponentialBackoff,
			BaseDelay:  1000 * time.Millisecond,
			MaxDelay:   20000 * time.Millisecond,
			Multiplier: 2,
			Jitter:     true,
		},
		RateLimited: {
			Name:       RateLimited,
			MaxRetries: 10,
			Strategy:   domain.StrategyExponentialBackoff,
			BaseDelay:  2000 * time.Millisecond,
			MaxDelay:   60000 * time.Millisecond,
			Multiplier: 1.5,
			Jitter:     true,
		},
		Critical: {
			Name:       Critical,
			MaxRetries: 0,
			Strategy:   domain.StrategyNoRetry,
			BaseDelay:  0,
			MaxDelay:   0,
			Multiplier: 1,
			Jitter:     false,
		},
	}
}

// IsBuiltin reports whether name is one of the six built-in policies.
func IsBuiltin(name string) bool {
	_, ok := builtins()[name]
	return ok
}

// Catalog is an immutable set of named policies.
type Catalog struct {
	policies map[string]Policy
}

// NewCatalog returns a catalog holding only the built-in policies.
func NewCatalog() *Catalog {
	return &Catalog{policies: builtins()}
}

// NewCatalogWithCustom adds custom policies to the built-ins. Built-in names
// cannot be redefined; such entries and invalid policies are skipped and
// reported in the returned error slice.
func NewCatalogWithCustom(custom map[string]Policy) (*Catalog, []error) {
	c := NewCatalog()
	var errs []error
	for name, p := range custom {
		if IsBuiltin(name) {
			errs = append(errs, fmt.Errorf("policy %s: built-in policies cannot be overridden", name))
			continue
		}
		p.Name = name
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		c.policies[name] = p
	}
	return c, errs
}

// Get returns the named policy, falling back to "default" for unknown names.
func (c *Catalog) Get(name string) Policy {
	if p, ok := c.policies[name]; ok {
		return p
	}
	return c.policies[Default]
}

// Has reports whether the catalog defines name.
func (c *Catalog) Has(name string) bool {
	_, ok := c.policies[name]
	return ok
}

// Names returns every policy name, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.policies))
	for n := range c.policies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
