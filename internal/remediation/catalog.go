package remediation

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrInvalidCatalog indicates a malformed action catalog.
var ErrInvalidCatalog = errors.New("invalid action catalog")

// Catalog lists named actions to register at startup:
//
//	[[actions]]
//	name = "restart-payments"
//	type = "webhook"
//	rate_per_second = 0.2
//	burst = 1
//	timeout = "5s"
//
//	[actions.params]
//	url = "https://ops.internal/hooks/restart-payments"
//
// A descriptor names the catalog entry as its action; the entry params are
// defaults the descriptor params override.
type Catalog struct {
	Actions []CatalogEntry `toml:"actions"`
}

// CatalogEntry is one named action.
type CatalogEntry struct {
	Name          string         `toml:"name"`
	Type          string         `toml:"type"`
	RatePerSecond float64        `toml:"rate_per_second"`
	Burst         int            `toml:"burst"`
	Timeout       string         `toml:"timeout"`
	Params        map[string]any `toml:"params"`
}

// LoadCatalog reads an action catalog. An empty path yields an empty catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return &Catalog{}, nil
	}

	var c Catalog
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: %s: unknown keys %v", ErrInvalidCatalog, path, undecoded)
	}

	seen := make(map[string]bool, len(c.Actions))
	for i, e := range c.Actions {
		if e.Name == "" {
			return nil, fmt.Errorf("%w: action %d has no name", ErrInvalidCatalog, i)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("%w: duplicate action %q", ErrInvalidCatalog, e.Name)
		}
		seen[e.Name] = true
		if _, err := e.action(); err != nil {
			return nil, fmt.Errorf("%w: action %q: %v", ErrInvalidCatalog, e.Name, err)
		}
	}
	return &c, nil
}

// Register adds every catalog action to r.
func (c *Catalog) Register(r *Registry) error {
	for _, e := range c.Actions {
		a, err := e.action()
		if err != nil {
			return fmt.Errorf("action %q: %w", e.Name, err)
		}
		if err := r.Register(e.Name, a); err != nil {
			return err
		}
	}
	return nil
}

func (e CatalogEntry) action() (Action, error) {
	switch e.Type {
	case ActionNoop:
		return NoopAction{}, nil
	case ActionWebhook:
		cfg := WebhookConfig{RatePerSecond: e.RatePerSecond, Burst: e.Burst}
		if e.Timeout != "" {
			d, err := time.ParseDuration(e.Timeout)
			if err != nil {
				return nil, fmt.Errorf("invalid timeout: %w", err)
			}
			cfg.Timeout = d
		}
		if _, err := webhookURL(e.Params); err != nil {
			return nil, err
		}
		return NewWebhookAction(cfg, e.Params), nil
	default:
		return nil, fmt.Errorf("unknown action type %q", e.Type)
	}
}
