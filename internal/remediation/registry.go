package remediation

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/mender/internal/pattern"
)

// Action is one concrete, externally defined fix.
type Action interface {
	Apply(ctx context.Context, params map[string]any, actx ActionContext) error
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, params map[string]any, actx ActionContext) error

func (f ActionFunc) Apply(ctx context.Context, params map[string]any, actx ActionContext) error {
	return f(ctx, params, actx)
}

// Registry maps action identifiers to actions. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates a registry holding the built-in "noop" and "webhook"
// actions.
func NewRegistry() *Registry {
	r := &Registry{actions: make(map[string]Action)}
	r.actions[ActionNoop] = NoopAction{}
	r.actions[ActionWebhook] = NewWebhookAction(DefaultWebhookConfig(), nil)
	return r
}

// Register adds or replaces the action for name.
func (r *Registry) Register(name string, a Action) error {
	if name == "" {
		return errors.New("action name is required")
	}
	if a == nil {
		return fmt.Errorf("action %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = a
	return nil
}

// Names returns the registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Invoke runs the action named by the descriptor. It returns an error
// wrapping ErrDispatch when the action is unknown, and ErrExecution when the
// action fails, panics, or outlives ctx. An action that ignores ctx is
// abandoned once ctx is done.
func (r *Registry) Invoke(ctx context.Context, d pattern.Descriptor, actx ActionContext) error {
	action := d.Action
	r.mu.RLock()
	a, ok := r.actions[action]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: unknown action %q", ErrDispatch, action)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: action %q not started: %w", ErrDispatch, action, err)
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("panic: %v", rec)
			}
		}()
		done <- a.Apply(ctx, maps.Clone(d.Params), actx)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: action %q: %w", ErrExecution, action, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: action %q: %w", ErrExecution, action, ctx.Err())
	}
}
