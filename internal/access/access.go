// Package access decides who may drive a swap through its lifecycle.
//
// Role checks are fixed: the participant completes, the initiator refunds,
// and the swap's operator may do either. A Provider layered on top can deny
// an account outright.
package access

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Access errors
var (
	ErrUnauthorized = errors.New("caller is not authorized")
	ErrDenied       = errors.New("account denied by access policy")
)

// Action is a lifecycle operation.
type Action string

const (
	ActionInitiate Action = "initiate"
	ActionComplete Action = "complete"
	ActionRefund   Action = "refund"
)

// Parties are the principals recorded on a swap.
type Parties struct {
	Initiator   string
	Participant string
	Operator    string
}

// CheckRole enforces the fixed role table for caller.
func CheckRole(action Action, caller string, p Parties) error {
	if caller == "" {
		return fmt.Errorf("%w: empty caller", ErrUnauthorized)
	}
	switch action {
	case ActionInitiate:
		if caller == p.Initiator {
			return nil
		}
	case ActionComplete:
		if caller == p.Participant || caller == p.Operator {
			return nil
		}
	case ActionRefund:
		if caller == p.Initiator || caller == p.Operator {
			return nil
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrUnauthorized, action)
	}
	return fmt.Errorf("%w: %s may not %s", ErrUnauthorized, caller, action)
}

// Provider is an external compliance check.
type Provider interface {
	Allowed(ctx context.Context, account string, action Action) (bool, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, account string, action Action) (bool, error)

// Allowed calls f.
func (f ProviderFunc) Allowed(ctx context.Context, account string, action Action) (bool, error) {
	return f(ctx, account, action)
}

// AllowAll permits every account.
type AllowAll struct{}

// Allowed always returns true.
func (AllowAll) Allowed(context.Context, string, Action) (bool, error) { return true, nil }

// List is a static allow/deny list. Deny wins. An empty allow list admits
// everyone not denied.
type List struct {
	mu    sync.RWMutex
	allow map[string]struct{}
	deny  map[string]struct{}
}

// NewList creates a list.
func NewList(allow, deny []string) *List {
	l := &List{
		allow: make(map[string]struct{}, len(allow)),
		deny:  make(map[string]struct{}, len(deny)),
	}
	for _, a := range allow {
		l.allow[a] = struct{}{}
	}
	for _, d := range deny {
		l.deny[d] = struct{}{}
	}
	return l
}

// Allowed implements Provider.
func (l *List) Allowed(_ context.Context, account string, _ Action) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, denied := l.deny[account]; denied {
		return false, nil
	}
	if len(l.allow) == 0 {
		return true, nil
	}
	_, ok := l.allow[account]
	return ok, nil
}

// Deny adds account to the deny list.
func (l *List) Deny(account string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deny[account] = struct{}{}
}

// Undeny removes account from the deny list.
func (l *List) Undeny(account string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.deny, account)
}

// Check runs provider for every account and fails on the first denial.
func Check(ctx context.Context, provider Provider, action Action, accounts ...string) error {
	if provider == nil {
		return nil
	}
	for _, account := range accounts {
		ok, err := provider.Allowed(ctx, account, action)
		if err != nil {
			return fmt.Errorf("access provider: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrDenied, account)
		}
	}
	return nil
}
