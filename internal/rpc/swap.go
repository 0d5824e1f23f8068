// Package rpc - Swap lifecycle handlers.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klingon-exchange/klingon-swap/internal/audit"
	"github.com/klingon-exchange/klingon-swap/internal/commitment"
	"github.com/klingon-exchange/klingon-swap/internal/ledger"
	"github.com/klingon-exchange/klingon-swap/internal/registry"
	"github.com/klingon-exchange/klingon-swap/internal/swap"
	"github.com/klingon-exchange/klingon-swap/pkg/helpers"
)

// =============================================================================
// Swap Types
// =============================================================================

// SwapInitiateParams is the parameters for swap_initiate.
type SwapInitiateParams struct {
	Initiator       string       `json:"initiator"`
	Participant     string       `json:"participant"`
	Operator        string       `json:"operator,omitempty"`
	InitiatorLegs   []ledger.Leg `json:"initiator_legs"`
	ParticipantLegs []ledger.Leg `json:"participant_legs"`
	Commitment      string       `json:"commitment"`       // Hex-encoded
	Scheme          string       `json:"scheme,omitempty"` // Default: coordinator default
	Timeout         string       `json:"timeout"`          // Go duration, e.g. "1h"
}

// SwapInitiateResult is the response for swap_initiate.
type SwapInitiateResult struct {
	ID       string    `json:"id"`
	Deadline time.Time `json:"deadline"`
}

// SwapCompleteParams is the parameters for swap_complete.
type SwapCompleteParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	Secret string `json:"secret"` // Hex-encoded
}

// SwapRefundParams is the parameters for swap_refund.
type SwapRefundParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

// SwapTransitionResult is the response for swap_complete and swap_refund.
type SwapTransitionResult struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// SwapGetParams is the parameters for swap_get.
type SwapGetParams struct {
	ID    string `json:"id"`
	Trail bool   `json:"trail,omitempty"` // include the audit trail
}

// SwapGetResult is the response for swap_get.
type SwapGetResult struct {
	swap.SwapView
	Trail []audit.Event `json:"trail,omitempty"`
}

// SwapListParams is the parameters for swap_list.
type SwapListParams struct {
	State   string `json:"state,omitempty"`
	Account string `json:"account,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Expired bool   `json:"expired,omitempty"` // only initiated swaps past their deadline
}

// SwapListResult is the response for swap_list.
type SwapListResult struct {
	Swaps []swap.SwapView `json:"swaps"`
	Count int             `json:"count"`
}

// SwapNewSecretParams is the parameters for swap_newSecret.
type SwapNewSecretParams struct {
	Scheme string `json:"scheme,omitempty"`
}

// SwapNewSecretResult is the response for swap_newSecret.
type SwapNewSecretResult struct {
	Secret     string `json:"secret"`
	Commitment string `json:"commitment"`
	Scheme     string `json:"scheme"`
}

// =============================================================================
// Swap Handlers
// =============================================================================

// swapInitiate escrows the initiator's legs and records a new swap.
func (s *Server) swapInitiate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapInitiateParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	if p.Commitment == "" {
		return nil, missing("commitment")
	}
	c, err := helpers.HexToBytes(p.Commitment)
	if err != nil {
		return nil, fmt.Errorf("%w: commitment: %v", ErrInvalidParams, err)
	}
	if p.Timeout == "" {
		return nil, missing("timeout")
	}
	timeout, err := time.ParseDuration(p.Timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: timeout: %v", ErrInvalidParams, err)
	}

	id, err := s.coordinator.Initiate(ctx, swap.InitiateParams{
		Initiator:       p.Initiator,
		Participant:     p.Participant,
		Operator:        p.Operator,
		InitiatorLegs:   p.InitiatorLegs,
		ParticipantLegs: p.ParticipantLegs,
		Commitment:      c,
		Scheme:          commitment.Scheme(p.Scheme),
		Timeout:         timeout,
	})
	if err != nil {
		return nil, err
	}

	view, err := s.coordinator.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SwapInitiateResult{ID: id, Deadline: view.Deadline}, nil
}

// swapComplete reveals the secret and settles both sides.
func (s *Server) swapComplete(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapCompleteParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, missing("id")
	}
	if p.Secret == "" {
		return nil, missing("secret")
	}
	secret, err := helpers.HexToBytes(p.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: secret: %v", ErrInvalidParams, err)
	}

	if err := s.coordinator.Complete(ctx, p.ID, p.Caller, secret); err != nil {
		return nil, err
	}
	return &SwapTransitionResult{ID: p.ID, State: string(registry.StateCompleted)}, nil
}

// swapRefund returns custody to the initiator after the deadline.
func (s *Server) swapRefund(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapRefundParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, missing("id")
	}

	if err := s.coordinator.Refund(ctx, p.ID, p.Caller); err != nil {
		return nil, err
	}
	return &SwapTransitionResult{ID: p.ID, State: string(registry.StateRefunded)}, nil
}

// swapGet returns a swap, optionally with its audit trail.
func (s *Server) swapGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapGetParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, missing("id")
	}

	view, err := s.coordinator.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	result := &SwapGetResult{SwapView: view}
	if p.Trail && s.trail != nil {
		trail, err := s.trail.Trail(ctx, p.ID, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to load audit trail: %w", err)
		}
		result.Trail = trail
	}
	return result, nil
}

// swapList lists swaps by state and account.
func (s *Server) swapList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapListParams
	if len(params) > 0 {
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
	}
	if p.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidParams)
	}

	var (
		views []swap.SwapView
		err   error
	)
	if p.Expired {
		views, err = s.coordinator.Expired(ctx, p.Limit)
	} else {
		state, perr := registry.ParseState(p.State)
		if perr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, perr)
		}
		views, err = s.coordinator.List(ctx, registry.Filter{State: state, Account: p.Account, Limit: p.Limit})
	}
	if err != nil {
		return nil, err
	}

	return &SwapListResult{Swaps: views, Count: len(views)}, nil
}

// swapNewSecret generates a fresh secret and its commitment.
func (s *Server) swapNewSecret(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapNewSecretParams
	if len(params) > 0 {
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
	}

	scheme := s.coordinator.DefaultScheme()
	if p.Scheme != "" {
		parsed, err := commitment.ParseScheme(p.Scheme)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		scheme = parsed
	}

	secret, c, err := commitment.NewSecret(scheme)
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	return &SwapNewSecretResult{
		Secret:     helpers.BytesToHex(secret),
		Commitment: helpers.BytesToHex(c),
		Scheme:     string(scheme),
	}, nil
}
