// Package rpc - Ledger handlers.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klingon-exchange/klingon-swap/internal/custody"
	"github.com/klingon-exchange/klingon-swap/internal/ledger"
	"github.com/klingon-exchange/klingon-swap/pkg/helpers"
)

// Optional ledger capabilities. The hosted *ledger.Ledger has all of them.
type (
	approver interface {
		Approve(ctx context.Context, owner, spender, asset string, amount uint64) error
	}
	minter interface {
		Mint(ctx context.Context, account, asset string, quantity uint64) error
	}
	allowancer interface {
		Allowance(ctx context.Context, owner, spender, asset string) (uint64, error)
	}
	decimaler interface {
		Decimals() uint8
	}
)

// LedgerBalanceParams is the parameters for ledger_balance.
type LedgerBalanceParams struct {
	Ledger  string `json:"ledger"`
	Account string `json:"account"`
	Asset   string `json:"asset"`
}

// LedgerBalanceResult is the response for ledger_balance.
type LedgerBalanceResult struct {
	Ledger    string `json:"ledger"`
	Account   string `json:"account"`
	Asset     string `json:"asset"`
	Balance   uint64 `json:"balance"`
	Formatted string `json:"formatted"`
	Allowance uint64 `json:"allowance"` // granted to the custody account
}

// LedgerApproveParams is the parameters for ledger_approve.
type LedgerApproveParams struct {
	Ledger string `json:"ledger"`
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

// LedgerMintParams is the parameters for ledger_mint.
type LedgerMintParams struct {
	Ledger   string `json:"ledger"`
	Account  string `json:"account"`
	Asset    string `json:"asset"`
	Quantity uint64 `json:"quantity"`
}

// LedgerOKResult is the response for ledger_approve and ledger_mint.
type LedgerOKResult struct {
	OK bool `json:"ok"`
}

func (s *Server) ledgerBalance(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p LedgerBalanceParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	l, err := s.lookupLedger(p.Ledger)
	if err != nil {
		return nil, err
	}
	if p.Account == "" {
		return nil, missing("account")
	}
	if p.Asset == "" {
		return nil, missing("asset")
	}

	bal, err := l.BalanceOf(ctx, p.Account, p.Asset)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}

	result := &LedgerBalanceResult{
		Ledger:    p.Ledger,
		Account:   p.Account,
		Asset:     p.Asset,
		Balance:   bal,
		Formatted: helpers.FormatAmount(bal, 0),
	}
	if d, ok := l.(decimaler); ok {
		result.Formatted = helpers.FormatAmount(bal, d.Decimals())
	}
	if a, ok := l.(allowancer); ok {
		allowance, err := a.Allowance(ctx, p.Account, s.custody.Account(), p.Asset)
		if err != nil {
			return nil, fmt.Errorf("failed to read allowance: %w", err)
		}
		result.Allowance = allowance
	}
	return result, nil
}

// ledgerApprove authorizes the custody account to move an owner's asset.
func (s *Server) ledgerApprove(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p LedgerApproveParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	l, err := s.lookupLedger(p.Ledger)
	if err != nil {
		return nil, err
	}
	a, ok := l.(approver)
	if !ok {
		return nil, fmt.Errorf("%w: ledger %s does not support approvals", ErrInvalidParams, p.Ledger)
	}

	if err := a.Approve(ctx, p.Owner, s.custody.Account(), p.Asset, p.Amount); err != nil {
		return nil, ledgerError(err)
	}
	s.log.Info("Custody approved", "ledger", p.Ledger, "owner", p.Owner, "asset", p.Asset, "amount", p.Amount)
	return &LedgerOKResult{OK: true}, nil
}

// ledgerMint credits new units on ledgers that allow it.
func (s *Server) ledgerMint(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p LedgerMintParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	l, err := s.lookupLedger(p.Ledger)
	if err != nil {
		return nil, err
	}
	m, ok := l.(minter)
	if !ok {
		return nil, fmt.Errorf("%w: ledger %s does not support minting", ErrInvalidParams, p.Ledger)
	}

	if err := m.Mint(ctx, p.Account, p.Asset, p.Quantity); err != nil {
		return nil, ledgerError(err)
	}
	s.log.Info("Minted", "ledger", p.Ledger, "account", p.Account, "asset", p.Asset, "quantity", p.Quantity)
	return &LedgerOKResult{OK: true}, nil
}

func (s *Server) lookupLedger(name string) (ledger.AssetLedger, error) {
	if name == "" {
		return nil, missing("ledger")
	}
	l, ok := s.custody.Ledger(name)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", ErrInvalidParams, custody.ErrUnknownLedger, name)
	}
	return l, nil
}

// ledgerError marks caller mistakes as invalid params.
func ledgerError(err error) error {
	for _, target := range []error{
		ledger.ErrEmptyAccount,
		ledger.ErrEmptyAsset,
		ledger.ErrInvalidQuantity,
		ledger.ErrMintDisabled,
		ledger.ErrAlreadyMinted,
		ledger.ErrOverflow,
	} {
		if errors.Is(err, target) {
			return fmt.Errorf("%w: %w", ErrInvalidParams, err)
		}
	}
	return err
}
