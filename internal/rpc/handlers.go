package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/klingon-exchange/klingon-swap/internal/registry"
)

// Version of the daemon
const Version = "0.1.0-dev"

// ========================================
// Node handlers
// ========================================

// NodeInfoResult is the response for node_info.
type NodeInfoResult struct {
	Version        string   `json:"version"`
	Uptime         string   `json:"uptime"`
	Backend        string   `json:"backend"`
	DataDir        string   `json:"data_dir,omitempty"`
	CustodyAccount string   `json:"custody_account"`
	Ledgers        []string `json:"ledgers"`
	IDScheme       string   `json:"id_scheme"`
	DefaultScheme  string   `json:"default_scheme"`
	OpenSwaps      int      `json:"open_swaps"`
	WSClients      int      `json:"ws_clients"`
}

func (s *Server) nodeInfo(ctx context.Context, params json.RawMessage) (interface{}, error) {
	open, err := s.coordinator.List(ctx, registry.Filter{State: registry.StateInitiated})
	if err != nil {
		return nil, err
	}

	wsClients := 0
	if s.wsHub != nil {
		wsClients = s.wsHub.ClientCount()
	}

	return &NodeInfoResult{
		Version:        Version,
		Uptime:         time.Since(s.started).Round(time.Second).String(),
		Backend:        s.backend,
		DataDir:        s.dataDir,
		CustodyAccount: s.custody.Account(),
		Ledgers:        s.custody.Ledgers(),
		IDScheme:       string(s.coordinator.IDScheme()),
		DefaultScheme:  string(s.coordinator.DefaultScheme()),
		OpenSwaps:      len(open),
		WSClients:      wsClients,
	}, nil
}
