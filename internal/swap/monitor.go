// Package swap - Expiry monitor for initiated swaps past their deadline.
package swap

import (
	"context"
	"sync"
	"time"

	"github.com/klingon-exchange/klingon-swap/internal/audit"
	"github.com/klingon-exchange/klingon-swap/internal/registry"
	"github.com/klingon-exchange/klingon-swap/pkg/logging"
)

// Monitor watches for expired swaps, announces them once, and optionally
// refunds the ones it operates.
type Monitor struct {
	coordinator *Coordinator
	registry    registry.Registry
	log         *logging.Logger

	interval   time.Duration
	autoRefund bool
	operator   string
	batch      int

	// Context for background operations
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	started bool

	// A pass pages through every expired swap, batch ids per scan, starting
	// after cursor. announced holds the ids of the last finished pass, seen
	// those of the pass in progress.
	cursor    string
	announced map[string]struct{}
	seen      map[string]struct{}
}

// MonitorConfig holds configuration for the Monitor.
type MonitorConfig struct {
	Coordinator *Coordinator
	Registry    registry.Registry
	Interval    time.Duration // Polling interval, default 30s
	AutoRefund  bool
	Operator    string // account the monitor refunds as
	Batch       int    // swaps per scan, default 100
	Logger      *logging.Logger
}

// MonitorResult summarizes one scan.
type MonitorResult struct {
	Expired   int
	Announced int
	Refunded  int
	Failed    int
}

// NewMonitor creates a new expiry monitor.
func NewMonitor(cfg *MonitorConfig) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())

	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	batch := cfg.Batch
	if batch <= 0 {
		batch = 100
	}
	log := cfg.Logger
	if log == nil {
		log = logging.GetDefault()
	}

	return &Monitor{
		coordinator: cfg.Coordinator,
		registry:    cfg.Registry,
		log:         log.Component("swap-monitor"),
		interval:    interval,
		autoRefund:  cfg.AutoRefund && cfg.Operator != "",
		operator:    cfg.Operator,
		batch:       batch,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		announced:   make(map[string]struct{}),
		seen:        make(map[string]struct{}),
	}
}

// Start starts the expiry monitor.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.run()
	m.log.Info("Expiry monitor started", "interval", m.interval, "auto_refund", m.autoRefund)
}

// Stop stops the monitor and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.cancel()
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return
	}
	<-m.done
	m.log.Info("Expiry monitor stopped")
}

// run is the main monitoring loop.
func (m *Monitor) run() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(m.ctx, m.interval)
			if _, err := m.CheckNow(ctx); err != nil {
				m.log.Warn("Expiry scan failed", "error", err)
			}
			cancel()
		}
	}
}

// CheckNow runs one scan over the next page of expired swaps. Once a page
// comes back short the pass is over and the next scan starts from the
// oldest expired swap again.
func (m *Monitor) CheckNow(ctx context.Context) (MonitorResult, error) {
	var res MonitorResult

	m.mu.Lock()
	cursor := m.cursor
	m.mu.Unlock()

	expired, err := m.registry.Expired(ctx, m.coordinator.Clock().Now(), cursor, m.batch)
	if err != nil {
		return res, err
	}
	res.Expired = len(expired)

	m.mu.Lock()
	var fresh []*registry.Swap
	for _, s := range expired {
		_, before := m.announced[s.ID]
		_, now := m.seen[s.ID]
		if !before && !now {
			fresh = append(fresh, s)
		}
		m.seen[s.ID] = struct{}{}
	}
	if len(expired) < m.batch {
		// Forget swaps that left the expired set.
		m.announced = m.seen
		m.seen = make(map[string]struct{})
		m.cursor = ""
	} else {
		m.cursor = expired[len(expired)-1].ID
	}
	m.mu.Unlock()

	for _, s := range fresh {
		m.coordinator.emit(ctx, audit.EventExpired, s, "")
		res.Announced++
	}

	if !m.autoRefund {
		return res, nil
	}
	for _, s := range expired {
		if s.Operator != m.operator {
			continue
		}
		if err := m.coordinator.Refund(ctx, s.ID, m.operator); err != nil {
			res.Failed++
			m.log.Warn("Auto refund failed", "swap_id", s.ID, "kind", KindName(err), "error", err)
			continue
		}
		res.Refunded++
	}
	return res, nil
}
