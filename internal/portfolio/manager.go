// Package portfolio manages virtual portfolios for forward simulation:
// create, deploy a strategy, and feed bars tick by tick. Ticks for one
// portfolio are serialized; different portfolios tick concurrently.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"stratlab/internal/domain"
	"stratlab/internal/engine"
)

// ErrPortfolioNotFound is returned for unknown portfolio ids.
var ErrPortfolioNotFound = errors.New("portfolio not found")

// ErrNotDeployed is returned by Tick when no strategy is attached.
var ErrNotDeployed = errors.New("portfolio has no deployed strategy")

// EventKind classifies trade events emitted to subscribers.
type EventKind string

const (
	EventTradeOpened EventKind = "OPENED"
	EventTradeClosed EventKind = "CLOSED"
)

// TradeEvent is emitted when a deployed strategy opens or closes a trade.
type TradeEvent struct {
	PortfolioID string
	Kind        EventKind
	Trade       domain.Trade
}

// Store is the persistence slice the manager consumes. May be left nil to
// keep portfolios purely in memory.
type Store interface {
	SavePortfolio(ctx context.Context, p *domain.Portfolio) error
	GetPortfolio(ctx context.Context, id string) (*domain.Portfolio, error)
	ListPortfolios(ctx context.Context, userID string) ([]domain.Portfolio, error)
}

// instance is the live state of one portfolio. Its mutex serializes ticks
// so bars for the same portfolio are always processed in arrival order.
type instance struct {
	mu sync.Mutex

	id             string
	userID         string
	name           string
	initialCapital float64
	createdAt      time.Time

	sim        *engine.Simulation
	deployment *domain.Deployment
}

// Manager owns all resident portfolios.
type Manager struct {
	mu         sync.RWMutex
	portfolios map[string]*instance

	store  Store
	window int
	log    *slog.Logger

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan TradeEvent
}

// NewManager creates a Manager. window bounds the bar history kept per
// symbol for indicator computation; zero keeps everything.
func NewManager(store Store, window int, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		portfolios: make(map[string]*instance),
		store:      store,
		window:     window,
		log:        log.With("component", "portfolio"),
		subs:       make(map[int]chan TradeEvent),
	}
}

// Create registers a new empty portfolio and returns its snapshot.
func (m *Manager) Create(ctx context.Context, userID, name string, initialCapital float64) (*domain.Portfolio, error) {
	if name == "" {
		return nil, &domain.ValidationError{Reason: "name required"}
	}
	if initialCapital <= 0 {
		return nil, &domain.ValidationError{Reason: "initialCapital must be positive"}
	}

	inst := &instance{
		id:             uuid.NewString(),
		userID:         userID,
		name:           name,
		initialCapital: initialCapital,
		createdAt:      time.Now().UTC(),
	}

	m.mu.Lock()
	m.portfolios[inst.id] = inst
	m.mu.Unlock()

	snap := inst.snapshot()
	m.persist(ctx, snap)
	m.log.Info("portfolio created", "portfolio", inst.id, "name", name, "capital", initialCapital)
	return snap, nil
}

// Deploy compiles the strategy and attaches it to the portfolio. A
// portfolio runs at most one strategy; swapping strategies requires a
// Reset first so open positions are never orphaned.
func (m *Manager) Deploy(ctx context.Context, portfolioID string, strategy *domain.Strategy) (*domain.Portfolio, error) {
	compiled, err := engine.Compile(strategy)
	if err != nil {
		return nil, err
	}

	inst, err := m.lookup(portfolioID)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	if inst.deployment != nil {
		inst.mu.Unlock()
		return nil, &domain.ValidationError{Reason: "portfolio already has a deployed strategy"}
	}
	sim := engine.NewSimulation(compiled, inst.initialCapital)
	sim.SetWindow(m.window)
	inst.sim = sim
	inst.deployment = &domain.Deployment{
		StrategyID: strategy.ID,
		Status:     domain.DeploymentActive,
		Symbols:    slices.Clone(strategy.Symbols),
		DeployedAt: time.Now().UTC(),
	}
	snap := inst.snapshotLocked()
	inst.mu.Unlock()

	m.persist(ctx, snap)
	m.log.Info("strategy deployed", "portfolio", portfolioID, "strategy", strategy.Name)
	return snap, nil
}

// Tick feeds one bar to the portfolio's deployed strategy and returns the
// updated snapshot. Out-of-order bars for a symbol are rejected by the
// simulation and leave state untouched.
func (m *Manager) Tick(ctx context.Context, portfolioID string, bar domain.Bar) (*domain.Portfolio, error) {
	inst, err := m.lookup(portfolioID)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	if inst.deployment == nil {
		inst.mu.Unlock()
		return nil, ErrNotDeployed
	}
	if len(inst.deployment.Symbols) > 0 && !slices.Contains(inst.deployment.Symbols, bar.Symbol) {
		inst.mu.Unlock()
		return nil, &domain.ValidationError{
			Reason: fmt.Sprintf("symbol %s is not covered by the deployed strategy", bar.Symbol),
		}
	}

	before := inst.sim.Trades()
	if err := inst.sim.Step(bar); err != nil {
		inst.mu.Unlock()
		return nil, err
	}
	after := inst.sim.Trades()
	inst.deployment.LastUpdate = bar.Timestamp
	snap := inst.snapshotLocked()
	inst.mu.Unlock()

	m.publishDiff(portfolioID, before, after)
	m.persist(ctx, snap)
	return snap, nil
}

// Reset restores a portfolio to its just-created state: full initial
// capital, no deployment, no trades. A new strategy can be deployed
// afterwards.
func (m *Manager) Reset(ctx context.Context, portfolioID string) (*domain.Portfolio, error) {
	inst, err := m.lookup(portfolioID)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	inst.sim = nil
	inst.deployment = nil
	snap := inst.snapshotLocked()
	inst.mu.Unlock()

	m.persist(ctx, snap)
	m.log.Info("portfolio reset", "portfolio", portfolioID)
	return snap, nil
}

// Get returns a snapshot of the portfolio. Portfolios from a previous
// process are served read-only from the durable store.
func (m *Manager) Get(ctx context.Context, portfolioID string) (*domain.Portfolio, error) {
	inst, err := m.lookup(portfolioID)
	if err == nil {
		return inst.snapshot(), nil
	}
	if m.store != nil {
		p, serr := m.store.GetPortfolio(ctx, portfolioID)
		if serr == nil && p != nil {
			return p, nil
		}
	}
	return nil, ErrPortfolioNotFound
}

// List returns snapshots for a user; empty userID means all. Resident
// portfolios are preferred over their persisted snapshots.
func (m *Manager) List(ctx context.Context, userID string) ([]domain.Portfolio, error) {
	resident := make(map[string]bool)
	var out []domain.Portfolio

	m.mu.RLock()
	for id, inst := range m.portfolios {
		if userID != "" && inst.userID != userID {
			continue
		}
		resident[id] = true
		out = append(out, *inst.snapshot())
	}
	m.mu.RUnlock()

	if m.store != nil {
		stored, err := m.store.ListPortfolios(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, p := range stored {
			if !resident[p.ID] {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// Subscribe creates a subscription channel for trade events.
func (m *Manager) Subscribe(bufSize int) (id int, ch <-chan TradeEvent) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	id = m.nextSubID
	m.nextSubID++
	c := make(chan TradeEvent, bufSize)
	m.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (m *Manager) Unsubscribe(id int) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if ch, ok := m.subs[id]; ok {
		close(ch)
		delete(m.subs, id)
	}
}

func (m *Manager) lookup(id string) (*instance, error) {
	m.mu.RLock()
	inst, ok := m.portfolios[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrPortfolioNotFound
	}
	return inst, nil
}

// publishDiff emits events for trades that appeared or closed during one
// tick. The trade list is append-only, so new indices are opens and a
// status flip from open to closed is a close.
func (m *Manager) publishDiff(portfolioID string, before, after []domain.Trade) {
	var events []TradeEvent
	for i, tr := range after {
		if i >= len(before) {
			events = append(events, TradeEvent{PortfolioID: portfolioID, Kind: EventTradeOpened, Trade: tr})
			if tr.Status == domain.TradeClosed {
				events = append(events, TradeEvent{PortfolioID: portfolioID, Kind: EventTradeClosed, Trade: tr})
			}
			continue
		}
		if before[i].Status == domain.TradeOpen && tr.Status == domain.TradeClosed {
			events = append(events, TradeEvent{PortfolioID: portfolioID, Kind: EventTradeClosed, Trade: tr})
		}
	}
	if len(events) == 0 {
		return
	}

	m.subsMu.Lock()
	for _, ch := range m.subs {
		for _, evt := range events {
			select {
			case ch <- evt:
			default:
				// Slow subscriber, drop event.
			}
		}
	}
	m.subsMu.Unlock()
}

func (m *Manager) persist(ctx context.Context, p *domain.Portfolio) {
	if m.store == nil {
		return
	}
	if err := m.store.SavePortfolio(ctx, p); err != nil {
		m.log.Warn("persisting portfolio failed", "portfolio", p.ID, "err", err)
	}
}

// snapshot locks the instance and builds its wire snapshot.
func (inst *instance) snapshot() *domain.Portfolio {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.snapshotLocked()
}

// snapshotLocked builds the wire snapshot; the caller holds inst.mu.
func (inst *instance) snapshotLocked() *domain.Portfolio {
	p := &domain.Portfolio{
		ID:             inst.id,
		UserID:         inst.userID,
		Name:           inst.name,
		InitialCapital: inst.initialCapital,
		Cash:           inst.initialCapital,
		TotalValue:     inst.initialCapital,
		Holdings:       map[string]domain.Position{},
		CreatedAt:      inst.createdAt,
	}
	if inst.deployment != nil {
		d := *inst.deployment
		d.Symbols = slices.Clone(inst.deployment.Symbols)
		p.Deployment = &d
	}
	if inst.sim != nil {
		p.Cash = inst.sim.Cash()
		p.TotalValue = inst.sim.Equity()
		p.Holdings = inst.sim.Positions()
		p.Trades = inst.sim.Trades()
		p.EquityCurve = inst.sim.EquityCurve()
	}
	p.PnL = p.TotalValue - p.InitialCapital
	if p.InitialCapital > 0 {
		p.PnLPct = p.PnL / p.InitialCapital * 100
	}
	return p
}
