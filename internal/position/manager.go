// Package position owns the authoritative trading state: open positions,
// the append-only trade ledger, balances, and realized pnl. Every mutation
// runs under one mutex so snapshots are never torn.
package position

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"crypto-scalper/internal/errs"
	"crypto-scalper/internal/model"
	"crypto-scalper/internal/tradingday"
)

// Manager serializes all position and ledger mutations.
// availableBalance is always derived: tradingBalance minus the cost of
// open positions. Realized pnl moves tradingBalance on Close.
type Manager struct {
	mu sync.RWMutex

	positions map[string]*model.Position
	trades    []model.Trade

	tradingBalance float64
	totalPnl       float64
	dayPnl         float64
	dayStart       time.Time

	settings  model.TradingSettings
	watchlist map[string]*model.WatchlistItem

	onTrade func(model.Trade)
	now     func() time.Time
}

// NewManager seeds the ledger with a starting trading balance.
func NewManager(startingBalance float64, settings model.TradingSettings) *Manager {
	now := time.Now().UTC()
	return &Manager{
		positions:      make(map[string]*model.Position),
		watchlist:      make(map[string]*model.WatchlistItem),
		tradingBalance: startingBalance,
		dayStart:       tradingday.DayStart(now),
		settings:       settings,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// OnTrade registers a hook invoked after each ledger append, outside the
// manager lock. Used for persistence and notifications.
func (m *Manager) OnTrade(fn func(model.Trade)) {
	m.mu.Lock()
	m.onTrade = fn
	m.mu.Unlock()
}

func (m *Manager) emit(t model.Trade) {
	m.mu.RLock()
	fn := m.onTrade
	m.mu.RUnlock()
	if fn != nil {
		fn(t)
	}
}

// rollDay zeroes dayPnl when the UTC day has changed. Caller holds mu.
func (m *Manager) rollDay(now time.Time) {
	if !tradingday.SameDay(m.dayStart, now) {
		m.dayStart = tradingday.DayStart(now)
		m.dayPnl = 0
	}
}

func (m *Manager) availableLocked() float64 {
	avail := m.tradingBalance
	for _, p := range m.positions {
		avail -= p.Cost()
	}
	return avail
}

// Available returns the balance not committed to open positions.
func (m *Manager) Available() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.availableLocked()
}

// OpenCount returns the number of active positions.
func (m *Manager) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// Get returns the active position for a symbol.
func (m *Manager) Get(symbol string) (model.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[symbol]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

// DayPnl returns realized pnl since UTC midnight.
func (m *Manager) DayPnl() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDay(m.now())
	return m.dayPnl
}

// Restore seeds positions persisted by a previous session. Symbols that
// already have a live position are skipped.
func (m *Manager) Restore(ps []model.Position) {
	m.mu.Lock()
	for i := range ps {
		p := ps[i]
		if _, exists := m.positions[p.Symbol]; exists {
			continue
		}
		m.positions[p.Symbol] = &p
	}
	m.mu.Unlock()
}

// Open creates a position and its BUY ledger entry. The risk gate checks
// the cap, daily loss, and balance before sizing, but symbol loops run
// concurrently, so every invariant is re-checked here under the lock.
func (m *Manager) Open(symbol string, qty, price, stopLoss, target float64, signalKind string, confidence int) (model.Position, error) {
	const op = "position.Open"
	if qty <= 0 || price <= 0 {
		return model.Position{}, errs.Errorf(errs.Internal, op, "%s: non-positive qty or price", symbol)
	}

	m.mu.Lock()
	now := m.now()
	m.rollDay(now)

	if _, exists := m.positions[symbol]; exists {
		m.mu.Unlock()
		return model.Position{}, errs.Errorf(errs.RiskRejected, op, "%s: position already open", symbol)
	}
	if len(m.positions) >= m.settings.MaxPositions {
		m.mu.Unlock()
		return model.Position{}, errs.Errorf(errs.RiskRejected, op, "%s: position cap %d reached", symbol, m.settings.MaxPositions)
	}
	if m.dayPnl <= -m.settings.MaxDailyLossAbs {
		m.mu.Unlock()
		return model.Position{}, errs.Errorf(errs.RiskRejected, op, "%s: daily loss limit %.2f reached", symbol, m.settings.MaxDailyLossAbs)
	}
	cost := qty * price
	if cost > m.availableLocked() {
		m.mu.Unlock()
		return model.Position{}, errs.Errorf(errs.RiskRejected, op, "%s: cost %.2f exceeds available balance", symbol, cost)
	}

	tradeID := uuid.NewString()
	p := &model.Position{
		ID:            uuid.NewString(),
		Symbol:        symbol,
		Qty:           qty,
		AvgEntryPrice: price,
		EntryTime:     now,
		TargetPrice:   target,
		StopLossPrice: stopLoss,
		CurrentValue:  cost,
		EntryTradeID:  tradeID,
	}
	m.positions[symbol] = p

	entry := model.Trade{
		ID:         tradeID,
		Symbol:     symbol,
		Side:       model.SideBuy,
		Price:      price,
		Qty:        qty,
		Time:       now,
		SignalKind: signalKind,
		Confidence: confidence,
	}
	m.trades = append(m.trades, entry)
	out := *p
	m.mu.Unlock()

	m.emit(entry)
	return out, nil
}

// Mark recomputes currentValue and unrealizedPnl for a symbol.
func (m *Manager) Mark(symbol string, price float64) {
	m.mu.Lock()
	if p, ok := m.positions[symbol]; ok {
		p.CurrentValue = p.Qty * price
		p.UnrealizedPnl = (price - p.AvgEntryPrice) * p.Qty
	}
	m.mu.Unlock()
}

// Close removes the position, appends the SELL ledger entry, realizes
// pnl into tradingBalance, and finalizes the sibling BUY trade.
func (m *Manager) Close(symbol string, price float64, reason string) (model.Trade, error) {
	const op = "position.Close"

	m.mu.Lock()
	now := m.now()
	m.rollDay(now)

	p, ok := m.positions[symbol]
	if !ok {
		m.mu.Unlock()
		return model.Trade{}, errs.Errorf(errs.NotFound, op, "%s: no open position", symbol)
	}
	delete(m.positions, symbol)

	pnl := (price - p.AvgEntryPrice) * p.Qty
	holdSec := int64(now.Sub(p.EntryTime) / time.Second)

	m.tradingBalance += pnl
	m.totalPnl += pnl
	m.dayPnl += pnl

	exit := model.Trade{
		ID:      uuid.NewString(),
		Symbol:  symbol,
		Side:    model.SideSell,
		Price:   price,
		Qty:     p.Qty,
		Time:    now,
		EntryID: p.EntryTradeID,
		Reason:  reason,

		Pnl:         &pnl,
		ExitPrice:   &price,
		HoldTimeSec: &holdSec,
	}
	m.trades = append(m.trades, exit)

	// Link the exit back to its entry.
	for i := len(m.trades) - 1; i >= 0; i-- {
		if m.trades[i].ID == p.EntryTradeID {
			m.trades[i].Pnl = &pnl
			m.trades[i].ExitPrice = &price
			m.trades[i].HoldTimeSec = &holdSec
			break
		}
	}
	m.mu.Unlock()

	m.emit(exit)
	return exit, nil
}

// Settings returns the current trading settings.
func (m *Manager) Settings() model.TradingSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// UpdateSettings validates and swaps the settings value.
func (m *Manager) UpdateSettings(s model.TradingSettings) error {
	if err := s.Validate(); err != nil {
		return errs.E(errs.Config, "position.UpdateSettings", err)
	}
	m.mu.Lock()
	m.settings = s
	m.mu.Unlock()
	return nil
}

// SetEnabled flips the entry gate without touching other settings.
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.settings.IsEnabled = enabled
	m.mu.Unlock()
}

// UpsertWatch adds or reactivates a watchlist entry.
func (m *Manager) UpsertWatch(symbol, name string) {
	m.mu.Lock()
	if w, ok := m.watchlist[symbol]; ok {
		w.IsActive = true
	} else {
		m.watchlist[symbol] = &model.WatchlistItem{Symbol: symbol, Name: name, IsActive: true}
	}
	m.mu.Unlock()
}

// RemoveWatch drops a symbol from the watchlist.
func (m *Manager) RemoveWatch(symbol string) {
	m.mu.Lock()
	delete(m.watchlist, symbol)
	m.mu.Unlock()
}

// Watching reports whether the symbol is actively watched.
func (m *Manager) Watching(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.watchlist[symbol]
	return ok && w.IsActive
}

// WatchSymbols returns the active watchlist symbols.
func (m *Manager) WatchSymbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.watchlist))
	for sym, w := range m.watchlist {
		if w.IsActive {
			out = append(out, sym)
		}
	}
	return out
}

// TouchWatch refreshes a watchlist item's market fields.
func (m *Manager) TouchWatch(pd model.PriceData) {
	m.mu.Lock()
	if w, ok := m.watchlist[pd.Symbol]; ok {
		w.LastPrice = pd.LastPrice
		w.Change24h = pd.Change24h
		w.ChangePct24h = pd.ChangePct24h
		w.Volume24h = pd.Volume24h
		w.LastUpdate = pd.UpdatedAt
	}
	m.mu.Unlock()
}

// View assembles a deep-copied snapshot under one read lock.
func (m *Manager) View() model.TradingState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := model.TradingState{
		Trades:         make([]model.Trade, len(m.trades)),
		Positions:      make([]model.Position, 0, len(m.positions)),
		TotalPnl:       m.totalPnl,
		DayPnl:         m.dayPnl,
		TradingBalance: m.tradingBalance,
		Settings:       m.settings,
		Watchlist:      make([]model.WatchlistItem, 0, len(m.watchlist)),
	}
	copy(st.Trades, m.trades)
	for _, p := range m.positions {
		st.Positions = append(st.Positions, *p)
	}
	for _, w := range m.watchlist {
		st.Watchlist = append(st.Watchlist, *w)
	}
	st.AvailableBalance = m.availableLocked()
	return st
}
