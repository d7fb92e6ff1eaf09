package domain

import "time"

// LedgerSnapshot is the ledger as seen by readers at one instant.
type LedgerSnapshot struct {
	Timestamp     time.Time      `json:"ts"`
	Pair          string         `json:"pair"`
	State         LedgerState    `json:"state"`
	Status        PositionStatus `json:"status"`
	Price         string         `json:"price"`
	PriceOrigin   PriceOrigin    `json:"price_origin"`
	MarketValue   string         `json:"market_value"`
	TotalValue    string         `json:"total_value"`
	ProfitLoss    ProfitLoss     `json:"profit_loss"`
	Allocation    Allocation     `json:"allocation"`
	LastTradeID   string         `json:"last_trade_id,omitempty"`
	LastTradeKind TradeKind      `json:"last_trade_kind,omitempty"`
}

// LedgerSnapshotRecord bundles a snapshot with its journal index.
type LedgerSnapshotRecord struct {
	Index    uint64
	Snapshot LedgerSnapshot
}

// PortfolioValue is a point-in-time copy of total value attached to a post or comment.
type PortfolioValue struct {
	TotalValue string    `json:"totalValue"`
	ShowValue  bool      `json:"showValue"`
	TakenAt    time.Time `json:"takenAt"`
}
