package models

type ErrorResponse struct {
	Error string `json:"error"`
}

type BookResponse struct {
	Instrument string           `json:"instrument"`
	Timestamp  int64            `json:"timestamp"` // unix timestamp in milliseconds
	ChangeID   int64            `json:"change_id"`
	BestBid    *float64         `json:"best_bid"` // null when the side is empty
	BestAsk    *float64         `json:"best_ask"`
	Spread     *float64         `json:"spread"` // null unless both sides are present
	Gaps       int64            `json:"gaps"`
	Bids       []PriceLevelInfo `json:"bids"` // sorted descending (highest first)
	Asks       []PriceLevelInfo `json:"asks"` // sorted ascending (lowest first)
}

type PriceLevelInfo struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// TopOfBook is published after every applied book message.
type TopOfBook struct {
	Instrument string   `json:"instrument"`
	Timestamp  int64    `json:"timestamp"`
	ChangeID   int64    `json:"change_id"`
	BestBid    *float64 `json:"best_bid"`
	BestAsk    *float64 `json:"best_ask"`
	Spread     *float64 `json:"spread"`
}

type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Connected     bool   `json:"connected"`
	Ready         bool   `json:"ready"`
	SessionID     string `json:"session_id"`
}

type MetricsResponse struct {
	NotificationsReceived int64 `json:"notifications_received"`
	BookUpdatesApplied    int64 `json:"book_updates_applied"`
	SnapshotsLoaded       int64 `json:"snapshots_loaded"`
	TradesReceived        int64 `json:"trades_received"`
	CandlesSealed         int64 `json:"candles_sealed"`
	SequenceGaps          int64 `json:"sequence_gaps"`
	NotificationsDropped  int64 `json:"notifications_dropped"`
	MalformedFrames       int64 `json:"malformed_frames"`
	PendingCalls          int   `json:"pending_calls"`
}

// CandleEvent is published when a candle is sealed.
type CandleEvent struct {
	Instrument string     `json:"instrument"`
	Resolution int        `json:"resolution"` // minutes
	Candle     CandleInfo `json:"candle"`
}
