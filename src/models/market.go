package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DeltaAction int

const (
	ActionNew DeltaAction = iota
	ActionChange
	ActionDelete
)

func (a DeltaAction) String() string {
	switch a {
	case ActionNew:
		return "new"
	case ActionChange:
		return "change"
	case ActionDelete:
		return "delete"
	}
	return fmt.Sprintf("DeltaAction(%d)", int(a))
}

func ParseDeltaAction(s string) (DeltaAction, error) {
	switch strings.ToLower(s) {
	case "new":
		return ActionNew, nil
	case "change":
		return ActionChange, nil
	case "delete":
		return ActionDelete, nil
	}
	return 0, fmt.Errorf("unknown delta action %q", s)
}

// OrderBookDelta is one level instruction. On the wire it is the triple [action, price, amount].
type OrderBookDelta struct {
	Action DeltaAction
	Price  float64
	Amount float64
}

func (d *OrderBookDelta) UnmarshalJSON(data []byte) error {
	var raw [3]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("delta must be [action, price, amount]: %w", err)
	}

	var action string
	if err := json.Unmarshal(raw[0], &action); err != nil {
		return fmt.Errorf("delta action: %w", err)
	}
	parsed, err := ParseDeltaAction(action)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw[1], &d.Price); err != nil {
		return fmt.Errorf("delta price: %w", err)
	}
	if err := json.Unmarshal(raw[2], &d.Amount); err != nil {
		return fmt.Errorf("delta amount: %w", err)
	}
	d.Action = parsed
	return nil
}

func (d OrderBookDelta) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{d.Action.String(), d.Price, d.Amount})
}

// BookData is the payload of a book.<instrument>.<interval> notification.
// The first message after subscribing carries no prev_change_id and is a full snapshot.
type BookData struct {
	Type           string           `json:"type,omitempty"`
	Timestamp      int64            `json:"timestamp"`
	InstrumentName string           `json:"instrument_name"`
	ChangeID       int64            `json:"change_id"`
	PrevChangeID   *int64           `json:"prev_change_id,omitempty"`
	Asks           []OrderBookDelta `json:"asks"`
	Bids           []OrderBookDelta `json:"bids"`
}

func (b *BookData) IsSnapshot() bool {
	return b.PrevChangeID == nil
}

type Trade struct {
	TradeSeq       int64   `json:"trade_seq"`
	TradeID        string  `json:"trade_id"`
	Timestamp      int64   `json:"timestamp"`
	TickDirection  int     `json:"tick_direction"`
	Price          float64 `json:"price"`
	MarkPrice      float64 `json:"mark_price"`
	InstrumentName string  `json:"instrument_name"`
	IndexPrice     float64 `json:"index_price"`
	Direction      string  `json:"direction"`
	Amount         float64 `json:"amount"`
}
