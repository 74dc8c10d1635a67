package models

import (
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jwriter"
)

// CandleInfo is one OHLCV bar. Prices and sizes are decimal strings so no precision is lost.
type CandleInfo struct {
	Start    int64  `json:"start"` // unix timestamp in milliseconds
	Duration int64  `json:"duration"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Cost     string `json:"cost"`
	Volume   string `json:"volume"`
	Sealed   bool   `json:"sealed"`
}

type CandleList struct {
	Instrument string       `json:"instrument"`
	Resolution int          `json:"resolution"` // minutes
	Candles    []CandleInfo `json:"candles"`
}

var (
	_ easyjson.Marshaler = CandleInfo{}
	_ easyjson.Marshaler = CandleList{}
)

func (c CandleInfo) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawString(`{"start":`)
	w.Int64(c.Start)
	w.RawString(`,"duration":`)
	w.Int64(c.Duration)
	w.RawString(`,"open":`)
	w.String(c.Open)
	w.RawString(`,"high":`)
	w.String(c.High)
	w.RawString(`,"low":`)
	w.String(c.Low)
	w.RawString(`,"close":`)
	w.String(c.Close)
	w.RawString(`,"cost":`)
	w.String(c.Cost)
	w.RawString(`,"volume":`)
	w.String(c.Volume)
	w.RawString(`,"sealed":`)
	w.Bool(c.Sealed)
	w.RawByte('}')
}

func (c CandleInfo) MarshalJSON() ([]byte, error) {
	return easyjson.Marshal(c)
}

func (l CandleList) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawString(`{"instrument":`)
	w.String(l.Instrument)
	w.RawString(`,"resolution":`)
	w.Int(l.Resolution)
	w.RawString(`,"candles":`)
	// edge case: an empty chart renders as [] rather than null
	w.RawByte('[')
	for i, c := range l.Candles {
		if i > 0 {
			w.RawByte(',')
		}
		c.MarshalEasyJSON(w)
	}
	w.RawByte(']')
	w.RawByte('}')
}

func (l CandleList) MarshalJSON() ([]byte, error) {
	return easyjson.Marshal(l)
}
