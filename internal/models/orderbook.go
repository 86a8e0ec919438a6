package models

import "fmt"

// LevelsPerSide is the number of rungs persisted per side and timestamp.
// Fewer live levels are stored as explicit zero-size rows.
const LevelsPerSide = 20

// Side identifies one side of the book.
type Side string

const (
	Bid Side = "BID"
	Ask Side = "ASK"
)

// ParseSide accepts BID/ASK as well as the bids/asks spelling of raw files.
func ParseSide(s string) (Side, error) {
	switch s {
	case "BID", "bid", "bids":
		return Bid, nil
	case "ASK", "ask", "asks":
		return Ask, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// LevelRecord is one price rung on one side at one instant, as persisted in
// the long-format series.
type LevelRecord struct {
	TimestampNs       int64   `json:"timestamp_ns"`
	Side              Side    `json:"side"`
	Level             int     `json:"level"`
	MidpointUSD       float64 `json:"midpoint_USD"`
	DistanceToMid     float64 `json:"distance_to_mid"`
	NotionalUSD       float64 `json:"notional_USD"`
	SizeBTC           float64 `json:"size_BTC"`
	CancelNotionalUSD float64 `json:"cancel_notional_USD"`
	LimitNotionalUSD  float64 `json:"limit_notional_USD"`
	MarketNotionalUSD float64 `json:"market_notional_USD"`
}

// Price reconstructs the level price from the midpoint and the signed
// distance to mid.
func (l LevelRecord) Price() float64 {
	return l.MidpointUSD * (1 + l.DistanceToMid)
}

// Snapshot is the two-sided ladder valid at one timestamp.
//
// Bids are ordered best to worst (index 0 is the highest bid). Asks are
// ordered worst to best, so the best ask is the LAST element; scanning asks
// from the end and bids from the front both start at the touch.
type Snapshot struct {
	TimestampNs int64
	Asks        []LevelRecord
	Bids        []LevelRecord
}

// BestAsks returns the ask ladder ordered best to worst. The returned slice is
// a copy.
func (s *Snapshot) BestAsks() []LevelRecord {
	out := make([]LevelRecord, len(s.Asks))
	for i := range s.Asks {
		out[i] = s.Asks[len(s.Asks)-1-i]
	}
	return out
}

// TopAsk returns the ask stored at the touch position (last element), whether
// or not it carries size.
func (s *Snapshot) TopAsk() (LevelRecord, bool) {
	if len(s.Asks) == 0 {
		return LevelRecord{}, false
	}
	return s.Asks[len(s.Asks)-1], true
}

// TopBid returns the bid stored at the touch position (first element).
func (s *Snapshot) TopBid() (LevelRecord, bool) {
	if len(s.Bids) == 0 {
		return LevelRecord{}, false
	}
	return s.Bids[0], true
}
