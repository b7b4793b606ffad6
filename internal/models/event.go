package models

import "time"

// Change event type constants
const (
	EventSectorUpserted  = "SECTOR_UPSERTED"
	EventSectorDeleted   = "SECTOR_DELETED"
	EventMarketComputed  = "MARKET_COMPUTED"
	EventMarketFinalized = "MARKET_FINALIZED"
	EventMarketWithdrawn = "MARKET_WITHDRAWN"
)

// Entry event type constants
const (
	EntryEventUpsert = "SECTOR_ENTRY"
	EntryEventDelete = "SECTOR_DELETE"
)

// ChangeEvent is published after a ledger or market write has committed
type ChangeEvent struct {
	EventType      string             `json:"event_type"`
	Date           time.Time          `json:"date"`
	Sector         Sector             `json:"sector,omitempty"`
	Observation    *SectorObservation `json:"observation,omitempty"`
	Market         *MarketObservation `json:"market,omitempty"`
	MissingSectors []Sector           `json:"missing_sectors,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
}

// SectorEntryEvent carries programmatic data entry for the ledger
type SectorEntryEvent struct {
	EventType string      `json:"event_type"`
	Source    string      `json:"source"`
	Data      SectorEntry `json:"data"`
}

// SectorEntry is the wire form of a sector report. Dates are YYYY-MM-DD.
type SectorEntry struct {
	Sector         string `json:"sector"`
	Date           string `json:"date"`
	PositiveCount  int    `json:"positive_count"`
	NegativeCount  int    `json:"negative_count"`
	UnchangedCount int    `json:"unchanged_count"`
	TotalCount     int    `json:"total_count,omitempty"`
}
