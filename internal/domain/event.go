package domain

import "encoding/json"

// EventKind classifies an inbound stream message.
type EventKind string

const (
	EventKindCreation  EventKind = "creation"
	EventKindTrade     EventKind = "trade"
	EventKindMigration EventKind = "migration"
	EventKindUnknown   EventKind = "unknown"
)

// UnknownMint is the entity identifier assigned to messages that carry none.
const UnknownMint = "unknown"

// IsValid reports whether k is one of the known kinds.
func (k EventKind) IsValid() bool {
	switch k {
	case EventKindCreation, EventKindTrade, EventKindMigration, EventKindUnknown:
		return true
	}
	return false
}

// Scorable reports whether events of this kind trigger scoring.
func (k EventKind) Scorable() bool {
	return k == EventKindCreation || k == EventKindTrade || k == EventKindMigration
}

// RawEvent is a normalized inbound stream message.
// Mint and Kind are always set; Payload keeps the exact inbound bytes.
type RawEvent struct {
	Mint         string          `json:"mint"`                   // token mint address or UnknownMint
	Kind         EventKind       `json:"kind"`                   // creation | trade | migration | unknown
	Side         string          `json:"side,omitempty"`         // buy | sell for trades
	Trader       string          `json:"trader,omitempty"`       // signer public key
	Signature    string          `json:"signature,omitempty"`    // transaction signature
	SolAmount    *float64        `json:"solAmount,omitempty"`    // SOL moved by the trade (nullable)
	MarketCapSol *float64        `json:"marketCapSol,omitempty"` // derived market cap estimate (nullable)
	Name         *string         `json:"name,omitempty"`         // token name when carried by creation events
	Symbol       *string         `json:"symbol,omitempty"`       // token symbol when carried by creation events
	URI          *string         `json:"uri,omitempty"`          // metadata URI when carried by creation events
	Source       string          `json:"source"`                 // payload family the event was parsed from
	Payload      json.RawMessage `json:"payload"`                // verbatim inbound message
	ReceivedAt   int64           `json:"receivedAt"`             // Unix ms
}
