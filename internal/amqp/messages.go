package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names what happened to the ledger.
type EventType string

const (
	EventTransactionRecorded EventType = "transaction.recorded"
	EventGoalCreated         EventType = "goal.created"
	EventAchievementUnlocked EventType = "achievement.unlocked"
)

// LedgerEvent is a lightweight notification about a committed ledger row.
// It carries only the id; consumers fetch the full record from the store.
type LedgerEvent struct {
	Type      EventType `json:"type"`
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewLedgerEvent(t EventType, id, ownerID string) *LedgerEvent {
	return &LedgerEvent{
		Type:      t,
		ID:        id,
		OwnerID:   ownerID,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the event to JSON bytes
func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON decodes an event and rejects unknown types.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var ev LedgerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	switch ev.Type {
	case EventTransactionRecorded, EventGoalCreated, EventAchievementUnlocked:
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
	if ev.ID == "" {
		return nil, fmt.Errorf("event without id")
	}
	return &ev, nil
}
