package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

type EventType string

const (
	EventCreated EventType = "transaction.created"
	EventDeleted EventType = "transaction.deleted"
)

// TransactionPayload is the full row carried by a created event.
type TransactionPayload struct {
	ID          string          `json:"id"`
	Owner       string          `json:"owner"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Category    string          `json:"category"`
	Date        time.Time       `json:"date"`
}

// TransactionEvent announces a persisted change. Deleted events carry no
// payload, consumers only need the id.
type TransactionEvent struct {
	Event       EventType           `json:"event"`
	ID          string              `json:"id"`
	Owner       string              `json:"owner"`
	Timestamp   time.Time           `json:"timestamp"`
	Transaction *TransactionPayload `json:"transaction,omitempty"`
}

func NewCreatedEvent(t core.Transaction) *TransactionEvent {
	return &TransactionEvent{
		Event:     EventCreated,
		ID:        t.ID,
		Owner:     t.Owner,
		Timestamp: time.Now().UTC(),
		Transaction: &TransactionPayload{
			ID:          t.ID,
			Owner:       t.Owner,
			Description: t.Description,
			Amount:      t.Amount,
			Type:        t.Kind.String(),
			Category:    t.Category,
			Date:        t.Date.UTC(),
		},
	}
}

func NewDeletedEvent(owner, id string) *TransactionEvent {
	return &TransactionEvent{
		Event:     EventDeleted,
		ID:        id,
		Owner:     owner,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *TransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransactionEventFromJSON decodes and sanity-checks a message body.
func TransactionEventFromJSON(data []byte) (*TransactionEvent, error) {
	var msg TransactionEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		return nil, errors.New("event without id")
	}
	switch msg.Event {
	case EventCreated:
		if msg.Transaction == nil {
			return nil, errors.New("created event without transaction")
		}
	case EventDeleted:
	default:
		return nil, fmt.Errorf("unknown event %q", msg.Event)
	}
	return &msg, nil
}

// ToTransaction converts the payload back into the domain type.
func (p TransactionPayload) ToTransaction() (core.Transaction, error) {
	kind, err := core.ParseKind(p.Type)
	if err != nil {
		return core.Transaction{}, err
	}
	return core.Transaction{
		ID:          p.ID,
		Description: p.Description,
		Amount:      p.Amount,
		Kind:        kind,
		Date:        p.Date.UTC(),
		Category:    p.Category,
		Owner:       p.Owner,
	}, nil
}
