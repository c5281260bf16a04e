package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// LedgerAuditMessage asks the reconcile worker to re-derive one counterparty
// balance from its pending dues. It carries only identifiers, the worker
// reads current state from the database.
type LedgerAuditMessage struct {
	MessageID      string    `json:"message_id"`
	UserID         int64     `json:"user_id"`
	CounterpartyID int64     `json:"counterparty_id"`
	Timestamp      time.Time `json:"timestamp"`
}

func NewLedgerAuditMessage(userID, counterpartyID int64) *LedgerAuditMessage {
	return &LedgerAuditMessage{
		MessageID:      uuid.NewString(),
		UserID:         userID,
		CounterpartyID: counterpartyID,
		Timestamp:      time.Now(),
	}
}

func (m *LedgerAuditMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerAuditMessageFromJSON(data []byte) (*LedgerAuditMessage, error) {
	var msg LedgerAuditMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
