package audit

import (
	"time"

	id "healthshare/pkg/domain"
)

// Event is emitted from domain logic to capture consent decisions. Keep it
// transport-agnostic so stores and sinks can fan out.
//
// The audit trail, not the consents table, is the system of record for
// denials: denying a pending request deletes the record, so the denial
// survives only here.
type Event struct {
	Timestamp  time.Time     `json:"timestamp"`
	UserID     id.UserID     `json:"user_id"`
	ProviderID id.ProviderID `json:"provider_id"`
	Action     string        `json:"action"`
	Decision   string        `json:"decision"`
	Reason     string        `json:"reason"`
}
