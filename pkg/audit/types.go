package audit

import "time"

// EventType identifies the kind of security event being recorded
type EventType string

const (
	EventLoginStarted        EventType = "auth.login_started"
	EventLogin               EventType = "auth.login"
	EventLoginFailed         EventType = "auth.login_failed"
	EventLogout              EventType = "auth.logout"
	EventSessionValidate     EventType = "auth.session_validate"
	EventSessionValidateFail EventType = "auth.session_validate_fail"
	EventTokenRevoke         EventType = "auth.token_revoke"
	EventLockout             EventType = "auth.lockout"
)

// SecurityEvent is one entry in the audit trail. Events are append-only
// and never carry raw credentials or tokens.
type SecurityEvent struct {
	EventType      EventType         `json:"event_type"`
	UserID         string            `json:"user_id,omitempty"`
	Email          string            `json:"email,omitempty"`
	OrganizationID string            `json:"organization_id,omitempty"`
	OriginAddress  string            `json:"origin_address,omitempty"`
	OriginAgent    string            `json:"origin_agent,omitempty"`
	ProviderID     string            `json:"provider_id,omitempty"`
	Success        bool              `json:"success"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}
