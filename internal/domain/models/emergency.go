package models

import "time"

// EmergencyAction is one ordered step of a protocol response.
type EmergencyAction string

const (
	ActionPauseDetection  EmergencyAction = "pause_detection"
	ActionPauseExecution  EmergencyAction = "pause_execution"
	ActionCancelTargets   EmergencyAction = "cancel_open_targets"
	ActionNotifyOperators EmergencyAction = "notify_operators"
)

// EmergencyProtocol is a predefined response plan. Read-only after load.
type EmergencyProtocol struct {
	ID                string            `yaml:"id" json:"id"`
	Name              string            `yaml:"name" json:"name"`
	TriggerConditions []string          `yaml:"trigger_conditions" json:"triggerConditions"`
	Actions           []EmergencyAction `yaml:"actions" json:"actions"`
	Priority          int               `yaml:"priority" json:"priority"`
	AutoRecovery      bool              `yaml:"auto_recovery" json:"autoRecovery"`
}

// SessionStatus is the lifecycle state of an emergency session.
type SessionStatus string

const (
	SessionCreated   SessionStatus = "created"
	SessionEscalated SessionStatus = "escalated"
	SessionResolved  SessionStatus = "resolved"
	SessionFailed    SessionStatus = "failed"
)

// ResolutionMethod records how a session was closed out.
type ResolutionMethod string

const (
	ResolutionAutomatic ResolutionMethod = "automatic"
	ResolutionManual    ResolutionMethod = "manual"
)

// EmergencySession is one live activation of a protocol.
type EmergencySession struct {
	ID          string           `json:"id"`
	ProtocolID  string           `json:"protocolId"`
	Status      SessionStatus    `json:"status"`
	Severity    int              `json:"severity"`
	TriggeredBy string           `json:"triggeredBy"`
	Reason      string           `json:"reason"`
	Resolution  ResolutionMethod `json:"resolution,omitempty"`
	ResolvedBy  string           `json:"resolvedBy,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
	ResolvedAt  time.Time        `json:"resolvedAt,omitempty"`
}

// Active reports whether the session still counts against the
// concurrent-session cap.
func (s *EmergencySession) Active() bool {
	return s.Status == SessionCreated || s.Status == SessionEscalated
}

// DrillResult is the outcome of a non-disruptive protocol self-test.
type DrillResult struct {
	ProtocolID string        `json:"protocolId"`
	Success    bool          `json:"success"`
	Duration   time.Duration `json:"duration"`
	Issues     []string      `json:"issues,omitempty"`
	RanAt      time.Time     `json:"ranAt"`
}

// Alert is a structured notification published to the external channel.
type Alert struct {
	Kind      string    `json:"kind"` // "pattern" or "emergency"
	Severity  string    `json:"severity"`
	Symbol    string    `json:"symbol,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
