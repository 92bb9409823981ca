package notification

import (
	"fmt"
	"strings"
	"time"
)

// Priority is the total-ordered urgency of a notification.
//
// The numeric ordering is a contract: lower values are more urgent, and the
// delivery queue orders strictly by it. Do not reorder the constants.
type Priority int

const (
	PriorityCritical Priority = 0
	PriorityHigh     Priority = 1
	PriorityMedium   Priority = 2
	PriorityLow      Priority = 3
	PrioritySpam     Priority = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	case PrioritySpam:
		return "spam"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether p is one of the defined priorities.
func (p Priority) Valid() bool { return p >= PriorityCritical && p <= PrioritySpam }

// ParsePriority parses the textual form produced by String().
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	case "spam":
		return PrioritySpam, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// Action tells the caller what to do with a notification right now.
type Action string

const (
	ActionShowImmediately Action = "show_immediately"
	ActionDefer           Action = "defer"
	ActionBundle          Action = "bundle"
	ActionSilence         Action = "silence"
	ActionBlock           Action = "block"
)

// Context is the inferred current activity state of a user.
type Context string

const (
	ContextFocusMode Context = "focus_mode"
	ContextWorking   Context = "working"
	ContextLeisure   Context = "leisure"
	ContextSleeping  Context = "sleeping"
)

// Strategy determines when a queued notification becomes due.
type Strategy string

const (
	StrategyImmediate   Strategy = "immediate"
	StrategyBatchHourly Strategy = "batch_hourly"
	StrategyBatchDaily  Strategy = "batch_daily"
	StrategySmartTiming Strategy = "smart_timing"
)

// Event is one incoming notification as produced by the intake layer.
// It is immutable once constructed.
//
// Meta carries app-specific extras the core does not reason about; the
// required fields are the ones classification and scheduling actually read.
type Event struct {
	Text      string            `json:"text"`
	Sender    string            `json:"sender"`
	App       string            `json:"app"`
	Timestamp time.Time         `json:"timestamp"`
	UserID    string            `json:"user_id"`
	Critical  bool              `json:"critical,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Classification is the outcome of analyzing one Event.
type Classification struct {
	Priority  Priority   `json:"priority"`
	Action    Action     `json:"action"`
	Context   Context    `json:"context"`
	Reasoning string     `json:"reasoning"`
	DeferTo   *time.Time `json:"defer_to,omitempty"`
}

// ReplyType classifies the intent of a quick-reply text.
type ReplyType string

const (
	ReplyQuestion       ReplyType = "question"
	ReplyPositive       ReplyType = "positive"
	ReplyNegative       ReplyType = "negative"
	ReplyAcknowledgment ReplyType = "acknowledgment"
	ReplyInformative    ReplyType = "informative"
)

// ReplySuggestion is one ranked quick-reply candidate.
// Suggestions are ephemeral; the core never stores them.
type ReplySuggestion struct {
	Text       string    `json:"text"`
	Type       ReplyType `json:"type"`
	Confidence float64   `json:"confidence"`
}
