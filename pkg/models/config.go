package models

// DurationUnit is the unit of a fixed-time wait or an event timeout.
type DurationUnit string

const (
	UnitMinutes DurationUnit = "minutes"
	UnitHours   DurationUnit = "hours"
	UnitDays    DurationUnit = "days"
	UnitWeeks   DurationUnit = "weeks"
)

// EventTypes is the whitelist of event types a for_event wait may listen
// for. Event detection and normalization happen upstream; this core only
// matches on the normalized type.
var EventTypes = []string{
	"email_open",
	"email_click",
	"email_reply",
	"sms_reply",
	"form_submit",
	"page_visit",
	"tag_added",
}

// KnownEventType reports whether eventType is in the whitelist.
func KnownEventType(eventType string) bool {
	for _, t := range EventTypes {
		if t == eventType {
			return true
		}
	}

	return false
}

// FixedTimeConfig configures a fixed_time wait. Amount range checks live
// in the time engine so that every caller shares the same bounds.
type FixedTimeConfig struct {
	Amount int          `json:"amount"`
	Unit   DurationUnit `json:"unit"   validate:"required,oneof=minutes hours days weeks"`
}

// UntilDateConfig configures an until_date wait. Date is RFC 3339.
type UntilDateConfig struct {
	Date string `json:"date" validate:"required"`
}

// UntilTimeConfig configures an until_time wait. Time is a 24h "HH:MM"
// local wall-clock time; Weekdays optionally restricts which days the
// wait may resume on.
type UntilTimeConfig struct {
	Time     string   `json:"time"               validate:"required"`
	Timezone string   `json:"timezone,omitempty"`
	Weekdays []string `json:"weekdays,omitempty" validate:"omitempty,dive,oneof=sunday monday tuesday wednesday thursday friday saturday"`
}

// ForEventConfig configures a for_event wait. A nil Timeout listens
// indefinitely.
type ForEventConfig struct {
	EventType     string         `json:"event_type"     validate:"required"`
	ContactID     string         `json:"contact_id"     validate:"required"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timeout       *TimeoutConfig `json:"timeout,omitempty"`
	TimeoutAction TimeoutAction  `json:"timeout_action,omitempty" validate:"omitempty,oneof=continue exit"`
}

// TimeoutConfig is the event-wait expiry window.
type TimeoutConfig struct {
	Amount int          `json:"amount"`
	Unit   DurationUnit `json:"unit"   validate:"required,oneof=minutes hours days weeks"`
}
