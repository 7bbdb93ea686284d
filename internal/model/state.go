package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Step identifies which reply the conversation is waiting for.
type Step string

const (
	StepAwaitingRecurrenceEndCondition Step = "awaiting_recurrence_end_condition"
	StepAwaitingEventTitle             Step = "awaiting_event_title"
	StepAwaitingBulkConfirmation       Step = "awaiting_bulk_confirmation"
	StepAwaitingCSVUpload              Step = "awaiting_csv_upload"
	StepAwaitingCalendarChoice         Step = "awaiting_calendar_choice"
	StepAwaitingConflictConfirmation   Step = "awaiting_conflict_confirmation"
	StepAwaitingModificationDetails    Step = "awaiting_modification_details"
	StepAwaitingDeleteConfirmation     Step = "awaiting_delete_confirmation"
)

// StepState is the per-step conversation payload. Each variant carries
// exactly the fields its step requires, so a stored state can never lack the
// data its handler depends on. The absence of a session means no pending
// step; there is no explicit idle variant.
type StepState interface {
	Step() Step
}

// AwaitingEventTitle holds a candidate that has a start time but no title.
type AwaitingEventTitle struct {
	Event CandidateEvent `json:"event"`
}

func (AwaitingEventTitle) Step() Step { return StepAwaitingEventTitle }

// AwaitingRecurrenceEndCondition holds a candidate whose recurrence rule
// lacks a COUNT or UNTIL clause.
type AwaitingRecurrenceEndCondition struct {
	Event CandidateEvent `json:"event"`
}

func (AwaitingRecurrenceEndCondition) Step() Step { return StepAwaitingRecurrenceEndCondition }

// AwaitingCalendarChoice holds a complete candidate waiting for the user to
// pick one of several destination calendars.
type AwaitingCalendarChoice struct {
	Event CandidateEvent `json:"event"`
}

func (AwaitingCalendarChoice) Step() Step { return StepAwaitingCalendarChoice }

// AwaitingConflictConfirmation holds a candidate whose time window overlaps
// existing events in CalendarID. Confirmation creates it without re-checking.
type AwaitingConflictConfirmation struct {
	Event      CandidateEvent `json:"event"`
	CalendarID string         `json:"calendar_id"`
}

func (AwaitingConflictConfirmation) Step() Step { return StepAwaitingConflictConfirmation }

// AwaitingModificationDetails waits for a natural-language change
// description. EventID and CalendarID are empty while a disambiguation pick
// is still pending.
type AwaitingModificationDetails struct {
	EventID    string `json:"event_id,omitempty"`
	CalendarID string `json:"calendar_id,omitempty"`
}

func (AwaitingModificationDetails) Step() Step { return StepAwaitingModificationDetails }

// AwaitingDeleteConfirmation waits for explicit confirmation before a
// destructive delete.
type AwaitingDeleteConfirmation struct {
	EventID    string `json:"event_id"`
	CalendarID string `json:"calendar_id"`
	Title      string `json:"title,omitempty"`
}

func (AwaitingDeleteConfirmation) Step() Step { return StepAwaitingDeleteConfirmation }

// AwaitingCSVUpload waits for a shift file for the named person.
type AwaitingCSVUpload struct {
	PersonName string `json:"person_name"`
}

func (AwaitingCSVUpload) Step() Step { return StepAwaitingCSVUpload }

// AwaitingBulkConfirmation holds parsed shift candidates waiting for a
// destination calendar choice.
type AwaitingBulkConfirmation struct {
	Events []CandidateEvent `json:"events"`
}

func (AwaitingBulkConfirmation) Step() Step { return StepAwaitingBulkConfirmation }

// Session is the stored conversation state for one (user, chat) pair.
// Writes always replace the previous value in full.
type Session struct {
	State     StepState
	ChatID    string
	Timestamp time.Time
}

// Age returns how long ago the session was last written.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// sessionEnvelope is the persisted JSON form of a Session. The step tag
// selects the payload variant on decode.
type sessionEnvelope struct {
	Step      Step            `json:"step"`
	Payload   json.RawMessage `json:"payload"`
	ChatID    string          `json:"chat_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarshalJSON encodes the session as a step-tagged envelope.
func (s Session) MarshalJSON() ([]byte, error) {
	if s.State == nil {
		return nil, fmt.Errorf("session has no step state")
	}
	payload, err := json.Marshal(s.State)
	if err != nil {
		return nil, fmt.Errorf("marshal step payload: %w", err)
	}
	return json.Marshal(sessionEnvelope{
		Step:      s.State.Step(),
		Payload:   payload,
		ChatID:    s.ChatID,
		Timestamp: s.Timestamp,
	})
}

// UnmarshalJSON decodes a step-tagged envelope into the matching variant.
func (s *Session) UnmarshalJSON(data []byte) error {
	var env sessionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	var state StepState
	switch env.Step {
	case StepAwaitingEventTitle:
		state = &AwaitingEventTitle{}
	case StepAwaitingRecurrenceEndCondition:
		state = &AwaitingRecurrenceEndCondition{}
	case StepAwaitingCalendarChoice:
		state = &AwaitingCalendarChoice{}
	case StepAwaitingConflictConfirmation:
		state = &AwaitingConflictConfirmation{}
	case StepAwaitingModificationDetails:
		state = &AwaitingModificationDetails{}
	case StepAwaitingDeleteConfirmation:
		state = &AwaitingDeleteConfirmation{}
	case StepAwaitingCSVUpload:
		state = &AwaitingCSVUpload{}
	case StepAwaitingBulkConfirmation:
		state = &AwaitingBulkConfirmation{}
	default:
		return fmt.Errorf("unknown session step %q", env.Step)
	}

	if err := json.Unmarshal(env.Payload, state); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", env.Step, err)
	}

	s.State = state
	s.ChatID = env.ChatID
	s.Timestamp = env.Timestamp
	return nil
}
