package model

// IntentType identifies the kind of request extracted from user text.
type IntentType string

const (
	IntentCreateEvent    IntentType = "create_event"
	IntentQueryEvent     IntentType = "query_event"
	IntentUpdateEvent    IntentType = "update_event"
	IntentDeleteEvent    IntentType = "delete_event"
	IntentCreateSchedule IntentType = "create_schedule"
	IntentIncomplete     IntentType = "incomplete"
	IntentUnknown        IntentType = "unknown"
)

// Intent is the classifier's typed interpretation of one user message.
// Only the fields relevant to Type are populated.
type Intent struct {
	Type IntentType `json:"type"`

	// Event is the extracted candidate for create_event. It may be partial:
	// a missing title or end time is filled in by the dispatcher.
	Event *CandidateEvent `json:"event,omitempty"`

	// Window and Keyword scope query/update/delete searches.
	Window  *TimeWindow `json:"window,omitempty"`
	Keyword string      `json:"keyword,omitempty"`

	// Patch is the change-set for update_event, when the user already stated
	// what should change.
	Patch *EventPatch `json:"patch,omitempty"`

	// PersonName names whose schedule to build for create_schedule.
	PersonName string `json:"person_name,omitempty"`
}
