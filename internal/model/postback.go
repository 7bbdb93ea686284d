package model

import (
	"fmt"
	"net/url"
)

// PostbackAction names the operation a tapped UI affordance requests.
type PostbackAction string

const (
	ActionCancel          PostbackAction = "cancel"
	ActionChooseCalendar  PostbackAction = "choose_calendar"
	ActionConfirmConflict PostbackAction = "confirm_conflict"
	ActionConfirmDelete   PostbackAction = "confirm_delete"
	ActionModify          PostbackAction = "modify"
	ActionImport          PostbackAction = "import"
)

// ImportAllCalendars is the Postback CalendarID meaning every eligible
// calendar during bulk import.
const ImportAllCalendars = "all"

// Postback is a decoded postback payload: a flat key=value query string with
// a mandatory action key.
type Postback struct {
	Action     PostbackAction
	EventID    string
	CalendarID string
}

// Encode serializes the postback into its wire form.
func (p Postback) Encode() string {
	v := url.Values{}
	v.Set("action", string(p.Action))
	if p.EventID != "" {
		v.Set("eventId", p.EventID)
	}
	if p.CalendarID != "" {
		v.Set("calendarId", p.CalendarID)
	}
	return v.Encode()
}

// ParsePostback decodes a postback data string.
func ParsePostback(data string) (Postback, error) {
	v, err := url.ParseQuery(data)
	if err != nil {
		return Postback{}, fmt.Errorf("parse postback data: %w", err)
	}
	action := v.Get("action")
	if action == "" {
		return Postback{}, fmt.Errorf("postback data missing action key")
	}
	return Postback{
		Action:     PostbackAction(action),
		EventID:    v.Get("eventId"),
		CalendarID: v.Get("calendarId"),
	}, nil
}
