package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daybook-ai/calendar-assistant/internal/model"
)

func TestClientSearch(t *testing.T) {
	start := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/calendars/cal-1/events", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.Equal(t, "會議", r.URL.Query().Get("q"))
		require.NotEmpty(t, r.URL.Query().Get("time_min"))

		json.NewEncoder(w).Encode(eventPage{
			Events: []Event{{
				ID: "ev-1", CalendarID: "cal-1", Title: "會議",
				Start: start, End: start.Add(time.Hour),
			}},
			HasMore: true,
		})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Token: "tok"})
	res, err := c.Search(context.Background(), "cal-1", start, start.Add(24*time.Hour), "會議")
	require.NoError(t, err)
	require.True(t, res.HasMore)
	require.Len(t, res.Events, 1)
	require.Equal(t, "ev-1", res.Events[0].ID)
}

func TestClientCreate(t *testing.T) {
	start := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/calendars/cal-1/events", r.URL.Path)

		var cand model.CandidateEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&cand))
		require.Equal(t, "開會", cand.Title)

		json.NewEncoder(w).Encode(Event{
			ID: "new-1", CalendarID: "cal-1", Title: cand.Title,
			Start: cand.Start, End: cand.End,
		})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	created, err := c.Create(context.Background(), "cal-1", model.CandidateEvent{
		Title: "開會", Start: start, End: start.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, "new-1", created.ID)
}

func TestClientDelete(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	require.NoError(t, c.Delete(context.Background(), "cal-1", "ev-1"))
	require.Equal(t, "/calendars/cal-1/events/ev-1", gotPath)
}

func TestClientErrorStatusSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"backend exploded"}`, http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	_, err := c.ListEligibleCalendars(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func TestClientListFiltersUnwritable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]calendarEntry{
			{ID: "cal-1", DisplayName: "工作", Writable: true},
			{ID: "cal-2", DisplayName: "國定假日", Writable: false},
		})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	cals, err := c.ListEligibleCalendars(context.Background())
	require.NoError(t, err)
	require.Len(t, cals, 1)
	require.Equal(t, "cal-1", cals[0].ID)
}
