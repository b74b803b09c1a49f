package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

func TestEventFromGoogle(t *testing.T) {
	tests := []struct {
		name    string
		in      *calendar.Event
		want    Event
		wantErr bool
	}{
		{
			name: "timed event",
			in: &calendar.Event{
				Id:          "ev-1",
				Summary:     "Planning",
				Description: "agenda",
				Location:    "room 4",
				Etag:        `"etag-1"`,
				Updated:     "2026-06-01T08:00:00Z",
				Start:       &calendar.EventDateTime{DateTime: "2026-06-01T09:00:00Z", TimeZone: "UTC"},
				End:         &calendar.EventDateTime{DateTime: "2026-06-01T10:00:00Z", TimeZone: "UTC"},
			},
			want: Event{
				ID:           "ev-1",
				Title:        "Planning",
				Description:  "agenda",
				Location:     "room 4",
				Version:      `"etag-1"`,
				Timezone:     "UTC",
				Start:        time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
				End:          time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
				LastModified: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
			},
		},
		{
			name: "all-day event uses date boundaries",
			in: &calendar.Event{
				Id:      "ev-2",
				Summary: "Conference",
				Start:   &calendar.EventDateTime{Date: "2026-06-01"},
				End:     &calendar.EventDateTime{Date: "2026-06-03"},
			},
			want: Event{
				ID:     "ev-2",
				Title:  "Conference",
				AllDay: true,
				Start:  time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
				End:    time.Date(2026, 6, 3, 0, 0, 0, 0, time.UTC),
			},
		},
		{
			name:    "missing boundaries",
			in:      &calendar.Event{Id: "ev-3", Summary: "Broken"},
			wantErr: true,
		},
		{
			name: "unparseable time",
			in: &calendar.Event{
				Id:    "ev-4",
				Start: &calendar.EventDateTime{DateTime: "yesterday"},
				End:   &calendar.EventDateTime{DateTime: "tomorrow"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eventFromGoogle(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected a mapping error")
				}
				var me *MappingError
				if !errors.As(err, &me) {
					t.Errorf("err = %v, want mapping", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("eventFromGoogle: %v", err)
			}
			if got.ID != tt.want.ID || got.Title != tt.want.Title ||
				got.Description != tt.want.Description || got.Location != tt.want.Location ||
				got.Version != tt.want.Version || got.AllDay != tt.want.AllDay ||
				got.Timezone != tt.want.Timezone ||
				!got.Start.Equal(tt.want.Start) || !got.End.Equal(tt.want.End) ||
				!got.LastModified.Equal(tt.want.LastModified) {
				t.Errorf("eventFromGoogle() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEventFromGoogleSkipsSelfAttendee(t *testing.T) {
	ev, err := eventFromGoogle(&calendar.Event{
		Id:    "ev-1",
		Start: &calendar.EventDateTime{DateTime: "2026-06-01T09:00:00Z"},
		End:   &calendar.EventDateTime{DateTime: "2026-06-01T10:00:00Z"},
		Attendees: []*calendar.EventAttendee{
			{Email: "me@example.com", Self: true},
			{Email: "guest@example.com"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ev.Attendees) != 1 || ev.Attendees[0] != "guest@example.com" {
		t.Errorf("Attendees = %v, want only the guest", ev.Attendees)
	}
}

func TestEventToGoogle(t *testing.T) {
	timed := eventToGoogle(Event{
		Title:     "Planning",
		Start:     time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
		End:       time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
		Timezone:  "Europe/Berlin",
		Attendees: []string{"a@example.com"},
	})
	if timed.Start.DateTime == "" || timed.Start.Date != "" {
		t.Errorf("timed event should use dateTime boundaries, got %+v", timed.Start)
	}
	if timed.Start.TimeZone != "Europe/Berlin" {
		t.Errorf("TimeZone = %q", timed.Start.TimeZone)
	}
	if len(timed.Attendees) != 1 || timed.Attendees[0].Email != "a@example.com" {
		t.Errorf("Attendees = %+v", timed.Attendees)
	}

	allDay := eventToGoogle(Event{
		Title:  "Conference",
		AllDay: true,
		Start:  time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2026, 6, 3, 0, 0, 0, 0, time.UTC),
	})
	if allDay.Start.Date != "2026-06-01" || allDay.End.Date != "2026-06-03" {
		t.Errorf("all-day boundaries = %q / %q", allDay.Start.Date, allDay.End.Date)
	}
	if allDay.Start.DateTime != "" {
		t.Error("all-day event must not carry a dateTime boundary")
	}
}

func TestGoogleErrorMapping(t *testing.T) {
	c := NewGoogleClient("id", "secret", "http://localhost/callback")

	tests := []struct {
		name  string
		in    error
		check func(t *testing.T, err error)
	}{
		{
			name: "401 is auth",
			in:   &googleapi.Error{Code: 401, Message: "invalid credentials"},
			check: func(t *testing.T, err error) {
				if !IsAuth(err) {
					t.Errorf("err = %v, want auth", err)
				}
			},
		},
		{
			name: "429 is rate limit",
			in:   &googleapi.Error{Code: 429},
			check: func(t *testing.T, err error) {
				if !Retryable(err) {
					t.Errorf("err = %v, want retryable", err)
				}
			},
		},
		{
			name: "403 with a quota reason is rate limit",
			in: &googleapi.Error{
				Code:   403,
				Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}},
			},
			check: func(t *testing.T, err error) {
				if _, ok := err.(*RateLimitError); !ok {
					t.Errorf("err = %T, want rate limit", err)
				}
			},
		},
		{
			name: "plain 403 is auth",
			in:   &googleapi.Error{Code: 403, Message: "insufficient scope"},
			check: func(t *testing.T, err error) {
				if !IsAuth(err) {
					t.Errorf("err = %v, want auth", err)
				}
			},
		},
		{
			name: "500 is a network error",
			in:   &googleapi.Error{Code: 500},
			check: func(t *testing.T, err error) {
				if _, ok := err.(*NetworkError); !ok {
					t.Errorf("err = %T, want network", err)
				}
			},
		},
		{
			name: "other codes pass through",
			in:   &googleapi.Error{Code: 404},
			check: func(t *testing.T, err error) {
				if _, ok := err.(*googleapi.Error); !ok {
					t.Errorf("err = %T, want untranslated", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, c.mapErr(tt.in))
		})
	}
}

func TestGoogleRefreshRequiresRefreshToken(t *testing.T) {
	c := NewGoogleClient("id", "secret", "http://localhost/callback")
	expired := Credentials{AccessToken: "tok", Expiry: time.Now().Add(-time.Minute)}

	if _, err := c.fresh(context.Background(), expired); !IsAuth(err) {
		t.Errorf("err = %v, want auth failure", err)
	}
}
