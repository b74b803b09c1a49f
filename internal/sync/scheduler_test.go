package sync

import (
	"context"
	"testing"
	"time"

	"github.com/taskbridge/backend/internal/provider"
	"github.com/taskbridge/backend/internal/storage/models"
)

func newTestScheduler(t *testing.T) (*testEnv, *Scheduler) {
	t.Helper()
	e := newTestEnv(t)
	return e, NewScheduler(e.mgr, e.connections, e.settings)
}

func TestRunCalendarCoalescesInFlightPass(t *testing.T) {
	e, s := newTestScheduler(t)
	e.client.fetchStarted = make(chan struct{}, 1)
	e.client.fetchRelease = make(chan struct{})

	type outcome struct {
		result *models.SyncResult
		err    error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := s.RunCalendar(context.Background(), testUser, provider.Google, testCalendar)
		first <- outcome{res, err}
	}()

	// Wait until the first pass is mid-fetch, then trigger a second.
	<-e.client.fetchStarted
	res, err := s.RunCalendar(context.Background(), testUser, provider.Google, testCalendar)
	if res != nil || err != nil {
		t.Errorf("coalesced call = (%v, %v), want (nil, nil)", res, err)
	}

	close(e.client.fetchRelease)
	out := <-first
	if out.err != nil {
		t.Fatalf("first pass failed: %v", out.err)
	}
	if out.result == nil {
		t.Fatal("first pass should return a result")
	}
	if e.client.fetchCalls != 1 {
		t.Errorf("fetch calls = %d, want 1 (second pass coalesced)", e.client.fetchCalls)
	}
}

func TestRunCalendarRecordsStatus(t *testing.T) {
	e, s := newTestScheduler(t)
	e.seedTask(t, "Planning", time.Now().Add(24*time.Hour), time.Now())

	if _, err := s.RunCalendar(context.Background(), testUser, provider.Google, testCalendar); err != nil {
		t.Fatalf("RunCalendar: %v", err)
	}

	statuses := s.Status(testUser)
	if len(statuses) != 1 {
		t.Fatalf("statuses = %d, want 1", len(statuses))
	}
	st := statuses[0]
	if st.Provider != provider.Google || st.CalendarID != testCalendar {
		t.Errorf("status identity = %s/%s", st.Provider, st.CalendarID)
	}
	if st.Running {
		t.Error("pass finished, Running should be false")
	}
	if st.LastRunAt == nil {
		t.Error("LastRunAt should be recorded")
	}
	if st.LastError != "" {
		t.Errorf("LastError = %q, want empty", st.LastError)
	}
	if st.LastResult == nil || st.LastResult.RemoteCreated != 1 {
		t.Errorf("LastResult = %+v, want one remote create", st.LastResult)
	}
}

func TestRunCalendarRecordsFailure(t *testing.T) {
	e, s := newTestScheduler(t)
	e.client.fetchErrs = []error{&provider.AuthError{Provider: provider.Google, Reason: "revoked"}}

	if _, err := s.RunCalendar(context.Background(), testUser, provider.Google, testCalendar); err == nil {
		t.Fatal("expected the pass to fail")
	}

	statuses := s.Status(testUser)
	if len(statuses) != 1 || statuses[0].LastError == "" {
		t.Errorf("statuses = %+v, want one with a recorded error", statuses)
	}
}

func TestSyncUserCoversEveryConnectedCalendar(t *testing.T) {
	e, s := newTestScheduler(t)

	cfg := models.DefaultSyncConfig(testUser)
	cfg.CalendarMapping = map[string]string{"work": "cal-work"}
	if err := e.settings.Put(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}

	results, err := s.SyncUser(context.Background(), testUser)
	if err != nil {
		t.Fatalf("SyncUser: %v", err)
	}
	// One pass for the connection default, one for the mapped calendar.
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if e.client.fetchCalls != 2 {
		t.Errorf("fetch calls = %d, want 2", e.client.fetchCalls)
	}
}

func TestSyncUserHonorsEnabledProviders(t *testing.T) {
	e, s := newTestScheduler(t)

	cfg := models.DefaultSyncConfig(testUser)
	cfg.EnabledProviders = []string{provider.Outlook}
	if err := e.settings.Put(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}

	results, err := s.SyncUser(context.Background(), testUser)
	if err != nil {
		t.Fatalf("SyncUser: %v", err)
	}
	if len(results) != 0 || e.client.fetchCalls != 0 {
		t.Errorf("disabled provider was synced: %d results, %d fetches", len(results), e.client.fetchCalls)
	}
}

func TestScheduleUserLifecycle(t *testing.T) {
	_, s := newTestScheduler(t)

	s.ScheduleUser(testUser, 15*time.Minute, true)
	s.mu.Lock()
	_, scheduled := s.jobs[testUser]
	s.mu.Unlock()
	if !scheduled {
		t.Fatal("user should have a cron entry")
	}

	// Disabling auto-sync drops the entry.
	s.ScheduleUser(testUser, 15*time.Minute, false)
	s.mu.Lock()
	_, scheduled = s.jobs[testUser]
	s.mu.Unlock()
	if scheduled {
		t.Error("auto-sync off should remove the cron entry")
	}

	s.ScheduleUser(testUser, 15*time.Minute, true)
	s.UnscheduleUser(testUser)
	s.mu.Lock()
	_, scheduled = s.jobs[testUser]
	s.mu.Unlock()
	if scheduled {
		t.Error("UnscheduleUser should remove the cron entry")
	}
}

func TestRefreshSchedulesTracksConnections(t *testing.T) {
	e, s := newTestScheduler(t)

	if err := s.refreshSchedules(context.Background()); err != nil {
		t.Fatalf("refreshSchedules: %v", err)
	}
	s.mu.Lock()
	_, scheduled := s.jobs[testUser]
	s.mu.Unlock()
	if !scheduled {
		t.Fatal("connected user should be scheduled")
	}

	conn, err := e.connections.Get(context.Background(), testUser, provider.Google)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.connections.Delete(context.Background(), conn.ID); err != nil {
		t.Fatal(err)
	}

	if err := s.refreshSchedules(context.Background()); err != nil {
		t.Fatalf("refreshSchedules: %v", err)
	}
	s.mu.Lock()
	_, scheduled = s.jobs[testUser]
	s.mu.Unlock()
	if scheduled {
		t.Error("user without connections should be unscheduled")
	}
}
