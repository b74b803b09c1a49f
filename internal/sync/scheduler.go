package sync

import (
	"context"
	"log"
	gosync "sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/taskbridge/backend/internal/storage"
	"github.com/taskbridge/backend/internal/storage/models"
)

// CalendarStatus is the scheduler's view of one calendar's sync state.
type CalendarStatus struct {
	Provider   string             `json:"provider"`
	CalendarID string             `json:"calendar_id"`
	Running    bool               `json:"running"`
	LastRunAt  *time.Time         `json:"last_run_at,omitempty"`
	LastError  string             `json:"last_error,omitempty"`
	NextRunAt  *time.Time         `json:"next_run_at,omitempty"`
	LastResult *models.SyncResult `json:"last_result,omitempty"`
}

// Scheduler manages periodic sync jobs, one per user with auto-sync
// enabled. A calendar already mid-pass is skipped when its next tick
// or a manual trigger lands, never queued: the following tick picks up
// whatever the running pass missed.
type Scheduler struct {
	cron        *cron.Cron
	manager     *Manager
	connections *storage.ConnectionRepository
	settings    *storage.SettingsRepository

	mu       gosync.Mutex
	jobs     map[string]cron.EntryID // per user
	inFlight map[string]bool         // per user/provider/calendar
	statuses map[string]map[string]*CalendarStatus
}

// NewScheduler creates a sync scheduler over the manager.
func NewScheduler(manager *Manager, connections *storage.ConnectionRepository, settings *storage.SettingsRepository) *Scheduler {
	return &Scheduler{
		cron:        cron.New(),
		manager:     manager,
		connections: connections,
		settings:    settings,
		jobs:        make(map[string]cron.EntryID),
		inFlight:    make(map[string]bool),
		statuses:    make(map[string]map[string]*CalendarStatus),
	}
}

// Start schedules every connected user and begins ticking. Schedules
// are reloaded every five minutes to catch settings changes and new
// connections.
func (s *Scheduler) Start(ctx context.Context) error {
	log.Println("Starting sync scheduler...")

	if err := s.refreshSchedules(ctx); err != nil {
		return err
	}

	s.cron.AddFunc("@every 5m", func() {
		if err := s.refreshSchedules(context.Background()); err != nil {
			log.Printf("Failed to refresh sync schedules: %v", err)
		}
	})

	s.cron.Start()
	s.mu.Lock()
	n := len(s.jobs)
	s.mu.Unlock()
	log.Printf("Sync scheduler started with %d users", n)
	return nil
}

// Stop gracefully shuts down the scheduler, waiting for running jobs.
func (s *Scheduler) Stop() {
	log.Println("Stopping sync scheduler...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("Sync scheduler stopped")
}

// ScheduleUser adds or updates a user's periodic sync job.
func (s *Scheduler) ScheduleUser(userID string, interval time.Duration, autoSync bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[userID]; ok {
		s.cron.Remove(existing)
		delete(s.jobs, userID)
	}
	if !autoSync {
		return
	}

	spec := "@every " + interval.String()
	entryID, err := s.cron.AddFunc(spec, func() {
		if _, err := s.SyncUser(context.Background(), userID); err != nil {
			log.Printf("Scheduled sync for user %s: %v", userID, err)
		}
	})
	if err != nil {
		log.Printf("Failed to schedule user %s: %v", userID, err)
		return
	}
	s.jobs[userID] = entryID
	log.Printf("Scheduled sync for user %s every %s", userID, interval)
}

// UnscheduleUser removes a user's periodic sync job.
func (s *Scheduler) UnscheduleUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.jobs[userID]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, userID)
		log.Printf("Unscheduled sync for user %s", userID)
	}
}

// TriggerSync starts an immediate pass for one calendar without
// waiting for it. A pass already running for that calendar coalesces.
func (s *Scheduler) TriggerSync(userID, providerName, calendarID string) {
	go func() {
		if _, err := s.RunCalendar(context.Background(), userID, providerName, calendarID); err != nil {
			log.Printf("Triggered sync %s/%s for user %s: %v", providerName, calendarID, userID, err)
		}
	}()
}

// SyncUser runs one pass per connected calendar of the user, skipping
// calendars that are already mid-pass. Pass failures are collected on
// the results, not returned, so one bad connection does not hide the
// others.
func (s *Scheduler) SyncUser(ctx context.Context, userID string) ([]*models.SyncResult, error) {
	cfg, err := s.settings.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	conns, err := s.connections.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var results []*models.SyncResult
	for _, conn := range conns {
		if !providerEnabled(cfg, conn.Provider) {
			continue
		}
		for _, calendarID := range calendarsFor(cfg, conn) {
			res, err := s.RunCalendar(ctx, userID, conn.Provider, calendarID)
			if err != nil {
				log.Printf("Sync %s/%s for user %s: %v", conn.Provider, calendarID, userID, err)
			}
			if res != nil {
				results = append(results, res)
			}
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
		}
	}
	return results, nil
}

// RunCalendar runs one pass for one calendar, coalescing with any pass
// already in flight for it. A coalesced call returns (nil, nil).
func (s *Scheduler) RunCalendar(ctx context.Context, userID, providerName, calendarID string) (*models.SyncResult, error) {
	key := userID + "/" + providerName + "/" + calendarID

	s.mu.Lock()
	if s.inFlight[key] {
		s.mu.Unlock()
		log.Printf("Sync already running for %s, skipping", key)
		return nil, nil
	}
	s.inFlight[key] = true
	st := s.statusLocked(userID, providerName, calendarID)
	st.Running = true
	s.mu.Unlock()

	result, err := s.manager.SyncCalendar(ctx, userID, providerName, calendarID)

	s.mu.Lock()
	delete(s.inFlight, key)
	st.Running = false
	now := time.Now().UTC()
	st.LastRunAt = &now
	st.LastResult = result
	if err != nil {
		st.LastError = err.Error()
	} else {
		st.LastError = ""
	}
	s.mu.Unlock()

	return result, err
}

// Status reports the per-calendar sync state for a user, including the
// next scheduled run when auto-sync is on.
func (s *Scheduler) Status(userID string) []*CalendarStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *time.Time
	if entryID, ok := s.jobs[userID]; ok {
		entry := s.cron.Entry(entryID)
		if !entry.Next.IsZero() {
			t := entry.Next
			next = &t
		}
	}

	var out []*CalendarStatus
	for _, st := range s.statuses[userID] {
		copied := *st
		copied.NextRunAt = next
		out = append(out, &copied)
	}
	return out
}

// statusLocked returns the status record for a calendar, creating it
// on first sight. Caller holds s.mu.
func (s *Scheduler) statusLocked(userID, providerName, calendarID string) *CalendarStatus {
	byCal := s.statuses[userID]
	if byCal == nil {
		byCal = make(map[string]*CalendarStatus)
		s.statuses[userID] = byCal
	}
	key := providerName + "/" + calendarID
	st := byCal[key]
	if st == nil {
		st = &CalendarStatus{Provider: providerName, CalendarID: calendarID}
		byCal[key] = st
	}
	return st
}

// refreshSchedules reloads every connected user's schedule from their
// settings.
func (s *Scheduler) refreshSchedules(ctx context.Context) error {
	conns, err := s.connections.ListAll(ctx)
	if err != nil {
		return err
	}

	current := make(map[string]bool)
	for _, conn := range conns {
		if current[conn.UserID] {
			continue
		}
		current[conn.UserID] = true

		cfg, err := s.settings.Get(ctx, conn.UserID)
		if err != nil {
			log.Printf("Failed to load settings for user %s: %v", conn.UserID, err)
			continue
		}
		s.ScheduleUser(conn.UserID, cfg.SyncInterval(), cfg.AutoSync)
	}

	// Drop jobs for users with no connections left.
	s.mu.Lock()
	for userID := range s.jobs {
		if !current[userID] {
			s.cron.Remove(s.jobs[userID])
			delete(s.jobs, userID)
			log.Printf("Removed sync schedule for user %s (no connections)", userID)
		}
	}
	s.mu.Unlock()
	return nil
}
