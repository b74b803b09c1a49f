package storage

import (
	"context"
	"testing"
	"time"

	"github.com/taskbridge/backend/internal/storage/models"
)

func newConnection(userID, provider string) *models.Connection {
	return &models.Connection{
		UserID:         userID,
		Provider:       provider,
		AccessToken:    "tok",
		RefreshToken:   "refresh",
		TokenExpiresAt: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		AccountEmail:   "me@example.com",
		CalendarID:     "cal-1",
	}
}

func TestConnectionRepositoryUpsert(t *testing.T) {
	repo := NewConnectionRepository(newTestDB(t))
	ctx := context.Background()

	conn := newConnection("u1", "google")
	if err := repo.Upsert(ctx, conn); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if conn.ID == "" {
		t.Fatal("Upsert should assign an ID")
	}
	if conn.Status != models.ConnectionActive {
		t.Errorf("Status = %q, want active default", conn.Status)
	}

	got, err := repo.Get(ctx, "u1", "google")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccessToken != "tok" || got.AccountEmail != "me@example.com" {
		t.Errorf("got = %+v", got)
	}

	// Reconnecting the same provider replaces the row in place.
	again := newConnection("u1", "google")
	again.AccessToken = "tok-2"
	if err := repo.Upsert(ctx, again); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	conns, _ := repo.ListByUser(ctx, "u1")
	if len(conns) != 1 {
		t.Fatalf("connections = %d, want 1", len(conns))
	}
	if conns[0].AccessToken != "tok-2" {
		t.Errorf("AccessToken = %q, want the reconnect's token", conns[0].AccessToken)
	}
}

func TestConnectionRepositoryGetMissing(t *testing.T) {
	repo := NewConnectionRepository(newTestDB(t))
	got, err := repo.Get(context.Background(), "u1", "google")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil", got)
	}
}

func TestConnectionRepositoryUpdateTokens(t *testing.T) {
	repo := NewConnectionRepository(newTestDB(t))
	ctx := context.Background()

	conn := newConnection("u1", "google")
	if err := repo.Upsert(ctx, conn); err != nil {
		t.Fatal(err)
	}

	expiry := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	if err := repo.UpdateTokens(ctx, conn.ID, "tok-new", "refresh-new", expiry); err != nil {
		t.Fatalf("UpdateTokens: %v", err)
	}

	got, _ := repo.Get(ctx, "u1", "google")
	if got.AccessToken != "tok-new" || got.RefreshToken != "refresh-new" {
		t.Errorf("tokens = %q/%q", got.AccessToken, got.RefreshToken)
	}
	if !got.TokenExpiresAt.Equal(expiry) {
		t.Errorf("TokenExpiresAt = %v, want %v", got.TokenExpiresAt, expiry)
	}
}

func TestConnectionRepositoryUpdateStatus(t *testing.T) {
	repo := NewConnectionRepository(newTestDB(t))
	ctx := context.Background()

	conn := newConnection("u1", "google")
	if err := repo.Upsert(ctx, conn); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateStatus(ctx, conn.ID, models.ConnectionNeedsReauth); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	got, _ := repo.Get(ctx, "u1", "google")
	if got.Status != models.ConnectionNeedsReauth {
		t.Errorf("Status = %q", got.Status)
	}
}

func TestConnectionRepositoryListAll(t *testing.T) {
	repo := NewConnectionRepository(newTestDB(t))
	ctx := context.Background()

	for _, c := range []*models.Connection{
		newConnection("u1", "google"),
		newConnection("u1", "outlook"),
		newConnection("u2", "google"),
	} {
		if err := repo.Upsert(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	all, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("connections = %d, want 3", len(all))
	}
}

func TestConnectionRepositoryDelete(t *testing.T) {
	repo := NewConnectionRepository(newTestDB(t))
	ctx := context.Background()

	conn := newConnection("u1", "google")
	if err := repo.Upsert(ctx, conn); err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete(ctx, conn.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := repo.Get(ctx, "u1", "google"); got != nil {
		t.Error("connection should be gone")
	}
}
