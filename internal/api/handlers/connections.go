package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/taskbridge/backend/internal/api/middleware"
	"github.com/taskbridge/backend/internal/storage"
	"github.com/taskbridge/backend/internal/storage/models"
	syncengine "github.com/taskbridge/backend/internal/sync"
)

// oauthStates holds in-flight OAuth states so the callback can bind
// the code back to the user that started the flow. States expire after
// ten minutes.
type oauthStates struct {
	mu     sync.Mutex
	states map[string]oauthState
}

type oauthState struct {
	userID    string
	provider  string
	expiresAt time.Time
}

var pendingOAuth = &oauthStates{states: make(map[string]oauthState)}

func (s *oauthStates) issue(userID, provider string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, v := range s.states {
		if now.After(v.expiresAt) {
			delete(s.states, k)
		}
	}
	state := uuid.NewString()
	s.states[state] = oauthState{userID: userID, provider: provider, expiresAt: now.Add(10 * time.Minute)}
	return state
}

func (s *oauthStates) redeem(state string) (oauthState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.states[state]
	if !ok || time.Now().After(v.expiresAt) {
		delete(s.states, state)
		return oauthState{}, false
	}
	delete(s.states, state)
	return v, true
}

// ListConnections returns a handler listing the caller's provider
// connections. Tokens are never serialized.
func ListConnections(connections *storage.ConnectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conns, err := connections.ListByUser(r.Context(), userID(r))
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
			return
		}
		if conns == nil {
			conns = []*models.Connection{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(conns)
	}
}

// BeginOAuth returns a handler that redirects the caller into the
// provider's consent flow.
func BeginOAuth(manager *syncengine.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerName := mux.Vars(r)["provider"]
		client := manager.Client(providerName)
		if client == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, fmt.Sprintf("unknown provider: %s", providerName))
			return
		}

		state := pendingOAuth.issue(userID(r), providerName)
		http.Redirect(w, r, client.AuthURL(state), http.StatusFound)
	}
}

// OAuthCallback returns a handler completing the consent flow: it
// exchanges the code, resolves the account identity and default
// calendar, and stores the connection.
func OAuthCallback(manager *syncengine.Manager, connections *storage.ConnectionRepository, scheduler *syncengine.Scheduler, settings *storage.SettingsRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerName := mux.Vars(r)["provider"]
		client := manager.Client(providerName)
		if client == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, fmt.Sprintf("unknown provider: %s", providerName))
			return
		}

		if errMsg := r.URL.Query().Get("error"); errMsg != "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "authorization denied: "+errMsg)
			return
		}

		st, ok := pendingOAuth.redeem(r.URL.Query().Get("state"))
		if !ok || st.provider != providerName {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "unknown or expired OAuth state")
			return
		}

		creds, err := client.Exchange(r.Context(), r.URL.Query().Get("code"))
		if err != nil {
			middleware.WriteError(w, http.StatusBadGateway, middleware.ErrInternalError, err.Error())
			return
		}

		info, creds, err := client.UserInfo(r.Context(), creds)
		if err != nil {
			middleware.WriteError(w, http.StatusBadGateway, middleware.ErrInternalError, err.Error())
			return
		}
		calendarID, creds, err := client.DefaultCalendar(r.Context(), creds)
		if err != nil {
			middleware.WriteError(w, http.StatusBadGateway, middleware.ErrInternalError, err.Error())
			return
		}

		conn := &models.Connection{
			UserID:         st.userID,
			Provider:       providerName,
			AccessToken:    creds.AccessToken,
			RefreshToken:   creds.RefreshToken,
			TokenExpiresAt: creds.Expiry,
			AccountEmail:   info.Email,
			CalendarID:     calendarID,
			Status:         models.ConnectionActive,
		}
		if err := connections.Upsert(r.Context(), conn); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
			return
		}

		// Put the new connection on the schedule right away.
		if cfg, err := settings.Get(r.Context(), st.userID); err == nil {
			scheduler.ScheduleUser(st.userID, cfg.SyncInterval(), cfg.AutoSync)
		} else {
			log.Printf("Failed to schedule user %s after connect: %v", st.userID, err)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(conn)
	}
}

// TestConnectionResponse is the response of the connection test.
type TestConnectionResponse struct {
	Provider  string `json:"provider"`
	Connected bool   `json:"connected"`
}

// TestConnection returns a handler verifying that a provider
// connection still works. The response is a boolean verdict, never an
// error, so a UI can poll it safely.
func TestConnection(manager *syncengine.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerName := mux.Vars(r)["provider"]
		ok := manager.TestConnection(r.Context(), userID(r), providerName)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TestConnectionResponse{Provider: providerName, Connected: ok})
	}
}

// DeleteConnection returns a handler that disconnects a provider:
// the token row, the calendar links, and the cursors go; local tasks
// stay, unsynced.
func DeleteConnection(connections *storage.ConnectionRepository, links *storage.LinkRepository, cursors *storage.CursorRepository, tasks *storage.TaskRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := userID(r)
		providerName := mux.Vars(r)["provider"]

		conn, err := connections.Get(r.Context(), uid, providerName)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
			return
		}
		if conn == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "connection not found")
			return
		}

		linked, err := links.ListByCalendar(r.Context(), uid, providerName, conn.CalendarID)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
			return
		}
		for _, l := range linked {
			if err := tasks.UpdateSyncTracking(r.Context(), l.TaskID, nil, nil, models.TaskSyncUnsynced); err != nil {
				log.Printf("Failed to unsync task %s: %v", l.TaskID, err)
			}
			if err := links.Delete(r.Context(), l.ID); err != nil {
				log.Printf("Failed to delete link %s: %v", l.ID, err)
			}
		}
		if err := cursors.Delete(r.Context(), uid, providerName, conn.CalendarID); err != nil {
			log.Printf("Failed to delete cursor for %s/%s: %v", uid, providerName, err)
		}
		if err := connections.Delete(r.Context(), conn.ID); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
