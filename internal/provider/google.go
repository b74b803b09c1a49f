package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// deltaPageSize bounds one page of a full enumeration.
const deltaPageSize = 250

const allDayDateFormat = "2006-01-02"

// GoogleClient talks to the Google Calendar API. Incremental sync uses
// the Events.List sync token; cancelled events come back as items with
// status "cancelled" and are reported as removals.
type GoogleClient struct {
	oauth *oauth2.Config
}

// NewGoogleClient creates a Google Calendar provider client.
func NewGoogleClient(clientID, clientSecret, redirectURL string) *GoogleClient {
	return &GoogleClient{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes: []string{
				calendar.CalendarEventsScope,
				calendar.CalendarReadonlyScope,
			},
			Endpoint: google.Endpoint,
		},
	}
}

// Provider returns the provider name.
func (c *GoogleClient) Provider() string { return Google }

// AuthURL returns the Google authorization URL. AccessTypeOffline and
// the consent prompt are required so a refresh token is issued.
func (c *GoogleClient) AuthURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades an authorization code for a token pair.
func (c *GoogleClient) Exchange(ctx context.Context, code string) (Credentials, error) {
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return Credentials{}, c.mapErr(fmt.Errorf("exchanging code: %w", err))
	}
	return Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

// fresh returns credentials guaranteed to outlive RefreshMargin,
// refreshing silently when needed.
func (c *GoogleClient) fresh(ctx context.Context, creds Credentials) (Credentials, error) {
	if !creds.ExpiresWithin(RefreshMargin) {
		return creds, nil
	}
	if creds.RefreshToken == "" {
		return creds, &AuthError{Provider: Google, Reason: "access token expired and no refresh token stored"}
	}

	src := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return creds, &AuthError{Provider: Google, Reason: fmt.Sprintf("token refresh failed: %v", err)}
	}

	refreshed := Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	// Google often omits the refresh token on refresh responses.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = creds.RefreshToken
	}
	return refreshed, nil
}

func (c *GoogleClient) service(ctx context.Context, creds Credentials) (*calendar.Service, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken})
	srv, err := calendar.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("creating calendar service: %w", err)
	}
	return srv, nil
}

// DefaultCalendar returns the well-known alias for the account's
// primary calendar.
func (c *GoogleClient) DefaultCalendar(ctx context.Context, creds Credentials) (string, Credentials, error) {
	return "primary", creds, nil
}

// FetchDelta lists changes since cursor. On an expired sync token
// (HTTP 410) it transparently falls back to a full enumeration so the
// caller always receives a usable fresh cursor.
func (c *GoogleClient) FetchDelta(ctx context.Context, creds Credentials, calendarID, cursor string) (*Delta, Credentials, error) {
	creds, err := c.fresh(ctx, creds)
	if err != nil {
		return nil, creds, err
	}
	srv, err := c.service(ctx, creds)
	if err != nil {
		return nil, creds, err
	}

	delta, err := c.listChanges(ctx, srv, calendarID, cursor)
	if cursor != "" && isGoneErr(err) {
		delta, err = c.listChanges(ctx, srv, calendarID, "")
	}
	if err != nil {
		return nil, creds, c.mapErr(err)
	}
	return delta, creds, nil
}

func (c *GoogleClient) listChanges(ctx context.Context, srv *calendar.Service, calendarID, cursor string) (*Delta, error) {
	delta := &Delta{}
	pageToken := ""
	for {
		call := srv.Events.List(calendarID).
			Context(ctx).
			ShowDeleted(true).
			MaxResults(deltaPageSize)
		if cursor != "" {
			call = call.SyncToken(cursor)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, err := call.Do()
		if err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			if item.Status == "cancelled" {
				delta.RemovedIDs = append(delta.RemovedIDs, item.Id)
				continue
			}
			ev, err := eventFromGoogle(item)
			if err != nil {
				var me *MappingError
				if errors.As(err, &me) {
					delta.MappingErrors = append(delta.MappingErrors, me)
					continue
				}
				return nil, err
			}
			delta.Events = append(delta.Events, ev)
		}

		if page.NextPageToken != "" {
			pageToken = page.NextPageToken
			continue
		}
		delta.NextCursor = page.NextSyncToken
		return delta, nil
	}
}

// CreateEvent inserts a new event into the calendar.
func (c *GoogleClient) CreateEvent(ctx context.Context, creds Credentials, calendarID string, ev Event) (*Event, Credentials, error) {
	creds, err := c.fresh(ctx, creds)
	if err != nil {
		return nil, creds, err
	}
	srv, err := c.service(ctx, creds)
	if err != nil {
		return nil, creds, err
	}

	created, err := srv.Events.Insert(calendarID, eventToGoogle(ev)).Context(ctx).Do()
	if err != nil {
		return nil, creds, c.mapErr(err)
	}
	out, err := eventFromGoogle(created)
	if err != nil {
		return nil, creds, err
	}
	return &out, creds, nil
}

// UpdateEvent overwrites the remote event identified by ev.ID.
func (c *GoogleClient) UpdateEvent(ctx context.Context, creds Credentials, calendarID string, ev Event) (*Event, Credentials, error) {
	creds, err := c.fresh(ctx, creds)
	if err != nil {
		return nil, creds, err
	}
	srv, err := c.service(ctx, creds)
	if err != nil {
		return nil, creds, err
	}

	updated, err := srv.Events.Update(calendarID, ev.ID, eventToGoogle(ev)).Context(ctx).Do()
	if err != nil {
		return nil, creds, c.mapErr(err)
	}
	out, err := eventFromGoogle(updated)
	if err != nil {
		return nil, creds, err
	}
	return &out, creds, nil
}

// DeleteEvent removes an event. An already-deleted event is success.
func (c *GoogleClient) DeleteEvent(ctx context.Context, creds Credentials, calendarID, eventID string) (Credentials, error) {
	creds, err := c.fresh(ctx, creds)
	if err != nil {
		return creds, err
	}
	srv, err := c.service(ctx, creds)
	if err != nil {
		return creds, err
	}

	if err := srv.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		var ge *googleapi.Error
		if errors.As(err, &ge) && (ge.Code == 404 || ge.Code == 410) {
			return creds, nil
		}
		return creds, c.mapErr(err)
	}
	return creds, nil
}

// UserInfo resolves the connected account via the primary calendar,
// whose ID is the account email.
func (c *GoogleClient) UserInfo(ctx context.Context, creds Credentials) (*UserInfo, Credentials, error) {
	creds, err := c.fresh(ctx, creds)
	if err != nil {
		return nil, creds, err
	}
	srv, err := c.service(ctx, creds)
	if err != nil {
		return nil, creds, err
	}

	entry, err := srv.CalendarList.Get("primary").Context(ctx).Do()
	if err != nil {
		return nil, creds, c.mapErr(err)
	}
	return &UserInfo{Email: entry.Id, Name: entry.Summary}, creds, nil
}

// mapErr translates Google API failures into the shared taxonomy.
func (c *GoogleClient) mapErr(err error) error {
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		switch {
		case ge.Code == 401:
			return &AuthError{Provider: Google, Reason: ge.Message}
		case ge.Code == 429:
			return &RateLimitError{Provider: Google}
		case ge.Code == 403 && isRateLimitReason(ge):
			return &RateLimitError{Provider: Google}
		case ge.Code == 403:
			return &AuthError{Provider: Google, Reason: ge.Message}
		case ge.Code >= 500:
			return &NetworkError{Provider: Google, Err: err}
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &NetworkError{Provider: Google, Err: err}
	}
	return err
}

func isRateLimitReason(ge *googleapi.Error) bool {
	for _, item := range ge.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}

func isGoneErr(err error) bool {
	var ge *googleapi.Error
	return errors.As(err, &ge) && ge.Code == 410
}

// eventFromGoogle converts a native Google event into the neutral form.
func eventFromGoogle(e *calendar.Event) (Event, error) {
	if e.Start == nil || e.End == nil {
		return Event{}, &MappingError{Provider: Google, EventID: e.Id, Reason: "event has no start or end"}
	}

	ev := Event{
		ID:          e.Id,
		Title:       e.Summary,
		Description: e.Description,
		Location:    e.Location,
		Version:     e.Etag,
	}

	var err error
	if e.Start.Date != "" {
		ev.AllDay = true
		ev.Start, err = time.Parse(allDayDateFormat, e.Start.Date)
		if err == nil {
			ev.End, err = time.Parse(allDayDateFormat, e.End.Date)
		}
	} else {
		ev.Start, err = time.Parse(time.RFC3339, e.Start.DateTime)
		if err == nil {
			ev.End, err = time.Parse(time.RFC3339, e.End.DateTime)
		}
		ev.Timezone = e.Start.TimeZone
	}
	if err != nil {
		return Event{}, &MappingError{Provider: Google, EventID: e.Id, Reason: fmt.Sprintf("bad event time: %v", err)}
	}

	if e.Updated != "" {
		ev.LastModified, err = time.Parse(time.RFC3339, e.Updated)
		if err != nil {
			return Event{}, &MappingError{Provider: Google, EventID: e.Id, Reason: fmt.Sprintf("bad updated time: %v", err)}
		}
	}

	for _, a := range e.Attendees {
		if a.Email != "" && !a.Self {
			ev.Attendees = append(ev.Attendees, a.Email)
		}
	}

	return ev, nil
}

// eventToGoogle converts a neutral event into Google's native schema.
// All-day events use date-only boundaries.
func eventToGoogle(ev Event) *calendar.Event {
	e := &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
	}

	if ev.AllDay {
		e.Start = &calendar.EventDateTime{Date: ev.Start.Format(allDayDateFormat)}
		e.End = &calendar.EventDateTime{Date: ev.End.Format(allDayDateFormat)}
	} else {
		e.Start = &calendar.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: ev.Timezone}
		e.End = &calendar.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: ev.Timezone}
	}

	for _, email := range ev.Attendees {
		e.Attendees = append(e.Attendees, &calendar.EventAttendee{Email: email})
	}

	return e
}
