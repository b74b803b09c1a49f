package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// graphTimeLayout is the fractional-second local format Graph uses for
// event boundaries; the zone lives in the sibling timeZone field.
const graphTimeLayout = "2006-01-02T15:04:05.9999999"

// deltaWindow bounds the calendar view enumerated by the first fetch.
// Changes after that are carried by the delta link regardless of window.
const (
	deltaWindowPast   = 30 * 24 * time.Hour
	deltaWindowFuture = 365 * 24 * time.Hour
)

// OutlookClient talks to Microsoft Graph. Incremental sync uses the
// calendarView delta protocol: the cursor is the opaque deltaLink URL
// returned by the previous round, and removed events arrive as items
// carrying an @removed annotation.
type OutlookClient struct {
	oauth   *oauth2.Config
	http    *http.Client
	baseURL string
}

// NewOutlookClient creates a Microsoft Graph provider client.
func NewOutlookClient(clientID, clientSecret, redirectURL string) *OutlookClient {
	return &OutlookClient{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"offline_access", "Calendars.ReadWrite", "User.Read"},
			Endpoint:     microsoft.AzureADEndpoint("common"),
		},
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: graphBaseURL,
	}
}

// Provider returns the provider name.
func (c *OutlookClient) Provider() string { return Outlook }

// AuthURL returns the Microsoft authorization URL.
func (c *OutlookClient) AuthURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token pair.
func (c *OutlookClient) Exchange(ctx context.Context, code string) (Credentials, error) {
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return Credentials{}, fmt.Errorf("exchanging code: %w", err)
	}
	return Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

func (c *OutlookClient) fresh(ctx context.Context, creds Credentials) (Credentials, error) {
	if !creds.ExpiresWithin(RefreshMargin) {
		return creds, nil
	}
	if creds.RefreshToken == "" {
		return creds, &AuthError{Provider: Outlook, Reason: "access token expired and no refresh token stored"}
	}

	src := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return creds, &AuthError{Provider: Outlook, Reason: fmt.Sprintf("token refresh failed: %v", err)}
	}

	refreshed := Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = creds.RefreshToken
	}
	return refreshed, nil
}

// Graph wire types.

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphLocation struct {
	DisplayName string `json:"displayName"`
}

type graphEmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type graphAttendee struct {
	Type         string            `json:"type,omitempty"`
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphRemoved struct {
	Reason string `json:"reason"`
}

type graphEvent struct {
	ID                   string          `json:"id,omitempty"`
	Subject              string          `json:"subject"`
	Body                 *graphBody      `json:"body,omitempty"`
	Start                *graphDateTime  `json:"start,omitempty"`
	End                  *graphDateTime  `json:"end,omitempty"`
	IsAllDay             bool            `json:"isAllDay"`
	Location             *graphLocation  `json:"location,omitempty"`
	Attendees            []graphAttendee `json:"attendees,omitempty"`
	LastModifiedDateTime string          `json:"lastModifiedDateTime,omitempty"`
	ChangeKey            string          `json:"changeKey,omitempty"`
	Removed              *graphRemoved   `json:"@removed,omitempty"`
}

type graphEventPage struct {
	Value     []graphEvent `json:"value"`
	NextLink  string       `json:"@odata.nextLink"`
	DeltaLink string       `json:"@odata.deltaLink"`
}

type graphUser struct {
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// FetchDelta lists changes since cursor. The cursor is the deltaLink
// URL from the previous round; an empty cursor starts a fresh
// enumeration of the calendar view window. An expired delta token
// (HTTP 410) falls back to a fresh enumeration.
func (c *OutlookClient) FetchDelta(ctx context.Context, creds Credentials, calendarID, cursor string) (*Delta, Credentials, error) {
	creds, err := c.fresh(ctx, creds)
	if err != nil {
		return nil, creds, err
	}

	delta, err := c.listChanges(ctx, creds, calendarID, cursor)
	if cursor != "" && isGraphGone(err) {
		delta, err = c.listChanges(ctx, creds, calendarID, "")
	}
	if err != nil {
		return nil, creds, err
	}
	return delta, creds, nil
}

func (c *OutlookClient) deltaStartURL(calendarID string) string {
	now := time.Now().UTC()
	q := url.Values{}
	q.Set("startDateTime", now.Add(-deltaWindowPast).Format(time.RFC3339))
	q.Set("endDateTime", now.Add(deltaWindowFuture).Format(time.RFC3339))
	return fmt.Sprintf("%s/me/calendars/%s/calendarView/delta?%s", c.baseURL, url.PathEscape(calendarID), q.Encode())
}

func (c *OutlookClient) listChanges(ctx context.Context, creds Credentials, calendarID, cursor string) (*Delta, error) {
	next := cursor
	if next == "" {
		next = c.deltaStartURL(calendarID)
	}

	delta := &Delta{}
	for next != "" {
		var page graphEventPage
		if err := c.do(ctx, creds, http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}

		for _, item := range page.Value {
			if item.Removed != nil {
				delta.RemovedIDs = append(delta.RemovedIDs, item.ID)
				continue
			}
			ev, err := eventFromGraph(item)
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

		if page.NextLink != "" {
			next = page.NextLink
			continue
		}
		delta.NextCursor = page.DeltaLink
		next = ""
	}
	return delta, nil
}

// CreateEvent inserts a new event into the calendar.
func (c *OutlookClient) CreateEvent(ctx context.Context, creds Credentials, calendarID string, ev Event) (*Event, Credentials, error) {
	creds, err := c.fresh(ctx, creds)
	if err != nil {
		return nil, creds, err
	}

	u := fmt.Sprintf("%s/me/calendars/%s/events", c.baseURL, url.PathEscape(calendarID))
	var created graphEvent
	if err := c.do(ctx, creds, http.MethodPost, u, eventToGraph(ev), &created); err != nil {
		return nil, creds, err
	}
	out, err := eventFromGraph(created)
	if err != nil {
		return nil, creds, err
	}
	return &out, creds, nil
}

// UpdateEvent patches the remote event identified by ev.ID.
func (c *OutlookClient) UpdateEvent(ctx context.Context, creds Credentials, calendarID string, ev Event) (*Event, Credentials, error) {
	creds, err := c.fresh(ctx, creds)
	if err != nil {
		return nil, creds, err
	}

	u := fmt.Sprintf("%s/me/calendars/%s/events/%s", c.baseURL, url.PathEscape(calendarID), url.PathEscape(ev.ID))
	var updated graphEvent
	if err := c.do(ctx, creds, http.MethodPatch, u, eventToGraph(ev), &updated); err != nil {
		return nil, creds, err
	}
	out, err := eventFromGraph(updated)
	if err != nil {
		return nil, creds, err
	}
	return &out, creds, nil
}

// DeleteEvent removes an event. An already-deleted event is success.
func (c *OutlookClient) DeleteEvent(ctx context.Context, creds Credentials, calendarID, eventID string) (Credentials, error) {
	creds, err := c.fresh(ctx, creds)
	if err != nil {
		return creds, err
	}

	u := fmt.Sprintf("%s/me/calendars/%s/events/%s", c.baseURL, url.PathEscape(calendarID), url.PathEscape(eventID))
	err = c.do(ctx, creds, http.MethodDelete, u, nil, nil)
	if isGraphNotFound(err) {
		return creds, nil
	}
	return creds, err
}

// DefaultCalendar returns the account's default calendar ID.
func (c *OutlookClient) DefaultCalendar(ctx context.Context, creds Credentials) (string, Credentials, error) {
	creds, err := c.fresh(ctx, creds)
	if err != nil {
		return "", creds, err
	}

	var cal struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, creds, http.MethodGet, c.baseURL+"/me/calendar", nil, &cal); err != nil {
		return "", creds, err
	}
	return cal.ID, creds, nil
}

// UserInfo fetches the connected account's identity.
func (c *OutlookClient) UserInfo(ctx context.Context, creds Credentials) (*UserInfo, Credentials, error) {
	creds, err := c.fresh(ctx, creds)
	if err != nil {
		return nil, creds, err
	}

	var me graphUser
	if err := c.do(ctx, creds, http.MethodGet, c.baseURL+"/me", nil, &me); err != nil {
		return nil, creds, err
	}
	email := me.Mail
	if email == "" {
		email = me.UserPrincipalName
	}
	return &UserInfo{Email: email, Name: me.DisplayName}, creds, nil
}

// graphStatusError carries a Graph HTTP status that the shared mapping
// did not translate (404, 410).
type graphStatusError struct {
	Status int
	Body   string
}

func (e *graphStatusError) Error() string {
	return fmt.Sprintf("outlook: graph returned %d: %s", e.Status, e.Body)
}

func isGraphNotFound(err error) bool {
	var se *graphStatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

func isGraphGone(err error) bool {
	var se *graphStatusError
	return errors.As(err, &se) && se.Status == http.StatusGone
}

// do performs one authenticated Graph request and decodes the response
// into out when non-nil. Failures map into the shared error taxonomy.
func (c *OutlookClient) do(ctx context.Context, creds Credentials, method, u string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Provider: Outlook, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return &AuthError{Provider: Outlook, Reason: fmt.Sprintf("graph returned %d", resp.StatusCode)}
		case resp.StatusCode == http.StatusTooManyRequests:
			return &RateLimitError{Provider: Outlook, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
		case resp.StatusCode >= 500:
			return &NetworkError{Provider: Outlook, Err: fmt.Errorf("graph returned %d", resp.StatusCode)}
		}
		return &graphStatusError{Status: resp.StatusCode, Body: string(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func parseGraphTime(dt graphDateTime) (time.Time, error) {
	loc := time.UTC
	if dt.TimeZone != "" && dt.TimeZone != "UTC" {
		if l, err := time.LoadLocation(dt.TimeZone); err == nil {
			loc = l
		}
	}
	for _, layout := range []string{graphTimeLayout, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, dt.DateTime, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", dt.DateTime)
}

// eventFromGraph converts a native Graph event into the neutral form.
func eventFromGraph(e graphEvent) (Event, error) {
	if e.Start == nil || e.End == nil {
		return Event{}, &MappingError{Provider: Outlook, EventID: e.ID, Reason: "event has no start or end"}
	}

	ev := Event{
		ID:       e.ID,
		Title:    e.Subject,
		AllDay:   e.IsAllDay,
		Version:  e.ChangeKey,
		Timezone: e.Start.TimeZone,
	}
	if e.Body != nil {
		ev.Description = e.Body.Content
	}
	if e.Location != nil {
		ev.Location = e.Location.DisplayName
	}

	var err error
	ev.Start, err = parseGraphTime(*e.Start)
	if err == nil {
		ev.End, err = parseGraphTime(*e.End)
	}
	if err != nil {
		return Event{}, &MappingError{Provider: Outlook, EventID: e.ID, Reason: fmt.Sprintf("bad event time: %v", err)}
	}
	if ev.AllDay {
		// Graph reports all-day boundaries as local midnights.
		ev.Start = ev.Start.Truncate(24 * time.Hour)
		ev.End = ev.End.Truncate(24 * time.Hour)
		ev.Timezone = ""
	}

	if e.LastModifiedDateTime != "" {
		ev.LastModified, err = time.Parse(time.RFC3339, e.LastModifiedDateTime)
		if err != nil {
			return Event{}, &MappingError{Provider: Outlook, EventID: e.ID, Reason: fmt.Sprintf("bad modified time: %v", err)}
		}
	}

	for _, a := range e.Attendees {
		if a.EmailAddress.Address != "" {
			ev.Attendees = append(ev.Attendees, a.EmailAddress.Address)
		}
	}

	return ev, nil
}

// eventToGraph converts a neutral event into Graph's native schema.
func eventToGraph(ev Event) graphEvent {
	g := graphEvent{
		Subject:  ev.Title,
		IsAllDay: ev.AllDay,
	}
	if ev.Description != "" {
		g.Body = &graphBody{ContentType: "text", Content: ev.Description}
	}
	if ev.Location != "" {
		g.Location = &graphLocation{DisplayName: ev.Location}
	}

	tz := ev.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if ev.AllDay {
		// Graph requires midnight boundaries for all-day events.
		g.Start = &graphDateTime{DateTime: ev.Start.Format("2006-01-02T00:00:00"), TimeZone: "UTC"}
		g.End = &graphDateTime{DateTime: ev.End.Format("2006-01-02T00:00:00"), TimeZone: "UTC"}
	} else {
		g.Start = &graphDateTime{DateTime: ev.Start.Format("2006-01-02T15:04:05"), TimeZone: tz}
		g.End = &graphDateTime{DateTime: ev.End.Format("2006-01-02T15:04:05"), TimeZone: tz}
	}

	for _, email := range ev.Attendees {
		g.Attendees = append(g.Attendees, graphAttendee{
			Type:         "required",
			EmailAddress: graphEmailAddress{Address: email},
		})
	}

	return g
}
