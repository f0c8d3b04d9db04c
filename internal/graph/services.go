package graph

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Prefer header values.
const (
	preferUnsafeHTML   = "outlook.allow-unsafe-html"
	preferTrackChanges = "odata.track-changes"
	preferMaxPageSize  = "odata.maxpagesize="
)

// allItemsMessagesPath lists every message regardless of folder.
const allItemsMessagesPath = "MailFolders/AllItems/messages"

// UserScope issues requests under one user's prefix: "me" or "users/<id>".
type UserScope struct {
	client *Client
	prefix string
}

// Me scopes requests to the signed-in user.
func (c *Client) Me() *UserScope {
	return &UserScope{client: c, prefix: "me"}
}

// User scopes requests to the given user id or principal name. "me" and ""
// select the signed-in user.
func (c *Client) User(id string) *UserScope {
	if id == "" || id == "me" {
		return c.Me()
	}

	return &UserScope{client: c, prefix: "users/" + url.PathEscape(id)}
}

// Prefix returns the path prefix, e.g. "me" or "users/alice%40contoso.com".
func (s *UserScope) Prefix() string {
	return s.prefix
}

// Request builds a request under this scope without sending it. Use it to
// queue resource calls in a Batch.
func (s *UserScope) Request(method, path string, filter QueryFilter, body any) Request {
	return Request{
		Method: method,
		Path:   s.path(path),
		Query:  filter,
		Body:   body,
	}
}

// path joins the prefix and a relative resource path.
func (s *UserScope) path(rel string) string {
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return s.prefix
	}

	return s.prefix + "/" + rel
}

// requireIDs fails fast with ErrMalformedRequest on empty identifiers.
func requireIDs(op string, ids ...string) error {
	for _, id := range ids {
		if id == "" {
			return malformed("%s: missing identifier", op)
		}
	}

	return nil
}

// Profile fetches the user's profile.
func (s *UserScope) Profile(ctx context.Context) (*User, error) {
	var u User
	if err := s.client.ExecuteInto(ctx, s.Request(http.MethodGet, "", EmptyFilter(), nil), &u); err != nil {
		return nil, err
	}

	return &u, nil
}

// ListCalendars returns every calendar of the user.
func (s *UserScope) ListCalendars(ctx context.Context) ([]Calendar, error) {
	res, err := s.client.FetchAll(ctx, s.Request(http.MethodGet, "calendars", EmptyFilter(), nil))
	if err != nil {
		return nil, err
	}

	return DecodeItems[Calendar](res.Items)
}

// GetCalendar fetches a calendar by id, or the default calendar when id is empty.
func (s *UserScope) GetCalendar(ctx context.Context, id string) (*Calendar, error) {
	path := "calendar"
	if id != "" {
		path = "calendars/" + url.PathEscape(id)
	}

	var cal Calendar
	if err := s.client.ExecuteInto(ctx, s.Request(http.MethodGet, path, EmptyFilter(), nil), &cal); err != nil {
		return nil, err
	}

	return &cal, nil
}

// CreateCalendar creates a calendar.
func (s *UserScope) CreateCalendar(ctx context.Context, cal *Calendar) (*Calendar, error) {
	if cal == nil || cal.Name == "" {
		return nil, malformed("create calendar: name is required")
	}

	var out Calendar
	if err := s.client.ExecuteInto(ctx, s.Request(http.MethodPost, "calendars", EmptyFilter(), cal), &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// eventsPath returns the events collection of a calendar, or of the default
// calendar when calendarID is empty.
func eventsPath(calendarID string) string {
	if calendarID == "" {
		return "calendar/events"
	}

	return "calendars/" + url.PathEscape(calendarID) + "/events"
}

// CreateEvent creates an event in a calendar (default calendar when empty).
func (s *UserScope) CreateEvent(ctx context.Context, calendarID string, ev *Event) (*Event, error) {
	if ev == nil {
		return nil, malformed("create event: no event given")
	}

	var out Event
	if err := s.client.ExecuteInto(ctx, s.Request(http.MethodPost, eventsPath(calendarID), EmptyFilter(), ev), &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// ListEvents returns every event of a calendar matching filter.
func (s *UserScope) ListEvents(ctx context.Context, calendarID string, filter QueryFilter) ([]Event, error) {
	res, err := s.client.FetchAll(ctx, s.Request(http.MethodGet, eventsPath(calendarID), filter, nil))
	if err != nil {
		return nil, err
	}

	return DecodeItems[Event](res.Items)
}

// GetEvent fetches an event from the default calendar.
func (s *UserScope) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	if err := requireIDs("get event", eventID); err != nil {
		return nil, err
	}

	var out Event
	if err := s.client.ExecuteInto(ctx, s.Request(http.MethodGet, eventsPath("")+"/"+url.PathEscape(eventID), EmptyFilter(), nil), &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// UpdateEvent patches an event in the default calendar. patch holds only the
// fields to change.
func (s *UserScope) UpdateEvent(ctx context.Context, eventID string, patch any) (*Event, error) {
	if err := requireIDs("update event", eventID); err != nil {
		return nil, err
	}

	var out Event
	if err := s.client.ExecuteInto(ctx, s.Request(http.MethodPatch, eventsPath("")+"/"+url.PathEscape(eventID), EmptyFilter(), patch), &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// DeleteEvent deletes an event from the default calendar.
func (s *UserScope) DeleteEvent(ctx context.Context, eventID string) error {
	if err := requireIDs("delete event", eventID); err != nil {
		return err
	}

	_, err := s.client.Execute(ctx, s.Request(http.MethodDelete, eventsPath("")+"/"+url.PathEscape(eventID), EmptyFilter(), nil))

	return err
}

// calendarViewHeader asks for change tracking and, when pageSize > 0, a page size.
func calendarViewHeader(pageSize int) http.Header {
	prefer := preferTrackChanges
	if pageSize > 0 {
		prefer += fmt.Sprintf(",%s%d", preferMaxPageSize, pageSize)
	}

	return http.Header{"Prefer": {prefer}}
}

// CalendarView walks the calendar view selected by filter (see
// CalendarViewFilter and DeltaFilter) with change tracking enabled.
func (s *UserScope) CalendarView(ctx context.Context, filter QueryFilter, pageSize int) (*PageResult, error) {
	req := s.Request(http.MethodGet, "calendarView", filter, nil)
	req.Header = calendarViewHeader(pageSize)

	return s.client.FetchAll(ctx, req)
}

// SyncCursor is where an incremental sync resumes. SkipToken continues a
// walk that stopped part way and wins over DeltaToken, which continues a
// completed one. The zero cursor starts a new sync.
type SyncCursor struct {
	DeltaToken string
	SkipToken  string
}

// IsZero reports whether c starts a new sync.
func (c SyncCursor) IsZero() bool {
	return c.DeltaToken == "" && c.SkipToken == ""
}

func (c SyncCursor) filter() QueryFilter {
	if c.SkipToken != "" {
		return SkipFilter(c.SkipToken)
	}

	return DeltaFilter(c.DeltaToken)
}

// CalendarViewDelta runs an incremental calendar view sync. A zero cursor
// starts a new sync over [start, end]; otherwise the window is implied by
// the cursor.
func (s *UserScope) CalendarViewDelta(ctx context.Context, start, end time.Time, cursor SyncCursor, pageSize int) (*PageResult, error) {
	filter := CalendarViewFilter(start, end)
	if !cursor.IsZero() {
		filter = cursor.filter()
	}

	s.client.logger.Info("calendar view delta",
		slog.String("scope", s.prefix),
		slog.Bool("initial_sync", cursor.IsZero()),
		slog.Bool("resumed", cursor.SkipToken != ""),
	)

	req := s.Request(http.MethodGet, "calendarView/delta", filter, nil)
	req.Header = calendarViewHeader(pageSize)

	return s.client.FetchAll(ctx, req)
}

// ListMessages walks all messages matching filter across folders. A nil
// filter is rejected: an unbounded mailbox listing is never intended.
func (s *UserScope) ListMessages(ctx context.Context, filter *QueryFilter) (*PageResult, error) {
	if filter == nil {
		return nil, malformed("list messages: a filter is required")
	}

	req := s.Request(http.MethodGet, allItemsMessagesPath, *filter, nil)
	req.Header = http.Header{"Prefer": {preferUnsafeHTML}}

	return s.client.FetchAll(ctx, req)
}

// MessagesDelta runs an incremental sync of one mail folder. A zero cursor
// starts from scratch.
func (s *UserScope) MessagesDelta(ctx context.Context, folder string, cursor SyncCursor) (*PageResult, error) {
	if err := requireIDs("messages delta", folder); err != nil {
		return nil, err
	}

	s.client.logger.Info("messages delta",
		slog.String("scope", s.prefix),
		slog.String("folder", folder),
		slog.Bool("initial_sync", cursor.IsZero()),
		slog.Bool("resumed", cursor.SkipToken != ""),
	)

	req := s.Request(http.MethodGet, "mailFolders/"+url.PathEscape(folder)+"/messages/delta", cursor.filter(), nil)
	req.Header = http.Header{"Prefer": {preferUnsafeHTML}}

	return s.client.FetchAll(ctx, req)
}

// CreateMessage creates a draft message.
func (s *UserScope) CreateMessage(ctx context.Context, msg *Message) (*Message, error) {
	if msg == nil {
		return nil, malformed("create message: no message given")
	}

	var out Message
	if err := s.client.ExecuteInto(ctx, s.Request(http.MethodPost, "messages", EmptyFilter(), msg), &out); err != nil {
		return nil, err
	}

	return &out, nil
}

func attachmentsPath(messageID string) string {
	return "messages/" + url.PathEscape(messageID) + "/attachments"
}

// ListAttachments returns every attachment of a message.
func (s *UserScope) ListAttachments(ctx context.Context, messageID string, filter QueryFilter) ([]Attachment, error) {
	if err := requireIDs("list attachments", messageID); err != nil {
		return nil, err
	}

	res, err := s.client.FetchAll(ctx, s.Request(http.MethodGet, attachmentsPath(messageID), filter, nil))
	if err != nil {
		return nil, err
	}

	return DecodeItems[Attachment](res.Items)
}

// GetAttachment fetches one attachment including its content.
func (s *UserScope) GetAttachment(ctx context.Context, messageID, attachmentID string, filter QueryFilter) (*Attachment, error) {
	if err := requireIDs("get attachment", messageID, attachmentID); err != nil {
		return nil, err
	}

	path := attachmentsPath(messageID) + "/" + url.PathEscape(attachmentID)

	var out Attachment
	if err := s.client.ExecuteInto(ctx, s.Request(http.MethodGet, path, filter, nil), &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// CreateAttachment adds an attachment to a draft message. A missing
// @odata.type defaults to a file attachment.
func (s *UserScope) CreateAttachment(ctx context.Context, messageID string, att *Attachment) (*Attachment, error) {
	if err := requireIDs("create attachment", messageID); err != nil {
		return nil, err
	}

	if att == nil {
		return nil, malformed("create attachment: no attachment given")
	}

	body := *att
	if body.ODataType == "" {
		body.ODataType = FileAttachmentType
	}

	var out Attachment
	if err := s.client.ExecuteInto(ctx, s.Request(http.MethodPost, attachmentsPath(messageID), EmptyFilter(), &body), &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// CreateSubscription registers a change-notification subscription.
func (c *Client) CreateSubscription(ctx context.Context, sub *Subscription) (*Subscription, error) {
	if sub == nil || sub.NotificationURL == "" || sub.Resource == "" || sub.ChangeType == "" {
		return nil, malformed("create subscription: changeType, notificationUrl and resource are required")
	}

	var out Subscription
	if err := c.ExecuteInto(ctx, Request{Method: http.MethodPost, Path: "subscriptions", Body: sub}, &out); err != nil {
		return nil, err
	}

	c.logger.Info("subscription created",
		slog.String("id", out.ID),
		slog.Time("expires", out.ExpirationDateTime),
	)

	return &out, nil
}

// RenewSubscription moves a subscription's expiry.
func (c *Client) RenewSubscription(ctx context.Context, id string, expires time.Time) (*Subscription, error) {
	if err := requireIDs("renew subscription", id); err != nil {
		return nil, err
	}

	patch := struct {
		ExpirationDateTime time.Time `json:"expirationDateTime"`
	}{ExpirationDateTime: expires.UTC()}

	var out Subscription
	if err := c.ExecuteInto(ctx, Request{Method: http.MethodPatch, Path: "subscriptions/" + url.PathEscape(id), Body: patch}, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// DeleteSubscription removes a subscription.
func (c *Client) DeleteSubscription(ctx context.Context, id string) error {
	if err := requireIDs("delete subscription", id); err != nil {
		return err
	}

	_, err := c.Execute(ctx, Request{Method: http.MethodDelete, Path: "subscriptions/" + url.PathEscape(id)})

	return err
}
