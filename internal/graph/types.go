package graph

import "time"

// User is the subset of a Graph user profile the client consumes.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// Email returns the mail address, falling back to the principal name for
// accounts without a mailbox address.
func (u *User) Email() string {
	if u.Mail != "" {
		return u.Mail
	}

	return u.UserPrincipalName
}

// Calendar is a Graph calendar.
type Calendar struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	CanEdit   bool   `json:"canEdit"`
	ChangeKey string `json:"changeKey,omitempty"`
}

// EmailAddress is a name/address pair.
type EmailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// Recipient wraps an EmailAddress the way Graph nests it.
type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// ItemBody is message or event content.
type ItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// DateTimeTimeZone is Graph's zoned timestamp. DateTime has no offset; the
// zone is carried separately.
type DateTimeTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

// Event is a calendar event. Removed is set on delta entries for deleted
// events ("@removed" annotation).
type Event struct {
	ID               string            `json:"id"`
	Subject          string            `json:"subject"`
	Body             *ItemBody         `json:"body,omitempty"`
	Start            *DateTimeTimeZone `json:"start,omitempty"`
	End              *DateTimeTimeZone `json:"end,omitempty"`
	Organizer        *Recipient        `json:"organizer,omitempty"`
	Attendees        []Recipient       `json:"attendees,omitempty"`
	IsAllDay         bool              `json:"isAllDay"`
	IsCancelled      bool              `json:"isCancelled"`
	ChangeKey        string            `json:"changeKey,omitempty"`
	LastModifiedTime *time.Time        `json:"lastModifiedDateTime,omitempty"`
	Removed          *RemovedMarker    `json:"@removed,omitempty"` //nolint:tagliatelle // OData annotation key
}

// RemovedMarker is the delta-query tombstone annotation.
type RemovedMarker struct {
	Reason string `json:"reason"`
}

// Message is a mail message.
type Message struct {
	ID               string         `json:"id"`
	Subject          string         `json:"subject"`
	From             *Recipient     `json:"from,omitempty"`
	ToRecipients     []Recipient    `json:"toRecipients,omitempty"`
	CcRecipients     []Recipient    `json:"ccRecipients,omitempty"`
	Body             *ItemBody      `json:"body,omitempty"`
	IsDraft          bool           `json:"isDraft"`
	HasAttachments   bool           `json:"hasAttachments"`
	CreatedDateTime  *time.Time     `json:"createdDateTime,omitempty"`
	SentDateTime     *time.Time     `json:"sentDateTime,omitempty"`
	ReceivedDateTime *time.Time     `json:"receivedDateTime,omitempty"`
	Removed          *RemovedMarker `json:"@removed,omitempty"` //nolint:tagliatelle // OData annotation key
}

// Attachment is a file attachment. ContentBytes is base64 and only present
// when the attachment is fetched individually.
type Attachment struct {
	ODataType    string `json:"@odata.type,omitempty"` //nolint:tagliatelle // OData annotation key
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType,omitempty"`
	Size         int64  `json:"size,omitempty"`
	IsInline     bool   `json:"isInline"`
	ContentBytes string `json:"contentBytes,omitempty"`
}

// FileAttachmentType is the @odata.type for file attachments.
const FileAttachmentType = "#microsoft.graph.fileAttachment"

// Subscription is a change-notification subscription.
type Subscription struct {
	ID                 string    `json:"id,omitempty"`
	ChangeType         string    `json:"changeType"`
	NotificationURL    string    `json:"notificationUrl"`
	Resource           string    `json:"resource"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
	ClientState        string    `json:"clientState,omitempty"`
}
