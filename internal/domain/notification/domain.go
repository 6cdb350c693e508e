package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound       = errors.New("notification: not found")
	ErrInvalidType    = errors.New("notification: invalid type")
	ErrInvalidStatus  = errors.New("notification: invalid status")
	ErrInvalidPayload = errors.New("notification: invalid payload")
	ErrReadAtMismatch = errors.New("notification: read_at must be set iff status is read")
)

type Type string

const (
	TypeEventUpdate       Type = "event_update"
	TypeEventReminder     Type = "event_reminder"
	TypeEventRegistration Type = "event_registration"
	TypeEventCancellation Type = "event_cancellation"
	TypeEventApproval     Type = "event_approval"
	TypeForumReply        Type = "forum_reply"
	TypeForumMention      Type = "forum_mention"
	TypeSystem            Type = "system"
)

func (t Type) Valid() bool {
	switch t {
	case TypeEventUpdate, TypeEventReminder, TypeEventRegistration, TypeEventCancellation,
		TypeEventApproval, TypeForumReply, TypeForumMention, TypeSystem:
		return true
	}
	return false
}

// Category groups types the way user preferences toggle them.
type Category string

const (
	CategoryEventUpdates   Category = "event_updates"
	CategoryEventReminders Category = "event_reminders"
	CategoryForum          Category = "forum_notifications"
	CategorySystem         Category = "system_notifications"
)

func (t Type) Category() Category {
	switch t {
	case TypeEventReminder:
		return CategoryEventReminders
	case TypeEventUpdate, TypeEventRegistration, TypeEventCancellation, TypeEventApproval:
		return CategoryEventUpdates
	case TypeForumReply, TypeForumMention:
		return CategoryForum
	default:
		return CategorySystem
	}
}

type Status string

const (
	StatusUnread Status = "unread"
	StatusRead   Status = "read"
)

type Notification struct {
	ID        string
	UserID    string
	Title     string
	Message   string
	Type      Type
	Status    Status
	Data      Payload
	CreatedAt time.Time
	ReadAt    *time.Time
}

func (n *Notification) IsUnread() bool { return n.Status == StatusUnread }

// MarkRead moves an unread notification to read. It reports whether a
// transition happened; an already read notification is left untouched.
func (n *Notification) MarkRead(at time.Time) bool {
	if n.Status != StatusUnread {
		return false
	}
	n.Status = StatusRead
	t := at
	n.ReadAt = &t
	return true
}

// TargetURL is the page a click on this notification should open.
func (n *Notification) TargetURL() string {
	if n.Data == nil {
		return DefaultURL
	}
	return n.Data.TargetURL()
}

func (n *Notification) Validate() error {
	if !n.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, n.Type)
	}
	switch n.Status {
	case StatusUnread:
		if n.ReadAt != nil {
			return ErrReadAtMismatch
		}
	case StatusRead:
		if n.ReadAt == nil {
			return ErrReadAtMismatch
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, n.Status)
	}
	if n.Data != nil && !n.Data.accepts(n.Type) {
		return fmt.Errorf("%w: %T for %s", ErrInvalidPayload, n.Data, n.Type)
	}
	return nil
}

// Clone returns a deep copy safe to hand out of a lock.
func (n *Notification) Clone() *Notification {
	c := *n
	if n.ReadAt != nil {
		t := *n.ReadAt
		c.ReadAt = &t
	}
	return &c
}

type wire struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Type      Type            `json:"type"`
	Status    Status          `json:"status"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ReadAt    *time.Time      `json:"read_at"`
}

func (n Notification) MarshalJSON() ([]byte, error) {
	w := wire{
		ID: n.ID, UserID: n.UserID, Title: n.Title, Message: n.Message,
		Type: n.Type, Status: n.Status, CreatedAt: n.CreatedAt, ReadAt: n.ReadAt,
	}
	if n.Data != nil {
		raw, err := json.Marshal(n.Data)
		if err != nil {
			return nil, err
		}
		w.Data = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts both API documents and raw table rows, so the
// data column is decoded according to the type column.
func (n *Notification) UnmarshalJSON(b []byte) error {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	p, err := DecodePayload(w.Type, w.Data)
	if err != nil {
		return err
	}
	*n = Notification{
		ID: w.ID, UserID: w.UserID, Title: w.Title, Message: w.Message,
		Type: w.Type, Status: w.Status, Data: p, CreatedAt: w.CreatedAt, ReadAt: w.ReadAt,
	}
	return nil
}

// Receipt confirms that a notification is read on the backend. Changed is
// false when the row had already been read before the request.
type Receipt struct {
	ID      string
	ReadAt  time.Time
	Changed bool
}
