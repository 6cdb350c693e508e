package push

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/NordCoder/Campusbell/internal/domain/notification"
)

var (
	ErrNotFound            = errors.New("push: subscription not found")
	ErrInvalidSubscription = errors.New("push: invalid subscription")
	ErrMalformedMessage    = errors.New("push: malformed message")
	// ErrSubscriptionGone is returned by senders when the push service
	// reports that the endpoint no longer exists.
	ErrSubscriptionGone = errors.New("push: subscription gone")
)

type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

type Subscription struct {
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	Keys      Keys      `json:"keys"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s Subscription) Validate() error {
	switch {
	case s.UserID == "":
		return errors.Join(ErrInvalidSubscription, errors.New("user_id is empty"))
	case !strings.HasPrefix(s.Endpoint, "https://"):
		return errors.Join(ErrInvalidSubscription, errors.New("endpoint must be https"))
	case s.Keys.P256dh == "" || s.Keys.Auth == "":
		return errors.Join(ErrInvalidSubscription, errors.New("keys are incomplete"))
	}
	return nil
}

// Message is the JSON document carried by a push delivery.
type Message struct {
	ID      string            `json:"id"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Type    notification.Type `json:"type,omitempty"`
	Data    map[string]any    `json:"data,omitempty"`
	Tag     string            `json:"tag,omitempty"`
}

// MessageFrom builds the push document for n. The payload fields are
// flattened into data and the resolved click target is stored as data.url.
func MessageFrom(n *notification.Notification) (Message, error) {
	data := map[string]any{}
	if n.Data != nil {
		raw, err := json.Marshal(n.Data)
		if err != nil {
			return Message{}, err
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			return Message{}, err
		}
	}
	data["url"] = n.TargetURL()
	return Message{
		ID:      n.ID,
		Title:   n.Title,
		Message: n.Message,
		Type:    n.Type,
		Data:    data,
		Tag:     n.ID,
	}, nil
}

func DecodeMessage(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, errors.Join(ErrMalformedMessage, err)
	}
	if m.ID == "" {
		return Message{}, errors.Join(ErrMalformedMessage, errors.New("id is required"))
	}
	if m.Tag == "" {
		m.Tag = m.ID
	}
	return m, nil
}

// URL returns data.url or "" when it is missing or not a string.
func (m Message) URL() string {
	u, _ := m.Data["url"].(string)
	return u
}
