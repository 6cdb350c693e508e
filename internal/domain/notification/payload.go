package notification

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const DefaultURL = "/notifications"

// Payload is the type-specific part of a notification. The concrete
// variant is chosen by the notification Type.
type Payload interface {
	TargetURL() string
	accepts(t Type) bool
}

type EventPayload struct {
	EventID   string `json:"event_id"`
	EventName string `json:"event_name,omitempty"`
	URL       string `json:"url,omitempty"`
}

func (p EventPayload) TargetURL() string {
	if p.URL != "" {
		return p.URL
	}
	if p.EventID == "" {
		return DefaultURL
	}
	return "/events/" + url.PathEscape(p.EventID)
}

func (EventPayload) accepts(t Type) bool { return strings.HasPrefix(string(t), "event_") }

type ForumPayload struct {
	TopicID string `json:"topic_id"`
	ReplyID string `json:"reply_id,omitempty"`
	URL     string `json:"url,omitempty"`
}

func (p ForumPayload) TargetURL() string {
	if p.URL != "" {
		return p.URL
	}
	if p.TopicID == "" {
		return DefaultURL
	}
	u := "/forum/" + url.PathEscape(p.TopicID)
	if p.ReplyID != "" {
		u += "#reply-" + url.PathEscape(p.ReplyID)
	}
	return u
}

func (ForumPayload) accepts(t Type) bool { return t == TypeForumReply || t == TypeForumMention }

type SystemPayload struct {
	URL string `json:"url,omitempty"`
}

func (p SystemPayload) TargetURL() string {
	if p.URL != "" {
		return p.URL
	}
	return DefaultURL
}

func (SystemPayload) accepts(t Type) bool { return t == TypeSystem }

// DecodePayload picks the variant for t and decodes raw into it. Empty or
// null data yields the zero variant.
func DecodePayload(t Type, raw json.RawMessage) (Payload, error) {
	empty := len(raw) == 0 || string(raw) == "null"
	switch t.Category() {
	case CategoryEventUpdates, CategoryEventReminders:
		var p EventPayload
		if !empty {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
			}
		}
		return p, nil
	case CategoryForum:
		var p ForumPayload
		if !empty {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
			}
		}
		return p, nil
	default:
		var p SystemPayload
		if !empty {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
			}
		}
		return p, nil
	}
}
