package notification

import "time"

type Preferences struct {
	UserID              string    `json:"user_id"`
	EmailEnabled        bool      `json:"email_enabled"`
	PushEnabled         bool      `json:"push_enabled"`
	EventUpdates        bool      `json:"event_updates"`
	EventReminders      bool      `json:"event_reminders"`
	ForumNotifications  bool      `json:"forum_notifications"`
	SystemNotifications bool      `json:"system_notifications"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func DefaultPreferences(userID string) Preferences {
	return Preferences{
		UserID:              userID,
		EmailEnabled:        true,
		PushEnabled:         true,
		EventUpdates:        true,
		EventReminders:      true,
		ForumNotifications:  true,
		SystemNotifications: true,
	}
}

// Allows reports whether notifications of type t pass the category toggles.
// Channel toggles (email, push) are checked by the caller.
func (p Preferences) Allows(t Type) bool {
	switch t.Category() {
	case CategoryEventUpdates:
		return p.EventUpdates
	case CategoryEventReminders:
		return p.EventReminders
	case CategoryForum:
		return p.ForumNotifications
	default:
		return p.SystemNotifications
	}
}

// PreferencesPatch is a partial update; nil fields keep their value.
type PreferencesPatch struct {
	EmailEnabled        *bool `json:"email_enabled"`
	PushEnabled         *bool `json:"push_enabled"`
	EventUpdates        *bool `json:"event_updates"`
	EventReminders      *bool `json:"event_reminders"`
	ForumNotifications  *bool `json:"forum_notifications"`
	SystemNotifications *bool `json:"system_notifications"`
}

func (p Preferences) Apply(patch PreferencesPatch) Preferences {
	set := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	set(&p.EmailEnabled, patch.EmailEnabled)
	set(&p.PushEnabled, patch.PushEnabled)
	set(&p.EventUpdates, patch.EventUpdates)
	set(&p.EventReminders, patch.EventReminders)
	set(&p.ForumNotifications, patch.ForumNotifications)
	set(&p.SystemNotifications, patch.SystemNotifications)
	return p
}
