package pushagent

import (
	"context"
	"sync"
)

type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Shown is an OS-level notification as displayed by the host.
type Shown struct {
	Title   string
	Body    string
	Icon    string
	Badge   string
	Tag     string
	Data    map[string]any
	Actions []Action
	Vibrate []int
}

type Displayer interface {
	// Show displays n, replacing a visible notification with the same tag.
	Show(ctx context.Context, n Shown) error
	Close(ctx context.Context, tag string) error
}

// Tray is an in-memory Displayer keyed by tag.
type Tray struct {
	mu    sync.Mutex
	byTag map[string]Shown
	order []string
	shown int
}

var _ Displayer = (*Tray)(nil)

func NewTray() *Tray {
	return &Tray{byTag: make(map[string]Shown)}
}

func (t *Tray) Show(_ context.Context, n Shown) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byTag[n.Tag]; !ok {
		t.order = append(t.order, n.Tag)
	}
	t.byTag[n.Tag] = n
	t.shown++
	return nil
}

func (t *Tray) Close(_ context.Context, tag string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byTag[tag]; !ok {
		return nil
	}
	delete(t.byTag, tag)
	for i, v := range t.order {
		if v == tag {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

func (t *Tray) Get(tag string) (Shown, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.byTag[tag]
	return n, ok
}

// Visible returns the visible notifications, oldest first.
func (t *Tray) Visible() []Shown {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Shown, 0, len(t.order))
	for _, tag := range t.order {
		out = append(out, t.byTag[tag])
	}
	return out
}

// Shows counts Show calls, replacements included.
func (t *Tray) Shows() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shown
}
