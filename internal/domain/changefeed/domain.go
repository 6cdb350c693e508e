package changefeed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidTopic    = errors.New("changefeed: invalid topic")
	ErrInvalidEnvelope = errors.New("changefeed: invalid envelope")
)

const (
	TableNotifications = "notifications"
	TableEvents        = "events"
)

type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
	// KindResync carries no row. It tells subscribers that records of
	// Table (every table when empty) may have been lost and local state
	// must be reloaded.
	KindResync Kind = "resync"
)

// Record is a normalized row change.
type Record struct {
	Kind       Kind
	Table      string
	Before     json.RawMessage
	After      json.RawMessage
	CommitTime time.Time
	// Truncated rows lack their bulky columns and must be re-read by id.
	Truncated bool
}

func ResyncFor(table string) Record { return Record{Kind: KindResync, Table: table} }

func (r Record) IsResync() bool { return r.Kind == KindResync }

// Row is the most recent image of the row: After, or Before for deletes.
func (r Record) Row() json.RawMessage {
	if len(r.After) > 0 && string(r.After) != "null" {
		return r.After
	}
	return r.Before
}

// Field returns a top-level column of Row as a string.
func (r Record) Field(column string) (string, bool) {
	var row map[string]json.RawMessage
	if err := json.Unmarshal(r.Row(), &row); err != nil {
		return "", false
	}
	raw, ok := row[column]
	if !ok || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return string(raw), true
}

// Topic selects records of one table, optionally filtered by column
// equality. Its string form is "table" or "table:column=eq.value".
type Topic struct {
	Table  string
	Column string
	Value  string
}

func NotificationsFor(userID string) Topic {
	return Topic{Table: TableNotifications, Column: "user_id", Value: userID}
}

func EventsTopic() Topic { return Topic{Table: TableEvents} }

func (t Topic) String() string {
	if t.Column == "" {
		return t.Table
	}
	return t.Table + ":" + t.Column + "=eq." + t.Value
}

func ParseTopic(s string) (Topic, error) {
	table, filter, hasFilter := strings.Cut(s, ":")
	if table == "" {
		return Topic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, s)
	}
	if !hasFilter {
		return Topic{Table: table}, nil
	}
	col, val, ok := strings.Cut(filter, "=eq.")
	if !ok || col == "" {
		return Topic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, s)
	}
	return Topic{Table: table, Column: col, Value: val}, nil
}

// Match reports whether r belongs to t. Resync records match every topic
// of their table regardless of the column filter.
func (t Topic) Match(r Record) bool {
	if r.IsResync() {
		return r.Table == "" || r.Table == t.Table
	}
	if r.Table != t.Table {
		return false
	}
	if t.Column == "" {
		return true
	}
	v, ok := r.Field(t.Column)
	return ok && v == t.Value
}

// Envelope is the wire form produced by the database trigger and carried
// over Kafka.
type Envelope struct {
	Table string          `json:"table"`
	Op    string          `json:"op"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
	TS    json.RawMessage `json:"ts,omitempty"`
	// Truncated is set by the trigger when bulky columns were stripped to
	// fit the NOTIFY payload limit.
	Truncated bool `json:"truncated,omitempty"`
}

func DecodeEnvelope(b []byte) (Record, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return e.Record()
}

func (e Envelope) Record() (Record, error) {
	if e.Table == "" {
		return Record{}, fmt.Errorf("%w: table is empty", ErrInvalidEnvelope)
	}
	var kind Kind
	switch strings.ToUpper(e.Op) {
	case "INSERT":
		kind = KindInsert
	case "UPDATE":
		kind = KindUpdate
	case "DELETE":
		kind = KindDelete
	default:
		return Record{}, fmt.Errorf("%w: op %q", ErrInvalidEnvelope, e.Op)
	}
	return Record{
		Kind:       kind,
		Table:      e.Table,
		Before:     e.Old,
		After:      e.New,
		CommitTime: parseTS(e.TS),
		Truncated:  e.Truncated,
	}, nil
}

func EncodeEnvelope(r Record) ([]byte, error) {
	ts, err := json.Marshal(r.CommitTime.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Table:     r.Table,
		Op:        strings.ToUpper(string(r.Kind)),
		New:       r.After,
		Old:       r.Before,
		TS:        ts,
		Truncated: r.Truncated,
	})
}

// parseTS accepts an RFC3339 string or epoch seconds.
func parseTS(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999-07:00", "2006-01-02 15:04:05.999999-07"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
		return time.Time{}
	}
	if f, err := strconv.ParseFloat(string(raw), 64); err == nil {
		sec := int64(f)
		return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC()
	}
	return time.Time{}
}
