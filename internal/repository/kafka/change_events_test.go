package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestEnvelopeStructRoundTripsThroughWire(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := changefeed.Record{
		Kind:       changefeed.KindInsert,
		Table:      changefeed.TableNotifications,
		After:      json.RawMessage(`{"id":"n1","user_id":"u1","title":"Hi","status":"unread"}`),
		CommitTime: at,
	}

	s, err := EnvelopeStruct(rec)
	require.NoError(t, err)

	b, err := proto.Marshal(s)
	require.NoError(t, err)
	decoded := &structpb.Struct{}
	require.NoError(t, proto.Unmarshal(b, decoded))

	got, err := RecordFromStruct(decoded)
	require.NoError(t, err)
	assert.Equal(t, changefeed.KindInsert, got.Kind)
	assert.Equal(t, changefeed.TableNotifications, got.Table)
	assert.True(t, at.Equal(got.CommitTime))

	uid, ok := got.Field("user_id")
	require.True(t, ok)
	assert.Equal(t, "u1", uid)
	assert.True(t, changefeed.NotificationsFor("u1").Match(got))
}

func TestRecordFromStructRejectsUnknownOp(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{"table": "notifications", "op": "TRUNCATE"})
	require.NoError(t, err)

	_, err = RecordFromStruct(s)
	require.ErrorIs(t, err, changefeed.ErrInvalidEnvelope)
}
