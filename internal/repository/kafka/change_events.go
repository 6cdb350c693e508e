package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/NordCoder/Campusbell/internal/domain/kafka"
	kafkago "github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/types/known/structpb"
)

// ChangeEventsKafka publishes change records as structpb envelopes keyed by
// row id.
type ChangeEventsKafka struct {
	p *Producer
}

func NewChangeEventsKafka(p *Producer) *ChangeEventsKafka { return &ChangeEventsKafka{p: p} }

var _ kafka.ChangeEvents = (*ChangeEventsKafka)(nil)

func (e *ChangeEventsKafka) PublishChange(ctx context.Context, rec changefeed.Record) error {
	msg, err := EnvelopeStruct(rec)
	if err != nil {
		return err
	}
	id, _ := rec.Field("id")
	return e.p.PublishProto(ctx, KeyFromString(rec.Table+":"+id), msg,
		kafkago.Header{Key: headerTable, Value: []byte(rec.Table)})
}

func EnvelopeStruct(rec changefeed.Record) (*structpb.Struct, error) {
	raw, err := changefeed.EncodeEnvelope(rec)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("envelope to map: %w", err)
	}
	return structpb.NewStruct(m)
}

func RecordFromStruct(s *structpb.Struct) (changefeed.Record, error) {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return changefeed.Record{}, fmt.Errorf("struct to json: %w", err)
	}
	return changefeed.DecodeEnvelope(raw)
}
