package kafka

import (
	"context"

	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var envelopesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kafka_envelopes_dropped_total",
	Help: "Change envelopes skipped by consumers.",
}, []string{"reason"})

func ProtoHandler[M proto.Message](ctor func() M, handle func(context.Context, []byte, M) error) Handler {
	return func(ctx context.Context, key, value []byte) error {
		msg := ctor()
		if err := proto.Unmarshal(value, msg); err != nil {
			return err
		}
		return handle(ctx, key, msg)
	}
}

// EnvelopeHandler decodes change envelopes and passes them to handle.
// Undecodable messages are logged and skipped so one bad record never
// stalls the partition.
func EnvelopeHandler(log *zap.Logger, handle func(context.Context, changefeed.Record) error) Handler {
	if log == nil {
		log = zap.NewNop()
	}
	decode := ProtoHandler(
		func() *structpb.Struct { return &structpb.Struct{} },
		func(ctx context.Context, _ []byte, s *structpb.Struct) error {
			rec, err := RecordFromStruct(s)
			if err != nil {
				envelopesDropped.WithLabelValues("invalid").Inc()
				log.Warn("drop invalid change envelope", zap.Error(err))
				return nil
			}
			return handle(ctx, rec)
		},
	)
	return func(ctx context.Context, key, value []byte) error {
		if err := decode(ctx, key, value); err != nil {
			envelopesDropped.WithLabelValues("undecodable").Inc()
			log.Warn("drop undecodable message", zap.ByteString("key", key), zap.Error(err))
		}
		return nil
	}
}
