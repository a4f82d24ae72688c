package delivery

import (
	"context"

	"github.com/nerrad567/victron-ble2mqtt/internal/infrastructure/mqtt"
)

// Outcome is the result of publishing one record.
type Outcome int

const (
	// Unreachable means the broker could not be reached or never answered.
	Unreachable Outcome = iota
	// Rejected means the broker or client refused the message.
	Rejected
	// Delivered means the broker accepted the message.
	Delivered
)

// String returns the lowercase outcome name used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Rejected:
		return "rejected"
	default:
		return "unreachable"
	}
}

func outcomeOf(err error) Outcome {
	switch mqtt.Classify(err) {
	case mqtt.Delivered:
		return Delivered
	case mqtt.Rejected:
		return Rejected
	default:
		return Unreachable
	}
}

// Source tells whether a record is published live or replayed from the outbox.
type Source string

const (
	SourceLive   Source = "live"
	SourceReplay Source = "replay"
)

type sourceKey struct{}

// WithSource tags ctx with the origin of the records published under it.
func WithSource(ctx context.Context, s Source) context.Context {
	return context.WithValue(ctx, sourceKey{}, s)
}

// SourceFrom returns the Source set by WithSource, SourceLive by default.
func SourceFrom(ctx context.Context) Source {
	if s, ok := ctx.Value(sourceKey{}).(Source); ok {
		return s
	}
	return SourceLive
}
