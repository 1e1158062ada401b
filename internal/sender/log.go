package sender

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogSender logs messages instead of sending them. Used for local runs.
type LogSender struct {
	Log zerolog.Logger
}

func (s LogSender) Send(_ context.Context, msg Message) (Result, error) {
	id := uuid.NewString()
	s.Log.Info().
		Str("message_id", id).
		Str("from", msg.From).
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Int("html_bytes", len(msg.HTML)).
		Msg("email logged (not sent)")
	return Result{MessageID: id, Provider: "log"}, nil
}
