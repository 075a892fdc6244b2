package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes messages to the structured log. It is the default
// sink when no broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	n.logger.InfoContext(ctx, "notification",
		slog.String("kind", string(msg.Kind)),
		slog.String("registration_id", msg.RegistrationID),
		slog.String("event_id", msg.EventID),
		slog.String("user_id", msg.UserID),
		slog.String("status", msg.Status),
	)
	return nil
}
