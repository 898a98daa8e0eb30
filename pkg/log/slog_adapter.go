package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger at Debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.DeviceID != "" {
		attrs = append(attrs, slog.String("device_id", event.DeviceID))
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Message != nil:
		attrs = append(attrs, slog.String("msg_type", event.Message.Type.String()))
		if event.Message.RequestID != "" {
			attrs = append(attrs, slog.String("request_id", event.Message.RequestID))
		}
		if event.Message.Command != "" {
			attrs = append(attrs, slog.String("command", event.Message.Command))
		}
		if event.Message.CardText != "" {
			attrs = append(attrs, slog.String("card", event.Message.CardText))
		}
		if event.Message.RoundTrip != nil {
			attrs = append(attrs, slog.Duration("round_trip", *event.Message.RoundTrip))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.ControlMsg != nil:
		attrs = append(attrs, slog.String("ctrl_type", event.ControlMsg.Type.String()))
		if event.ControlMsg.Sequence != 0 {
			attrs = append(attrs, slog.Uint64("seq", uint64(event.ControlMsg.Sequence)))
		}
	case event.Cloud != nil:
		attrs = append(attrs,
			slog.String("method", event.Cloud.Method),
			slog.String("path", event.Cloud.Path),
			slog.Int("status", event.Cloud.StatusCode),
			slog.Duration("duration", event.Cloud.Duration),
		)
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
