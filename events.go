package goSession

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Event type names emitted by the client.
const (
	EventLoginSuccess       = "login_success"
	EventLoginFailure       = "login_failure"
	EventRegisterSuccess    = "register_success"
	EventRegisterFailure    = "register_failure"
	EventRenewalSuccess     = "renewal_success"
	EventRenewalFailure     = "renewal_failure"
	EventReplayRejected     = "replay_rejected"
	EventSessionInvalidated = "session_invalidated"
)

// Reasons carried in the "reason" metadata of EventSessionInvalidated.
const (
	ReasonLogout        = "logout"
	ReasonRenewalFailed = "renewal_failed"
	ReasonPurgedOnLoad  = "purged_on_load"
)

// Event describes a session lifecycle transition observed by the client.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EventSink receives emitted events. Collaborators that must react to the
// session becoming invalid watch for EventSessionInvalidated.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// SlogSink logs each event as a structured record.
type SlogSink struct {
	logger *slog.Logger
	level  slog.Level
}

func NewSlogSink(logger *slog.Logger, level slog.Level) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger, level: level}
}

func (s *SlogSink) Emit(ctx context.Context, event Event) {
	attrs := []slog.Attr{
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	s.logger.LogAttrs(ctx, s.level, "session event", attrs...)
}

// EventErrorCode is the stable error classification stored in Event.Error.
type EventErrorCode string

const (
	eventErrInvalidCredentials EventErrorCode = "invalid_credentials"
	eventErrInvalidResponse    EventErrorCode = "invalid_server_response"
	eventErrNetwork            EventErrorCode = "network"
	eventErrUnauthorized       EventErrorCode = "unauthorized"
	eventErrConflict           EventErrorCode = "conflict"
	eventErrRejected           EventErrorCode = "rejected"
	eventErrPersistence        EventErrorCode = "persistence"
	eventErrCanceled           EventErrorCode = "canceled"
	eventErrInternal           EventErrorCode = "internal_error"
)

func (c *Client) emitEvent(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	requestID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if c == nil || c.events == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := Event{
		Timestamp: c.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		RequestID: requestID,
		Success:   success,
		Metadata:  metadata,
	}
	if code := eventErrorCode(err); code != "" {
		event.Error = string(code)
	}

	c.events.Emit(ctx, event)
}

func eventErrorCode(err error) EventErrorCode {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return eventErrInvalidCredentials
	case errors.Is(err, ErrInvalidServerResponse):
		return eventErrInvalidResponse
	case errors.Is(err, ErrNetwork):
		return eventErrNetwork
	case errors.Is(err, ErrUnauthorized):
		return eventErrUnauthorized
	case errors.Is(err, ErrPersistence):
		return eventErrPersistence
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return eventErrCanceled
	case errors.As(err, &apiErr):
		if apiErr.Conflict() {
			return eventErrConflict
		}
		return eventErrRejected
	default:
		return eventErrInternal
	}
}
