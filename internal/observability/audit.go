package observability

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent is one entry of the session audit trail
type AuditEvent struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Session   string                 `json:"session,omitempty"`
	Action    string                 `json:"action"` // e.g. "session.create", "config.reload"
	Status    string                 `json:"status"` // "success" or "failure"
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLogger writes audit events as JSON lines
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

var (
	auditMu   sync.RWMutex
	auditInst *AuditLogger
)

// GetAuditLogger returns the global audit logger. Events are discarded until
// InitAuditLogger is called.
func GetAuditLogger() *AuditLogger {
	auditMu.RLock()
	a := auditInst
	auditMu.RUnlock()
	if a != nil {
		return a
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditInst == nil {
		auditInst = NewAuditLogger(io.Discard)
	}
	return auditInst
}

// NewAuditLogger creates an audit logger writing to w
func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
}

// InitAuditLogger points the global audit logger at path
func InitAuditLogger(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}

	a := NewAuditLogger(file)
	a.file = file

	auditMu.Lock()
	prev := auditInst
	auditInst = a
	auditMu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// Record emits an audit event and mirrors it as a span event when ctx carries a span
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()

		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.session", event.Session),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("session", event.Session).
		Str("action", event.Action).
		Str("status", event.Status).
		Str("trace_id", event.TraceID)

	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// Close closes the audit logger's file handle
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		err := a.file.Close()
		a.file = nil
		return err
	}
	return nil
}

// RecordSessionAudit records a session lifecycle action
func RecordSessionAudit(ctx context.Context, action, session string, err error) {
	status := "success"
	var metadata map[string]interface{}
	if err != nil {
		status = "failure"
		metadata = map[string]interface{}{"error": err.Error()}
	}
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "session",
		Session:  session,
		Action:   action,
		Status:   status,
		Metadata: metadata,
	})
}

// RecordConfigAudit records a configuration change
func RecordConfigAudit(ctx context.Context, action string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "config",
		Action:   action,
		Status:   "success",
		Metadata: metadata,
	})
}
