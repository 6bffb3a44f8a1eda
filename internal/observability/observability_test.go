package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesMetrics(t *testing.T) {
	SetActiveSessions(3)
	RecordSessionSave(10*time.Millisecond, false)
	RecordModelCall("bedrock", time.Second, 2, true)
	RecordHTTPRequest("/api/sessions", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "multichat_active_sessions 3")
	assert.Contains(t, body, `multichat_model_call_total{provider="bedrock",status="success"}`)
	assert.Contains(t, body, `multichat_model_images_total{provider="bedrock"} 2`)
	assert.Contains(t, body, "multichat_session_save_errors_total")
	assert.True(t, strings.Contains(body, `multichat_http_requests_total{code="200",route="/api/sessions"}`))
}

func TestAuditLoggerRecord(t *testing.T) {
	var buf bytes.Buffer
	a := NewAuditLogger(&buf)

	a.Record(context.Background(), AuditEvent{
		Type:    "session",
		Session: "demo",
		Action:  "session.create",
		Status:  "success",
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "session", entry["type"])
	assert.Equal(t, "demo", entry["session"])
	assert.Equal(t, "session.create", entry["action"])
}

func TestInitAuditLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	require.NoError(t, InitAuditLogger(path))
	defer GetAuditLogger().Close()

	RecordSessionAudit(context.Background(), "session.delete", "demo", errors.New("boom"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"failure"`)
	assert.Contains(t, string(data), `"error":"boom"`)
}
