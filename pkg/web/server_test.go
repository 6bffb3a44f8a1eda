package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/multichat/pkg/chat"
	"github.com/harun/multichat/pkg/model"
	"github.com/harun/multichat/pkg/session"
)

type stubProvider struct {
	mu        sync.Mutex
	reply     string
	err       error
	requests  []model.Request
	deadlines []bool
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Call(ctx context.Context, request model.Request) (*model.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, request)
	_, hasDeadline := ctx.Deadline()
	p.deadlines = append(p.deadlines, hasDeadline)
	if p.err != nil {
		return nil, p.err
	}
	return &model.Response{Text: p.reply}, nil
}

func (p *stubProvider) lastRequest(t *testing.T) model.Request {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.requests)
	return p.requests[len(p.requests)-1]
}

type testEnv struct {
	ts       *httptest.Server
	server   *Server
	provider *stubProvider
	manager  *session.Manager
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	store, err := session.NewFileStore(filepath.Join(t.TempDir(), "sessions.json"))
	require.NoError(t, err)
	mgr, err := session.NewManager(ctx, session.ManagerConfig{Store: store, Logger: &logger})
	require.NoError(t, err)

	provider := &stubProvider{reply: "Hello! How can I help?"}
	client, err := model.NewClient(model.ClientConfig{Provider: provider, Logger: &logger})
	require.NoError(t, err)

	broadcaster := NewEventBroadcaster(logger)
	svc, err := chat.NewService(chat.Config{Sessions: mgr, Model: client, Publisher: broadcaster, Logger: &logger})
	require.NoError(t, err)

	srv, err := NewServer(Config{Chat: svc, Broadcaster: broadcaster, Logger: &logger})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, server: srv, provider: provider, manager: mgr}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func (e *testEnv) doJSON(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	return e.do(t, method, path, r, "application/json")
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartBody(t *testing.T, prompt string, files map[string][]byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("prompt", prompt))
	for name, data := range files {
		part, err := w.CreateFormFile("images", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestHealthz(t *testing.T) {
	env := setupTestServer(t)

	resp, body := env.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestIndexServesUI(t *testing.T) {
	env := setupTestServer(t)

	resp, err := http.Get(env.ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(raw), "New Session")
	assert.NotEmpty(t, resp.Header.Get("X-Trace-Id"))
}

func TestSessionLifecycle(t *testing.T) {
	env := setupTestServer(t)

	resp, body := env.doJSON(t, http.MethodPost, "/api/sessions", map[string]string{"name": "demo"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "demo", body["name"])
	assert.Empty(t, body["turns"])

	resp, body = env.doJSON(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"demo"}, body["sessions"])

	resp, body = env.doJSON(t, http.MethodPost, "/api/sessions/demo/messages", map[string]string{"prompt": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["turns"])
	assistant := body["assistant"].(map[string]any)
	assert.Equal(t, "Hello! How can I help?", assistant["text"])

	resp, body = env.doJSON(t, http.MethodGet, "/api/sessions/demo", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	turns := body["turns"].([]any)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].(map[string]any)["role"])
	assert.Equal(t, "hello", turns[0].(map[string]any)["text"])
	assert.Equal(t, "assistant", turns[1].(map[string]any)["role"])

	resp, body = env.doJSON(t, http.MethodPost, "/api/sessions/demo/clear", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["turns"])
	assert.True(t, env.manager.Exists("demo"))

	resp, _ = env.doJSON(t, http.MethodDelete, "/api/sessions/demo", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, env.manager.Exists("demo"))

	resp, body = env.doJSON(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["sessions"])
}

func TestSubmitWithImage(t *testing.T) {
	env := setupTestServer(t)
	_, err := env.manager.Create(context.Background(), "vision")
	require.NoError(t, err)

	data := pngBytes(t)
	body, contentType := multipartBody(t, "what is this?", map[string][]byte{"red.png": data})
	resp, out := env.do(t, http.MethodPost, "/api/sessions/vision/messages", body, contentType)
	require.Equal(t, http.StatusOK, resp.StatusCode, out)

	user := out["user"].(map[string]any)
	images := user["images"].([]any)
	require.Len(t, images, 1)
	img := images[0].(map[string]any)
	assert.Equal(t, "red.png", img["name"])
	assert.Equal(t, "image/png", img["media_type"])

	req := env.provider.lastRequest(t)
	require.Len(t, req.Messages, 1)
	require.Len(t, req.Messages[0].Images, 1)
	assert.Equal(t, data, req.Messages[0].Images[0].Data)

	imgResp, err := http.Get(env.ts.URL + img["url"].(string))
	require.NoError(t, err)
	defer imgResp.Body.Close()
	raw, err := io.ReadAll(imgResp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, imgResp.StatusCode)
	assert.Equal(t, "image/png", imgResp.Header.Get("Content-Type"))
	assert.Equal(t, data, raw)
}

func TestImageURLEscapesSessionName(t *testing.T) {
	env := setupTestServer(t)
	_, err := env.manager.Create(context.Background(), "my chat")
	require.NoError(t, err)

	body, contentType := multipartBody(t, "look", map[string][]byte{"a.png": pngBytes(t)})
	resp, out := env.do(t, http.MethodPost, "/api/sessions/"+url.PathEscape("my chat")+"/messages", body, contentType)
	require.Equal(t, http.StatusOK, resp.StatusCode, out)

	img := out["user"].(map[string]any)["images"].([]any)[0].(map[string]any)
	assert.Equal(t, "/api/sessions/my%20chat/turns/0/images/0", img["url"])

	resp, _ = env.do(t, http.MethodGet, "/api/sessions/my%20chat/turns/0/images/5", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/api/sessions/my%20chat/turns/x/images/0", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestErrorStatuses(t *testing.T) {
	env := setupTestServer(t)
	_, err := env.manager.Create(context.Background(), "demo")
	require.NoError(t, err)

	gifBody, gifType := multipartBody(t, "look", map[string][]byte{"a.gif": []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;")})

	tests := []struct {
		name        string
		method      string
		path        string
		body        io.Reader
		contentType string
		want        int
	}{
		{name: "duplicate create", method: http.MethodPost, path: "/api/sessions", body: strings.NewReader(`{"name":"demo"}`), contentType: "application/json", want: http.StatusConflict},
		{name: "reserved name", method: http.MethodPost, path: "/api/sessions", body: strings.NewReader(`{"name":"New Session"}`), contentType: "application/json", want: http.StatusBadRequest},
		{name: "empty name", method: http.MethodPost, path: "/api/sessions", body: strings.NewReader(`{"name":"  "}`), contentType: "application/json", want: http.StatusBadRequest},
		{name: "malformed json", method: http.MethodPost, path: "/api/sessions", body: strings.NewReader(`{`), contentType: "application/json", want: http.StatusBadRequest},
		{name: "unknown session", method: http.MethodGet, path: "/api/sessions/nope", want: http.StatusNotFound},
		{name: "delete unknown", method: http.MethodDelete, path: "/api/sessions/nope", want: http.StatusNotFound},
		{name: "clear unknown", method: http.MethodPost, path: "/api/sessions/nope/clear", want: http.StatusNotFound},
		{name: "submit unknown", method: http.MethodPost, path: "/api/sessions/nope/messages", body: strings.NewReader(`{"prompt":"hi"}`), contentType: "application/json", want: http.StatusNotFound},
		{name: "empty prompt", method: http.MethodPost, path: "/api/sessions/demo/messages", body: strings.NewReader(`{"prompt":"   "}`), contentType: "application/json", want: http.StatusBadRequest},
		{name: "unsupported image", method: http.MethodPost, path: "/api/sessions/demo/messages", body: gifBody, contentType: gifType, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, tt.method, tt.path, tt.body, tt.contentType)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}

	sess, err := env.manager.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, 0, sess.Len())
}

func TestSubmitModelFailureIsBadGateway(t *testing.T) {
	env := setupTestServer(t)
	_, err := env.manager.Create(context.Background(), "demo")
	require.NoError(t, err)
	env.provider.err = errors.New("throttled")

	resp, body := env.doJSON(t, http.MethodPost, "/api/sessions/demo/messages", map[string]string{"prompt": "hello"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body["error"], "throttled")

	sess, err := env.manager.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, 0, sess.Len())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusBadGateway, statusFor(model.ErrEmptyReply))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("disk full")))
	assert.Equal(t, http.StatusBadRequest, statusFor(badRequest(errors.New("bad"))))
}

func readEvent(t *testing.T, conn *websocket.Conn) EventMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg EventMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketReceivesSessionEvents(t *testing.T) {
	env := setupTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readEvent(t, conn)
	assert.Equal(t, "connected", hello.Event)
	assert.Equal(t, 1, env.server.broadcaster.Clients().Count())

	resp, _ := env.doJSON(t, http.MethodPost, "/api/sessions", map[string]string{"name": "demo"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := readEvent(t, conn)
	assert.Equal(t, string(chat.EventSessionCreated), created.Event)
	assert.Equal(t, "demo", created.Data.(map[string]any)["session"])

	resp, _ = env.doJSON(t, http.MethodPost, "/api/sessions/demo/messages", map[string]string{"prompt": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	updated := readEvent(t, conn)
	assert.Equal(t, string(chat.EventSessionUpdated), updated.Event)
	assert.EqualValues(t, 2, updated.Data.(map[string]any)["turns"])
	assert.Greater(t, updated.Seq, created.Seq)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	env := setupTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStartStop(t *testing.T) {
	env := setupTestServer(t)
	logger := zerolog.Nop()
	srv, err := NewServer(Config{Addr: "127.0.0.1:0", Chat: env.server.chat, Logger: &logger})
	require.NoError(t, err)

	require.NoError(t, srv.Start())
	assert.Error(t, srv.Start())

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, srv.Stop(ctx))
}

func TestNewServerRequiresChat(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestSubmitDeadline(t *testing.T) {
	env := setupTestServer(t)
	_, err := env.manager.Create(context.Background(), "demo")
	require.NoError(t, err)

	resp, err := http.Post(env.ts.URL+"/api/sessions/demo/messages", "application/json", strings.NewReader(`{"prompt":"hello"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	logger := zerolog.Nop()
	bounded, err := NewServer(Config{Chat: env.server.chat, ModelTimeout: time.Minute, Logger: &logger})
	require.NoError(t, err)
	ts := httptest.NewServer(bounded.Handler())
	defer ts.Close()

	resp, err = http.Post(ts.URL+"/api/sessions/demo/messages", "application/json", strings.NewReader(`{"prompt":"again"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env.provider.mu.Lock()
	defer env.provider.mu.Unlock()
	assert.Equal(t, []bool{false, true}, env.provider.deadlines)
}
