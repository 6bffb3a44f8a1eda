package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/harun/multichat/internal/observability"
	"github.com/harun/multichat/internal/tracing"
	"github.com/harun/multichat/pkg/chat"
	"github.com/harun/multichat/pkg/conversation"
	"github.com/harun/multichat/pkg/imaging"
	"github.com/harun/multichat/pkg/model"
	"github.com/harun/multichat/pkg/session"
)

type imageView struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	URL       string `json:"url"`
}

type turnView struct {
	Index     int         `json:"index"`
	Role      string      `json:"role"`
	Text      string      `json:"text"`
	Images    []imageView `json:"images,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

type sessionView struct {
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Turns     []turnView `json:"turns"`
}

func newTurnView(sessionName string, index int, turn conversation.Turn) turnView {
	return turnView{
		Index:     index,
		Role:      string(turn.Role),
		Text:      turn.Text,
		CreatedAt: turn.CreatedAt,
		Images: lo.Map(turn.Images, func(img conversation.Image, i int) imageView {
			return imageView{
				Name:      img.Name,
				MediaType: img.MediaType,
				URL:       imageURL(sessionName, index, i),
			}
		}),
	}
}

func newSessionView(sess session.Session) sessionView {
	return sessionView{
		Name:      sess.Name,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
		Turns: lo.Map(sess.Turns(), func(turn conversation.Turn, i int) turnView {
			return newTurnView(sess.Name, i, turn)
		}),
	}
}

func imageURL(sessionName string, turn, idx int) string {
	return fmt.Sprintf("/api/sessions/%s/turns/%d/images/%d", url.PathEscape(sessionName), turn, idx)
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// route registers handler under pattern with request tracing and metrics
func (s *Server) route(mux *http.ServeMux, pattern string, handler http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx := r.Context()
		if traceID := r.Header.Get("X-Trace-Id"); traceID != "" {
			ctx = tracing.WithTraceID(ctx, traceID)
		}
		ctx = tracing.NewRequestContext(ctx)
		w.Header().Set("X-Trace-Id", tracing.GetTraceID(ctx))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(rec, r.WithContext(ctx))

		duration := time.Since(start)
		observability.RecordHTTPRequest(pattern, rec.status, duration)
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(uiIndexHTML))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.chat.Sessions()})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sess, err := s.chat.Create(r.Context(), body.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionView(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.chat.Session(r.PathValue("name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.chat.Delete(r.Context(), name); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": name})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.chat.Clear(r.Context(), name); err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.chat.Session(name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	prompt, uploads, err := readSubmission(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	images, err := imaging.NormalizeAll(uploads)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ctx := r.Context()
	if s.modelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.modelTimeout)
		defer cancel()
	}

	res, err := s.chat.Submit(ctx, chat.SubmitParams{Session: name, Prompt: prompt, Images: images})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session":   res.Session,
		"turns":     res.Turns,
		"user":      newTurnView(res.Session, res.Turns-2, res.User),
		"assistant": newTurnView(res.Session, res.Turns-1, res.Assistant),
	})
}

// readSubmission accepts either a multipart form with prompt and images, or a JSON body with a prompt
func readSubmission(w http.ResponseWriter, r *http.Request) (string, []imaging.Upload, error) {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		var body struct {
			Prompt string `json:"prompt"`
		}
		if err := readJSON(r, &body); err != nil {
			return "", nil, badRequest(err)
		}
		return body.Prompt, nil, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", nil, fmt.Errorf("%w: request exceeds %d bytes", imaging.ErrTooLarge, maxSubmitBytes)
		}
		return "", nil, badRequest(fmt.Errorf("invalid multipart form: %v", err))
	}
	defer r.MultipartForm.RemoveAll()

	files := append(r.MultipartForm.File["images"], r.MultipartForm.File["images[]"]...)
	if len(files) > imaging.MaxImagesPerTurn {
		return "", nil, fmt.Errorf("%w: %d uploads, limit is %d", imaging.ErrTooMany, len(files), imaging.MaxImagesPerTurn)
	}

	uploads := make([]imaging.Upload, 0, len(files))
	for _, fh := range files {
		upload, err := readFileHeader(fh)
		if err != nil {
			return "", nil, err
		}
		uploads = append(uploads, upload)
	}

	return r.FormValue("prompt"), uploads, nil
}

func readFileHeader(fh *multipart.FileHeader) (imaging.Upload, error) {
	if fh.Size > imaging.MaxImageSize {
		return imaging.Upload{}, fmt.Errorf("%w: %q exceeds %d bytes", imaging.ErrTooLarge, fh.Filename, imaging.MaxImageSize)
	}
	f, err := fh.Open()
	if err != nil {
		return imaging.Upload{}, fmt.Errorf("failed to open upload %q: %w", fh.Filename, err)
	}
	defer f.Close()
	return imaging.ReadUpload(fh.Filename, f)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	turnIdx, err1 := strconv.Atoi(r.PathValue("turn"))
	imgIdx, err2 := strconv.Atoi(r.PathValue("idx"))
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, errors.New("turn and image index must be integers"))
		return
	}

	sess, err := s.chat.Session(r.PathValue("name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	turns := sess.Turns()
	if turnIdx < 0 || turnIdx >= len(turns) || imgIdx < 0 || imgIdx >= len(turns[turnIdx].Images) {
		writeError(w, http.StatusNotFound, errors.New("image not found"))
		return
	}

	img := turns[turnIdx].Images[imgIdx]
	w.Header().Set("Content-Type", img.MediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}

// requestError marks malformed client input
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &requestError{err: err}
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionExists):
		return http.StatusConflict
	case errors.Is(err, imaging.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, session.ErrInvalidName),
		errors.Is(err, chat.ErrEmptyPrompt),
		errors.Is(err, model.ErrEmptyPrompt),
		errors.Is(err, conversation.ErrInvalidTurn),
		imaging.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case model.IsUpstreamError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := tracing.LoggerFromContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Str("path", r.URL.Path).Msg("Request failed")
	} else {
		logger.Debug().Err(err).Int("status", status).Str("path", r.URL.Path).Msg("Request rejected")
	}
	writeError(w, status, err)
}

func readJSON(r *http.Request, dst any) error {
	if r == nil || r.Body == nil {
		return fmt.Errorf("empty request body")
	}
	defer r.Body.Close()

	const maxBytes = 1 << 20
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return fmt.Errorf("failed reading request body: %v", err)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		b = []byte("{}")
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("invalid json: %v", err)
	}
	return nil
}

func jsonBytes(v any) ([]byte, error) {
	return json.Marshal(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	b, err := json.Marshal(v)
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"failed to marshal json"}`))
		return
	}
	_, _ = w.Write(append(b, '\n'))
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func originHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return u.Host
}
