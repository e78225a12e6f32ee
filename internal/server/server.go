// Package server exposes the run orchestrator over HTTP: a JSON chat
// endpoint that returns the whole reply and an SSE endpoint that pushes
// scrubbed text increments as they arrive.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/petasbytes/go-assistant/internal/runner"
	"github.com/petasbytes/go-assistant/internal/telemetry"
)

const (
	maxRequestBytes = 1 << 20
	internalError   = "internal error"
)

// Chatter is the orchestrator surface the handlers need.
type Chatter interface {
	Execute(ctx context.Context, message, threadID string) (runner.Reply, error)
	ExecuteStreaming(ctx context.Context, message, threadID string) (*runner.Stream, string)
}

type chatRequest struct {
	PromptMessage string `json:"promptMessage"`
	ThreadID      string `json:"threadId,omitempty"`
}

type chatResponse struct {
	Reply    string `json:"reply"`
	ThreadID string `json:"threadId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	chat Chatter
	log  *zap.SugaredLogger
}

func New(chat Chatter, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{chat: chat, log: logger}
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/agent/chat", s.handleChat)
	mux.HandleFunc("POST /api/agent/chat/stream", s.handleChatStream)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok")
	})
	return s.withRequestLog(mux)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	reply, err := s.chat.Execute(r.Context(), req.PromptMessage, req.ThreadID)
	if err != nil {
		turnID, _ := telemetry.TurnIDFromContext(r.Context())
		s.log.Errorw("chat failed", "turn_id", turnID, "thread_id", req.ThreadID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: internalError})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply.Text, ThreadID: reply.ThreadID})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	stream, threadID := s.chat.ExecuteStreaming(ctx, req.PromptMessage, req.ThreadID)
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		text, ok := stream.Next(ctx)
		if !ok {
			break
		}
		if id := stream.ThreadID(); id != "" {
			threadID = id
		}
		if err := writeEvent(w, "message", chatResponse{Reply: text, ThreadID: threadID}); err != nil {
			return
		}
		flusher.Flush()
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		turnID, _ := telemetry.TurnIDFromContext(ctx)
		s.log.Errorw("chat stream failed", "turn_id", turnID, "thread_id", threadID, "error", err)
		_ = writeEvent(w, "error", errorResponse{Error: internalError})
		flusher.Flush()
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return chatRequest{}, false
	}
	if strings.TrimSpace(req.PromptMessage) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "promptMessage is required"})
		return chatRequest{}, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeEvent writes one SSE frame with a JSON payload.
func writeEvent(w io.Writer, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

// statusRecorder keeps the response status for the access log and passes
// flushes through for SSE.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// withRequestLog attaches a turn id to each request and logs its outcome.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		turnID := telemetry.NewTurnID()
		r = r.WithContext(telemetry.WithTurnID(r.Context(), turnID))
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		s.log.Infow("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"turn_id", turnID,
		)
	})
}

// ListenAndServe serves h on addr until ctx is done, then shuts down
// gracefully within timeout.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, timeout time.Duration, logger *zap.SugaredLogger) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Infow("shutting down", "timeout", timeout)
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
