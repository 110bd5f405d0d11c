package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/daedalus/internal/agent"
	"github.com/nugget/daedalus/internal/buildinfo"
	"github.com/nugget/daedalus/internal/gateway"
	"github.com/nugget/daedalus/internal/tools"
	"github.com/nugget/daedalus/internal/turn"
)

// maxRequestBody bounds POST /turn bodies and websocket messages.
const maxRequestBody = 1 << 20

// TurnRequest is the body of POST /turn and each websocket message.
type TurnRequest struct {
	Input string `json:"input"`
}

// TurnResponse reports one turn over HTTP or websocket.
type TurnResponse struct {
	ID      string            `json:"id"`
	Text    string            `json:"text,omitempty"`
	Replies []string          `json:"replies,omitempty"`
	Tools   []tools.Execution `json:"tools,omitempty"`
	Usage   *gateway.Usage    `json:"usage,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// HTTP serves turns over a webhook and a websocket.
//
//	POST /turn     {"input": "..."} → TurnResponse
//	GET  /ws       one TurnRequest per message, one TurnResponse back
//	GET  /healthz
type HTTP struct {
	addr     string
	runner   Runner
	logger   *slog.Logger
	upgrader websocket.Upgrader
	server   *http.Server
}

// NewHTTP returns an HTTP trigger listening on addr.
func NewHTTP(addr string, runner Runner, logger *slog.Logger) *HTTP {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{
		addr:   addr,
		runner: runner,
		logger: logger.With("trigger", "http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Key identifies the trigger.
func (h *HTTP) Key() string { return "http" }

// Handler returns the trigger's routes.
func (h *HTTP) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /turn", h.handleTurn)
	mux.HandleFunc("GET /ws", h.handleWebsocket)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	return h.withLogging(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (h *HTTP) Run(ctx context.Context) error {
	h.server = &http.Server{
		Addr:              h.addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("http trigger listening", "address", h.addr)
		errCh <- h.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("http trigger shutdown", "error", err)
		}
		return nil
	}
}

func (h *HTTP) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (h *HTTP) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildinfo.Version,
	})
}

func (h *HTTP) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, TurnResponse{Error: "invalid request body"})
		return
	}

	resp, err := h.run(r.Context(), "http", req.Input)
	switch {
	case errors.Is(err, agent.ErrBusy):
		h.writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrQueueClosed):
		h.writeJSON(w, http.StatusServiceUnavailable, resp)
	case err != nil:
		h.writeJSON(w, http.StatusInternalServerError, resp)
	default:
		h.writeJSON(w, http.StatusOK, resp)
	}
}

func (h *HTTP) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRequestBody)

	h.logger.Debug("websocket connected", "remote", r.RemoteAddr)
	for {
		var req TurnRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		resp, _ := h.run(r.Context(), "websocket", req.Input)
		if err := conn.WriteJSON(resp); err != nil {
			h.logger.Debug("websocket write failed", "error", err)
			return
		}
	}
}

// run executes one turn, capturing reply tool output. The response is
// filled in on failure as well, with Error set.
func (h *HTTP) run(ctx context.Context, trigger, input string) (TurnResponse, error) {
	var replies bytes.Buffer
	tc := turn.New(trigger, input, &replies)
	resp := TurnResponse{ID: tc.ID}

	res, err := h.runner.Execute(ctx, tc)
	if err != nil {
		h.logger.Error("turn failed", "turn", tc.ID, "error", err)
		resp.Error = err.Error()
		return resp, err
	}

	resp.Text = res.Text
	resp.Tools = res.Executed
	resp.Usage = res.Usage
	for _, line := range strings.Split(strings.TrimRight(replies.String(), "\n"), "\n") {
		if line != "" {
			resp.Replies = append(resp.Replies, line)
		}
	}
	return resp, nil
}

func (h *HTTP) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("failed to write JSON response", "error", err)
	}
}
