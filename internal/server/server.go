// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"go.uber.org/zap"

	"mcp-calorie-log/internal/confirm"
	"mcp-calorie-log/internal/ledger"
)

const maxBodyBytes = 1 << 20

type Config struct {
	Host    string
	Port    int
	Name    string
	Version string
}

type CalorieLogServer struct {
	info       protocol.Implementation
	httpServer *http.Server
	book       *ledger.Book
	confirms   *confirm.Registry
	log        *zap.Logger
	config     *Config
	tools      map[string]toolHandler

	// Background reset waits run under ctx and are cancelled by Stop.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	resets map[string]*resetJob
	order  []string
}

func NewCalorieLogServer(cfg *Config, book *ledger.Book, confirms *confirm.Registry, log *zap.Logger) *CalorieLogServer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &CalorieLogServer{
		book:     book,
		confirms: confirms,
		log:      log.Named("server"),
		config:   cfg,
		info:     protocol.Implementation{Name: cfg.Name, Version: cfg.Version},
		ctx:      ctx,
		cancel:   cancel,
		resets:   make(map[string]*resetJob),
	}

	s.registerTools()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the HTTP routes: POST / for tool calls, GET / for the
// tool list, GET /healthz.
func (s *CalorieLogServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/", s.handleHTTP)
	return mux
}

func (s *CalorieLogServer) handleHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == http.MethodOptions {
		return
	}
	if r.Method == http.MethodGet {
		s.writeInfo(w)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	var request protocol.CallToolRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&request); err != nil {
		s.writeError(w, badRequest(fmt.Errorf("invalid JSON: %w", err)))
		return
	}

	handler, ok := s.tools[request.Name]
	if !ok {
		s.writeError(w, &toolError{status: http.StatusNotFound, err: fmt.Errorf("unknown tool: %s", request.Name)})
		return
	}

	result, err := handler(r.Context(), &request)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.log.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *CalorieLogServer) writeInfo(w http.ResponseWriter) {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"server": s.info,
		"tools":  names,
	}); err != nil {
		s.log.Warn("failed to encode info", zap.Error(err))
	}
}

// Start serves until the listener fails or Stop is called.
func (s *CalorieLogServer) Start(ctx context.Context) error {
	s.log.Info("starting calorie log server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the listener down and resolves pending confirmations as timed out.
func (s *CalorieLogServer) Stop(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.cancel()
	s.wg.Wait()
	return err
}

func (s *CalorieLogServer) createJSONResponse(data interface{}) (*protocol.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	return &protocol.CallToolResult{
		Content: []protocol.Content{
			&protocol.TextContent{
				Type: "text",
				Text: string(jsonBytes),
			},
		},
	}, nil
}

// toolError carries the HTTP status for a failed tool call.
type toolError struct {
	status int
	err    error
}

func (e *toolError) Error() string { return e.err.Error() }
func (e *toolError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &toolError{status: http.StatusBadRequest, err: err}
}

type errorBody struct {
	Error         string `json:"error"`
	Code          string `json:"code,omitempty"`
	EntryCount    *int   `json:"entry_count,omitempty"`
	TotalCalories *int   `json:"total_calories,omitempty"`
}

func (s *CalorieLogServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Error: err.Error()}

	var te *toolError
	if errors.As(err, &te) {
		status = te.status
	}

	var opErr *ledger.OpError
	if errors.As(err, &opErr) {
		status = http.StatusUnprocessableEntity
		body.Error = opErr.Err.Error()
		body.Code = errorCode(opErr.Err)
		body.EntryCount = &opErr.Count
		body.TotalCalories = &opErr.Total
	}

	if status >= http.StatusInternalServerError {
		s.log.Error("tool call failed", zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("failed to encode error", zap.Error(err))
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ledger.ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, ledger.ErrNothingToReset):
		return "nothing_to_reset"
	default:
		return ""
	}
}
