package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/ironsheep/capture-assistant/internal/capture"
	"github.com/ironsheep/capture-assistant/internal/ocr"
	"github.com/ironsheep/capture-assistant/internal/pipeline"
	"github.com/ironsheep/capture-assistant/internal/prompt"
	"github.com/ironsheep/capture-assistant/internal/session"
	"github.com/ironsheep/capture-assistant/internal/sink"
)

const serverName = "capture-assistant"

// Server handles MCP protocol communication
type Server struct {
	runner    *pipeline.Runner
	sessions  *session.Manager
	templates *prompt.Registry
	sink      *sink.Sink
	opts      Options
	logger    *zap.Logger

	outMu sync.Mutex
	enc   *json.Encoder
	calls sync.WaitGroup
}

// Options configures the server.
type Options struct {
	Version string
	// MaxChars truncates ask text like a captured selection.
	MaxChars int
	// MaxImageBytes bounds an image read for assist_ask_image.
	MaxImageBytes int64
	// OCR describes the recognition engine for assist_status.
	OCR ocr.Info
	// Unavailable lists capture modes that failed to start, if any.
	Unavailable func() []capture.Unavailable
}

// MCPRequest represents an incoming JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an outgoing JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents a JSON-RPC error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MCPNotification represents an outgoing notification (no ID)
type MCPNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// New creates a new MCP server instance
func New(runner *pipeline.Runner, sessions *session.Manager, templates *prompt.Registry, out *sink.Sink, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = 32 << 20
	}
	return &Server{
		runner:    runner,
		sessions:  sessions,
		templates: templates,
		sink:      out,
		opts:      opts,
		logger:    logger.Named("mcp"),
	}
}

// Run reads requests from in and writes responses to out until in is
// exhausted, then waits for tool calls still running.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	// Increase buffer size for large requests (base64 images)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 48*1024*1024)

	s.outMu.Lock()
	s.enc = json.NewEncoder(out)
	s.outMu.Unlock()
	defer s.calls.Wait()

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Warn("failed to parse request", zap.Error(err))
			s.write(s.errorResponse(nil, -32700, "Parse error", err.Error()))
			continue
		}

		if req.Method == "tools/call" {
			s.calls.Add(1)
			go func(req MCPRequest) {
				defer s.calls.Done()
				s.write(s.handleRequest(ctx, &req))
			}(req)
			continue
		}
		s.write(s.handleRequest(ctx, &req))
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}
	return nil
}

// write encodes one message. Nil responses are skipped.
func (s *Server) write(v interface{}) {
	if resp, ok := v.(*MCPResponse); ok && resp == nil {
		return
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.enc == nil {
		return
	}
	if err := s.enc.Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

// notify sends a notification when a client is attached.
func (s *Server) notify(method string, params interface{}) {
	s.write(&MCPNotification{JSONRPC: "2.0", Method: method, Params: params})
}

// handleRequest routes requests to appropriate handlers
func (s *Server) handleRequest(ctx context.Context, req *MCPRequest) *MCPResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		// Client acknowledgment, no response needed
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "ping":
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		}
	default:
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32601,
				Message: fmt.Sprintf("Method not found: %s", req.Method),
			},
		}
	}
}

// handleInitialize responds to the initialize request
func (s *Server) handleInitialize(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools":   map[string]interface{}{},
				"logging": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    serverName,
				"version": s.opts.Version,
			},
		},
	}
}
