package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ironsheep/capture-assistant/internal/capture"
	"github.com/ironsheep/capture-assistant/internal/history"
	"github.com/ironsheep/capture-assistant/internal/ocr"
	"github.com/ironsheep/capture-assistant/internal/pipeline"
	"github.com/ironsheep/capture-assistant/internal/sink"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "assist_ask_text").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}],
//	  "isError": false
//	}
//
// isError is true when an ask produced a failure outcome. Malformed calls
// return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}
	if len(params.Arguments) == 0 {
		params.Arguments = json.RawMessage("{}")
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	isError := false
	if o, ok := result.(sink.Outcome); ok {
		isError = o.Kind == sink.Failure
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
			"isError": isError,
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Capture
	case "assist_ask_text":
		return s.handleAskText(ctx, args)
	case "assist_ask_image":
		return s.handleAskImage(ctx, args)
	case "assist_cancel":
		return s.handleCancel(args)

	// Sessions and templates
	case "assist_templates":
		return s.handleTemplates()
	case "assist_select_template":
		return s.handleSelectTemplate(args)
	case "assist_reset_session":
		return s.handleResetSession(args)

	// Inspection
	case "assist_history":
		return s.handleHistory(ctx, args)
	case "assist_status":
		return s.handleStatus(), nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure it returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

type contextArgs struct {
	Mode   string `json:"mode"`
	Window string `json:"window"`
}

func (a contextArgs) workflow() capture.WorkflowContext {
	mode := a.Mode
	if mode == "" {
		mode = capture.ModeMCP
	}
	return capture.WorkflowContext{Mode: mode, Window: a.Window}
}

// === Capture Handlers ===

type askTextArgs struct {
	contextArgs
	Text     string `json:"text"`
	Template string `json:"template"`
}

func (s *Server) handleAskText(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a askTextArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Text == "" {
		return nil, fmt.Errorf("text is required")
	}
	if err := s.checkTemplate(a.Template); err != nil {
		return nil, err
	}

	ev := capture.NewTextEvent(capture.TruncateSelection(a.Text, s.opts.MaxChars), 0, a.workflow())
	return s.ask(ctx, ev, a.Template), nil
}

type askImageArgs struct {
	contextArgs
	Path     string `json:"path"`
	Data     string `json:"data"`
	Template string `json:"template"`
}

func (s *Server) handleAskImage(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a askImageArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if (a.Path == "") == (a.Data == "") {
		return nil, fmt.Errorf("exactly one of path or data is required")
	}
	if err := s.checkTemplate(a.Template); err != nil {
		return nil, err
	}

	raster, err := s.readImage(a)
	if err != nil {
		return nil, err
	}
	ev := capture.NewImageEvent(raster, 0, a.workflow())
	return s.ask(ctx, ev, a.Template), nil
}

func (s *Server) readImage(a askImageArgs) ([]byte, error) {
	if a.Data != "" {
		raster, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 image data: %w", err)
		}
		return raster, nil
	}

	info, err := os.Stat(a.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	if info.Size() > s.opts.MaxImageBytes {
		return nil, fmt.Errorf("image %s is %d bytes, limit is %d", a.Path, info.Size(), s.opts.MaxImageBytes)
	}
	raster, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return raster, nil
}

func (s *Server) checkTemplate(id string) error {
	if id != "" && !s.templates.Has(id) {
		return fmt.Errorf("unknown template: %s", id)
	}
	return nil
}

// ask announces the run and runs it to completion.
func (s *Server) ask(ctx context.Context, ev capture.Event, template string) sink.Outcome {
	s.notify("notifications/message", map[string]interface{}{
		"level":  "info",
		"logger": serverName,
		"data": map[string]interface{}{
			"event":  "run_started",
			"run_id": ev.ID(),
		},
	})
	s.logger.Debug("ask", zap.Object("event", ev), zap.String("template", template))
	return s.runner.RunAndWait(ctx, pipeline.Request{Event: ev, Template: template})
}

type cancelArgs struct {
	RunID string `json:"run_id"`
}

func (s *Server) handleCancel(args json.RawMessage) (interface{}, error) {
	var a cancelArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if err := s.runner.Cancel(a.RunID); err != nil {
		return nil, fmt.Errorf("cancel %s: %w", a.RunID, err)
	}
	return map[string]interface{}{"run_id": a.RunID, "cancelled": true}, nil
}

// === Session and Template Handlers ===

// TemplateInfo describes a template for assist_templates.
type TemplateInfo struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	RequiredFields []string `json:"required_fields"`
	ContextWindow  int      `json:"context_window"`
}

func (s *Server) handleTemplates() (interface{}, error) {
	list := s.templates.List()
	out := make([]TemplateInfo, 0, len(list))
	for _, t := range list {
		out = append(out, TemplateInfo{
			ID:             t.ID,
			Name:           t.Name,
			Description:    t.Description,
			RequiredFields: t.RequiredFields,
			ContextWindow:  t.ContextWindow,
		})
	}
	return out, nil
}

type selectTemplateArgs struct {
	contextArgs
	Template string `json:"template"`
}

func (s *Server) handleSelectTemplate(args json.RawMessage) (interface{}, error) {
	var a selectTemplateArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Template == "" {
		return nil, fmt.Errorf("template is required")
	}
	if err := s.checkTemplate(a.Template); err != nil {
		return nil, err
	}

	sess := s.sessions.Resolve(a.workflow())
	if err := s.sessions.SelectTemplate(sess.ID, a.Template); err != nil {
		return nil, err
	}
	return s.sessions.Get(sess.ID)
}

func (s *Server) handleResetSession(args json.RawMessage) (interface{}, error) {
	var a contextArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	wctx := a.workflow()
	s.sessions.Reset(wctx)
	return map[string]interface{}{"reset": true, "mode": wctx.Mode, "window": wctx.Window}, nil
}

// === Inspection Handlers ===

type historyArgs struct {
	Limit int `json:"limit"`
}

func (s *Server) handleHistory(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a historyArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Limit <= 0 {
		a.Limit = 20
	}
	entries, err := s.sink.History(ctx, a.Limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return entries, nil
}

// Status is the assist_status result.
type Status struct {
	Version          string                `json:"version"`
	OCR              ocr.Info              `json:"ocr"`
	Templates        int                   `json:"templates"`
	LiveSessions     int                   `json:"live_sessions"`
	ArchivedSessions int                   `json:"archived_sessions"`
	RunsInFlight     []string              `json:"runs_in_flight"`
	Unavailable      []capture.Unavailable `json:"unavailable_capture_modes"`
	CheckedAt        time.Time             `json:"checked_at"`
}

func (s *Server) handleStatus() Status {
	st := Status{
		Version:          s.opts.Version,
		OCR:              s.opts.OCR,
		Templates:        len(s.templates.List()),
		LiveSessions:     len(s.sessions.Live()),
		ArchivedSessions: len(s.sessions.Archived()),
		RunsInFlight:     s.runner.InFlight(),
		Unavailable:      []capture.Unavailable{},
		CheckedAt:        time.Now().UTC(),
	}
	if s.opts.Unavailable != nil {
		st.Unavailable = s.opts.Unavailable()
	}
	return st
}
