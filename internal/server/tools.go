package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// contextProperties are the optional session-selection arguments shared by
// several tools.
func contextProperties(props map[string]interface{}) map[string]interface{} {
	props["mode"] = map[string]interface{}{
		"type":        "string",
		"description": "Capture mode whose session to use. Default \"mcp\"",
	}
	props["window"] = map[string]interface{}{
		"type":        "string",
		"description": "Optional window or document identifier; sessions are per window when session.key_by is \"window\"",
	}
	return props
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Capture
		{
			Name:        "assist_ask_text",
			Description: "Send text through the capture pipeline and a prompt template (translate, explain, code assist). Returns the model's answer, or a failure with a user-facing notice.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": contextProperties(map[string]interface{}{
					"text": map[string]interface{}{
						"type":        "string",
						"description": "Text to process, as if it had been selected on screen",
					},
					"template": map[string]interface{}{
						"type":        "string",
						"description": "Template ID for this request only. Defaults to the session's template",
					},
				}),
				"required": []string{"text"},
			},
		},
		{
			Name:        "assist_ask_image",
			Description: "Run an image through preprocessing, OCR (text, tables, formulas) and a prompt template. Provide either a file path or base64 data.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": contextProperties(map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to a PNG, JPEG, GIF, BMP, TIFF or WebP file",
					},
					"data": map[string]interface{}{
						"type":        "string",
						"description": "Base64-encoded image bytes",
					},
					"template": map[string]interface{}{
						"type":        "string",
						"description": "Template ID for this request only",
					},
				}),
			},
		},
		{
			Name:        "assist_cancel",
			Description: "Cancel an ask that is still running. A response that already started streaming is kept in the session as cancelled.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"run_id": map[string]interface{}{
						"type":        "string",
						"description": "Run ID announced when the ask started",
					},
				},
				"required": []string{"run_id"},
			},
		},

		// Sessions and templates
		{
			Name:        "assist_templates",
			Description: "List the available prompt templates with their required fields and context window.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "assist_select_template",
			Description: "Make a template the default for the current session.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": contextProperties(map[string]interface{}{
					"template": map[string]interface{}{
						"type":        "string",
						"description": "Template ID",
					},
				}),
				"required": []string{"template"},
			},
		},
		{
			Name:        "assist_reset_session",
			Description: "Archive the current session so the next ask starts without conversation history.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": contextProperties(map[string]interface{}{}),
			},
		},

		// Inspection
		{
			Name:        "assist_history",
			Description: "List recent results from the clipboard history, newest first.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum entries to return. Default 20",
						"default":     20,
					},
				},
			},
		},
		{
			Name:        "assist_status",
			Description: "Report OCR engine availability, live and archived sessions, runs in flight and unavailable capture modes.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
