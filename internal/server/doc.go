// Package server implements the MCP (Model Context Protocol) control surface
// of the capture assistant.
//
// The server speaks JSON-RPC 2.0 over stdio so editors and agents can send
// text or images through the same capture pipeline the hotkeys use, and
// manage sessions and templates.
//
// # Protocol
//
// One JSON-RPC message per line:
//   - Input: requests on stdin
//   - Output: responses and notifications on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// tools/call requests run concurrently, so assist_cancel can stop an ask that
// is still streaming. Every ask announces its run ID in a
// notifications/message notification before the pipeline starts.
//
// # Available Tools
//
// Capture:
//   - assist_ask_text: Run text through a prompt template
//   - assist_ask_image: Run an image file or base64 payload through OCR and a template
//   - assist_cancel: Cancel an ask in flight, keeping any partial answer
//
// Sessions and templates:
//   - assist_templates: List prompt templates
//   - assist_select_template: Make a template the session default
//   - assist_reset_session: Archive the current session
//
// Inspection:
//   - assist_history: Recent results from the clipboard history
//   - assist_status: Engine, session and capture status
//
// # Error Handling
//
// Pipeline failures (no text found, endpoint rejected, ...) are tool results
// with isError set; the result carries the failure kind and its notice.
// Malformed calls are JSON-RPC errors:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: Additional error details (typically the Go error string)
package server
