package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/ironsheep/capture-assistant/internal/failure"
)

// Stream yields response text in arrival order. It is not safe for
// concurrent use.
type Stream struct {
	ctx     context.Context
	body    io.Closer
	scanner *bufio.Scanner
	pending []string
	done    bool
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

func newSSEStream(ctx context.Context, body io.ReadCloser) *Stream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	return &Stream{ctx: ctx, body: body, scanner: sc}
}

// newSingleStream reads a non-streaming response as a one-chunk stream.
func newSingleStream(ctx context.Context, body io.ReadCloser) (*Stream, error) {
	defer body.Close()
	raw, err := io.ReadAll(body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, failure.Wrap(failure.EndpointUnreachable, "read response", err)
	}
	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, failure.Wrap(failure.EndpointRejected, "decode response", err)
	}
	if resp.Error != nil {
		return nil, failure.New(failure.EndpointRejected, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, failure.New(failure.EndpointRejected, "response has no choices")
	}
	s := &Stream{ctx: ctx, body: io.NopCloser(nil)}
	if c := resp.Choices[0].Message.Content; c != "" {
		s.pending = []string{c}
	}
	s.done = true
	return s, nil
}

// Next returns the next non-empty chunk, or io.EOF after the final one. A
// connection that ends before the terminating event fails with
// EndpointUnreachable; a cancelled context yields context.Cause.
func (s *Stream) Next() (string, error) {
	for {
		if len(s.pending) > 0 {
			c := s.pending[0]
			s.pending = s.pending[1:]
			return c, nil
		}
		if s.done {
			return "", io.EOF
		}
		if err := s.readEvent(); err != nil {
			s.done = true
			return "", err
		}
	}
}

func (s *Stream) readEvent() error {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			// blank separators, comments and event/id fields
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.done = true
			return nil
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return failure.Wrap(failure.EndpointUnreachable, "malformed stream event", err)
		}
		if chunk.Error != nil {
			return failure.New(failure.EndpointUnreachable, "stream error: "+chunk.Error.Message)
		}
		for _, ch := range chunk.Choices {
			if ch.Delta.Content != "" {
				s.pending = append(s.pending, ch.Delta.Content)
			}
		}
		if len(s.pending) > 0 {
			return nil
		}
	}

	if s.ctx.Err() != nil {
		return context.Cause(s.ctx)
	}
	if err := s.scanner.Err(); err != nil {
		return failure.Wrap(failure.EndpointUnreachable, "stream interrupted", err)
	}
	return failure.New(failure.EndpointUnreachable, "stream ended before completion")
}

// Collect reads the remaining chunks and returns them joined.
func (s *Stream) Collect() (string, error) {
	var b strings.Builder
	for {
		c, err := s.Next()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(c)
	}
}

// Close releases the connection.
func (s *Stream) Close() error {
	s.done = true
	return s.body.Close()
}
