package backend

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"homora/internal/models"
)

// maxEventSize caps one SSE line; debug_info payloads carry prompt text and chunk excerpts.
const maxEventSize = 4 << 20

// sseReader splits a Server-Sent Events body into event payloads.
type sseReader struct {
	reader *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{reader: bufio.NewReaderSize(r, 64<<10)}
}

// readEvent returns the joined data lines of the next event, or io.EOF at stream close.
// A final event without a terminating blank line is still returned.
func (s *sseReader) readEvent() ([]byte, error) {
	var dataLines [][]byte
	for {
		line, err := s.readLine()
		if err != nil {
			if err == io.EOF && len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			return nil, err
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}
		if bytes.HasPrefix(line, []byte("data:")) {
			data := line[len("data:"):]
			if len(data) > 0 && data[0] == ' ' {
				data = data[1:]
			}
			dataLines = append(dataLines, append([]byte(nil), data...))
		}
		// event:, id:, retry: and ":" comments carry nothing we use.
	}
}

func (s *sseReader) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := s.reader.ReadLine()
		if err != nil {
			if err == io.EOF && len(buf) > 0 {
				return buf, nil
			}
			return nil, err
		}
		buf = append(buf, chunk...)
		if len(buf) > maxEventSize {
			return nil, fmt.Errorf("sse line exceeds %d bytes", maxEventSize)
		}
		if !isPrefix {
			return buf, nil
		}
	}
}

// EventStream yields the events of one chat turn in order.
type EventStream interface {
	// Next returns the next event, or io.EOF when the backend closed the stream.
	Next() (models.StreamEvent, error)
	Close() error
}

type httpEventStream struct {
	body   io.ReadCloser
	reader *sseReader
}

func (s *httpEventStream) Next() (models.StreamEvent, error) {
	data, err := s.reader.readEvent()
	if err != nil {
		return nil, err
	}
	return models.DecodeStreamEvent(data)
}

func (s *httpEventStream) Close() error {
	return s.body.Close()
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// StreamChat opens a chat turn. An empty conversationID starts a new conversation;
// the backend assigns its id in the complete event.
func (c *Client) StreamChat(ctx context.Context, projectID, message, conversationID string) (EventStream, error) {
	req, err := c.newRequest(ctx, http.MethodPost, projectPath(projectID, "chat", "stream"), nil,
		chatRequest{Message: message, ConversationID: conversationID})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open chat stream: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return &httpEventStream{body: resp.Body, reader: newSSEReader(resp.Body)}, nil
}
