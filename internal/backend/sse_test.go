package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homora/internal/models"
)

func TestSSEReaderFraming(t *testing.T) {
	raw := ": keepalive\n\n" +
		"event: message\ndata: first\n\n" +
		"\n\n" +
		"id: 7\ndata: line one\r\ndata: line two\r\n\r\n" +
		"retry: 100\ndata:tail"
	r := newSSEReader(strings.NewReader(raw))

	ev, err := r.readEvent()
	require.NoError(t, err)
	assert.Equal(t, "first", string(ev))

	ev, err = r.readEvent()
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", string(ev))

	ev, err = r.readEvent()
	require.NoError(t, err)
	assert.Equal(t, "tail", string(ev))

	_, err = r.readEvent()
	assert.Equal(t, io.EOF, err)
}

func TestStreamChatDecodesEvents(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/p-1/chat/stream", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["message"])
		_, hasConversation := body["conversation_id"]
		assert.False(t, hasConversation)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"type\":\"token\",\"content\":\"a\"}\n\n")
		_, _ = io.WriteString(w, "data: {\"type\":\"token\",\"content\":\"b\"}\n\n")
		_, _ = io.WriteString(w, "data: {\"type\":\"complete\",\"message_id\":\"m-1\",\"conversation_id\":\"c-1\"}\n\n")
	}))

	stream, err := c.StreamChat(context.Background(), "p-1", "hello", "")
	require.NoError(t, err)
	defer stream.Close()

	var got []models.StreamEvent
	for {
		ev, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, ev)
	}
	require.Len(t, got, 3)
	assert.Equal(t, models.TokenEvent{Content: "a"}, got[0])
	assert.Equal(t, models.TokenEvent{Content: "b"}, got[1])
	complete, ok := got[2].(models.CompleteEvent)
	require.True(t, ok)
	assert.Equal(t, "c-1", complete.ConversationID)
}

func TestStreamChatRejectsErrorStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"detail":"No documents have been processed yet"}`)
	}))

	_, err := c.StreamChat(context.Background(), "p-1", "hello", "c-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No documents have been processed yet")
}
