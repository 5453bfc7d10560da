package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.ChatTurn(TurnComplete)
	m.ChatTurn(TurnIncomplete)
	m.StreamToken()
	m.TrashItem("restore", true)
	m.TrashItem("restore", false)
	m.CacheLookup(true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `homora_chat_turns_total{outcome="complete"} 1`)
	assert.Contains(t, text, `homora_trash_items_total{action="restore",outcome="failure"} 1`)
	assert.Contains(t, text, `homora_cache_requests_total{result="hit"} 1`)
	assert.Contains(t, text, "homora_stream_tokens_total 1")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ChatTurn(TurnError)
	m.StreamToken()
	m.TrashItem("purge", true)
	m.CacheLookup(false)
	assert.NotNil(t, m.Handler())
}
