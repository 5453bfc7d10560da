package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"homora/internal/backend"
	"homora/internal/cache"
	"homora/internal/models"
	"homora/internal/notify"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedStream replays events, then reports EOF (or err when set). When gate is
// non-nil, each event waits for a receive on gate or for ctx cancellation.
type scriptedStream struct {
	ctx    context.Context
	events []models.StreamEvent
	err    error
	gate   chan struct{}
	closed bool
}

func (s *scriptedStream) Next() (models.StreamEvent, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-s.ctx.Done():
			return nil, s.ctx.Err()
		}
	}
	if len(s.events) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

type fakeTransport struct {
	mu       sync.Mutex
	scripts  []*scriptedStream
	openErr  error
	requests []streamRequest
	opened   chan struct{}
}

type streamRequest struct {
	projectID, message, conversationID string
}

func (f *fakeTransport) StreamChat(ctx context.Context, projectID, message, conversationID string) (backend.EventStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, streamRequest{projectID, message, conversationID})
	if f.opened != nil {
		defer func() { f.opened <- struct{}{} }()
	}
	if f.openErr != nil {
		return nil, f.openErr
	}
	s := f.scripts[0]
	f.scripts = f.scripts[1:]
	s.ctx = ctx
	return s, nil
}

type fakeStore struct {
	conversations map[string]*models.Conversation
	branch        models.BranchResult
	branchErr     error
	edits         int
}

func (f *fakeStore) GetConversation(_ context.Context, _, conversationID string) (*models.Conversation, error) {
	conv, ok := f.conversations[conversationID]
	if !ok {
		return nil, &backend.APIError{Status: 404, Detail: "Conversation not found"}
	}
	return conv, nil
}

func (f *fakeStore) EditAndRegenerate(context.Context, string, string, string, string) (models.BranchResult, error) {
	f.edits++
	return f.branch, f.branchErr
}

type countingInvalidator struct {
	mu   sync.Mutex
	keys [][]string
}

func (c *countingInvalidator) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, keys)
	return nil
}

type harness struct {
	ctrl        *Controller
	transport   *fakeTransport
	store       *fakeStore
	notices     *notify.Recorder
	invalidator *countingInvalidator
	docs        *DocumentSet
}

func newHarness(t *testing.T, scripts ...*scriptedStream) *harness {
	t.Helper()
	h := &harness{
		transport:   &fakeTransport{scripts: scripts},
		store:       &fakeStore{conversations: map[string]*models.Conversation{}},
		notices:     &notify.Recorder{},
		invalidator: &countingInvalidator{},
		docs:        &DocumentSet{},
	}
	ctrl, err := NewController("p-1", Deps{
		Transport:   h.transport,
		Store:       h.store,
		Notifier:    h.notices,
		Invalidator: h.invalidator,
		Documents:   h.docs,
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

func script(events ...models.StreamEvent) *scriptedStream {
	return &scriptedStream{events: events}
}

func TestSendMessageAccumulatesTokens(t *testing.T) {
	page := 3
	h := newHarness(t, script(
		models.TokenEvent{Content: "a"},
		models.TokenEvent{Content: "b"},
		models.CompleteEvent{
			MessageID:          "m-2",
			ConversationID:     "c-1",
			Citations:          []models.Citation{{DocumentID: "d-1", DocumentName: "lease.pdf", Page: &page}},
			SuggestedFollowups: []string{"When does the lease end?"},
		},
	))

	require.NoError(t, h.ctrl.SendMessage(context.Background(), "What is the rent?"))

	snap := h.ctrl.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, models.RoleUser, snap.Messages[0].Role)
	assert.True(t, models.IsTemporaryID(snap.Messages[0].ID))
	assert.Equal(t, "ab", snap.Messages[1].Content)
	assert.Equal(t, "m-2", snap.Messages[1].ID)
	assert.Len(t, snap.Messages[1].Citations, 1)
	assert.Equal(t, "c-1", snap.ConversationID)
	assert.False(t, snap.Streaming)
	assert.Empty(t, snap.PartialContent)
	assert.Equal(t, []string{"When does the lease end?"}, h.ctrl.SuggestedFollowups())
	assert.Equal(t, [][]string{{cache.ConversationsKey("p-1")}}, h.invalidator.keys)
	assert.Empty(t, h.notices.Notices())
}

func TestSendMessageUsesHeldConversation(t *testing.T) {
	h := newHarness(t,
		script(models.CompleteEvent{MessageID: "m-1", ConversationID: "c-9"}),
		script(models.CompleteEvent{MessageID: "m-2", ConversationID: "c-9"}),
	)
	var adopted []string
	h.ctrl.onAdopt = func(id string) { adopted = append(adopted, id) }

	require.NoError(t, h.ctrl.SendMessage(context.Background(), "first"))
	require.NoError(t, h.ctrl.SendMessage(context.Background(), "second"))

	require.Len(t, h.transport.requests, 2)
	assert.Equal(t, "", h.transport.requests[0].conversationID)
	assert.Equal(t, "c-9", h.transport.requests[1].conversationID)
	assert.Equal(t, []string{"c-9"}, adopted)
}

func TestSendMessageErrorEventRollsBack(t *testing.T) {
	h := newHarness(t,
		script(models.CompleteEvent{MessageID: "m-1", ConversationID: "c-1"}),
		script(models.ErrorEvent{Content: "LLM quota exceeded"}),
	)
	require.NoError(t, h.ctrl.SendMessage(context.Background(), "first"))
	before := h.ctrl.Snapshot().Messages

	err := h.ctrl.SendMessage(context.Background(), "second")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamFailed)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, before, snap.Messages)
	assert.False(t, snap.Streaming)
	assert.Empty(t, snap.PartialContent)
	assert.Equal(t, []string{"LLM quota exceeded"}, h.notices.Messages(models.NoticeError))
}

func TestSendMessageTransportFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.transport.openErr = errors.New("connection refused")

	err := h.ctrl.SendMessage(context.Background(), "hello")
	require.Error(t, err)

	snap := h.ctrl.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.False(t, snap.Streaming)
	assert.Equal(t, []string{sendFailedNotice}, h.notices.Messages(models.NoticeError))
}

func TestSendMessageMidStreamFailureDiscardsPartial(t *testing.T) {
	broken := script(models.TokenEvent{Content: "half"})
	broken.err = errors.New("connection reset")
	h := newHarness(t, broken)

	require.Error(t, h.ctrl.SendMessage(context.Background(), "hello"))
	snap := h.ctrl.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.PartialContent)
	assert.Len(t, h.notices.Messages(models.NoticeError), 1)
	assert.True(t, broken.closed)
}

func TestSendMessageTruncatedStreamKeepsPartial(t *testing.T) {
	h := newHarness(t, script(models.TokenEvent{Content: "partial"}))

	require.NoError(t, h.ctrl.SendMessage(context.Background(), "hello"))

	snap := h.ctrl.Snapshot()
	require.Len(t, snap.Messages, 2)
	last := snap.Messages[1]
	assert.Equal(t, models.RoleAssistant, last.Role)
	assert.Equal(t, "partial", last.Content)
	assert.True(t, models.IsIncompleteID(last.ID))
	assert.Empty(t, last.Citations)
	assert.Empty(t, last.SuggestedFollowups)
	assert.False(t, snap.Streaming)
	assert.Empty(t, h.notices.Notices())
}

func TestSendMessageRejectsEmptyAndReentrant(t *testing.T) {
	gated := script(models.TokenEvent{Content: "x"}, models.CompleteEvent{MessageID: "m-1"})
	gated.gate = make(chan struct{})
	h := newHarness(t, gated)
	h.transport.opened = make(chan struct{}, 1)

	assert.ErrorIs(t, h.ctrl.SendMessage(context.Background(), "   "), ErrEmptyMessage)

	done := make(chan error, 1)
	go func() { done <- h.ctrl.SendMessage(context.Background(), "first") }()
	<-h.transport.opened

	snap := h.ctrl.Snapshot()
	assert.True(t, snap.Streaming)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, models.RoleUser, snap.Messages[0].Role)

	assert.ErrorIs(t, h.ctrl.SendMessage(context.Background(), "second"), ErrStreamInProgress)
	assert.Len(t, h.ctrl.Snapshot().Messages, 1)

	gated.gate <- struct{}{}
	gated.gate <- struct{}{}
	require.NoError(t, <-done)
	assert.Len(t, h.ctrl.Snapshot().Messages, 2)
}

func TestBeginTurnReservesUntilRunOrRelease(t *testing.T) {
	h := newHarness(t, script(models.TokenEvent{Content: "a"}, models.CompleteEvent{MessageID: "m-1"}))

	turn, err := h.ctrl.BeginTurn("first")
	require.NoError(t, err)
	_, err = h.ctrl.BeginTurn("second")
	assert.ErrorIs(t, err, ErrStreamInProgress)
	assert.ErrorIs(t, h.ctrl.SendMessage(context.Background(), "third"), ErrStreamInProgress)
	assert.Empty(t, h.transport.requests)

	turn.Release()
	assert.ErrorIs(t, turn.Run(context.Background()), ErrTurnClosed)

	next, err := h.ctrl.BeginTurn("fourth")
	require.NoError(t, err)
	require.NoError(t, next.Run(context.Background()))
	assert.ErrorIs(t, next.Run(context.Background()), ErrTurnClosed)
	require.Len(t, h.transport.requests, 1)
	assert.Equal(t, "fourth", h.transport.requests[0].message)

	_, err = h.ctrl.BeginTurn("fifth")
	assert.NoError(t, err)
}

func TestReservedTurnAbandonedByConversationSwitch(t *testing.T) {
	h := newHarness(t)
	turn, err := h.ctrl.BeginTurn("hello")
	require.NoError(t, err)

	h.ctrl.StartNewConversation()
	assert.ErrorIs(t, turn.Run(context.Background()), ErrAbandoned)
	assert.Empty(t, h.transport.requests)
	assert.Empty(t, h.ctrl.Snapshot().Messages)
	assert.Empty(t, h.notices.Notices())
}

func TestUpdatesCarryTurnID(t *testing.T) {
	h := newHarness(t,
		script(models.TokenEvent{Content: "a"}, models.CompleteEvent{MessageID: "m-1"}),
		script(models.TokenEvent{Content: "b"}, models.CompleteEvent{MessageID: "m-2"}),
	)
	require.NoError(t, h.ctrl.SendMessage(context.Background(), "one"))

	updates, unsubscribe := h.ctrl.Subscribe()
	turn, err := h.ctrl.BeginTurn("two")
	require.NoError(t, err)
	require.NoError(t, turn.Run(context.Background()))
	h.ctrl.StartNewConversation()
	unsubscribe()

	var turns []uint64
	for u := range updates {
		turns = append(turns, u.Turn)
	}
	assert.Equal(t, []uint64{turn.ID, turn.ID, turn.ID, turn.ID, 0}, turns)
}

func TestStartNewConversationAbandonsStream(t *testing.T) {
	gated := script(models.TokenEvent{Content: "late"}, models.CompleteEvent{MessageID: "m-1", ConversationID: "c-old"})
	gated.gate = make(chan struct{})
	h := newHarness(t, gated)
	h.transport.opened = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- h.ctrl.SendMessage(context.Background(), "hello") }()
	<-h.transport.opened

	h.ctrl.StartNewConversation()
	assert.ErrorIs(t, <-done, ErrAbandoned)

	snap := h.ctrl.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.ConversationID)
	assert.False(t, snap.Streaming)
	assert.Empty(t, h.notices.Notices())
	assert.Empty(t, h.invalidator.keys)
}

func TestLoadConversationReplacesTranscript(t *testing.T) {
	h := newHarness(t)
	h.store.conversations["c-1"] = &models.Conversation{
		ID:    "c-1",
		Title: "Lease review",
		Messages: []models.Message{
			{ID: "m-1", Role: models.RoleUser, Content: "rent?"},
			{ID: "m-2", Role: models.RoleAssistant, Content: "1000"},
		},
		BranchMarkers: []models.BranchMarker{{MessageID: "m-1", Count: 1, BranchConversationIDs: []string{"c-2"}}},
	}
	h.ctrl.pending = &models.PendingBranch{ConversationID: "c-x"}

	conv, err := h.ctrl.LoadConversation(context.Background(), models.ConversationSummary{ID: "c-1"})
	require.NoError(t, err)
	assert.Equal(t, "Lease review", conv.Title)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, "c-1", snap.ConversationID)
	assert.Len(t, snap.Messages, 2)
	assert.Nil(t, snap.PendingBranch)

	marker, ok := h.ctrl.BranchMarkerFor("m-1")
	require.True(t, ok)
	assert.Equal(t, []string{"c-2"}, marker.BranchConversationIDs)
	_, ok = h.ctrl.BranchMarkerFor("m-2")
	assert.False(t, ok)

	_, err = h.ctrl.LoadConversation(context.Background(), models.ConversationSummary{ID: "missing"})
	require.Error(t, err)
	assert.True(t, backend.IsNotFound(err))
	assert.Equal(t, "c-1", h.ctrl.ConversationID())
}

func TestEditAndRegenerateOffersBranchWithoutTouchingTranscript(t *testing.T) {
	h := newHarness(t)
	h.store.conversations["c-1"] = &models.Conversation{
		ID: "c-1",
		Messages: []models.Message{
			{ID: "m-1", Role: models.RoleUser, Content: "rent?"},
			{ID: "m-2", Role: models.RoleAssistant, Content: "1000"},
		},
	}
	h.store.conversations["c-2"] = &models.Conversation{
		ID:       "c-2",
		Messages: []models.Message{{ID: "m-9", Role: models.RoleUser, Content: "deposit?"}},
	}
	h.store.branch = models.BranchResult{NewConversationID: "c-2", Title: "Deposit"}
	_, err := h.ctrl.LoadConversation(context.Background(), models.ConversationSummary{ID: "c-1"})
	require.NoError(t, err)
	before := h.ctrl.Snapshot().Messages

	res, err := h.ctrl.EditAndRegenerate(context.Background(), "m-1", "deposit?")
	require.NoError(t, err)
	assert.Equal(t, "c-2", res.NewConversationID)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, before, snap.Messages)
	assert.Equal(t, "c-1", snap.ConversationID)
	require.NotNil(t, snap.PendingBranch)
	assert.Equal(t, models.PendingBranch{ConversationID: "c-2", Title: "Deposit"}, *snap.PendingBranch)

	conv, err := h.ctrl.AcceptBranch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c-2", conv.ID)
	assert.Nil(t, h.ctrl.PendingBranch())
	assert.Equal(t, "c-2", h.ctrl.ConversationID())
}

func TestEditAndRegenerateFailurePropagates(t *testing.T) {
	h := newHarness(t)
	h.store.conversations["c-1"] = &models.Conversation{
		ID:       "c-1",
		Messages: []models.Message{{ID: "m-1", Role: models.RoleUser, Content: "rent?"}},
	}
	_, err := h.ctrl.LoadConversation(context.Background(), models.ConversationSummary{ID: "c-1"})
	require.NoError(t, err)

	h.store.branchErr = &backend.APIError{Status: 500, Detail: "regeneration failed"}
	_, err = h.ctrl.EditAndRegenerate(context.Background(), "m-1", "deposit?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "regeneration failed")
	assert.Nil(t, h.ctrl.PendingBranch())
	assert.Empty(t, h.notices.Notices())

	_, err = h.ctrl.EditAndRegenerate(context.Background(), "temp-1", "x")
	assert.ErrorIs(t, err, ErrUnsavedMessage)
	_, err = h.ctrl.EditAndRegenerate(context.Background(), "m-404", "x")
	assert.ErrorIs(t, err, ErrUnknownMessage)
	assert.Equal(t, 1, h.store.edits)
}

func TestDismissBranch(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.AcceptBranch(context.Background())
	assert.ErrorIs(t, err, ErrNoPendingBranch)

	h.ctrl.pending = &models.PendingBranch{ConversationID: "c-2"}
	h.ctrl.DismissBranch()
	assert.Nil(t, h.ctrl.PendingBranch())
}

func TestResolveCitation(t *testing.T) {
	h := newHarness(t)
	h.docs.Set([]models.Document{{ID: "d-1", Filename: "lease.pdf"}, {ID: "d-2", Filename: "deed.pdf"}})

	doc := h.ctrl.ResolveCitation(models.Citation{DocumentID: "d-2"})
	require.NotNil(t, doc)
	assert.Equal(t, "deed.pdf", doc.Filename)

	assert.Nil(t, h.ctrl.ResolveCitation(models.Citation{DocumentID: "d-removed"}))
	assert.Nil(t, h.ctrl.ResolveCitation(models.Citation{}))
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	h := newHarness(t, script(models.TokenEvent{Content: "a"}, models.CompleteEvent{MessageID: "m-1"}))
	updates, unsubscribe := h.ctrl.Subscribe()

	require.NoError(t, h.ctrl.SendMessage(context.Background(), "hi"))
	unsubscribe()

	var kinds []UpdateKind
	for u := range updates {
		kinds = append(kinds, u.Kind)
	}
	assert.Equal(t, []UpdateKind{UpdateTranscript, UpdatePartial, UpdateTranscript, UpdateStreaming}, kinds)
}

func TestNewControllerValidatesDeps(t *testing.T) {
	_, err := NewController("", Deps{})
	require.Error(t, err)
	_, err = NewController("p-1", Deps{Transport: &fakeTransport{}})
	require.Error(t, err)
}

func TestClockDrivesLocalIDs(t *testing.T) {
	h := newHarness(t, script(models.TokenEvent{Content: "x"}))
	fixed := time.UnixMilli(1700000000000)
	WithClock(func() time.Time { return fixed })(h.ctrl)

	require.NoError(t, h.ctrl.SendMessage(context.Background(), "hi"))
	snap := h.ctrl.Snapshot()
	assert.Equal(t, "temp-1700000000000", snap.Messages[0].ID)
	assert.Equal(t, "incomplete-1700000000000", snap.Messages[1].ID)
}
