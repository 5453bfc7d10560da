package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"homora/internal/cache"
	"homora/internal/metrics"
	"homora/internal/models"
)

var (
	ErrEmptyMessage     = errors.New("message is empty")
	ErrStreamInProgress = errors.New("a response is still streaming")
	ErrStreamFailed     = errors.New("chat stream failed")

	// ErrAbandoned is returned by SendMessage when the session moved to another
	// conversation while the turn was streaming. Nothing was applied or reported.
	ErrAbandoned = errors.New("chat stream abandoned")

	ErrNoConversation  = errors.New("no conversation loaded")
	ErrUnknownMessage  = errors.New("message not in transcript")
	ErrUnsavedMessage  = errors.New("message has not been saved yet")
	ErrNoPendingBranch = errors.New("no pending branch")
	ErrTurnClosed      = errors.New("chat turn already run or released")
)

const sendFailedNotice = "Failed to send message"

// Controller owns the transcript of one conversation in one project and drives
// chat turns into it.
type Controller struct {
	projectID string
	deps      Deps
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	onAdopt   func(conversationID string)

	mu             sync.Mutex
	conversationID string
	title          string
	messages       []models.Message
	branchMarkers  []models.BranchMarker
	streaming      bool
	reserved       bool
	partial        string
	pending        *models.PendingBranch

	// generation changes whenever the session switches conversation; a stream only
	// touches state while the generation it started under is current.
	generation   uint64
	turnSeq      uint64
	activeTurn   uint64
	cancelStream context.CancelFunc
	subs         map[int]chan Update
	nextSub      int
}

type Option func(*Controller)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// OnConversationAdopted is called (outside the controller lock) when a turn assigns
// or changes the conversation id.
func OnConversationAdopted(fn func(conversationID string)) Option {
	return func(c *Controller) { c.onAdopt = fn }
}

func NewController(projectID string, deps Deps, opts ...Option) (*Controller, error) {
	if projectID == "" {
		return nil, errors.New("project id required")
	}
	if deps.Transport == nil || deps.Store == nil || deps.Notifier == nil {
		return nil, errors.New("transport, store and notifier are required")
	}
	c := &Controller{
		projectID: projectID,
		deps:      deps,
		logger:    zap.NewNop(),
		now:       time.Now,
		subs:      make(map[int]chan Update),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Controller) ProjectID() string { return c.projectID }

func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

func (c *Controller) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// Turn is a chat turn reserved by BeginTurn. No other turn can begin while it is
// reserved or running.
type Turn struct {
	ID      uint64
	c       *Controller
	content string
	gen     uint64
	once    sync.Once
}

// BeginTurn reserves the next chat turn of the session.
func (c *Controller) BeginTurn(content string) (*Turn, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming || c.reserved {
		c.metrics.ChatTurn(metrics.TurnRejected)
		return nil, ErrStreamInProgress
	}
	c.reserved = true
	c.turnSeq++
	return &Turn{ID: c.turnSeq, c: c, content: content, gen: c.generation}, nil
}

// Release gives up a turn that will not be run.
func (t *Turn) Release() {
	t.once.Do(func() {
		t.c.mu.Lock()
		t.c.reserved = false
		t.c.mu.Unlock()
	})
}

// Run runs the reserved turn to completion. A turn runs at most once. When the session
// moved to another conversation since BeginTurn, nothing is sent and ErrAbandoned is
// returned.
func (t *Turn) Run(ctx context.Context) error {
	run := false
	t.once.Do(func() { run = true })
	if !run {
		return ErrTurnClosed
	}
	return t.c.run(ctx, t)
}

// SendMessage runs one chat turn to completion. The optimistic user message is in the
// transcript before the stream is opened. Stream failures roll that message back and
// produce exactly one error notice; the failure is also returned.
func (c *Controller) SendMessage(ctx context.Context, content string) error {
	turn, err := c.BeginTurn(content)
	if err != nil {
		return err
	}
	return turn.Run(ctx)
}

func (c *Controller) run(ctx context.Context, t *Turn) error {
	c.mu.Lock()
	c.reserved = false
	if c.generation != t.gen {
		c.mu.Unlock()
		return ErrAbandoned
	}
	now := c.now()
	userMsg := models.Message{
		ID:        models.NewTemporaryID(now),
		Role:      models.RoleUser,
		Content:   t.content,
		CreatedAt: now,
	}
	c.activeTurn = t.ID
	c.messages = append(c.messages, userMsg)
	c.streaming = true
	c.partial = ""
	gen := c.generation
	conversationID := c.conversationID
	streamCtx, cancel := context.WithCancel(ctx)
	c.cancelStream = cancel
	c.publishLocked(UpdateTranscript)
	c.mu.Unlock()

	defer cancel()
	defer c.endStream(gen)

	return c.runTurn(streamCtx, gen, userMsg.ID, t.content, conversationID)
}

func (c *Controller) runTurn(ctx context.Context, gen uint64, tempID, content, conversationID string) error {
	stream, err := c.deps.Transport.StreamChat(ctx, c.projectID, content, conversationID)
	if err != nil {
		return c.fail(gen, tempID, "", fmt.Errorf("open chat stream: %w", err))
	}
	defer stream.Close()

	var acc strings.Builder
	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return c.fail(gen, tempID, "", fmt.Errorf("read chat stream: %w", err))
		}

		switch e := ev.(type) {
		case models.TokenEvent:
			c.metrics.StreamToken()
			acc.WriteString(e.Content)
			if !c.setPartial(gen, acc.String()) {
				return ErrAbandoned
			}
		case models.CompleteEvent:
			return c.complete(ctx, gen, acc.String(), e)
		case models.ErrorEvent:
			return c.fail(gen, tempID, e.Content, fmt.Errorf("%w: %s", ErrStreamFailed, e.Content))
		default:
			c.logger.Warn("ignoring stream event", zap.String("type", fmt.Sprintf("%T", ev)))
		}
	}

	if acc.Len() == 0 {
		c.logger.Warn("chat stream closed without content", zap.String("project", c.projectID))
		return nil
	}
	return c.finalizeIncomplete(gen, acc.String())
}

func (c *Controller) setPartial(gen uint64, partial string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return false
	}
	c.partial = partial
	c.publishLocked(UpdatePartial)
	return true
}

func (c *Controller) complete(ctx context.Context, gen uint64, content string, e models.CompleteEvent) error {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return ErrAbandoned
	}
	now := c.now()
	c.messages = append(c.messages, models.Message{
		ID:                 e.MessageID,
		Role:               models.RoleAssistant,
		Content:            content,
		Citations:          e.Citations,
		SuggestedFollowups: e.SuggestedFollowups,
		DebugInfo:          e.DebugInfo,
		CreatedAt:          now,
	})
	c.partial = ""
	adopted := ""
	if e.ConversationID != "" && e.ConversationID != c.conversationID {
		c.conversationID = e.ConversationID
		adopted = e.ConversationID
	}
	c.publishLocked(UpdateTranscript)
	c.mu.Unlock()

	c.metrics.ChatTurn(metrics.TurnComplete)
	if adopted != "" && c.onAdopt != nil {
		c.onAdopt(adopted)
	}
	c.invalidate(ctx, cache.ConversationsKey(c.projectID))
	return nil
}

func (c *Controller) finalizeIncomplete(gen uint64, content string) error {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return ErrAbandoned
	}
	now := c.now()
	c.messages = append(c.messages, models.Message{
		ID:        models.NewIncompleteID(now),
		Role:      models.RoleAssistant,
		Content:   content,
		CreatedAt: now,
	})
	c.partial = ""
	c.publishLocked(UpdateTranscript)
	c.mu.Unlock()

	c.metrics.ChatTurn(metrics.TurnIncomplete)
	c.logger.Warn("chat stream ended without complete event; kept partial answer",
		zap.String("project", c.projectID), zap.Int("chars", len(content)))
	return nil
}

// fail rolls back the optimistic user message and reports one error notice.
func (c *Controller) fail(gen uint64, tempID, detail string, cause error) error {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return ErrAbandoned
	}
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == tempID {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			break
		}
	}
	c.partial = ""
	c.publishLocked(UpdateTranscript)
	c.mu.Unlock()

	c.metrics.ChatTurn(metrics.TurnError)
	msg := strings.TrimSpace(detail)
	if msg == "" {
		msg = sendFailedNotice
	}
	c.deps.Notifier.Error(msg)
	c.logger.Warn("chat turn failed", zap.String("project", c.projectID), zap.Error(cause))
	return cause
}

// endStream clears the streaming flag and partial buffer. It runs on every exit path of a
// turn, including panics, but leaves a newer generation untouched.
func (c *Controller) endStream(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return
	}
	c.streaming = false
	c.partial = ""
	c.cancelStream = nil
	c.publishLocked(UpdateStreaming)
	c.activeTurn = 0
}

// abandonLocked moves the session to a new generation and cancels any in-flight stream.
func (c *Controller) abandonLocked() {
	c.generation++
	c.activeTurn = 0
	if c.cancelStream != nil {
		c.cancelStream()
		c.cancelStream = nil
	}
	c.streaming = false
	c.partial = ""
}

// LoadConversation replaces the transcript with the stored conversation.
func (c *Controller) LoadConversation(ctx context.Context, summary models.ConversationSummary) (*models.Conversation, error) {
	if summary.ID == "" {
		return nil, ErrNoConversation
	}
	conv, err := c.deps.Store.GetConversation(ctx, c.projectID, summary.ID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", summary.ID, err)
	}

	c.mu.Lock()
	c.abandonLocked()
	c.conversationID = conv.ID
	c.title = conv.Title
	if c.title == "" {
		c.title = summary.Title
	}
	c.messages = append([]models.Message(nil), conv.Messages...)
	c.branchMarkers = append([]models.BranchMarker(nil), conv.BranchMarkers...)
	c.pending = nil
	c.publishLocked(UpdateReset)
	c.mu.Unlock()
	return conv, nil
}

// StartNewConversation clears the session. The backend assigns the id on the first turn.
func (c *Controller) StartNewConversation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandonLocked()
	c.conversationID = ""
	c.title = ""
	c.messages = nil
	c.branchMarkers = nil
	c.pending = nil
	c.publishLocked(UpdateReset)
}

// EditAndRegenerate asks the backend to fork the conversation at messageID with newContent.
// The transcript is left as is; the result is offered as a pending branch.
func (c *Controller) EditAndRegenerate(ctx context.Context, messageID, newContent string) (models.BranchResult, error) {
	if strings.TrimSpace(newContent) == "" {
		return models.BranchResult{}, ErrEmptyMessage
	}
	if models.IsTemporaryID(messageID) || models.IsIncompleteID(messageID) {
		return models.BranchResult{}, ErrUnsavedMessage
	}

	c.mu.Lock()
	conversationID := c.conversationID
	gen := c.generation
	found := false
	for _, m := range c.messages {
		if m.ID == messageID {
			found = true
			break
		}
	}
	c.mu.Unlock()
	if conversationID == "" {
		return models.BranchResult{}, ErrNoConversation
	}
	if !found {
		return models.BranchResult{}, ErrUnknownMessage
	}

	res, err := c.deps.Store.EditAndRegenerate(ctx, c.projectID, conversationID, messageID, newContent)
	if err != nil {
		return models.BranchResult{}, fmt.Errorf("edit and regenerate: %w", err)
	}
	if res.NewConversationID == "" {
		return models.BranchResult{}, errors.New("edit and regenerate: backend returned no conversation id")
	}

	c.mu.Lock()
	if c.generation == gen {
		title := res.Title
		if title == "" {
			title = c.title
		}
		c.pending = &models.PendingBranch{ConversationID: res.NewConversationID, Title: title}
		c.publishLocked(UpdateBranch)
	}
	c.mu.Unlock()

	c.invalidate(ctx, cache.ConversationsKey(c.projectID))
	return res, nil
}

// PendingBranch returns the branch offered by the last successful edit, if any.
func (c *Controller) PendingBranch() *models.PendingBranch {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	p := *c.pending
	return &p
}

// AcceptBranch switches the session to the pending branch.
func (c *Controller) AcceptBranch(ctx context.Context) (*models.Conversation, error) {
	p := c.PendingBranch()
	if p == nil {
		return nil, ErrNoPendingBranch
	}
	return c.LoadConversation(ctx, models.ConversationSummary{
		ID:        p.ConversationID,
		ProjectID: c.projectID,
		Title:     p.Title,
	})
}

func (c *Controller) DismissBranch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return
	}
	c.pending = nil
	c.publishLocked(UpdateBranch)
}

// ResolveCitation returns the cited document, or nil when it is no longer known.
func (c *Controller) ResolveCitation(citation models.Citation) *models.Document {
	if c.deps.Documents == nil || citation.DocumentID == "" {
		return nil
	}
	for _, doc := range c.deps.Documents.KnownDocuments() {
		if doc.ID == citation.DocumentID {
			d := doc
			return &d
		}
	}
	return nil
}

// BranchMarkerFor reports the branches that editing messageID has produced.
func (c *Controller) BranchMarkerFor(messageID string) (models.BranchMarker, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.branchMarkers {
		if m.MessageID == messageID {
			m.BranchConversationIDs = append([]string(nil), m.BranchConversationIDs...)
			return m, true
		}
	}
	return models.BranchMarker{}, false
}

// SuggestedFollowups returns the follow-up questions of the final assistant answer.
func (c *Controller) SuggestedFollowups() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming || len(c.messages) == 0 {
		return nil
	}
	last := c.messages[len(c.messages)-1]
	if last.Role != models.RoleAssistant {
		return nil
	}
	return append([]string(nil), last.SuggestedFollowups...)
}

func (c *Controller) invalidate(ctx context.Context, keys ...string) {
	if c.deps.Invalidator == nil {
		return
	}
	if err := c.deps.Invalidator.Invalidate(ctx, keys...); err != nil {
		c.logger.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
