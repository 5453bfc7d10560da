package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"homora/internal/chat"
	"homora/internal/models"
	"homora/internal/session"
	"homora/internal/worker"
)

type messageRequest struct {
	Content string `json:"content"`
}

func chatPayload(st *session.State) gin.H {
	return gin.H{
		"chat":                st.Chat.Snapshot(),
		"suggested_followups": st.Chat.SuggestedFollowups(),
	}
}

func (h *Handler) getChat(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	payload := chatPayload(st)
	payload["queued"] = h.workers.Pending(st.SessionID)
	c.JSON(http.StatusOK, payload)
}

// sendMessage runs one chat turn on the worker pool and relays it as server-sent events:
// ack (optimistic user message), stream (text deltas), then done or error. The turn
// keeps running if the client disconnects.
func (h *Handler) sendMessage(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	turn, err := st.Chat.BeginTurn(req.Content)
	if err != nil {
		h.writeError(c, err)
		return
	}

	events, err := startEvents(c)
	if err != nil {
		turn.Release()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	updates, unsubscribe := st.Chat.Subscribe()
	defer unsubscribe()

	done := make(chan error, 1)
	err = h.workers.Submit(worker.Job{
		Key:  st.SessionID,
		Name: "chat-turn",
		Run: func(ctx context.Context) {
			turnCtx, cancel := context.WithTimeout(ctx, h.streamTimeout)
			defer cancel()
			done <- turn.Run(turnCtx)
		},
	})
	if err != nil {
		turn.Release()
		msg := err.Error()
		if errors.Is(err, worker.ErrDispatcherBusy) {
			msg = "server is busy, please retry"
		}
		_ = events.send("error", gin.H{"message": msg})
		return
	}
	h.relayTurn(c.Request.Context(), events, st, turn.ID, updates, done)
}

// turnRelay turns the snapshots of one turn into ack and stream events.
type turnRelay struct {
	events *eventWriter
	turnID uint64
	acked  bool
	sent   string
}

func (r *turnRelay) apply(u chat.Update) error {
	if u.Turn != r.turnID {
		return nil
	}
	snap := u.Snapshot
	if !r.acked && snap.Streaming && len(snap.Messages) > 0 {
		r.acked = true
		last := snap.Messages[len(snap.Messages)-1]
		if err := r.events.send("ack", gin.H{"message": last, "conversation_id": snap.ConversationID}); err != nil {
			return err
		}
	}
	if u.Kind != chat.UpdatePartial {
		return nil
	}
	delta := snap.PartialContent
	if strings.HasPrefix(delta, r.sent) {
		delta = delta[len(r.sent):]
	}
	r.sent = snap.PartialContent
	if delta == "" {
		return nil
	}
	return r.events.send("stream", gin.H{"content": delta})
}

// drain applies the updates already buffered without waiting for more.
func (r *turnRelay) drain(updates <-chan chat.Update) {
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := r.apply(u); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (h *Handler) relayTurn(ctx context.Context, events *eventWriter, st *session.State, turnID uint64, updates <-chan chat.Update, done <-chan error) {
	relay := &turnRelay{events: events, turnID: turnID}
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if err := relay.apply(u); err != nil {
				return
			}
		case err := <-done:
			if updates != nil {
				relay.drain(updates)
			}
			if err != nil {
				if !errors.Is(err, chat.ErrAbandoned) {
					h.logger.Debug("chat turn ended with error", zap.String("session", st.SessionID), zap.Error(err))
				}
				_ = events.send("error", gin.H{"message": turnErrorMessage(err)})
				return
			}
			_ = events.send("done", chatPayload(st))
			return
		case <-ctx.Done():
			return
		}
	}
}

func turnErrorMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrAbandoned):
		return "conversation changed while the answer was streaming"
	case errors.Is(err, context.DeadlineExceeded):
		return "the answer took too long"
	default:
		return err.Error()
	}
}

func (h *Handler) newConversation(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	st.Chat.StartNewConversation()
	c.JSON(http.StatusOK, chatPayload(st))
}

func (h *Handler) loadConversation(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	summary := models.ConversationSummary{ID: c.Param("cid"), ProjectID: st.ProjectID}
	if _, err := st.Chat.LoadConversation(c.Request.Context(), summary); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, chatPayload(st))
}

func (h *Handler) editMessage(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := st.Chat.EditAndRegenerate(detached(c), c.Param("mid"), req.Content)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"branch": res, "pending_branch": st.Chat.PendingBranch()})
}

func (h *Handler) branchMarker(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	marker, found := st.Chat.BranchMarkerFor(c.Param("mid"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "message has no branches"})
		return
	}
	c.JSON(http.StatusOK, marker)
}

func (h *Handler) acceptBranch(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	if _, err := st.Chat.AcceptBranch(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, chatPayload(st))
}

func (h *Handler) dismissBranch(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	st.Chat.DismissBranch()
	c.JSON(http.StatusOK, chatPayload(st))
}

// resolveCitation loads the project's documents first if the session never listed them.
func (h *Handler) resolveCitation(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	var citation models.Citation
	if err := c.ShouldBindJSON(&citation); err != nil || citation.DocumentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "document_id is required"})
		return
	}
	if !st.Documents.Loaded() {
		docs, err := h.documents(c.Request.Context(), st.ProjectID)
		if err != nil {
			h.writeError(c, err)
			return
		}
		st.Documents.Set(docs)
	}
	doc := st.Chat.ResolveCitation(citation)
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "cited document is no longer available"})
		return
	}
	c.JSON(http.StatusOK, doc)
}
