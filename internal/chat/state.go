package chat

import "homora/internal/models"

type UpdateKind string

const (
	UpdateTranscript UpdateKind = "transcript"
	UpdatePartial    UpdateKind = "partial"
	UpdateStreaming  UpdateKind = "streaming"
	UpdateBranch     UpdateKind = "branch"
	UpdateReset      UpdateKind = "reset"
)

// Snapshot is a copy of the observable controller state.
type Snapshot struct {
	ConversationID string                `json:"conversation_id"`
	Title          string                `json:"title,omitempty"`
	Messages       []models.Message      `json:"messages"`
	Streaming      bool                  `json:"streaming"`
	PartialContent string                `json:"partial_content"`
	PendingBranch  *models.PendingBranch `json:"pending_branch,omitempty"`
	BranchMarkers  []models.BranchMarker `json:"branch_markers,omitempty"`
}

// Update is published to subscribers after every state change. Turn is the id of the
// running turn that caused it, or zero.
type Update struct {
	Kind     UpdateKind `json:"kind"`
	Turn     uint64     `json:"turn,omitempty"`
	Snapshot Snapshot   `json:"snapshot"`
}

const subscriberBuffer = 64

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		ConversationID: c.conversationID,
		Title:          c.title,
		Messages:       append([]models.Message{}, c.messages...),
		Streaming:      c.streaming,
		PartialContent: c.partial,
		BranchMarkers:  append([]models.BranchMarker(nil), c.branchMarkers...),
	}
	if c.pending != nil {
		p := *c.pending
		snap.PendingBranch = &p
	}
	return snap
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers for state updates. Updates are dropped for a subscriber whose
// buffer is full; call the returned func to unsubscribe.
func (c *Controller) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
		c.mu.Unlock()
	}
}

func (c *Controller) publishLocked(kind UpdateKind) {
	if len(c.subs) == 0 {
		return
	}
	u := Update{Kind: kind, Turn: c.activeTurn, Snapshot: c.snapshotLocked()}
	for _, ch := range c.subs {
		select {
		case ch <- u:
		default:
		}
	}
}
