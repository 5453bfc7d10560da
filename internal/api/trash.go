package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"homora/internal/models"
	"homora/internal/session"
	"homora/internal/trash"
)

func trashPayload(st *session.State) gin.H {
	return gin.H{
		"items":    st.Trash.Items(),
		"selected": st.Trash.Selected(),
		"state":    st.Trash.State(),
	}
}

// getTrash refreshes the listing. The selection survives only when the listing is unchanged.
func (h *Handler) getTrash(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	items, err := h.trashItems(c.Request.Context(), st.ProjectID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if st.Trash.State() == trash.StateIdle && (st.Trash.Stale() || !sameItems(st.Trash.Items(), items)) {
		st.Trash.SetItems(items)
	}
	c.JSON(http.StatusOK, trashPayload(st))
}

// freshTrash re-lists the trash when a mutation has run since the listing was loaded.
func (h *Handler) freshTrash(c *gin.Context, st *session.State) bool {
	if !st.Trash.Stale() {
		return true
	}
	items, err := h.trashItems(c.Request.Context(), st.ProjectID)
	if err != nil {
		h.writeError(c, err)
		return false
	}
	st.Trash.SetItems(items)
	return true
}

func sameItems(a, b []models.TrashItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

func (h *Handler) toggleTrashItem(c *gin.Context) {
	st, ok := h.state(c)
	if !ok || !h.freshTrash(c, st) {
		return
	}
	if err := st.Trash.Toggle(c.Param("item_id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trashPayload(st))
}

func (h *Handler) toggleTrashAll(c *gin.Context) {
	st, ok := h.state(c)
	if !ok || !h.freshTrash(c, st) {
		return
	}
	if err := st.Trash.ToggleSelectAll(); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trashPayload(st))
}

func (h *Handler) leaveTrash(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	st.Trash.Leave()
	c.Status(http.StatusNoContent)
}

func (h *Handler) bulkRestore(c *gin.Context) {
	st, ok := h.state(c)
	if !ok || !h.freshTrash(c, st) {
		return
	}
	res, err := st.Trash.BulkRestore(detached(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) emptyTrash(c *gin.Context) {
	st, ok := h.state(c)
	if !ok || !h.freshTrash(c, st) {
		return
	}
	var confirm trash.Confirmation
	if err := c.ShouldBindJSON(&confirm); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := st.Trash.EmptyTrash(detached(c), confirm)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) restoreTrashItem(c *gin.Context) {
	st, ok := h.state(c)
	if !ok || !h.freshTrash(c, st) {
		return
	}
	if err := st.Trash.Restore(detached(c), c.Param("item_id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) purgePrompt(c *gin.Context) {
	st, ok := h.state(c)
	if !ok || !h.freshTrash(c, st) {
		return
	}
	id := c.Param("item_id")
	for _, item := range st.Trash.Items() {
		if item.ID == id {
			c.JSON(http.StatusOK, gin.H{"prompt": trash.PurgePrompt(item), "title": item.Title})
			return
		}
	}
	h.writeError(c, trash.ErrUnknownItem)
}

// purgeTrashItem needs the item title echoed back; a title alone counts as confirmation.
func (h *Handler) purgeTrashItem(c *gin.Context) {
	st, ok := h.state(c)
	if !ok || !h.freshTrash(c, st) {
		return
	}
	var confirm trash.Confirmation
	if err := c.ShouldBindJSON(&confirm); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if confirm.Title != "" {
		confirm.Confirmed = true
	}
	if err := st.Trash.Purge(detached(c), c.Param("item_id"), confirm); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) history(c *gin.Context) {
	pid := c.Param("pid")
	ctx := c.Request.Context()
	convs, err := h.conversations(ctx, pid)
	if err != nil {
		h.writeError(c, err)
		return
	}
	docs, err := h.documents(ctx, pid)
	if err != nil {
		h.writeError(c, err)
		return
	}
	trashed, err := h.trashItems(ctx, pid)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": trash.Timeline(h.now(), convs, docs, trashed)})
}
