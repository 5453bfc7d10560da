package trash

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"homora/internal/backend"
	"homora/internal/cache"
	"homora/internal/metrics"
	"homora/internal/models"
	"homora/internal/notify"
)

type State string

const (
	StateIdle      State = "idle"
	StateRestoring State = "restoring"
	StatePurging   State = "purging"
)

var (
	ErrBusy                 = errors.New("a bulk trash action is already running")
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrNothingSelected      = errors.New("no items selected")
	ErrEmpty                = errors.New("trash is empty")
	ErrUnknownItem          = errors.New("item is not in trash")

	// ErrStale is returned once a mutation has run against the listing. SetItems with a
	// fresh listing clears it.
	ErrStale = errors.New("trash listing is out of date")
)

// Backend performs per-item trash mutations. There is no batch endpoint.
type Backend interface {
	RestoreDocument(ctx context.Context, projectID, documentID string) error
	RestoreConversation(ctx context.Context, projectID, conversationID string) error
	PurgeDocument(ctx context.Context, projectID, documentID string) error
	PurgeConversation(ctx context.Context, projectID, conversationID string) error
}

type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

type Deps struct {
	Backend     Backend
	Invalidator Invalidator
	Notifier    notify.Notifier
}

// Confirmation is the answer to a purge prompt. Single-item purges also require the
// item's title to be echoed back.
type Confirmation struct {
	Confirmed bool   `json:"confirm"`
	Title     string `json:"confirm_title"`
}

// ItemError records one failed item of a bulk action.
type ItemError struct {
	ID      string          `json:"id"`
	Type    models.ItemType `json:"type"`
	Title   string          `json:"title"`
	Message string          `json:"message"`
	Err     error           `json:"-"`
}

// Result is the fold of a bulk action: every item was attempted.
type Result struct {
	Successes int         `json:"successes"`
	Failures  int         `json:"failures"`
	Errors    []ItemError `json:"errors,omitempty"`
}

// View is the trash listing of one project with its multi-selection.
type View struct {
	projectID string
	deps      Deps
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	items    []models.TrashItem
	selected map[string]struct{}
	state    State
	stale    bool
}

type Option func(*View)

func WithLogger(logger *zap.Logger) Option {
	return func(v *View) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *View) { v.metrics = m }
}

func NewView(projectID string, deps Deps, opts ...Option) (*View, error) {
	if projectID == "" {
		return nil, errors.New("project id required")
	}
	if deps.Backend == nil || deps.Notifier == nil {
		return nil, errors.New("backend and notifier are required")
	}
	v := &View{
		projectID: projectID,
		deps:      deps,
		logger:    zap.NewNop(),
		selected:  make(map[string]struct{}),
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// SetItems replaces the listing. Any selection refers to the old list and is cleared.
func (v *View) SetItems(items []models.TrashItem) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.items = append([]models.TrashItem(nil), items...)
	v.selected = make(map[string]struct{})
	v.stale = false
}

// Stale reports whether the listing predates the last mutation.
func (v *View) Stale() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stale
}

func (v *View) Items() []models.TrashItem {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]models.TrashItem(nil), v.items...)
}

// Selected returns the selected ids in listing order.
func (v *View) Selected() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := make([]string, 0, len(v.selected))
	for _, item := range v.items {
		if _, ok := v.selected[item.ID]; ok {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Toggle flips the selection of one listed item.
func (v *View) Toggle(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.readyLocked(); err != nil {
		return err
	}
	if _, ok := v.findLocked(id); !ok {
		return ErrUnknownItem
	}
	if _, ok := v.selected[id]; ok {
		delete(v.selected, id)
	} else {
		v.selected[id] = struct{}{}
	}
	return nil
}

// ToggleSelectAll selects every listed item, or clears the selection when it already
// has as many entries as the listing. Only the sizes are compared.
func (v *View) ToggleSelectAll() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.readyLocked(); err != nil {
		return err
	}
	if len(v.selected) == len(v.items) {
		v.selected = make(map[string]struct{})
		return nil
	}
	v.selected = make(map[string]struct{}, len(v.items))
	for _, item := range v.items {
		v.selected[item.ID] = struct{}{}
	}
	return nil
}

// Leave is called when the user navigates away from the trash view.
func (v *View) Leave() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.selected = make(map[string]struct{})
}

// BulkRestore restores every selected item, one at a time, continuing past failures.
func (v *View) BulkRestore(ctx context.Context) (Result, error) {
	items, err := v.begin(StateRestoring, v.selectedItemsLocked, ErrNothingSelected)
	if err != nil {
		return Result{}, err
	}
	defer v.end()

	res := v.fold(ctx, "restore", items, v.restoreItem)
	v.report(ctx, res, "Restored %d item(s)", "Failed to restore %d item(s)")
	return res, nil
}

// EmptyTrash purges every listed item, selected or not.
func (v *View) EmptyTrash(ctx context.Context, confirm Confirmation) (Result, error) {
	if !confirm.Confirmed {
		return Result{}, ErrConfirmationRequired
	}
	items, err := v.begin(StatePurging, func() []models.TrashItem {
		return append([]models.TrashItem(nil), v.items...)
	}, ErrEmpty)
	if err != nil {
		return Result{}, err
	}
	defer v.end()

	res := v.fold(ctx, "purge", items, v.purgeItem)
	v.report(ctx, res, "Permanently deleted %d item(s)", "Failed to delete %d item(s)")
	return res, nil
}

// Restore restores a single listed item.
func (v *View) Restore(ctx context.Context, id string) error {
	item, err := v.beginSingle(id, StateRestoring)
	if err != nil {
		return err
	}
	defer v.end()

	err = v.restoreItem(ctx, item)
	v.metrics.TrashItem("restore", err == nil)
	v.invalidate(ctx)
	if err != nil {
		v.deps.Notifier.Error(failureMessage(err, "Failed to restore "+noun(item.Type)))
		return err
	}
	v.deps.Notifier.Success(capitalNoun(item.Type) + " restored successfully")
	return nil
}

// Purge permanently deletes a single listed item after its title was confirmed.
func (v *View) Purge(ctx context.Context, id string, confirm Confirmation) error {
	v.mu.Lock()
	item, ok := v.findLocked(id)
	v.mu.Unlock()
	if !ok {
		return ErrUnknownItem
	}
	if !confirm.Confirmed || confirm.Title != item.Title {
		return ErrConfirmationRequired
	}
	item, err := v.beginSingle(id, StatePurging)
	if err != nil {
		return err
	}
	defer v.end()

	err = v.purgeItem(ctx, item)
	v.metrics.TrashItem("purge", err == nil)
	v.invalidate(ctx)
	if err != nil {
		v.deps.Notifier.Error(failureMessage(err, "Failed to delete "+noun(item.Type)))
		return err
	}
	v.deps.Notifier.Success(capitalNoun(item.Type) + " permanently deleted")
	return nil
}

// PurgePrompt is the confirmation text shown before a single-item purge.
func PurgePrompt(item models.TrashItem) string {
	title := item.Title
	if title == "" {
		title = "This item"
	}
	return fmt.Sprintf("\"%s\" will be permanently deleted. This action cannot be undone.", title)
}

func (v *View) begin(state State, pick func() []models.TrashItem, none error) ([]models.TrashItem, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.readyLocked(); err != nil {
		return nil, err
	}
	items := pick()
	if len(items) == 0 {
		return nil, none
	}
	v.state = state
	return items, nil
}

func (v *View) beginSingle(id string, state State) (models.TrashItem, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.readyLocked(); err != nil {
		return models.TrashItem{}, err
	}
	item, ok := v.findLocked(id)
	if !ok {
		return models.TrashItem{}, ErrUnknownItem
	}
	v.state = state
	return item, nil
}

func (v *View) readyLocked() error {
	if v.state != StateIdle {
		return ErrBusy
	}
	if v.stale {
		return ErrStale
	}
	return nil
}

// end returns to idle and drops the selection. The listing is stale after any mutation,
// even a failed one, until SetItems replaces it.
func (v *View) end() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = StateIdle
	v.stale = true
	v.selected = make(map[string]struct{})
}

// fold runs op over items sequentially. A failing item never stops the rest.
func (v *View) fold(ctx context.Context, action string, items []models.TrashItem, op func(context.Context, models.TrashItem) error) Result {
	var res Result
	for _, item := range items {
		err := op(ctx, item)
		v.metrics.TrashItem(action, err == nil)
		if err != nil {
			res.Failures++
			res.Errors = append(res.Errors, ItemError{
				ID:      item.ID,
				Type:    item.Type,
				Title:   item.Title,
				Message: err.Error(),
				Err:     err,
			})
			v.logger.Warn("trash item failed",
				zap.String("action", action),
				zap.String("project", v.projectID),
				zap.String("id", item.ID),
				zap.Error(err))
			continue
		}
		res.Successes++
	}
	return res
}

func (v *View) report(ctx context.Context, res Result, successFmt, failureFmt string) {
	v.invalidate(ctx)
	if res.Successes > 0 {
		v.deps.Notifier.Success(fmt.Sprintf(successFmt, res.Successes))
	}
	if res.Failures > 0 {
		v.deps.Notifier.Error(fmt.Sprintf(failureFmt, res.Failures))
	}
}

func (v *View) invalidate(ctx context.Context) {
	if v.deps.Invalidator == nil {
		return
	}
	keys := cache.ProjectKeys(v.projectID)
	if err := v.deps.Invalidator.Invalidate(ctx, keys...); err != nil {
		v.logger.Warn("trash cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func (v *View) restoreItem(ctx context.Context, item models.TrashItem) error {
	switch item.Type {
	case models.ItemDocument:
		return v.deps.Backend.RestoreDocument(ctx, v.projectID, item.ID)
	case models.ItemConversation:
		return v.deps.Backend.RestoreConversation(ctx, v.projectID, item.ID)
	default:
		return fmt.Errorf("unknown trash item type %q", item.Type)
	}
}

func (v *View) purgeItem(ctx context.Context, item models.TrashItem) error {
	switch item.Type {
	case models.ItemDocument:
		return v.deps.Backend.PurgeDocument(ctx, v.projectID, item.ID)
	case models.ItemConversation:
		return v.deps.Backend.PurgeConversation(ctx, v.projectID, item.ID)
	default:
		return fmt.Errorf("unknown trash item type %q", item.Type)
	}
}

func (v *View) selectedItemsLocked() []models.TrashItem {
	var out []models.TrashItem
	for _, item := range v.items {
		if _, ok := v.selected[item.ID]; ok {
			out = append(out, item)
		}
	}
	return out
}

func (v *View) findLocked(id string) (models.TrashItem, bool) {
	for _, item := range v.items {
		if item.ID == id {
			return item, true
		}
	}
	return models.TrashItem{}, false
}

func noun(t models.ItemType) string {
	if t == models.ItemConversation {
		return "conversation"
	}
	return "document"
}

func capitalNoun(t models.ItemType) string {
	if t == models.ItemConversation {
		return "Conversation"
	}
	return "Document"
}

// failureMessage prefers the backend's own explanation.
func failureMessage(err error, fallback string) string {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}
