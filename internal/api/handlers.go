package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"homora/internal/backend"
	"homora/internal/cache"
	"homora/internal/chat"
	"homora/internal/metrics"
	"homora/internal/session"
	"homora/internal/storage"
	"homora/internal/trash"
	"homora/internal/worker"
)

const defaultStreamTimeout = 5 * time.Minute

type Deps struct {
	Backend  *backend.Client
	Cache    *cache.Cache
	Sessions *session.Manager
	Notices  *storage.NoticeStore
	Workers  *worker.Dispatcher
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	StreamTimeout  time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

// Handler wires HTTP routes to the backend client and the per-session controllers.
type Handler struct {
	backend       *backend.Client
	cache         *cache.Cache
	sessions      *session.Manager
	notices       *storage.NoticeStore
	workers       *worker.Dispatcher
	metrics       *metrics.Metrics
	logger        *zap.Logger
	limiter       *limiterPool
	streamTimeout time.Duration
	now           func() time.Time
}

func NewHandler(deps Deps) (*Handler, error) {
	if deps.Backend == nil || deps.Sessions == nil || deps.Workers == nil {
		return nil, errors.New("backend, sessions and workers are required")
	}
	h := &Handler{
		backend:       deps.Backend,
		cache:         deps.Cache,
		sessions:      deps.Sessions,
		notices:       deps.Notices,
		workers:       deps.Workers,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
		streamTimeout: deps.StreamTimeout,
		now:           time.Now,
	}
	if h.cache == nil {
		h.cache = cache.New()
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.streamTimeout <= 0 {
		h.streamTimeout = defaultStreamTimeout
	}
	if deps.RateLimitRPS > 0 {
		h.limiter = newLimiterPool(deps.RateLimitRPS, deps.RateLimitBurst)
	}
	return h, nil
}

// Run drives the handler's background housekeeping until ctx is done.
func (h *Handler) Run(ctx context.Context) {
	if h.limiter != nil {
		h.limiter.run(ctx)
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.healthz)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	api := router.Group("/api")
	api.Use(h.sessions.Middleware(), h.rateLimit(), session.CSRFMiddleware())
	api.GET("/session", h.getSession)
	api.GET("/notices", h.listNotices)
	api.POST("/search", h.search)
	api.GET("/settings", h.getSettings)
	api.PATCH("/settings", h.updateSettings)

	api.GET("/reports/templates", h.listReportTemplates)
	api.POST("/reports/templates", h.createReportTemplate)
	api.DELETE("/reports/templates/:tid", h.deleteReportTemplate)

	api.GET("/projects", h.listProjects)
	api.POST("/projects", h.createProject)
	api.POST("/imports/projects", h.importProject)
	project := api.Group("/projects/:pid")
	project.GET("", h.getProject)
	project.PATCH("", h.updateProject)
	project.DELETE("", h.deleteProject)
	project.GET("/export", h.exportProject)
	project.POST("/report", h.generateReport)

	project.GET("/documents", h.listDocuments)
	project.POST("/documents", h.uploadDocument)
	project.GET("/documents/:did", h.getDocument)
	project.DELETE("/documents/:did", h.deleteDocument)
	project.POST("/documents/:did/reprocess", h.reprocessDocument)
	project.GET("/documents/:did/file", h.documentFile)
	project.POST("/documents/:did/tags", h.addDocumentTag)
	project.DELETE("/documents/:did/tags/:tag_id", h.removeDocumentTag)
	project.GET("/conversations", h.listConversations)
	project.DELETE("/conversations/:cid", h.deleteConversation)

	project.GET("/chat", h.getChat)
	project.POST("/chat/messages", h.sendMessage)
	project.POST("/chat/new", h.newConversation)
	project.POST("/chat/conversations/:cid/load", h.loadConversation)
	project.POST("/chat/messages/:mid/edit", h.editMessage)
	project.GET("/chat/messages/:mid/branches", h.branchMarker)
	project.POST("/chat/branch/accept", h.acceptBranch)
	project.POST("/chat/branch/dismiss", h.dismissBranch)
	project.POST("/chat/citations/resolve", h.resolveCitation)

	project.GET("/trash", h.getTrash)
	project.POST("/trash/select/:item_id", h.toggleTrashItem)
	project.POST("/trash/select-all", h.toggleTrashAll)
	project.POST("/trash/leave", h.leaveTrash)
	project.POST("/trash/restore", h.bulkRestore)
	project.POST("/trash/empty", h.emptyTrash)
	project.POST("/trash/items/:item_id/restore", h.restoreTrashItem)
	project.GET("/trash/items/:item_id/prompt", h.purgePrompt)
	project.POST("/trash/items/:item_id/purge", h.purgeTrashItem)
	project.GET("/history", h.history)
}

func (h *Handler) healthz(c *gin.Context) {
	running, idle := h.workers.Workers()
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": h.sessions.Len(),
		"workers":  gin.H{"running": running, "idle": idle},
	})
}

func (h *Handler) getSession(c *gin.Context) {
	id, _ := session.IDFromContext(c)
	c.JSON(http.StatusOK, gin.H{"session_id": id, "csrf_token": session.CSRFTokenFromContext(c)})
}

func (h *Handler) listNotices(c *gin.Context) {
	if h.notices == nil {
		c.JSON(http.StatusOK, gin.H{"notices": []any{}})
		return
	}
	id, _ := session.IDFromContext(c)
	notices, err := h.notices.ListRecent(c.Request.Context(), id, 50)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notices": notices})
}

// state returns the session state for the project in the path.
func (h *Handler) state(c *gin.Context) (*session.State, bool) {
	id, ok := session.IDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "client session required"})
		return nil, false
	}
	st, err := h.sessions.Ensure(c.Request.Context(), id, c.Param("pid"))
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return st, true
}

// writeError maps domain and backend errors onto HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()

	var apiErr *backend.APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.Status
		if status < 400 || status >= 500 {
			status = http.StatusBadGateway
		}
		if apiErr.Detail != "" {
			msg = apiErr.Detail
		}
	case errors.Is(err, worker.ErrDispatcherBusy):
		status = http.StatusTooManyRequests
		msg = "server is busy, please retry"
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrUnsavedMessage),
		errors.Is(err, trash.ErrNothingSelected),
		errors.Is(err, trash.ErrEmpty),
		errors.Is(err, trash.ErrConfirmationRequired):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrUnknownMessage),
		errors.Is(err, trash.ErrUnknownItem),
		errors.Is(err, storage.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrStreamInProgress),
		errors.Is(err, chat.ErrNoConversation),
		errors.Is(err, chat.ErrNoPendingBranch),
		errors.Is(err, chat.ErrAbandoned),
		errors.Is(err, trash.ErrBusy),
		errors.Is(err, trash.ErrStale):
		status = http.StatusConflict
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": msg})
}

// detached keeps the request's values but not its cancellation.
func detached(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}
