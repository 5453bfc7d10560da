package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homora/internal/backend"
	"homora/internal/config"
	"homora/internal/models"
	"homora/internal/storage"
)

type offlineBackend struct{}

func (offlineBackend) StreamChat(context.Context, string, string, string) (backend.EventStream, error) {
	return nil, errors.New("offline")
}

func (offlineBackend) GetConversation(_ context.Context, projectID, conversationID string) (*models.Conversation, error) {
	return &models.Conversation{ID: conversationID, ProjectID: projectID}, nil
}

func (offlineBackend) EditAndRegenerate(context.Context, string, string, string, string) (models.BranchResult, error) {
	return models.BranchResult{}, errors.New("offline")
}

func (offlineBackend) RestoreDocument(context.Context, string, string) error     { return nil }
func (offlineBackend) RestoreConversation(context.Context, string, string) error { return nil }
func (offlineBackend) PurgeDocument(context.Context, string, string) error       { return nil }
func (offlineBackend) PurgeConversation(context.Context, string, string) error   { return nil }

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{
		"sqlite3": {DSN: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())},
	}}
	db, err := storage.Open("sqlite3", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(db, "sqlite3"))
	return db
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestManager(t *testing.T, clk *clock) (*Manager, *storage.SessionStore, *storage.NoticeStore) {
	t.Helper()
	db := openTestDB(t)
	sessions := storage.NewSessionStore(db)
	notices := storage.NewNoticeStore(db)
	opts := []Option{WithIdleTimeout(time.Minute)}
	if clk != nil {
		opts = append(opts, WithClock(clk.now))
	}
	m, err := NewManager(Deps{Backend: offlineBackend{}, Sessions: sessions, Notices: notices}, opts...)
	require.NoError(t, err)
	return m, sessions, notices
}

func TestEnsureReusesStatePerProject(t *testing.T) {
	ctx := context.Background()
	m, sessions, _ := newTestManager(t, nil)
	_, err := sessions.Create(ctx, "s-1", "tok")
	require.NoError(t, err)

	first, err := m.Ensure(ctx, "s-1", "p-1")
	require.NoError(t, err)
	again, err := m.Ensure(ctx, "s-1", "p-1")
	require.NoError(t, err)
	assert.Same(t, first, again)

	cs, err := sessions.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", cs.ProjectID)

	other, err := m.Ensure(ctx, "s-1", "p-2")
	require.NoError(t, err)
	assert.NotSame(t, first, other)
	assert.Equal(t, "p-2", other.Chat.ProjectID())
	assert.Equal(t, 1, m.Len())

	_, err = m.Ensure(ctx, "missing", "p-1")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestNoticesArePersistedPerSession(t *testing.T) {
	ctx := context.Background()
	m, sessions, notices := newTestManager(t, nil)
	_, err := sessions.Create(ctx, "s-1", "tok")
	require.NoError(t, err)
	st, err := m.Ensure(ctx, "s-1", "p-1")
	require.NoError(t, err)

	require.Error(t, st.Chat.SendMessage(ctx, "hello"))

	list, err := notices.ListRecent(ctx, "s-1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.NoticeError, list[0].Level)
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Now()}
	m, sessions, _ := newTestManager(t, clk)
	for _, id := range []string{"s-1", "s-2"} {
		_, err := sessions.Create(ctx, id, "tok")
		require.NoError(t, err)
		_, err = m.Ensure(ctx, id, "p-1")
		require.NoError(t, err)
	}

	require.NoError(t, m.Sweep(ctx))
	assert.Equal(t, 2, m.Len())

	clk.t = clk.t.Add(10 * time.Minute)
	require.NoError(t, m.Sweep(ctx))
	assert.Zero(t, m.Len())
	_, err := sessions.Get(ctx, "s-1")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestPurgeAndReset(t *testing.T) {
	ctx := context.Background()
	m, sessions, _ := newTestManager(t, nil)
	for _, id := range []string{"s-1", "s-2"} {
		_, err := sessions.Create(ctx, id, "tok")
		require.NoError(t, err)
		_, err = m.Ensure(ctx, id, "p-1")
		require.NoError(t, err)
	}
	m.Purge("s-1")
	_, ok := m.Get("s-1")
	assert.False(t, ok)
	_, ok = m.Get("s-2")
	assert.True(t, ok)

	m.Reset()
	assert.Zero(t, m.Len())
}

func newTestRouter(m *Manager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(m.Middleware(), CSRFMiddleware())
	r.GET("/whoami", func(c *gin.Context) {
		id, _ := IDFromContext(c)
		c.JSON(http.StatusOK, gin.H{"id": id, "csrf": CSRFTokenFromContext(c)})
	})
	r.POST("/mutate", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func cookieValue(cookies []*http.Cookie, name string) string {
	for _, ck := range cookies {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func TestMiddlewareIssuesSessionAndChecksCSRF(t *testing.T) {
	m, sessions, _ := newTestManager(t, nil)
	router := newTestRouter(m)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	sid := cookieValue(cookies, CookieName)
	csrf := cookieValue(cookies, CSRFCookieName)
	require.NotEmpty(t, sid)
	require.Len(t, csrf, 64)

	cs, err := sessions.Get(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, csrf, cs.CSRFToken)

	// Known session: no new cookie is issued.
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: sid})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Empty(t, cookieValue(rec.Result().Cookies(), CookieName))
	assert.Contains(t, rec.Body.String(), sid)

	req = httptest.NewRequest(http.MethodPost, "/mutate", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: sid})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/mutate", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: sid})
	req.Header.Set(CSRFHeaderName, csrf)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMiddlewareReplacesUnknownSession(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	router := newTestRouter(m)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "gone"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	sid := cookieValue(rec.Result().Cookies(), CookieName)
	assert.NotEmpty(t, sid)
	assert.NotEqual(t, "gone", sid)
}
