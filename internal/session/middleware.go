package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"homora/internal/storage"
)

const (
	CookieName     = "homora_session"
	CSRFCookieName = "csrf_token"
	CSRFHeaderName = "X-CSRF-Token"

	sessionContextKey = "client_session_id"
	csrfContextKey    = "client_session_csrf"
	cookieMaxAge      = 30 * 24 * 3600
)

// Middleware attaches a client session to every request, issuing a new one when the
// cookie is missing or refers to a session that no longer exists.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		var cs *storage.ClientSession
		if id, err := c.Cookie(CookieName); err == nil && id != "" {
			found, err := m.deps.Sessions.Get(ctx, id)
			switch {
			case err == nil:
				cs = found
				if err := m.deps.Sessions.Touch(ctx, id, ""); err != nil {
					m.logger.Warn("touch client session failed", zap.String("session", id), zap.Error(err))
				}
			case errors.Is(err, storage.ErrSessionNotFound):
				m.Purge(id)
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
				return
			}
		}
		if cs == nil {
			csrf, err := generateToken()
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "could not issue session"})
				return
			}
			cs, err = m.deps.Sessions.Create(ctx, uuid.NewString(), csrf)
			if err != nil {
				m.logger.Error("create client session failed", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "could not issue session"})
				return
			}
			setSessionCookies(c, cs)
		}
		c.Set(sessionContextKey, cs.ID)
		c.Set(csrfContextKey, cs.CSRFToken)
		c.Next()
	}
}

// CSRFMiddleware enforces double-submit CSRF protection on mutating requests. The
// header must carry the token bound to the client session.
func CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requiresCSRFCheck(c.Request.Method) {
			c.Next()
			return
		}
		headerToken := c.GetHeader(CSRFHeaderName)
		expected, _ := c.Get(csrfContextKey)
		token, _ := expected.(string)
		if headerToken == "" || token == "" || headerToken != token {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid csrf token"})
			return
		}
		c.Next()
	}
}

// IDFromContext returns the client session id stored by Middleware.
func IDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(sessionContextKey)
	if !ok {
		return "", false
	}
	id, ok := val.(string)
	return id, ok && id != ""
}

// CSRFTokenFromContext returns the CSRF token of the current client session.
func CSRFTokenFromContext(c *gin.Context) string {
	val, _ := c.Get(csrfContextKey)
	token, _ := val.(string)
	return token
}

func requiresCSRFCheck(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

func setSessionCookies(c *gin.Context, cs *storage.ClientSession) {
	secure := gin.Mode() == gin.ReleaseMode
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CookieName,
		Value:    cs.ID,
		MaxAge:   cookieMaxAge,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    cs.CSRFToken,
		MaxAge:   cookieMaxAge,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
