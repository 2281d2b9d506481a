package middleware_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"ctdms/internal/domain"
	"ctdms/internal/middleware"
	"ctdms/internal/requestctx"
	"ctdms/mocks"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// --- Auth ---

func TestAuthMiddleware_ValidToken(t *testing.T) {
	verifier := new(mocks.MockTokenVerifier)
	actor := &domain.Actor{
		ID:        uuid.New(),
		Email:     "cra@site.test",
		Roles:     []domain.UserRole{domain.RoleReviewer},
		SessionID: "sess-from-token",
	}
	verifier.On("Verify", "valid-token").Return(actor, nil)

	r := gin.New()
	r.Use(middleware.RequestMetadata(), middleware.AuthMiddleware(verifier))
	r.GET("/test", func(c *gin.Context) {
		a, err := middleware.GetActor(c)
		require.NoError(t, err)
		c.JSON(http.StatusOK, gin.H{
			"user_id": a.ID,
			"session": requestctx.FromContext(c.Request.Context()).SessionID,
		})
	})

	req, _ := http.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := serve(r, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, actor.ID.String(), resp["user_id"])
	assert.Equal(t, "sess-from-token", resp["session"])
	verifier.AssertExpectations(t)
}

func TestAuthMiddleware_HeaderSessionWins(t *testing.T) {
	verifier := new(mocks.MockTokenVerifier)
	verifier.On("Verify", "tok").Return(&domain.Actor{
		ID: uuid.New(), Roles: []domain.UserRole{domain.RoleAdmin}, SessionID: "from-token",
	}, nil)

	r := gin.New()
	r.Use(middleware.RequestMetadata(), middleware.AuthMiddleware(verifier))
	r.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, requestctx.FromContext(c.Request.Context()).SessionID)
	})

	req, _ := http.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set(middleware.HeaderSessionID, "from-header")
	w := serve(r, req)

	assert.Equal(t, "from-header", w.Body.String())
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	verifier := new(mocks.MockTokenVerifier)
	verifier.On("Verify", "bad").Return(nil, domain.ErrUnauthorized)

	r := gin.New()
	r.Use(middleware.AuthMiddleware(verifier))
	r.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, header := range []string{"", "Basic abc", "Bearer bad"} {
		req, _ := http.NewRequest(http.MethodGet, "/test", http.NoBody)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := serve(r, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
	}
}

// --- RequireRole ---

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []domain.UserRole
		want  int
	}{
		{"one matching role", []domain.UserRole{domain.RoleReviewer, domain.RoleAuditor}, http.StatusOK},
		{"no matching role", []domain.UserRole{domain.RoleDocumentAuthor}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(func(c *gin.Context) {
				c.Set(middleware.ContextKeyActor, domain.Actor{ID: uuid.New(), Roles: tt.roles})
			})
			r.GET("/audit", middleware.RequireRole(domain.RoleAdmin, domain.RoleAuditor), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			req, _ := http.NewRequest(http.MethodGet, "/audit", http.NoBody)
			assert.Equal(t, tt.want, serve(r, req).Code)
		})
	}
}

func TestRequireRole_NoActor(t *testing.T) {
	r := gin.New()
	r.GET("/audit", middleware.RequireRole(domain.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	req, _ := http.NewRequest(http.MethodGet, "/audit", http.NoBody)
	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)
}

// --- Request metadata & logging ---

func TestRequestMetadata(t *testing.T) {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.RequestMetadata())
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, requestctx.FromContext(c.Request.Context()))
	})

	req, _ := http.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("X-Request-ID", "req-1")
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set(middleware.HeaderSessionID, "sess-1")
	req.RemoteAddr = "10.1.2.3:5555"
	w := serve(r, req)

	var md requestctx.Metadata
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &md))
	assert.Equal(t, "req-1", md.RequestID)
	assert.Equal(t, "10.1.2.3", md.ClientIP)
	assert.Equal(t, "Mozilla/5.0", md.UserAgent)
	assert.Equal(t, "sess-1", md.SessionID)
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))
}

func TestRequestID_Generated(t *testing.T) {
	r := gin.New()
	r.Use(middleware.RequestID())
	r.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	req, _ := http.NewRequest(http.MethodGet, "/test", http.NoBody)
	w := serve(r, req)
	_, err := uuid.Parse(w.Header().Get("X-Request-ID"))
	assert.NoError(t, err)
}

func TestLogger_LevelByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger(zap.New(core)))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, path := range []string{"/ok", "/missing"} {
		req, _ := http.NewRequest(http.MethodGet, path, http.NoBody)
		serve(r, req)
	}

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "/missing", entries[1].ContextMap()["path"])
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	r := gin.New()
	r.Use(middleware.Recovery(zap.New(core)))
	r.GET("/boom", func(c *gin.Context) { panic(errors.New("boom")) })

	req, _ := http.NewRequest(http.MethodGet, "/boom", http.NoBody)
	w := serve(r, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, logs.Len())
}

// --- CORS ---

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(middleware.CORS([]string{"https://app.example"}))
	r.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	req, _ := http.NewRequest(http.MethodOptions, "/test", http.NoBody)
	req.Header.Set("Origin", "https://app.example")
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))

	req, _ = http.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Origin", "https://evil.example")
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
