package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/casebook-api/internal/models"
	appErrors "github.com/noah-isme/casebook-api/pkg/errors"
)

type tokenStub struct {
	claims *models.JWTClaims
	err    error
	seen   string
}

func (s *tokenStub) ValidateToken(token string) (*models.JWTClaims, error) {
	s.seen = token
	return s.claims, s.err
}

type authorizerStub map[models.RoleID][]models.Action

func (a authorizerStub) Authorize(role models.RoleID, action models.Action) bool {
	for _, allowed := range a[role] {
		if allowed == action {
			return true
		}
	}
	return false
}

type refresherStub struct {
	calls int
	err   error
}

func (r *refresherStub) Refresh(ctx context.Context, force bool) error {
	r.calls++
	return r.err
}

type observerStub struct {
	paths    []string
	statuses []int
}

func (o *observerStub) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.paths = append(o.paths, path)
	o.statuses = append(o.statuses, status)
}

func init() {
	gin.SetMode(gin.TestMode)
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error *appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return body.Error.Code
}

func TestJWT(t *testing.T) {
	tokens := &tokenStub{claims: &models.JWTClaims{UserID: "user-1", Role: models.RoleSales}}
	router := gin.New()
	router.GET("/", JWT(tokens), func(c *gin.Context) {
		claims := ClaimsFromContext(c)
		c.String(http.StatusOK, claims.UserID)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, errorCode(t, rec))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", rec.Body.String())
	assert.Equal(t, "good-token", tokens.seen)

	tokens.err = appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAction(t *testing.T) {
	authz := authorizerStub{models.RoleSales: {models.ActionCreateCase}}
	claims := &models.JWTClaims{UserID: "user-1", Role: models.RoleSales}

	newRouter := func(action models.Action, withClaims bool) *gin.Engine {
		router := gin.New()
		router.POST("/", func(c *gin.Context) {
			if withClaims {
				c.Set(ContextUserKey, claims)
			}
			c.Next()
		}, RequireAction(authz, action), func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})
		return router
	}

	rec := httptest.NewRecorder()
	newRouter(models.ActionCreateCase, true).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	newRouter(models.ActionEditPermissions, true).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, appErrors.ErrAuthorizationDenied.Code, errorCode(t, rec))

	rec = httptest.NewRecorder()
	newRouter(models.ActionCreateCase, false).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshPermissionsContinuesOnFailure(t *testing.T) {
	refresher := &refresherStub{err: errors.New("db down")}
	router := gin.New()
	router.Use(RefreshPermissions(refresher, nil))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, refresher.calls)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	observer := &observerStub{}
	router := gin.New()
	router.Use(Metrics(observer, "/metrics"))
	router.GET("/cases/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/cases/abc", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, []string{"/cases/:id", "unmatched"}, observer.paths)
	assert.Equal(t, []int{http.StatusOK, http.StatusNotFound}, observer.statuses)
}

func TestAuditStoresRequestOrigin(t *testing.T) {
	var origin models.RequestOrigin
	router := gin.New()
	router.Use(Audit())
	router.GET("/", func(c *gin.Context) {
		origin, _ = models.RequestOriginFrom(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("User-Agent", "casebook-web")
	router.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "10.1.2.3", origin.IPAddress)
	assert.Equal(t, "casebook-web", origin.UserAgent)
}

func TestResponseMeta(t *testing.T) {
	var meta map[string]interface{}
	router := gin.New()
	router.Use(WithResponseMeta())
	router.GET("/", func(c *gin.Context) {
		SetMeta(c, "rejected", 2)
		meta = ExtractMeta(c)
		c.Status(http.StatusNoContent)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotNil(t, meta)
	assert.Equal(t, 2, meta["rejected"])
	assert.Contains(t, meta, "processing_time_ms")

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, ExtractMeta(c))
}
