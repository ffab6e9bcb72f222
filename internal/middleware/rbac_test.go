package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/lesson-plan-api/internal/models"
)

func guardedRouter(guard gin.HandlerFunc, claims *models.JWTClaims) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/resource/:id", func(c *gin.Context) {
		if claims != nil {
			c.Set(ContextUserKey, claims)
		}
	}, guard, func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func doGuarded(r *gin.Engine, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(rec, req)
	return rec
}

func TestRequireRolesAllowsListedRole(t *testing.T) {
	claims := &models.JWTClaims{UserID: "u-1", Role: models.RoleAnalyst}
	r := guardedRouter(RequireRoles(models.RoleAnalyst, models.RoleCoordinator), claims)

	rec := doGuarded(r, "/resource/42")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRolesRejectsUnlistedRole(t *testing.T) {
	claims := &models.JWTClaims{UserID: "u-1", Role: models.RoleTeacher}
	r := guardedRouter(RequireRoles(models.RoleAnalyst, models.RoleCoordinator), claims)

	rec := doGuarded(r, "/resource/42")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireRolesRejectsAnonymous(t *testing.T) {
	r := guardedRouter(RequireRoles(models.RoleAnalyst), nil)

	rec := doGuarded(r, "/resource/42")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRBACSelfMatchesPathParam(t *testing.T) {
	claims := &models.JWTClaims{UserID: "u-1", Role: models.RoleTeacher}
	r := guardedRouter(RBAC("SELF"), claims)

	assert.Equal(t, http.StatusOK, doGuarded(r, "/resource/u-1").Code)
	assert.Equal(t, http.StatusForbidden, doGuarded(r, "/resource/u-2").Code)
}
