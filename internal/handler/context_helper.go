package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/casebook-api/internal/middleware"
	"github.com/noah-isme/casebook-api/internal/models"
)

func actorFromContext(c *gin.Context) (models.Actor, bool) {
	claims := middleware.ClaimsFromContext(c)
	if claims == nil {
		return models.Actor{}, false
	}
	return models.ActorFromClaims(claims), true
}

func queryInt(c *gin.Context, key string) int {
	value, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil {
		return 0
	}
	return value
}

func queryBool(c *gin.Context, key string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(c.Query(key)))
	return err == nil && value
}
