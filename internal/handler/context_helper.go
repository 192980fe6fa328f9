package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/revision-checker/internal/middleware"
	"github.com/noah-isme/revision-checker/internal/models"
	appErrors "github.com/noah-isme/revision-checker/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func int64Param(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, name+" must be a positive integer")
	}
	return id, nil
}
