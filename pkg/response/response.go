package response

import (
	"errors"
	"net/http"

	"anoa.com/fellowship/pkg/apperror"
	"anoa.com/fellowship/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GetUserID retrieves the authenticated principal from the context
func GetUserID(c *gin.Context) (string, error) {
	userID := c.GetString("user_id")
	if userID == "" {
		return "", apperror.ErrUnauthorized
	}
	return userID, nil
}

// ResponseError standardized error response
func ResponseError(c *gin.Context, err error) {
	code := apperror.MapErrorToStatus(err)
	_ = c.Error(err)

	switch {
	case errors.Is(err, apperror.ErrConsistencyFault):
		logger.Warn("consistency fault", zap.String("path", c.Request.URL.Path), zap.Error(err))
	case code == http.StatusInternalServerError:
		logger.Error("internal error", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}

	body := gin.H{"error": err.Error()}
	if apperror.IsRetryable(err) {
		body["retryable"] = true
	}
	c.JSON(code, body)
}
