package middleware

import (
	stderrors "errors"
	"net/http"

	"camlink/internal/core/domain"
	"camlink/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// appErrorFor maps an error attached to the gin context onto an AppError.
// Handlers usually attach AppErrors directly; bare domain sentinels that slip
// through get their canonical mapping here.
func appErrorFor(err error) *errors.AppError {
	if appErr := errors.GetAppError(err); appErr != nil {
		return appErr
	}
	switch {
	case stderrors.Is(err, domain.ErrSessionNotFound):
		return errors.NewNotFoundError("session")
	case stderrors.Is(err, domain.ErrIdentityExists):
		return errors.NewConflictError("identity already has a session")
	case stderrors.Is(err, domain.ErrIDGenerationExhausted):
		return errors.NewServiceUnavailableError("could not generate unique session ids")
	default:
		return nil
	}
}

// ErrorHandlerMiddleware turns errors collected during a request into JSON
// responses. Client errors log at Warn, server errors at Error.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		appErr := appErrorFor(err)
		if appErr == nil {
			logger.Errorw("unhandled error",
				"error", err.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   string(errors.ErrCodeInternal),
				"message": "internal server error",
			})
			return
		}

		logFn := logger.Warnw
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logFn = logger.Errorw
		}
		logFn("request failed",
			"code", appErr.Code,
			"message", appErr.Message,
			"status", appErr.HTTPStatus,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)

		body := gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		}
		if len(appErr.Context) > 0 {
			body["details"] = appErr.Context
		}
		c.JSON(appErr.HTTPStatus, body)
	}
}

// RecoveryMiddleware converts handler panics into 500 responses.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("panic recovered",
					"panic", r,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "internal server error",
				})
			}
		}()

		c.Next()
	}
}
