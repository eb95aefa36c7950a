package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/serpcrawl/models"
)

// respondError maps a CrawlError to the correct HTTP status code and writes
// a structured JSON error response.
func respondError(c *gin.Context, err error) {
	var ce *models.CrawlError
	if !errors.As(err, &ce) {
		ce = models.NewCrawlError(models.ErrCodeInternal, err.Error(), err)
	}
	c.JSON(mapErrorToStatus(ce), models.ErrorResponse{
		Success: false,
		Error:   ce.ToDetail(),
	})
}

func badRequest(c *gin.Context, msg string) {
	respondError(c, models.NewCrawlError(models.ErrCodeInvalidInput, msg, nil))
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.CrawlError) int {
	switch e.Code {
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	case models.ErrCodeNotFound:
		return http.StatusNotFound // 404
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeNavTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeNavBlocked, models.ErrCodeNavNetwork, models.ErrCodeProxyExhausted:
		return http.StatusBadGateway // 502
	default:
		return http.StatusInternalServerError // 500
	}
}
