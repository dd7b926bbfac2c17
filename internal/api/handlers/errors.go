package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/medface/internal/models"
	"github.com/your-org/medface/internal/patients"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidProfile),
		errors.Is(err, models.ErrInvalidEncoding),
		errors.Is(err, models.ErrInvalidImage),
		errors.Is(err, models.ErrInvalidFilename):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrAmbiguousOrMissingFace):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrUnknownPatient),
		errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrNoMatch):
		return http.StatusNotFound
	case errors.Is(err, patients.ErrEncoderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
