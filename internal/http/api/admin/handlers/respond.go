package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wspnet/subengine/internal/apperr"
	"github.com/wspnet/subengine/internal/calendar"

	log "github.com/sirupsen/logrus"
)

// statusForKind maps engine error kinds to HTTP status codes.
var statusForKind = map[apperr.Kind]int{
	apperr.KindNotFound:         http.StatusNotFound,
	apperr.KindConflict:         http.StatusConflict,
	apperr.KindInvalidState:     http.StatusUnprocessableEntity,
	apperr.KindValidation:       http.StatusBadRequest,
	apperr.KindCapacityExceeded: http.StatusConflict,
	apperr.KindInternal:         http.StatusInternalServerError,
}

// writeError renders an engine error as {"error": kind, "message": ...}.
func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status, ok := statusForKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("admin api: request failed")
		message = "internal error"
	} else {
		var typed *apperr.Error
		if errors.As(err, &typed) {
			message = typed.Message
		}
	}
	c.JSON(status, gin.H{"error": string(kind), "message": message})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": string(apperr.KindValidation), "message": message})
}

// parseID reads a positive uint64 path parameter.
func parseID(c *gin.Context, name string) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if errParse != nil || id == 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// parseOptionalDay parses a YYYY-MM-DD string; empty yields nil.
func parseOptionalDay(raw string) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	day, errParse := calendar.ParseDay(trimmed)
	if errParse != nil {
		return nil, errParse
	}
	return &day, nil
}

func formatDay(t time.Time) string { return t.Format(time.DateOnly) }
