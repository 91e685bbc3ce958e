package httpapi

import (
	"context"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/i474232898/hydromet-edr/internal/cache"
	"github.com/i474232898/hydromet-edr/internal/filters"
	"github.com/i474232898/hydromet-edr/internal/hydromet"
	"github.com/i474232898/hydromet-edr/internal/upstream"
)

const (
	headerRequestID = "X-Request-ID"
	localsRequestID = "requestId"
)

// RequestID tags every request with an id, reusing the caller's X-Request-ID.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals(localsRequestID, id)
		c.Set(headerRequestID, id)
		return c.Next()
	}
}

// ErrorHandler renders every handler error as a JSON body with a status
// derived from the error chain.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	id, _ := c.Locals(localsRequestID).(string)
	if code >= fiber.StatusInternalServerError {
		log.Printf("ERROR: http: %s %s [%s]: %v", c.Method(), c.OriginalURL(), id, err)
	}
	return c.Status(code).JSON(fiber.Map{
		"error":     true,
		"code":      code,
		"message":   err.Error(),
		"requestId": id,
	})
}

func statusFor(err error) int {
	var fe *fiber.Error
	var ge *cache.GroupError
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, filters.ErrInvalidInput), errors.Is(err, hydromet.ErrInvalidQuery):
		return fiber.StatusBadRequest
	case errors.Is(err, hydromet.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, hydromet.ErrConsistency):
		return fiber.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, hydromet.ErrDecode),
		errors.Is(err, upstream.ErrUnavailable),
		errors.Is(err, upstream.ErrNotJSON),
		errors.As(err, &ge):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
