package middleware

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

const requestIDKey = "request_id"

// RequestID assigns every request a unique id, honoring a caller-supplied
// X-Request-ID, and echoes it on the response.
func RequestID() fiber.Handler {
	return func(c fiber.Ctx) error {
		id := c.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals(requestIDKey, id)
		c.Set("X-Request-ID", id)
		return c.Next()
	}
}

// GetRequestID returns the id assigned to the current request.
func GetRequestID(c fiber.Ctx) string {
	if id, ok := c.Locals(requestIDKey).(string); ok {
		return id
	}
	return ""
}
