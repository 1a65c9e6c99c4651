package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// contextWithTimeout derives a context from the request's user context.
// A zero timeout means no deadline.
func contextWithTimeout(c *fiber.Ctx, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(c.UserContext())
	}
	return context.WithTimeout(c.UserContext(), timeout)
}
