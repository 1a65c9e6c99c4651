package http

import (
	"bufio"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/melih/lighthouse-console/internal/core/domain"
)

// setStreamHeaders prepares a response for Server-Sent Events.
func setStreamHeaders(c *fiber.Ctx) {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")
	c.Set("X-Accel-Buffering", "no")
}

// writeEvent writes one event frame and flushes it. Multi-line data is
// split across data lines.
func writeEvent(w *bufio.Writer, e domain.RawEvent) error {
	if e.Type != "" {
		w.WriteString("event: " + e.Type + "\n")
	}
	for _, line := range strings.Split(e.Data, "\n") {
		w.WriteString("data: " + line + "\n")
	}
	w.WriteString("\n")
	return w.Flush()
}

// writeComment writes a comment frame, which clients ignore. It doubles as
// a liveness probe: the flush fails once the client is gone.
func writeComment(w *bufio.Writer, text string) error {
	w.WriteString(": " + text + "\n\n")
	return w.Flush()
}

func errorData(err error) string {
	data, _ := json.Marshal(fiber.Map{"error": err.Error()})
	return string(data)
}
