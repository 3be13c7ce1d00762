package simulator

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
)

const defaultOutputLimit = 64 << 10

// capture collects one output stream of the simulator. It keeps the last
// limit bytes and logs every complete line at debug level.
type capture struct {
	mu      sync.Mutex
	stream  string
	limit   int
	buf     []byte
	dropped int64
	partial []byte
	logger  *slog.Logger
}

func newCapture(stream string, limit int, logger *slog.Logger) *capture {
	if limit <= 0 {
		limit = defaultOutputLimit
	}
	return &capture{stream: stream, limit: limit, logger: logger}
}

func (c *capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf = append(c.buf, p...)
	if over := len(c.buf) - c.limit; over > 0 {
		c.dropped += int64(over)
		c.buf = append(c.buf[:0], c.buf[over:]...)
	}

	c.partial = append(c.partial, p...)
	for {
		i := bytes.IndexByte(c.partial, '\n')
		if i < 0 {
			break
		}
		c.logLine(c.partial[:i])
		c.partial = c.partial[i+1:]
	}
	if len(c.partial) > c.limit {
		c.logLine(c.partial)
		c.partial = nil
	}
	return len(p), nil
}

func (c *capture) logLine(line []byte) {
	c.logger.Debug("simulator output", "stream", c.stream, "line", string(bytes.TrimRight(line, "\r")))
}

// flush logs a trailing line that had no newline
func (c *capture) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.partial) > 0 {
		c.logLine(c.partial)
		c.partial = nil
	}
}

func (c *capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.buf)
}

// Dropped returns how many leading bytes were discarded to honour the limit
func (c *capture) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *capture) trimmed() string {
	return strings.TrimSpace(c.String())
}
