package logging

import (
	"strings"
	"sync"
)

// Capture keeps the most recent line written to it.
type Capture struct {
	mu   sync.RWMutex
	last string
}

// LastLog holds the latest INFO+ server log line.
var LastLog = &Capture{}

// LastEvent holds the latest formatted trip event.
var LastEvent = &Capture{}

// Write implements io.Writer.
func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	c.last = strings.TrimSpace(string(p))
	c.mu.Unlock()
	return len(p), nil
}

// Last returns the most recent line, or "" when nothing was written.
func (c *Capture) Last() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}
