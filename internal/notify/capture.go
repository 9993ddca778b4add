package notify

import (
	"context"
	"errors"
	"sync"
)

// Capture keeps the last code sent to each number. Tests read codes back
// through it; it never delivers anything.
type Capture struct {
	mu    sync.Mutex
	codes map[string]string
	sent  int
	fail  bool
}

func NewCapture() *Capture {
	return &Capture{codes: make(map[string]string)}
}

// FailDeliveries makes every later Send return an error after capturing.
func (c *Capture) FailDeliveries() {
	c.mu.Lock()
	c.fail = true
	c.mu.Unlock()
}

func (c *Capture) Send(_ context.Context, mobile, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.codes[mobile] = code
	c.sent++
	if c.fail {
		return errors.New("delivery failed")
	}
	return nil
}

func (c *Capture) Last(mobile string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	code, ok := c.codes[mobile]
	return code, ok
}

func (c *Capture) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}
