// Package transporttest provides a scripted transport for tests.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"github.com/nhle/outreach/internal/transport"
)

// ErrScripted is returned for scripted failures.
var ErrScripted = errors.New("scripted transport failure")

// Recorder is a transport.Transport that records accepted messages and
// fails on demand.
type Recorder struct {
	mu sync.Mutex

	// FailTimes fails the first n attempts to an address; a negative n
	// fails every attempt.
	FailTimes map[string]int

	Sent     []*transport.Message
	Attempts map[string]int
}

// NewRecorder returns a transport that accepts everything.
func NewRecorder() *Recorder {
	return &Recorder{
		FailTimes: make(map[string]int),
		Attempts:  make(map[string]int),
	}
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Send(ctx context.Context, msg *transport.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.Attempts[msg.To]++
	if n, ok := r.FailTimes[msg.To]; ok && (n < 0 || r.Attempts[msg.To] <= n) {
		return ErrScripted
	}

	cp := *msg
	r.Sent = append(r.Sent, &cp)
	return nil
}

// Recipients returns the addresses of accepted messages in send order.
func (r *Recorder) Recipients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.Sent))
	for _, m := range r.Sent {
		out = append(out, m.To)
	}
	return out
}

// TotalAttempts returns the number of Send calls.
func (r *Recorder) TotalAttempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.Attempts {
		n += c
	}
	return n
}
