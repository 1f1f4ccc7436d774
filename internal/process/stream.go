package process

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrStreamTimeout is returned by Stream.Read when the condition was not
	// met before the timeout.
	ErrStreamTimeout = errors.New("timed out waiting for output")
	// ErrStreamClosed is returned by Stream.Read when the stream ended
	// without the condition being met.
	ErrStreamClosed = errors.New("stream closed")
)

const (
	pollInitial = 5 * time.Millisecond
	pollMax     = 100 * time.Millisecond
)

// Stream accumulates the output of an interactive program. Everything ever
// written is retained; Read consumes from an unread cursor.
type Stream struct {
	mu     sync.Mutex
	all    []byte
	read   int
	closed bool
}

// Write appends p. It never fails so the producer is never blocked.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = append(s.all, p...)
	return len(p), nil
}

func (s *Stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Peek returns the unread output without consuming it.
func (s *Stream) Peek() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.all[s.read:]...)
}

// Bytes returns everything written so far.
func (s *Stream) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.all...)
}

func (s *Stream) mark() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.all)
}

func (s *Stream) since(mark int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.all[mark:]...)
}

// take consumes the unread output if condition accepts it.
func (s *Stream) take(condition func([]byte) bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	unread := s.all[s.read:]
	if condition == nil || condition(unread) {
		s.read = len(s.all)
		return append([]byte(nil), unread...), nil
	}
	if s.closed {
		return nil, ErrStreamClosed
	}
	return nil, ErrStreamTimeout
}

// Read waits until condition returns true for the unread output, then
// consumes and returns it. A nil condition returns whatever is buffered
// immediately. With a timeout of zero or less the condition is checked once.
// Polling follows an exponential schedule capped at 100ms.
func (s *Stream) Read(condition func([]byte) bool, timeout time.Duration) ([]byte, error) {
	if condition == nil || timeout <= 0 {
		return s.take(condition)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = pollInitial
	b.MaxInterval = pollMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = timeout
	b.Reset()

	var out []byte
	err := backoff.Retry(func() error {
		data, err := s.take(condition)
		if errors.Is(err, ErrStreamClosed) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		out = data
		return nil
	}, b)
	if errors.Is(err, ErrStreamTimeout) {
		// The schedule may stop short of the deadline; look once more.
		return s.take(condition)
	}
	return out, err
}

// Line returns a Read condition satisfied once the output holds a full line.
func Line() func([]byte) bool {
	return Contains("\n")
}

// Contains returns a Read condition satisfied once the output contains sub.
func Contains(sub string) func([]byte) bool {
	return func(b []byte) bool {
		return bytes.Contains(b, []byte(sub))
	}
}
