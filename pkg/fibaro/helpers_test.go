package fibaro

import (
	"context"
	"fmt"
	"net/url"
	"sync"
)

// stubTransport answers Get calls from a scripted handler and records the
// query of every call.
type stubTransport struct {
	mu      sync.Mutex
	actions []string
	calls   []url.Values
	handler func(call int, params url.Values) ([]byte, error)
}

func (s *stubTransport) Get(ctx context.Context, action string, params url.Values) ([]byte, error) {
	s.mu.Lock()
	n := len(s.calls)
	s.actions = append(s.actions, action)
	s.calls = append(s.calls, params)
	h := s.handler
	s.mu.Unlock()

	return h(n, params)
}

func (s *stubTransport) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubTransport) call(i int) url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[i]
}

// serverLast returns a handler that always reports the given offset
func serverLast(last uint64, changes string) func(int, url.Values) ([]byte, error) {
	return func(int, url.Values) ([]byte, error) {
		return reportBody(last, 1700000000, changes), nil
	}
}

func reportBody(last uint64, timestamp int64, changes string) []byte {
	if changes == "" {
		changes = "[]"
	}
	return []byte(fmt.Sprintf(`{"status":"IDLE","last":%d,"date":"10:00 | 1.1.2024","timestamp":%d,"changes":%s}`, last, timestamp, changes))
}
