package capture

import (
	"fmt"
	"sync"

	"github.com/hazyhaar/shadowtap/internal/recorder"
)

// Session is the recording state of one tap: whether capture is active and
// the handle of the running recorder. The handle is non-nil exactly while
// the session is active. Handlers read Active on every event.
type Session struct {
	mu     sync.Mutex
	active bool
	handle recorder.Handle
}

// Active reports whether recording is on.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Start activates the session, calling start to obtain the recorder handle.
// It reports false without calling start when the session is already active.
// If start fails the session stays inactive.
func (s *Session) Start(start func() (recorder.Handle, error)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return false, nil
	}
	h, err := start()
	if err != nil {
		return false, fmt.Errorf("capture: start session: %w", err)
	}
	if h == nil {
		return false, fmt.Errorf("capture: start session: recorder returned no handle")
	}
	s.active = true
	s.handle = h
	return true, nil
}

// Stop deactivates the session and returns the handle that was running, or
// nil when the session was not active. The caller stops the handle, outside
// any lock the recorder's source might need.
func (s *Session) Stop() recorder.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil
	}
	h := s.handle
	s.active = false
	s.handle = nil
	return h
}
