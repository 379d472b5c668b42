package sequencer

import (
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultBacklogSize bounds buffered unclaimed bus lines.
const DefaultBacklogSize = 100

// State is the wait, abort, backlog and counter state shared by the
// sequencer and the router.
//
// Abort is an atomic flag plus a channel closed while the flag is set, so
// blocked waits and sleeps observe it immediately.
type State struct {
	aborted atomic.Bool

	mu          sync.Mutex
	abortCh     chan struct{}
	wait        *waitRequest
	backlog     []string
	backlogSize int
	seq         int
}

type waitRequest struct {
	pattern string
	done    chan struct{}
}

// NewState creates a State. backlogSize < 1 uses DefaultBacklogSize.
func NewState(backlogSize int) *State {
	if backlogSize < 1 {
		backlogSize = DefaultBacklogSize
	}
	return &State{
		abortCh:     make(chan struct{}),
		backlogSize: backlogSize,
		seq:         1,
	}
}

// Abort sets the abort flag and releases any live wait. It is idempotent.
func (s *State) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wait = nil
	if s.aborted.Swap(true) {
		return
	}
	close(s.abortCh)
}

// ClearAbort resets the abort flag so new work can run.
func (s *State) ClearAbort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted.Swap(false) {
		s.abortCh = make(chan struct{})
	}
}

// Aborted reports whether abort is set.
func (s *State) Aborted() bool {
	return s.aborted.Load()
}

// AbortSignal returns a channel closed once abort is set. Take it before
// checking Aborted to avoid missing an abort in between.
func (s *State) AbortSignal() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abortCh
}

// beginWait registers a wait for pattern. If a backlog line already
// matches, it and every older line are dropped and done is nil.
func (s *State) beginWait(pattern string) (done chan struct{}, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wait != nil {
		return nil, ErrWaitPending
	}
	for i, line := range s.backlog {
		if strings.HasPrefix(line, pattern) {
			s.backlog = append(s.backlog[:0:0], s.backlog[i+1:]...)
			return nil, nil
		}
	}
	s.wait = &waitRequest{pattern: pattern, done: make(chan struct{})}
	return s.wait.done, nil
}

// endWait drops the wait identified by done, if it is still live.
func (s *State) endWait(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wait != nil && s.wait.done == done {
		s.wait = nil
	}
}

// ClearWait drops any live wait without resolving it.
func (s *State) ClearWait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wait = nil
}

// Waiting returns the live wait's pattern.
func (s *State) Waiting() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wait == nil {
		return "", false
	}
	return s.wait.pattern, true
}

// Offer resolves the live wait if text starts with its pattern.
func (s *State) Offer(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wait == nil || !strings.HasPrefix(text, s.wait.pattern) {
		return false
	}
	close(s.wait.done)
	s.wait = nil
	return true
}

// AppendBacklog buffers a line for later waits, dropping the oldest line
// when full.
func (s *State) AppendBacklog(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.backlog) >= s.backlogSize {
		s.backlog = append(s.backlog[:0], s.backlog[len(s.backlog)-s.backlogSize+1:]...)
	}
	s.backlog = append(s.backlog, text)
}

// Backlog returns a copy of the buffered lines, oldest first.
func (s *State) Backlog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.backlog...)
}

// Seq returns the sequence counter.
func (s *State) Seq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// ResetSeq sets the sequence counter back to 1.
func (s *State) ResetSeq() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = 1
}

// nextSeq returns the counter and advances it.
func (s *State) nextSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.seq
	s.seq++
	return n
}
