package installstate

import "sync"

const (
	// coalesceAfter is the backlog from which progress updates are folded.
	coalesceAfter = 64
	// maxPendingChanges bounds what a stalled subscriber can hold. Past it
	// the oldest change is dropped.
	maxPendingChanges = 1024
)

// subscriber queues changes for one observer and hands them over on its own
// goroutine, so a slow reader never blocks a commit. Once a reader is
// coalesceAfter changes behind, progress updates of an app are folded into
// the newest one. Status transitions are never folded, so the final state
// always arrives.
type subscriber struct {
	mu      sync.Mutex
	pending []StateChange

	wake chan struct{}
	done chan struct{}
	out  chan StateChange
}

func newSubscriber() *subscriber {
	s := &subscriber{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan StateChange),
	}

	go s.pump()

	return s
}

func (s *subscriber) push(change StateChange) {
	s.mu.Lock()

	if !s.coalesce(change) {
		if len(s.pending) >= maxPendingChanges {
			s.pending = s.pending[1:]
		}

		s.pending = append(s.pending, change)
	}

	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// coalesce folds a progress update into the last queued change of the same
// app when that one is a progress update too. Callers hold s.mu.
func (s *subscriber) coalesce(change StateChange) bool {
	if len(s.pending) < coalesceAfter || !change.isProgress() {
		return false
	}

	for i := len(s.pending) - 1; i >= 0; i-- {
		queued := &s.pending[i]
		if queued.AppID != change.AppID {
			continue
		}

		if !queued.isProgress() {
			return false
		}

		queued.Current = change.Current
		queued.At = change.At

		return true
	}

	return false
}

func (s *subscriber) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()

		if len(s.pending) == 0 {
			s.mu.Unlock()

			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}

		next := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}

func (s *subscriber) stop() {
	close(s.done)
}

func (c StateChange) isProgress() bool {
	return c.Previous.Status == StatusDownloading && c.Current.Status == StatusDownloading
}
