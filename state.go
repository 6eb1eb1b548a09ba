package fio

import "sync/atomic"

// A future's disposition is a single atomic word: a terminal kind in
// the low bits plus transient flags. Only the owning loop performs
// the pending→terminal transition; wrapper types on foreign threads
// read the word and flip individual flags, which is why the word is
// atomic rather than locked. The result value and error are written
// before the terminal store, so any reader that observes a terminal
// kind may read them.
type stateKind uint32

const (
	statePending stateKind = iota
	stateCancelled
	stateCompleted
	stateFailed
)

const (
	stateKindMask  uint32 = 0b11
	flagCancelling uint32 = 1 << 2 // pending only: cancellation requested, not yet observed
	flagSilenced   uint32 = 1 << 3 // suppress destruction diagnostics
	flagRetrieved  uint32 = 1 << 4 // failed only: the error was read
	flagDestroyed  uint32 = 1 << 5 // finalizer ran; racing steps return silently
)

type stateWord struct {
	v atomic.Uint32
}

func (s *stateWord) kind() stateKind {
	return stateKind(s.v.Load() & stateKindMask)
}

func (s *stateWord) isPending() bool   { return s.kind() == statePending }
func (s *stateWord) isDone() bool      { return s.kind() != statePending }
func (s *stateWord) isCancelled() bool { return s.kind() == stateCancelled }
func (s *stateWord) isCompleted() bool { return s.kind() == stateCompleted }
func (s *stateWord) isFailed() bool    { return s.kind() == stateFailed }

func (s *stateWord) has(flag uint32) bool {
	return s.v.Load()&flag != 0
}

func (s *stateWord) set(flag uint32) {
	for {
		old := s.v.Load()
		if old&flag != 0 || s.v.CompareAndSwap(old, old|flag) {
			return
		}
	}
}

func (s *stateWord) clear(flag uint32) {
	for {
		old := s.v.Load()
		if old&flag == 0 || s.v.CompareAndSwap(old, old&^flag) {
			return
		}
	}
}

// finish transitions pending→kind, clearing the cancelling flag and
// preserving the rest. Returns false if the word was already
// terminal: the disposition transitions at most once.
func (s *stateWord) finish(kind stateKind) bool {
	for {
		old := s.v.Load()
		if stateKind(old&stateKindMask) != statePending {
			return false
		}
		next := (old &^ (stateKindMask | flagCancelling)) | uint32(kind)
		if s.v.CompareAndSwap(old, next) {
			return true
		}
	}
}

// rearm resets a terminal word back to pending. Only WaitContinuously
// uses this; plain futures are one-shot.
func (s *stateWord) rearm() {
	for {
		old := s.v.Load()
		next := old &^ (stateKindMask | flagCancelling | flagRetrieved)
		if s.v.CompareAndSwap(old, next) {
			return
		}
	}
}

func (k stateKind) String() string {
	switch k {
	case statePending:
		return "pending"
	case stateCancelled:
		return "cancelled"
	case stateCompleted:
		return "completed"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}
