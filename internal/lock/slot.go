package lock

// Slot is a single-occupancy, non-blocking lock. At most one deployment
// holds it at a time; a second caller is turned away instead of queued.
type Slot struct {
	ch chan struct{}
}

func NewSlot() *Slot {
	return &Slot{ch: make(chan struct{}, 1)}
}

// TryAcquire reports whether the caller now holds the slot.
func (s *Slot) TryAcquire() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees the slot. Releasing an empty slot is a no-op.
func (s *Slot) Release() {
	select {
	case <-s.ch:
	default:
	}
}

// Busy reports whether the slot is currently held.
func (s *Slot) Busy() bool {
	return len(s.ch) == 1
}
