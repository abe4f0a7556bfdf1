package scheduler

import (
	"sync"

	"github.com/fentz26/showerflow/internal/models"
)

// StatusArray is the per-step status shared by all workers. It is used
// for display only; step ordering never depends on it.
type StatusArray struct {
	mu     sync.Mutex
	slots  []models.SlotStatus
	counts map[models.SlotStatus]int
	notify func(map[models.SlotStatus]int)
}

// NewStatusArray returns n pending slots.
func NewStatusArray(n int) *StatusArray {
	return &StatusArray{
		slots:  make([]models.SlotStatus, n),
		counts: map[models.SlotStatus]int{models.SlotPending: n},
	}
}

// OnChange registers f to receive the counts after every change. f runs
// with the array locked and must not call back into it.
func (a *StatusArray) OnChange(f func(map[models.SlotStatus]int)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notify = f
}

// Set updates slot i.
func (a *StatusArray) Set(i int, st models.SlotStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts[a.slots[i]]--
	a.slots[i] = st
	a.counts[st]++
	if a.notify != nil {
		a.notify(a.copyCounts())
	}
}

// Len returns the number of slots.
func (a *StatusArray) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots)
}

// Snapshot returns a copy of every slot.
func (a *StatusArray) Snapshot() []models.SlotStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.SlotStatus(nil), a.slots...)
}

// Counts returns the number of slots per status.
func (a *StatusArray) Counts() map[models.SlotStatus]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.copyCounts()
}

func (a *StatusArray) copyCounts() map[models.SlotStatus]int {
	out := make(map[models.SlotStatus]int, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}
	return out
}
