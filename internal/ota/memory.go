package ota

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
)

// MemoryPartitionTable keeps two slots in memory. Write failures can be
// injected at a byte offset.
type MemoryPartitionTable struct {
	mu      sync.Mutex
	slots   [slotCount][]byte
	running int
	boot    int
	writing bool

	failAt  int64
	failErr error
	bootErr error

	setBootCalls int
}

// NewMemoryPartitionTable creates a table running from slot 0 with image as
// its content.
func NewMemoryPartitionTable(image []byte) *MemoryPartitionTable {
	t := &MemoryPartitionTable{failAt: -1}
	t.slots[0] = append([]byte(nil), image...)
	return t
}

// FailWriteAt makes the write that would cross offset fail with err. Bytes
// before offset are kept. A negative offset clears the fault.
func (t *MemoryPartitionTable) FailWriteAt(offset int64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failAt = offset
	t.failErr = err
}

// FailSetBoot makes SetBoot return err.
func (t *MemoryPartitionTable) FailSetBoot(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bootErr = err
}

// Slot returns a copy of the content of slot i.
func (t *MemoryPartitionTable) Slot(i int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.slots[i]...)
}

// SetBootCalls returns how many times SetBoot succeeded.
func (t *MemoryPartitionTable) SetBootCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setBootCalls
}

func (t *MemoryPartitionTable) Running() (Slot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slotAt(t.running), nil
}

func (t *MemoryPartitionTable) Boot() (Slot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slotAt(t.boot), nil
}

func (t *MemoryPartitionTable) NextUpdate() (Slot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slotAt((t.running + 1) % slotCount), nil
}

func (t *MemoryPartitionTable) Begin(slot Slot) (Writer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot.Index < 0 || slot.Index >= slotCount {
		return nil, fmt.Errorf("no such slot: %v", slot)
	}
	if slot.Index == t.running {
		return nil, fmt.Errorf("refusing to overwrite running slot %v", slot)
	}
	if slot.Index == t.boot {
		return nil, fmt.Errorf("slot %v is selected for the next boot, restart first", slot)
	}
	if t.writing {
		return nil, errors.New("a slot is already being written")
	}
	t.writing = true
	t.slots[slot.Index] = nil
	return &memoryWriter{table: t, slot: slot, hash: blake3.New()}, nil
}

func (t *MemoryPartitionTable) SetBoot(img Image) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bootErr != nil {
		return t.bootErr
	}
	if uint64(len(t.slots[img.Slot.Index])) != img.Size {
		return fmt.Errorf("slot %v holds %d bytes, expected %d", img.Slot, len(t.slots[img.Slot.Index]), img.Size)
	}
	t.boot = img.Slot.Index
	t.setBootCalls++
	return nil
}

type memoryWriter struct {
	table *MemoryPartitionTable
	slot  Slot
	hash  *blake3.Hasher
	buf   []byte
	done  bool
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	t := w.table
	t.mu.Lock()
	failAt, failErr := t.failAt, t.failErr
	t.mu.Unlock()

	if w.done {
		return 0, errors.New("writer is closed")
	}
	if failAt >= 0 && int64(len(w.buf)+len(p)) > failAt {
		keep := int(failAt) - len(w.buf)
		if keep < 0 {
			keep = 0
		}
		w.buf = append(w.buf, p[:keep]...)
		w.hash.Write(p[:keep])
		if failErr == nil {
			failErr = errors.New("injected write failure")
		}
		return keep, failErr
	}
	w.buf = append(w.buf, p...)
	w.hash.Write(p)
	return len(p), nil
}

func (w *memoryWriter) End() (Image, error) {
	if w.done {
		return Image{}, errors.New("writer is closed")
	}
	w.done = true
	t := w.table
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writing = false
	t.slots[w.slot.Index] = w.buf

	img := Image{Slot: w.slot, Size: uint64(len(w.buf))}
	copy(img.Digest[:], w.hash.Sum(nil))
	return img, nil
}

func (w *memoryWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	t := w.table
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writing = false
	t.slots[w.slot.Index] = nil
	return nil
}
