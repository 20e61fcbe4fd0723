package ota

import (
	"encoding/hex"
	"fmt"
)

// Slot identifies an application partition.
type Slot struct {
	Index int
	Label string
}

func (s Slot) String() string {
	if s.Label != "" {
		return s.Label
	}
	return fmt.Sprintf("slot%d", s.Index)
}

// Digest is the blake3-256 digest of a written image.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Image describes a completely written slot.
type Image struct {
	Slot   Slot
	Size   uint64
	Digest Digest
}

// PartitionTable is the flash layout the pipeline writes into.
type PartitionTable interface {
	// Running is the slot the current process booted from.
	Running() (Slot, error)
	// Boot is the slot selected for the next boot.
	Boot() (Slot, error)
	// NextUpdate is the slot an update should be written to.
	NextUpdate() (Slot, error)
	// Begin starts writing slot. The previous content of slot is lost.
	Begin(slot Slot) (Writer, error)
	// SetBoot selects img for the next boot.
	SetBoot(img Image) error
}

// Writer receives an image. Exactly one of End or Abort must be called.
type Writer interface {
	Write(p []byte) (int, error)
	// End finalises the slot and returns what was written.
	End() (Image, error)
	// Abort discards everything written.
	Abort() error
}
