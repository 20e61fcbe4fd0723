package ota

import (
	"bytes"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/muurk/sensornode/internal/atomicfile"
	"github.com/muurk/sensornode/internal/logging"
)

const (
	slotCount    = 2
	bootDataName = "otadata"
)

// bootData is the persisted boot selection. It is CBOR encoded and replaced
// atomically so a power loss leaves either the old or the new selection.
type bootData struct {
	Boot     int               `cbor:"1,keyasint"`
	Sequence uint32            `cbor:"2,keyasint"`
	Images   map[int]imageInfo `cbor:"3,keyasint"`
}

type imageInfo struct {
	Size   uint64 `cbor:"1,keyasint"`
	Digest []byte `cbor:"2,keyasint"`
}

// DirPartitionTable stores two image slots as files in a directory:
//
//	slot0.bin  slot1.bin  otadata
//
// Images are written to slotN.bin.partial and renamed on End.
type DirPartitionTable struct {
	dir     string
	running Slot

	mu      sync.Mutex
	writing map[int]bool
}

// OpenDir opens or initialises the partition directory. The slot recorded as
// the boot target at open time becomes the running slot.
func OpenDir(dir string) (*DirPartitionTable, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create partition directory: %w", err)
	}
	t := &DirPartitionTable{dir: dir, writing: make(map[int]bool)}

	bd, err := t.readBootData()
	if err != nil {
		return nil, err
	}
	t.running = slotAt(bd.Boot)

	logging.Debug("Partition table opened",
		zap.String("dir", dir),
		zap.Stringer("running", t.running),
		zap.Uint32("sequence", bd.Sequence))
	return t, nil
}

func slotAt(i int) Slot {
	return Slot{Index: i, Label: fmt.Sprintf("slot%d", i)}
}

func (t *DirPartitionTable) slotPath(s Slot) string {
	return filepath.Join(t.dir, s.String()+".bin")
}

func (t *DirPartitionTable) readBootData() (bootData, error) {
	data, err := os.ReadFile(filepath.Join(t.dir, bootDataName))
	if errors.Is(err, os.ErrNotExist) {
		return bootData{Images: map[int]imageInfo{}}, nil
	}
	if err != nil {
		return bootData{}, fmt.Errorf("failed to read boot data: %w", err)
	}
	var bd bootData
	if err := cbor.Unmarshal(data, &bd); err != nil {
		return bootData{}, fmt.Errorf("failed to decode boot data: %w", err)
	}
	if bd.Boot < 0 || bd.Boot >= slotCount {
		return bootData{}, fmt.Errorf("boot data names slot %d", bd.Boot)
	}
	if bd.Images == nil {
		bd.Images = map[int]imageInfo{}
	}
	return bd, nil
}

// Running returns the slot selected when the table was opened.
func (t *DirPartitionTable) Running() (Slot, error) {
	return t.running, nil
}

// Boot returns the currently selected boot slot.
func (t *DirPartitionTable) Boot() (Slot, error) {
	bd, err := t.readBootData()
	if err != nil {
		return Slot{}, err
	}
	return slotAt(bd.Boot), nil
}

// NextUpdate returns the slot that is not running.
func (t *DirPartitionTable) NextUpdate() (Slot, error) {
	return slotAt((t.running.Index + 1) % slotCount), nil
}

// Begin opens slot for writing. Neither the running slot nor a slot
// committed for the next boot can be opened.
func (t *DirPartitionTable) Begin(slot Slot) (Writer, error) {
	if slot.Index < 0 || slot.Index >= slotCount {
		return nil, fmt.Errorf("no such slot: %v", slot)
	}
	if slot.Index == t.running.Index {
		return nil, fmt.Errorf("refusing to overwrite running slot %v", slot)
	}
	bd, err := t.readBootData()
	if err != nil {
		return nil, err
	}
	if bd.Boot == slot.Index {
		return nil, fmt.Errorf("slot %v is selected for the next boot, restart first", slot)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writing[slot.Index] {
		return nil, fmt.Errorf("slot %v is already being written", slot)
	}

	path := t.slotPath(slot)
	f, err := os.OpenFile(path+".partial", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open slot %v: %w", slot, err)
	}
	t.writing[slot.Index] = true

	return &dirWriter{
		table: t,
		slot:  slot,
		path:  path,
		file:  f,
		hash:  blake3.New(),
	}, nil
}

// SetBoot records img as the boot selection. The slot file must match the
// size and digest End returned.
func (t *DirPartitionTable) SetBoot(img Image) error {
	if img.Slot.Index < 0 || img.Slot.Index >= slotCount {
		return fmt.Errorf("no such slot: %v", img.Slot)
	}
	info, err := os.Stat(t.slotPath(img.Slot))
	if err != nil {
		return fmt.Errorf("slot %v has no image: %w", img.Slot, err)
	}
	if uint64(info.Size()) != img.Size {
		return fmt.Errorf("slot %v holds %d bytes, expected %d", img.Slot, info.Size(), img.Size)
	}

	bd, err := t.readBootData()
	if err != nil {
		return err
	}
	bd.Boot = img.Slot.Index
	bd.Sequence++
	bd.Images[img.Slot.Index] = imageInfo{Size: img.Size, Digest: img.Digest[:]}

	data, err := cbor.Marshal(bd)
	if err != nil {
		return fmt.Errorf("failed to encode boot data: %w", err)
	}
	if err := atomicfile.WriteFile(filepath.Join(t.dir, bootDataName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write boot data: %w", err)
	}

	logging.Info("Boot partition set",
		zap.Stringer("slot", img.Slot),
		zap.Uint64("size", img.Size),
		zap.Stringer("digest", img.Digest),
		zap.Uint32("sequence", bd.Sequence))
	return nil
}

// VerifySlot re-hashes the image in slot and compares it with the digest
// recorded by SetBoot.
func (t *DirPartitionTable) VerifySlot(slot Slot) error {
	bd, err := t.readBootData()
	if err != nil {
		return err
	}
	info, ok := bd.Images[slot.Index]
	if !ok {
		return fmt.Errorf("slot %v has no recorded image", slot)
	}
	f, err := os.Open(t.slotPath(slot))
	if err != nil {
		return fmt.Errorf("failed to open slot %v: %w", slot, err)
	}
	defer f.Close()

	h := blake3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return fmt.Errorf("failed to read slot %v: %w", slot, err)
	}
	if uint64(n) != info.Size {
		return fmt.Errorf("slot %v holds %d bytes, recorded %d", slot, n, info.Size)
	}
	if !bytes.Equal(h.Sum(nil), info.Digest) {
		return fmt.Errorf("slot %v digest mismatch", slot)
	}
	return nil
}

func (t *DirPartitionTable) release(slot Slot) {
	t.mu.Lock()
	delete(t.writing, slot.Index)
	t.mu.Unlock()
}

type dirWriter struct {
	table   *DirPartitionTable
	slot    Slot
	path    string
	file    *os.File
	hash    hash.Hash
	written uint64
	done    bool
}

func (w *dirWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, errors.New("writer is closed")
	}
	n, err := w.file.Write(p)
	w.hash.Write(p[:n])
	w.written += uint64(n)
	return n, err
}

func (w *dirWriter) End() (Image, error) {
	if w.done {
		return Image{}, errors.New("writer is closed")
	}
	w.done = true
	defer w.table.release(w.slot)

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		os.Remove(w.path + ".partial")
		return Image{}, fmt.Errorf("failed to sync slot %v: %w", w.slot, err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.path + ".partial")
		return Image{}, fmt.Errorf("failed to close slot %v: %w", w.slot, err)
	}
	if err := os.Rename(w.path+".partial", w.path); err != nil {
		return Image{}, fmt.Errorf("failed to finalise slot %v: %w", w.slot, err)
	}
	if err := atomicfile.SyncDir(w.table.dir); err != nil {
		return Image{}, err
	}

	img := Image{Slot: w.slot, Size: w.written}
	copy(img.Digest[:], w.hash.Sum(nil))
	return img, nil
}

func (w *dirWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	defer w.table.release(w.slot)

	w.file.Close()
	if err := os.Remove(w.path + ".partial"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to discard slot %v: %w", w.slot, err)
	}
	return nil
}
