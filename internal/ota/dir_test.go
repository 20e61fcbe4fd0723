package ota

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirPartitionTableLifecycle(t *testing.T) {
	dir := t.TempDir()

	table, err := OpenDir(dir)
	require.NoError(t, err)

	running, _ := table.Running()
	assert.Equal(t, 0, running.Index)
	next, _ := table.NextUpdate()
	assert.Equal(t, 1, next.Index)

	_, err = table.Begin(running)
	assert.Error(t, err, "running slot must not be writable")

	w, err := table.Begin(next)
	require.NoError(t, err)
	_, err = table.Begin(next)
	assert.Error(t, err, "slot is already being written")

	image := pattern(5000, 2)
	_, err = w.Write(image[:3000])
	require.NoError(t, err)
	_, err = w.Write(image[3000:])
	require.NoError(t, err)

	img, err := w.End()
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), img.Size)

	boot, _ := table.Boot()
	assert.Equal(t, 0, boot.Index, "End must not change the boot slot")

	require.NoError(t, table.SetBoot(img))
	boot, _ = table.Boot()
	assert.Equal(t, 1, boot.Index)

	data, err := os.ReadFile(filepath.Join(dir, "slot1.bin"))
	require.NoError(t, err)
	assert.Equal(t, image, data)

	reopened, err := OpenDir(dir)
	require.NoError(t, err)
	running, _ = reopened.Running()
	assert.Equal(t, 1, running.Index)
	require.NoError(t, reopened.VerifySlot(running))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "slot1.bin"), pattern(5000, 3), 0o644))
	assert.Error(t, reopened.VerifySlot(running))
}

func TestDirPartitionTableAbort(t *testing.T) {
	dir := t.TempDir()
	table, err := OpenDir(dir)
	require.NoError(t, err)

	next, _ := table.NextUpdate()
	w, err := table.Begin(next)
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	_, err = os.Stat(filepath.Join(dir, "slot1.bin.partial"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "slot1.bin"))
	assert.True(t, os.IsNotExist(err))

	// The slot is free again.
	w, err = table.Begin(next)
	require.NoError(t, err)
	require.NoError(t, w.Abort())
}

func TestDirPartitionTableSetBootSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	table, err := OpenDir(dir)
	require.NoError(t, err)

	next, _ := table.NextUpdate()
	w, err := table.Begin(next)
	require.NoError(t, err)
	_, err = w.Write(pattern(10, 0))
	require.NoError(t, err)
	img, err := w.End()
	require.NoError(t, err)

	img.Size = 11
	assert.Error(t, table.SetBoot(img))
	boot, _ := table.Boot()
	assert.Equal(t, 0, boot.Index)
}

func TestOpenDirRejectsCorruptBootData(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "otadata"), []byte{0xff, 0x00}, 0o644))

	_, err := OpenDir(dir)
	assert.Error(t, err)
}

func TestDirPartitionTableRefusesCommittedSlot(t *testing.T) {
	dir := t.TempDir()
	table, err := OpenDir(dir)
	require.NoError(t, err)

	next, _ := table.NextUpdate()
	w, err := table.Begin(next)
	require.NoError(t, err)
	image := pattern(2000, 5)
	_, err = w.Write(image)
	require.NoError(t, err)
	img, err := w.End()
	require.NoError(t, err)
	require.NoError(t, table.SetBoot(img))

	// Same process, before the restart: the committed slot is still the
	// update target but must not be reopened.
	again, _ := table.NextUpdate()
	require.Equal(t, next, again)
	_, err = table.Begin(again)
	assert.Error(t, err)

	boot, _ := table.Boot()
	assert.NoError(t, table.VerifySlot(boot))
	_, err = os.Stat(filepath.Join(dir, "slot1.bin.partial"))
	assert.True(t, os.IsNotExist(err))
}
