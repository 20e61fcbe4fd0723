package nodeconfig

import (
	"errors"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/muurk/sensornode/internal/nvs"
)

// seqReader yields 0,1,2,... so each generated key differs from the last.
type seqReader struct {
	mu sync.Mutex
	n  byte
}

func (r *seqReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range p {
		p[i] = r.n
		r.n++
	}
	return len(p), nil
}

var testHW = StaticHardwareID{0x24, 0x0A, 0xC4, 0x11, 0x22, 0x33, 0x00, 0x00}

func testOptions() *Options {
	return &Options{
		HardwareID: testHW,
		Random:     &seqReader{n: 1},
	}
}

func TestLoadEmptyStoreSeedsDefaults(t *testing.T) {
	mem := nvs.NewMemoryStore()
	s := New(mem, testOptions())

	rec, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	def := Defaults()
	if rec.NodeName != def.NodeName {
		t.Errorf("NodeName = %q, want %q", rec.NodeName, def.NodeName)
	}
	if rec.Mesh != def.Mesh {
		t.Errorf("Mesh = %+v, want %+v", rec.Mesh, def.Mesh)
	}
	if rec.BootCount != 1 {
		t.Errorf("BootCount = %d, want 1", rec.BootCount)
	}

	// Every key must be present in the committed image.
	reopened := mem.Reopen()
	for _, f := range Fields() {
		present := false
		for _, k := range reopened.Keys() {
			if k == f.Key() {
				present = true
			}
		}
		if !present {
			t.Errorf("key %q not persisted after first load", f.Key())
		}
	}

	// A second load over the committed image returns the same values.
	again, err := New(reopened, testOptions()).Load()
	if err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if again.NodeName != rec.NodeName || again.Mesh != rec.Mesh || again.StartDelay != rec.StartDelay || again.Provisioned != rec.Provisioned {
		t.Errorf("second load differs: %+v vs %+v", again, rec)
	}
	if again.LocalKey != rec.LocalKey || again.PrimaryKey != rec.PrimaryKey {
		t.Error("keys changed between loads without reset")
	}
}

func TestLoadSeedsCorrectTypes(t *testing.T) {
	mem := nvs.NewMemoryStore()
	if _, err := New(mem, testOptions()).Load(); err != nil {
		t.Fatal(err)
	}

	if v, err := mem.GetI8(KeyWeakSignal); err != nil || v != -100 {
		t.Errorf("drop_rssi = %d, %v; want -100 as i8", v, err)
	}
	if v, err := mem.GetString(KeyNodeName); err != nil || v != "Sensor Node" {
		t.Errorf("node_name = %q, %v", v, err)
	}
	if v, err := mem.GetU32(KeyBootCounter); err != nil || v != 1 {
		t.Errorf("boot_counter = %d, %v", v, err)
	}
}

func TestSwitchChannelDoesNotClobberAdjacentFilter(t *testing.T) {
	mem := nvs.NewMemoryStore()
	_ = mem.SetU8(KeyAdjacentFilter, 1)
	_ = mem.SetU8(KeySwitchChannel, 1)

	rec, _ := New(mem, testOptions()).Load()
	if !rec.Mesh.AdjacentChannelFilter || !rec.Mesh.SwitchChannelOnForward {
		t.Errorf("mesh flags = %+v, want both true", rec.Mesh)
	}

	_ = mem.SetU8(KeySwitchChannel, 0)
	rec, _ = New(mem, testOptions()).Load()
	if !rec.Mesh.AdjacentChannelFilter {
		t.Error("drop_swchf=0 must not clear the adjacent channel filter")
	}
	if rec.Mesh.SwitchChannelOnForward {
		t.Error("SwitchChannelOnForward should be false")
	}
}

func TestBootCountIncrementsAndCommitsFirst(t *testing.T) {
	mem := nvs.NewMemoryStore()
	_ = mem.SetU32(KeyBootCounter, 41)
	_ = mem.Commit()

	// Every later write fails: the boot counter must still be committed.
	for _, f := range Fields() {
		if f != FieldBootCount {
			mem.Fail(nvs.OpSet, f.Key(), errors.New("flash worn"))
		}
	}

	rec, err := New(mem, testOptions()).Load()
	if err == nil {
		t.Error("Load() should report the failed seeds")
	}
	if !IsIOError(err) {
		t.Errorf("Load() error = %v, want an I/O StoreError", err)
	}
	if rec.BootCount != 42 {
		t.Errorf("BootCount = %d, want 42", rec.BootCount)
	}

	after := mem.Reopen()
	if v, _ := after.GetU32(KeyBootCounter); v != 42 {
		t.Errorf("committed boot_counter = %d, want 42", v)
	}
}

func TestLoadFieldReadFailureFallsBackIndependently(t *testing.T) {
	mem := nvs.NewMemoryStore()
	_ = mem.SetU8(KeyChannel, 6)
	_ = mem.SetU8(KeyTTL, 9)
	mem.Fail(nvs.OpGet, KeyChannel, errors.New("read error"))

	rec, err := New(mem, testOptions()).Load()
	if !IsIOError(err) {
		t.Fatalf("Load() error = %v, want I/O error", err)
	}
	if rec.Mesh.Channel != Defaults().Mesh.Channel {
		t.Errorf("Channel = %d, want default on read failure", rec.Mesh.Channel)
	}
	if rec.Mesh.TTL != 9 {
		t.Errorf("TTL = %d, want 9 (independent of channel failure)", rec.Mesh.TTL)
	}

	// The unreadable value is not overwritten with the default.
	mem.Fail(nvs.OpGet, KeyChannel, nil)
	if v, _ := mem.GetU8(KeyChannel); v != 6 {
		t.Errorf("stored channel = %d, want 6 untouched", v)
	}
}

func TestGUIDStableAcrossLoads(t *testing.T) {
	mem := nvs.NewMemoryStore()
	s := New(mem, testOptions())

	first, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}

	want := GUID{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFE, 0x24, 0x0A, 0xC4, 0x11, 0x22, 0x33, 0x00, 0x00}
	if first.GUID != want {
		t.Errorf("GUID = %v, want %v", first.GUID, want)
	}

	// A different hardware id must not change a stored GUID.
	other := &Options{HardwareID: StaticHardwareID{1, 2, 3, 4, 5, 6, 7, 8}, Random: &seqReader{n: 99}}
	for i := 0; i < 3; i++ {
		rec, err := New(mem.Reopen(), other).Load()
		if err != nil {
			t.Fatal(err)
		}
		if rec.GUID != first.GUID {
			t.Fatalf("load %d: GUID = %v, want %v", i, rec.GUID, first.GUID)
		}
	}
}

func TestFactoryResetRegeneratesKeys(t *testing.T) {
	mem := nvs.NewMemoryStore()
	s := New(mem, testOptions())

	if _, err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if err := s.SetProvisioned(true); err != nil {
		t.Fatal(err)
	}
	before := s.Snapshot()
	if !before.Provisioned {
		t.Fatal("Provisioned should be true before reset")
	}

	if err := s.FactoryReset(); err != nil {
		t.Fatalf("FactoryReset() error = %v", err)
	}
	if s.Snapshot().Provisioned {
		t.Error("Provisioned should be false right after reset")
	}

	after, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if after.Provisioned {
		t.Error("Provisioned = true after reset and reload")
	}
	if after.LocalKey == before.LocalKey {
		t.Error("LocalKey unchanged after factory reset")
	}
	if after.PrimaryKey == before.PrimaryKey {
		t.Error("PrimaryKey unchanged after factory reset")
	}
	if after.GUID != before.GUID {
		t.Error("GUID is derived from hardware and should be rebuilt identically")
	}
}

func TestFactoryResetCommitFailureKeepsMemory(t *testing.T) {
	mem := nvs.NewMemoryStore()
	s := New(mem, testOptions())
	if _, err := s.Load(); err != nil {
		t.Fatal(err)
	}
	_ = s.SetProvisioned(true)

	mem.FailCommit(errors.New("power glitch"))
	if err := s.FactoryReset(); !IsIOError(err) {
		t.Fatalf("FactoryReset() error = %v, want I/O error", err)
	}
	if !s.Snapshot().Provisioned {
		t.Error("in-memory record must not change when the reset did not commit")
	}
}

func TestIdentityPolicyOnUnreadableKey(t *testing.T) {
	tests := []struct {
		name         string
		policy       IdentityPolicy
		wantIdentity bool
		wantZero     bool
	}{
		{"regenerate", RegenerateOnCorruption, false, false},
		{"fail", FailOnCorruption, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := nvs.NewMemoryStore()
			_ = mem.SetBlob(KeyLocalKey, make([]byte, 5)) // wrong length

			opts := testOptions()
			opts.Policy = tt.policy
			rec, err := New(mem, opts).Load()

			if got := IsIdentityError(err); got != tt.wantIdentity {
				t.Errorf("IsIdentityError() = %v, want %v (err = %v)", got, tt.wantIdentity, err)
			}
			if got := rec.LocalKey.IsZero(); got != tt.wantZero {
				t.Errorf("LocalKey.IsZero() = %v, want %v", got, tt.wantZero)
			}
			if rec.PrimaryKey.IsZero() {
				t.Error("absent primary key should always be generated")
			}
		})
	}
}

func TestSetValidatesAndCommits(t *testing.T) {
	mem := nvs.NewMemoryStore()
	s := New(mem, testOptions())
	if _, err := s.Load(); err != nil {
		t.Fatal(err)
	}
	commits := mem.Commits()

	if err := s.SetChannel(11); err != nil {
		t.Fatalf("SetChannel() error = %v", err)
	}
	if mem.Commits() != commits+1 {
		t.Errorf("Set should commit exactly once, commits = %d", mem.Commits()-commits)
	}
	if s.Snapshot().Mesh.Channel != 11 {
		t.Errorf("Channel = %d, want 11", s.Snapshot().Mesh.Channel)
	}

	tests := []struct {
		name  string
		field Field
		value any
		check func(error) bool
	}{
		{"channel zero", FieldChannel, uint8(0), IsInvalidValueError},
		{"channel 15", FieldChannel, uint8(15), IsInvalidValueError},
		{"long name", FieldNodeName, "this node name is far too long for the field", IsInvalidValueError},
		{"wrong type", FieldTTL, 5, IsInvalidValueError},
		{"guid read-only", FieldGUID, []byte{1}, IsReadOnlyError},
		{"boot count read-only", FieldBootCount, uint32(9), IsReadOnlyError},
		{"bad encryption", FieldEncryption, EncryptionMode(7), IsInvalidValueError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Set(tt.field, tt.value); !tt.check(err) {
				t.Errorf("Set(%v, %v) error = %v", tt.field, tt.value, err)
			}
		})
	}
}

func TestSetWriteFailureKeepsLastKnownValue(t *testing.T) {
	mem := nvs.NewMemoryStore()
	var failures []Field
	opts := testOptions()
	opts.OnWriteFailure = func(f Field, _ error) { failures = append(failures, f) }

	s := New(mem, opts)
	if _, err := s.Load(); err != nil {
		t.Fatal(err)
	}

	mem.Fail(nvs.OpSet, KeyNodeName, errors.New("sector full"))
	if err := s.SetNodeName("Garden"); !IsIOError(err) {
		t.Fatalf("SetNodeName() error = %v, want I/O error", err)
	}
	if s.Snapshot().NodeName != "Sensor Node" {
		t.Errorf("NodeName = %q, want last known value", s.Snapshot().NodeName)
	}
	if len(failures) != 1 || failures[0] != FieldNodeName {
		t.Errorf("OnWriteFailure calls = %v", failures)
	}
}

func TestConcurrentSetsOnDifferentFields(t *testing.T) {
	mem := nvs.NewMemoryStore()
	s := New(mem, testOptions())
	if _, err := s.Load(); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = s.SetChannel(uint8(i%14 + 1))
		}(i)
		go func(i int) {
			defer wg.Done()
			_ = s.SetProvisioned(i%2 == 0)
		}(i)
	}
	wg.Wait()

	snap := s.Snapshot()
	stored, _ := mem.GetU8(KeyChannel)
	if stored != snap.Mesh.Channel {
		t.Errorf("stored channel %d != in-memory %d", stored, snap.Mesh.Channel)
	}
}

func TestPeekDoesNotWrite(t *testing.T) {
	mem := nvs.NewMemoryStore()
	_ = mem.SetU32(KeyBootCounter, 7)
	_ = mem.Commit()

	rec, err := New(mem, testOptions()).Peek()
	if err != nil {
		t.Fatalf("Peek() error = %v", err)
	}
	if rec.BootCount != 7 {
		t.Errorf("BootCount = %d, want 7", rec.BootCount)
	}
	if !rec.GUID.IsZero() {
		t.Error("Peek must not generate a GUID")
	}
	if len(mem.Keys()) != 1 {
		t.Errorf("Peek wrote keys: %v", mem.Keys())
	}
}

func TestFileStoreCorruptionHonoursPolicy(t *testing.T) {
	path := t.TempDir() + "/storage.cbor"
	fs, err := nvs.OpenFile(path, "storage")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(fs, testOptions()).Load(); err != nil {
		t.Fatal(err)
	}

	if err := corruptFile(path); err != nil {
		t.Fatal(err)
	}

	reopened, err := nvs.OpenFile(path, "storage")
	if err != nil {
		t.Fatal(err)
	}
	opts := testOptions()
	opts.Policy = FailOnCorruption
	_, err = New(reopened, opts).Load()
	if !IsIdentityError(err) {
		t.Errorf("Load() over corrupt file error = %v, want identity error", err)
	}
}

func TestFailedSetIsNotPersistedByLaterCommit(t *testing.T) {
	mem := nvs.NewMemoryStore()
	s := New(mem, testOptions())
	if _, err := s.Load(); err != nil {
		t.Fatal(err)
	}

	mem.FailCommit(errors.New("flash busy"))
	if err := s.SetProvisioned(true); !IsIOError(err) {
		t.Fatalf("SetProvisioned() error = %v, want I/O error", err)
	}
	mem.FailCommit(nil)

	if err := s.SetNodeName("Garden"); err != nil {
		t.Fatalf("SetNodeName() error = %v", err)
	}
	if s.Snapshot().Provisioned {
		t.Error("in-memory provisioned changed after failed commit")
	}

	rec, err := New(mem.Reopen(), testOptions()).Load()
	if err != nil {
		t.Fatal(err)
	}
	if rec.Provisioned {
		t.Error("failed write became durable through an unrelated commit")
	}
	if rec.NodeName != "Garden" {
		t.Errorf("NodeName = %q, want %q", rec.NodeName, "Garden")
	}
}

func TestFailedFactoryResetIsNotPersistedByLaterCommit(t *testing.T) {
	mem := nvs.NewMemoryStore()
	s := New(mem, testOptions())
	before, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetProvisioned(true); err != nil {
		t.Fatal(err)
	}

	mem.Fail(nvs.OpErase, KeyGUID, errors.New("erase timeout"))
	if err := s.FactoryReset(); !IsIOError(err) {
		t.Fatalf("FactoryReset() error = %v, want I/O error", err)
	}
	mem.Fail(nvs.OpErase, KeyGUID, nil)

	if err := s.SetChannel(9); err != nil {
		t.Fatal(err)
	}

	rec, err := New(mem.Reopen(), testOptions()).Load()
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Provisioned {
		t.Error("partial factory reset cleared provisioned")
	}
	if rec.LocalKey != before.LocalKey || rec.PrimaryKey != before.PrimaryKey {
		t.Error("partial factory reset erased keys")
	}
}

func TestLoadTruncatesNodeNameOnRuneBoundary(t *testing.T) {
	mem := nvs.NewMemoryStore()
	// 31 ASCII bytes followed by a two-byte rune straddling the limit.
	long := "abcdefghijklmnopqrstuvwxyz01234" + "é" + "tail"
	_ = mem.SetString(KeyNodeName, long)

	rec, _ := New(mem, testOptions()).Load()

	if len(rec.NodeName) > MaxNodeNameLen {
		t.Errorf("len(NodeName) = %d, want <= %d", len(rec.NodeName), MaxNodeNameLen)
	}
	if !utf8.ValidString(rec.NodeName) {
		t.Errorf("NodeName %q is not valid UTF-8", rec.NodeName)
	}
	if rec.NodeName != "abcdefghijklmnopqrstuvwxyz01234" {
		t.Errorf("NodeName = %q", rec.NodeName)
	}
}
