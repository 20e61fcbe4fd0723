package nodeconfig

import (
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/muurk/sensornode/internal/logging"
	"github.com/muurk/sensornode/internal/nvs"
)

// corruptionReporter is implemented by stores that can tell a wiped file from
// a fresh one (nvs.FileStore).
type corruptionReporter interface {
	Corrupted() bool
}

// Store is the single accessor for the node record.
type Store struct {
	nvs  nvs.Store
	opts Options

	// locks serializes writes per field.
	locks [numFields]sync.Mutex

	mu  sync.RWMutex
	rec Record

	// wiped is captured at the start of Load, before the boot counter
	// commit clears the backing store's corruption flag.
	wiped bool
}

// New creates a Store over the given non-volatile store. A nil opts uses
// DefaultOptions.
func New(store nvs.Store, opts *Options) *Store {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	d := DefaultOptions()
	if o.HardwareID == nil {
		o.HardwareID = d.HardwareID
	}
	if o.Random == nil {
		o.Random = d.Random
	}

	return &Store{
		nvs:  store,
		opts: o,
		rec:  Defaults(),
	}
}

// Snapshot returns a copy of the in-memory record.
func (s *Store) Snapshot() Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec
}

func (s *Store) update(fn func(r *Record)) {
	s.mu.Lock()
	fn(&s.rec)
	s.mu.Unlock()
}

func (s *Store) writeFailed(f Field, err error) {
	logging.Error("Config write failed",
		zap.String("key", f.Key()),
		zap.Error(err),
	)
	if s.opts.OnWriteFailure != nil {
		s.opts.OnWriteFailure(f, err)
	}
}

// Load reads every field into the in-memory record, seeding missing fields
// with their defaults, and returns the result.
//
// The returned error joins every per-field failure. None of them stop the
// load; the corresponding fields hold their defaults. Callers that enforce
// FailOnCorruption check IsIdentityError.
func (s *Store) Load() (Record, error) {
	var errs []error
	def := Defaults()

	if cr, ok := s.nvs.(corruptionReporter); ok {
		s.wiped = cr.Corrupted()
	}

	s.loadBootCount(&errs)

	provisioned := loadField(s, FieldProvisioned, def.Provisioned, getBool(s.nvs), setBool(s.nvs), &errs)
	s.update(func(r *Record) { r.Provisioned = provisioned })

	name := loadField(s, FieldNodeName, def.NodeName, s.nvs.GetString, s.nvs.SetString, &errs)
	if len(name) > MaxNodeNameLen {
		logging.Warn("Stored node name too long, truncating",
			zap.Int("length", len(name)),
			zap.Int("max", MaxNodeNameLen),
		)
		name = truncateName(name, MaxNodeNameLen)
	}
	s.update(func(r *Record) { r.NodeName = name })

	delay := loadField(s, FieldStartDelay, def.StartDelay, s.nvs.GetU8, s.nvs.SetU8, &errs)
	s.update(func(r *Record) { r.StartDelay = delay })

	s.loadIdentity(provisioned, &errs)

	mesh := def.Mesh
	mesh.LongRange = loadField(s, FieldLongRange, def.Mesh.LongRange, getBool(s.nvs), setBool(s.nvs), &errs)
	mesh.Channel = loadField(s, FieldChannel, def.Mesh.Channel, s.nvs.GetU8, s.nvs.SetU8, &errs)
	mesh.QueueSize = loadField(s, FieldQueueSize, def.Mesh.QueueSize, s.nvs.GetU8, s.nvs.SetU8, &errs)
	mesh.TTL = loadField(s, FieldTTL, def.Mesh.TTL, s.nvs.GetU8, s.nvs.SetU8, &errs)
	mesh.Forwarding = loadField(s, FieldForwarding, def.Mesh.Forwarding, getBool(s.nvs), setBool(s.nvs), &errs)

	enc := loadField(s, FieldEncryption, uint8(def.Mesh.Encryption), s.nvs.GetU8, s.nvs.SetU8, &errs)
	if mode := EncryptionMode(enc); mode.Valid() {
		mesh.Encryption = mode
	} else {
		errs = append(errs, newInvalidValueError(FieldEncryption, fmt.Sprintf("unknown mode %d, using default", enc)))
		logging.Warn("Stored encryption mode invalid, using default", zap.Uint8("value", enc))
	}

	mesh.AdjacentChannelFilter = loadField(s, FieldAdjacentFilter, def.Mesh.AdjacentChannelFilter, getBool(s.nvs), setBool(s.nvs), &errs)
	mesh.SwitchChannelOnForward = loadField(s, FieldSwitchChannel, def.Mesh.SwitchChannelOnForward, getBool(s.nvs), setBool(s.nvs), &errs)
	mesh.WeakSignalThreshold = loadField(s, FieldWeakSignal, def.Mesh.WeakSignalThreshold, s.nvs.GetI8, s.nvs.SetI8, &errs)
	s.update(func(r *Record) { r.Mesh = mesh })

	if err := s.nvs.Commit(); err != nil {
		serr := newIOError(FieldBootCount, "final commit failed", err)
		s.writeFailed(FieldBootCount, err)
		errs = append(errs, serr)
	}

	rec := s.Snapshot()
	logging.Info("Config loaded",
		zap.Uint32("boot_count", rec.BootCount),
		zap.String("node_name", rec.NodeName),
		zap.Bool("provisioned", rec.Provisioned),
		zap.Stringer("guid", rec.GUID),
		zap.Int("errors", len(errs)),
	)

	return rec, errors.Join(errs...)
}

// loadBootCount increments the counter and commits it before any other field
// is read or seeded.
func (s *Store) loadBootCount(errs *[]error) {
	f := FieldBootCount
	s.locks[f].Lock()
	defer s.locks[f].Unlock()

	count, err := s.nvs.GetU32(f.Key())
	switch {
	case err == nil:
		logging.Info("Boot counter", zap.Uint32("value", count))
	case errors.Is(err, nvs.ErrNotFound):
		logging.Warn("Boot counter not initialized yet")
		count = 0
	default:
		logging.Error("Reading boot counter failed", zap.Error(err))
		*errs = append(*errs, newIOError(f, "read failed", err))
		count = 0
	}

	count++
	s.update(func(r *Record) { r.BootCount = count })

	if err := s.nvs.SetU32(f.Key(), count); err != nil {
		s.writeFailed(f, err)
		*errs = append(*errs, newIOError(f, "write failed", err))
		return
	}
	if err := s.nvs.Commit(); err != nil {
		s.writeFailed(f, err)
		*errs = append(*errs, newIOError(f, "commit failed", err))
	}
}

// loadField implements default-and-seed for one scalar field.
func loadField[T any](s *Store, f Field, def T, get func(string) (T, error), set func(string, T) error, errs *[]error) T {
	s.locks[f].Lock()
	defer s.locks[f].Unlock()

	v, err := get(f.Key())
	switch {
	case err == nil:
		logging.Debug("Config field loaded", zap.String("key", f.Key()), zap.Any("value", v))
		return v

	case errors.Is(err, nvs.ErrNotFound):
		logging.Info("Config field seeded", zap.String("key", f.Key()), zap.Any("value", def))
		if werr := set(f.Key(), def); werr != nil {
			s.writeFailed(f, werr)
			*errs = append(*errs, newIOError(f, "seeding default failed", werr))
		}
		return def

	default:
		logging.Error("Config field unreadable, using default",
			zap.String("key", f.Key()),
			zap.Error(err),
		)
		*errs = append(*errs, newIOError(f, "read failed, using default", err))
		return def
	}
}

func getBool(store nvs.Store) func(string) (bool, error) {
	return func(key string) (bool, error) {
		v, err := store.GetU8(key)
		return v != 0, err
	}
}

func setBool(store nvs.Store) func(string, bool) error {
	return func(key string, v bool) error {
		return store.SetU8(key, boolToU8(v))
	}
}

func boolToU8(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

func (s *Store) identityCorrupted(err error) bool {
	if err != nil && !errors.Is(err, nvs.ErrNotFound) {
		return true
	}
	return s.wiped
}

// truncateName cuts name to at most limit bytes without splitting a rune.
func truncateName(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

func (s *Store) loadIdentity(provisioned bool, errs *[]error) {
	lkey, err := s.loadKey(FieldLocalKey)
	if err != nil {
		*errs = append(*errs, err)
	}
	pmk, err := s.loadKey(FieldPrimaryKey)
	if err != nil {
		*errs = append(*errs, err)
	}
	s.update(func(r *Record) {
		r.LocalKey = lkey
		r.PrimaryKey = pmk
	})

	if !provisioned && !pmk.IsZero() {
		logging.LogRawBytes("Unprovisioned primary key", pmk[:])
	}

	guid, err := s.loadGUID()
	if err != nil {
		*errs = append(*errs, err)
	}
	s.update(func(r *Record) { r.GUID = guid })
}

func (s *Store) loadKey(f Field) (Key, error) {
	s.locks[f].Lock()
	defer s.locks[f].Unlock()

	blob, err := s.nvs.GetBlob(f.Key())
	if err == nil && len(blob) == KeySize {
		var k Key
		copy(k[:], blob)
		return k, nil
	}
	if err == nil {
		err = fmt.Errorf("stored length %d, want %d", len(blob), KeySize)
	}

	if s.identityCorrupted(err) && s.opts.Policy == FailOnCorruption {
		logging.Error("Key unreadable, refusing to regenerate", zap.String("key", f.Key()), zap.Error(err))
		return Key{}, &StoreError{
			Type:    ErrTypeIdentityUnreadable,
			Field:   f,
			Message: "key present but unreadable",
			Err:     err,
		}
	}

	k, gerr := generateKey(s.opts.Random)
	if gerr != nil {
		return Key{}, newIOError(f, "key generation failed", gerr)
	}
	logging.Warn("New key generated", zap.String("key", f.Key()))

	if werr := s.nvs.SetBlob(f.Key(), k[:]); werr != nil {
		s.writeFailed(f, werr)
		return k, newIOError(f, "writing new key failed", werr)
	}
	return k, nil
}

func (s *Store) loadGUID() (GUID, error) {
	f := FieldGUID
	s.locks[f].Lock()
	defer s.locks[f].Unlock()

	blob, err := s.nvs.GetBlob(f.Key())
	if err == nil && len(blob) == GUIDSize {
		var g GUID
		copy(g[:], blob)
		return g, nil
	}
	if err == nil {
		err = fmt.Errorf("stored length %d, want %d", len(blob), GUIDSize)
	}

	if s.identityCorrupted(err) && s.opts.Policy == FailOnCorruption {
		logging.Error("GUID unreadable, refusing to regenerate", zap.Error(err))
		return GUID{}, &StoreError{
			Type:    ErrTypeIdentityUnreadable,
			Field:   f,
			Message: "GUID present but unreadable",
			Err:     err,
		}
	}

	suffix, herr := s.opts.HardwareID.HardwareID()
	if herr != nil {
		// Not persisted, so a later boot with a readable hardware id
		// still gets a proper GUID.
		logging.Error("Reading hardware id failed", zap.Error(herr))
		return NewGUID([HardwareIDSize]byte{}), newIOError(f, "hardware id unavailable", herr)
	}

	g := NewGUID(suffix)
	logging.Info("GUID generated", zap.Stringer("guid", g))

	if werr := s.nvs.SetBlob(f.Key(), g[:]); werr != nil {
		s.writeFailed(f, werr)
		return g, newIOError(f, "writing GUID failed", werr)
	}
	return g, nil
}

// Peek reads the stored record without seeding, generating or touching the
// boot counter. Missing fields read as defaults and missing identity as zero.
func (s *Store) Peek() (Record, error) {
	var errs []error
	rec := Defaults()
	def := Defaults()

	rec.BootCount = peekField(FieldBootCount, def.BootCount, s.nvs.GetU32, &errs)
	rec.Provisioned = peekField(FieldProvisioned, def.Provisioned, getBool(s.nvs), &errs)
	rec.NodeName = peekField(FieldNodeName, def.NodeName, s.nvs.GetString, &errs)
	rec.StartDelay = peekField(FieldStartDelay, def.StartDelay, s.nvs.GetU8, &errs)

	lkey := peekField(FieldLocalKey, []byte(nil), s.nvs.GetBlob, &errs)
	copy(rec.LocalKey[:], lkey)
	pmk := peekField(FieldPrimaryKey, []byte(nil), s.nvs.GetBlob, &errs)
	copy(rec.PrimaryKey[:], pmk)
	guid := peekField(FieldGUID, []byte(nil), s.nvs.GetBlob, &errs)
	copy(rec.GUID[:], guid)

	rec.Mesh.LongRange = peekField(FieldLongRange, def.Mesh.LongRange, getBool(s.nvs), &errs)
	rec.Mesh.Channel = peekField(FieldChannel, def.Mesh.Channel, s.nvs.GetU8, &errs)
	rec.Mesh.QueueSize = peekField(FieldQueueSize, def.Mesh.QueueSize, s.nvs.GetU8, &errs)
	rec.Mesh.TTL = peekField(FieldTTL, def.Mesh.TTL, s.nvs.GetU8, &errs)
	rec.Mesh.Forwarding = peekField(FieldForwarding, def.Mesh.Forwarding, getBool(s.nvs), &errs)
	rec.Mesh.Encryption = EncryptionMode(peekField(FieldEncryption, uint8(def.Mesh.Encryption), s.nvs.GetU8, &errs))
	rec.Mesh.AdjacentChannelFilter = peekField(FieldAdjacentFilter, def.Mesh.AdjacentChannelFilter, getBool(s.nvs), &errs)
	rec.Mesh.SwitchChannelOnForward = peekField(FieldSwitchChannel, def.Mesh.SwitchChannelOnForward, getBool(s.nvs), &errs)
	rec.Mesh.WeakSignalThreshold = peekField(FieldWeakSignal, def.Mesh.WeakSignalThreshold, s.nvs.GetI8, &errs)

	return rec, errors.Join(errs...)
}

func peekField[T any](f Field, def T, get func(string) (T, error), errs *[]error) T {
	v, err := get(f.Key())
	if err == nil {
		return v
	}
	if !errors.Is(err, nvs.ErrNotFound) {
		*errs = append(*errs, newIOError(f, "read failed", err))
	}
	return def
}

// Set validates value, writes it and commits. The in-memory record changes
// only when the commit succeeds.
func (s *Store) Set(f Field, value any) error {
	if f.ReadOnly() {
		return &StoreError{
			Type:    ErrTypeReadOnly,
			Field:   f,
			Message: "field is managed by load and factory reset",
		}
	}

	v, err := normalize(f, value)
	if err != nil {
		return err
	}

	s.locks[f].Lock()
	defer s.locks[f].Unlock()

	if err := s.write(f, v); err != nil {
		s.discard(f)
		s.writeFailed(f, err)
		return newIOError(f, "write failed", err)
	}
	if err := s.nvs.Commit(); err != nil {
		s.discard(f)
		s.writeFailed(f, err)
		return newIOError(f, "commit failed", err)
	}

	s.update(func(r *Record) { apply(r, f, v) })
	logging.Info("Config field updated", zap.String("key", f.Key()), zap.Any("value", v))
	return nil
}

// discard drops a staged write that did not make it to a commit, so a later
// commit of another field cannot persist it.
func (s *Store) discard(fields ...Field) {
	for _, f := range fields {
		if err := s.nvs.Discard(f.Key()); err != nil {
			logging.Warn("Discarding staged write failed", zap.String("key", f.Key()), zap.Error(err))
		}
	}
}

func (s *Store) write(f Field, v any) error {
	key := f.Key()
	switch x := v.(type) {
	case bool:
		return s.nvs.SetU8(key, boolToU8(x))
	case string:
		return s.nvs.SetString(key, x)
	case uint8:
		return s.nvs.SetU8(key, x)
	case int8:
		return s.nvs.SetI8(key, x)
	case EncryptionMode:
		return s.nvs.SetU8(key, uint8(x))
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
}

// SetProvisioned durably records the provisioning outcome.
func (s *Store) SetProvisioned(v bool) error {
	return s.Set(FieldProvisioned, v)
}

// SetChannel durably records the mesh channel.
func (s *Store) SetChannel(ch uint8) error {
	return s.Set(FieldChannel, ch)
}

// SetNodeName durably records the node name.
func (s *Store) SetNodeName(name string) error {
	return s.Set(FieldNodeName, name)
}

// CommitAll flushes any staged writes.
func (s *Store) CommitAll() error {
	if err := s.nvs.Commit(); err != nil {
		return &StoreError{
			Type:      ErrTypeIO,
			Field:     -1,
			Message:   "commit failed",
			Err:       err,
			Retryable: true,
		}
	}
	return nil
}

// FactoryReset clears the provisioned flag and erases the identity so the
// next Load generates a new one.
func (s *Store) FactoryReset() error {
	order := []Field{FieldProvisioned, FieldLocalKey, FieldPrimaryKey, FieldGUID}
	for _, f := range order {
		s.locks[f].Lock()
	}
	defer func() {
		for i := len(order) - 1; i >= 0; i-- {
			s.locks[order[i]].Unlock()
		}
	}()

	logging.Warn("Factory reset: erasing identity")

	if err := s.nvs.SetU8(KeyProvisioned, 0); err != nil {
		s.discard(order...)
		s.writeFailed(FieldProvisioned, err)
		return newIOError(FieldProvisioned, "clearing provisioned flag failed", err)
	}
	for _, f := range order[1:] {
		if err := s.nvs.Erase(f.Key()); err != nil {
			s.discard(order...)
			s.writeFailed(f, err)
			return newIOError(f, "erase failed", err)
		}
	}
	if err := s.nvs.Commit(); err != nil {
		s.discard(order...)
		s.writeFailed(FieldProvisioned, err)
		return newIOError(FieldProvisioned, "commit failed", err)
	}

	s.update(func(r *Record) {
		r.Provisioned = false
		r.LocalKey = Key{}
		r.PrimaryKey = Key{}
		r.GUID = GUID{}
	})
	return nil
}
