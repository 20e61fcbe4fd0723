// Package nvs is a typed key/value store modelled on a microcontroller
// non-volatile storage partition.
//
// Values are typed (u8, i8, u32, string, blob) and addressed by short string
// keys. Writes are staged and become durable only on Commit. Reads of a key
// that was never written return ErrNotFound, which callers distinguish from
// I/O failures with errors.Is. Reading a key with the wrong typed getter
// returns ErrTypeMismatch.
//
// Two implementations are provided. FileStore persists a namespace to a single
// file, encoded as CBOR with a BLAKE3 checksum trailer, and replaces it
// atomically on Commit. MemoryStore keeps everything in memory and supports
// per-key fault injection for tests.
package nvs
