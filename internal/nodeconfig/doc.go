// Package nodeconfig owns the node's durable configuration record.
//
// The record holds the provisioning flag, node name, start delay, boot
// counter, identity material (GUID, local key, primary key) and the mesh
// parameters. It is persisted field by field in an nvs.Store under the key
// names listed in keys.go, which must stay stable across releases.
//
// # Loading
//
// Store.Load reads every field independently. A missing field is seeded with
// its compiled-in default and written back, so the first boot after an erase
// converges to a fully populated store. A field that cannot be read falls back
// to its default without aborting the others. The boot counter is read,
// incremented and committed before anything else is touched.
//
// # Identity
//
// The GUID is FF FF FF FF FF FF FF FE followed by an 8-byte hardware suffix.
// The local and primary keys are 32 random bytes. Each is generated only when
// absent and never validated on read. FactoryReset clears the provisioned
// flag and erases all three so the next Load mints a new identity.
//
// What happens when identity material exists but cannot be read is governed by
// IdentityPolicy: RegenerateOnCorruption mints a new identity, while
// FailOnCorruption leaves the field zero and reports an identity error.
//
// # Writes
//
// Store.Set writes one field and commits before returning. Writes to the same
// field are serialized; different fields do not wait on each other. The
// in-memory record is updated only after the commit succeeds.
package nodeconfig
