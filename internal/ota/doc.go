// Package ota downloads a firmware image into the inactive partition and
// switches the boot target once the image is complete.
//
// # Session Lifecycle
//
// Each call to Pipeline.PerformUpdate creates one Session that moves through
//
//	Idle -> Connecting -> Downloading <-> Writing -> Verifying -> Committed
//
// and reaches Failed from any non-terminal state. Sessions are never
// persisted: after a power loss the partially written slot is simply
// overwritten by the next attempt.
//
// # Connecting
//
// Opening the stream is retried with a constant backoff (Options.RetryInterval)
// until it succeeds, MaxAttempts is reached (0 means no limit) or the context
// is cancelled. The context is only consulted while connecting; once bytes
// are flowing the session runs to Committed or Failed.
//
// A stream whose declared length is not positive aborts the session with
// ErrTypeInvalidLength. Up to one chunk of the body is logged for diagnostics
// and the open is not retried.
//
// # Writing
//
// The stream is read in ChunkSize pieces and exactly the bytes read are
// written to the partition. Reads stop once the declared length has been
// received. Any read or write error aborts the partition writer so the slot
// is never made bootable.
//
// # Single Writer
//
// A Gate admits one session at a time. A second PerformUpdate while one is
// running fails with ErrTypeBusy. Other components use Gate.WaitIdle to defer
// restarts until the running session reaches a terminal state.
package ota
