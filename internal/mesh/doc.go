// Package mesh is the boundary between the node and the mesh radio stack.
//
// The mesh itself (forwarding, encryption, pairing handshake) is provided by
// an implementation of Mesh. The node hands it the loaded configuration and
// receives three kinds of callbacks: frames, network attach notifications and
// pairing results.
//
// Callbacks arrive on the implementation's goroutines. Bridge turns them into
// bounded channels drained by a single consumer so configuration writes never
// happen inside a callback:
//
//	Mesh callback -> Bridge channel -> Bridge.Run -> nodeconfig.Store / FrameSink
//
// WSLink is a Mesh that talks JSON over a websocket to a gateway. Gateway is
// the other end, used for development and tests.
package mesh
