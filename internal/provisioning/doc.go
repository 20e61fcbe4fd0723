// Package provisioning runs the time-boxed pairing window and makes nodes in
// that window discoverable over mDNS.
//
// # Pairing Window
//
// A single click opens a Window. While it is open:
//  1. the mesh accepts pairing requests,
//  2. the LED shows the provisioning pattern,
//  3. the node advertises ServiceType with TXT records guid, name and ver.
//
// The window closes by itself after its duration, or earlier when Close is
// called (for example once pairing succeeded). Starting a window that is
// already open does nothing.
//
// # Discovery
//
// Scanner browses for ServiceType and returns the nodes currently in a
// pairing window. It backs the "discover" command.
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Nodes must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package provisioning
