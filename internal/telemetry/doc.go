// Package telemetry publishes mesh traffic and node statistics to an MQTT
// broker.
//
// The broker connection is best effort. Payloads handed to the Publisher
// while the client is disconnected are dropped; nothing is queued for later.
package telemetry
