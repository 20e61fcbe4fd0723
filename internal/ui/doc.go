// Package ui renders the sensornode CLI output.
//
// Commands print once and exit: a header naming the operation, an optional
// progress line while an OTA image streams in, and a result box. Everything
// is styled with Lipgloss; the progress bar comes from Bubbles and RenderOnce
// goes through Bubble Tea so output matches the terminal's capabilities.
//
// Logging is separate. With SENSORNODE_LOG_LEVEL unset zap stays quiet and
// only the boxes rendered here reach the terminal.
package ui
