// Package hw drives the node's button and status LED on Linux GPIO.
//
// The button line is requested with kernel debouncing on both edges. A
// Classifier turns the resulting press and release edges into the click and
// hold events consumed by package input:
//
//   - release within DoubleClick of a previous release: DoubleClick
//   - release with no second release in time: SingleClick
//   - held for LongPress: LongPressStart, then LongPressHold every HoldRepeat
//
// The LED is driven by a Blinker that plays named patterns from an embedded
// table (patterns.yaml). The most recently started pattern wins; stopping it
// resumes the one below.
package hw
