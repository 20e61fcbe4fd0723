// Package input turns debounced button callbacks into node actions.
//
// A Machine tracks one ButtonState per button and maps click and hold events
// to actions. A Dispatcher owns the machine, drains bounded per-producer
// queues on a single goroutine and hands actions to an Actuator.
//
// # Actions
//
//   - SingleClick: open the provisioning window
//   - DoubleClick: restart after the grace delay
//   - LongPressHold past the factory reset threshold: wipe identity and restart
//
// A hold fires at most once until the button is released.
package input
