// Package scheduler abstracts wall-clock time and timers.
//
// Device pollers schedule repeating polls and one-shot timers through
// Scheduler so tests can drive them with a virtual clock (Fake) instead
// of sleeping. System is the production implementation on top of the
// time package.
package scheduler
