// Package engine tracks asynchronous tasks from submission to finalization.
// A Manager schedules work on a cooperative loop, advances it once per frame
// in Update, enforces timeouts, fires completion callbacks and renders the
// task table to a snapshot sink.
package engine
