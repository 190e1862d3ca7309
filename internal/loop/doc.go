// Package loop provides the cooperative scheduler that drives task
// computations. A Loop is advanced one non-blocking increment at a time by
// Tick; every hook, timer and queued callback runs on the goroutine calling
// Tick, while the work itself runs in its own goroutine and reports back
// through the loop's inbox.
package loop
