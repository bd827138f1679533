// Package scheduler fires device commands on a cadence over unbounded
// run durations.
//
// One timing loop scans the job registry at a fine-grained tick and
// dispatches each due job on its own goroutine, so a slow or stuck
// serial command never delays sibling jobs. Next-run times are anchored
// to the scheduled fire time, not the completion time, so variable
// command latency does not accumulate into drift. A job whose previous
// run is still in flight when its next fire time arrives has that fire
// skipped, never queued: the same job never overlaps itself.
package scheduler
