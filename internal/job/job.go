// Package job implements the job contract the protocol engine
// consumes (spec.md §6): get_next, position accessors and progress
// notification, in three concrete flavors — a local file, a local
// stream and an SD-resident file (spec.md §3).
package job

// Listener receives job lifecycle notifications, mirroring the
// original's on_job_progress/on_job_done hooks.
type Listener interface {
	OnJobProgress(name string, pos, readLines, actualLines int)
	OnJobDone(name string)
}

// Job is the contract the sending loop polls for the next line to
// send (spec.md §6 "Job contract").
type Job interface {
	// Name identifies the job for progress notifications.
	Name() string
	// GetNext returns the next G-code line, or ok=false at end.
	GetNext() (line string, ok bool)
	// Pos is the current read position (line index).
	Pos() int
	// ReadLines is how many lines have been handed out so far.
	ReadLines() int
	// ActualLines is the total line count, if known (0 if not).
	ActualLines() int
	// Active reports whether the job is still producing lines.
	Active() bool
	// RunsParallel reports whether this job can overlap with manual
	// commands on the same connection (true only for SDFileJob, whose
	// lines the firmware reads from its own card).
	RunsParallel() bool
}
