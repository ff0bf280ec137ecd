package job

import "sync"

// SDFileJob represents a print running directly off the printer's SD
// card: the firmware advances on its own, so GetNext never yields a
// line to send. Position tracking is driven externally through
// SetProgress and MarkDone; the protocol engine does not call them
// (it only forwards "SD printing byte" reports to its Listener).
type SDFileJob struct {
	name string

	mu     sync.Mutex
	pos    int
	total  int
	active bool
}

// NewSDFileJob creates a job for a print already selected on the SD
// card (via M23) and started (via M24).
func NewSDFileJob(name string) *SDFileJob {
	return &SDFileJob{name: name, active: true}
}

func (j *SDFileJob) Name() string { return j.name }

// GetNext always reports end-of-job: the SD card, not this process,
// feeds the firmware.
func (j *SDFileJob) GetNext() (string, bool) { return "", false }

// SetProgress records the latest byte position reported by the
// firmware's M27 autoreport or polled status.
func (j *SDFileJob) SetProgress(current, total int) {
	j.mu.Lock()
	j.pos = current
	j.total = total
	if total > 0 && current >= total {
		j.active = false
	}
	j.mu.Unlock()
}

func (j *SDFileJob) Pos() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.pos
}

func (j *SDFileJob) ReadLines() int { return j.Pos() }

func (j *SDFileJob) ActualLines() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.total
}

func (j *SDFileJob) Active() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.active
}

// MarkDone force-ends the job, e.g. once "Done printing file" arrives.
func (j *SDFileJob) MarkDone() {
	j.mu.Lock()
	j.active = false
	j.mu.Unlock()
}

func (j *SDFileJob) RunsParallel() bool { return true }
