package domain

import (
	"time"
)

// JobStatus is the outcome of a single backup job.
type JobStatus string

const (
	// JobSucceeded means the archive was written.
	JobSucceeded JobStatus = "succeeded"
	// JobFailed means no archive was written.
	JobFailed JobStatus = "failed"
	// JobSkipped means the job was planned but not executed (dry run).
	JobSkipped JobStatus = "skipped"
)

// JobResult contains the result of one backup job, or of a job that could not
// even be planned.
type JobResult struct {
	Host      string        `json:"host"`
	Mode      Mode          `json:"mode"`
	Target    string        `json:"target"`
	Roles     []Role        `json:"roles,omitempty"`
	Status    JobStatus     `json:"status"`
	Archive   *Archive      `json:"archive,omitempty"`
	Warnings  []string      `json:"warnings,omitempty"`
	Commands  []string      `json:"commands,omitempty"`
	Error     string        `json:"error,omitempty"`
	Kind      ErrorKind     `json:"kind,omitempty"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
}

// NewJobResult creates a JobResult for the given job.
func NewJobResult(job *BackupJob) *JobResult {
	return &JobResult{
		Host:      job.Host,
		Mode:      job.Mode,
		Target:    job.Target(),
		Roles:     job.Roles,
		StartTime: time.Now(),
	}
}

// Complete marks the result as complete.
func (r *JobResult) Complete(archive *Archive, err error) {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
	r.Archive = archive
	if err != nil {
		r.Status = JobFailed
		r.Error = err.Error()
		r.Kind = KindOf(err)
		return
	}
	r.Status = JobSucceeded
}

// Skip marks the result as skipped.
func (r *JobResult) Skip() {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
	r.Status = JobSkipped
}

// AddWarning records a non-fatal problem, such as a failed advisory dump.
func (r *JobResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Succeeded reports whether the job produced an archive.
func (r *JobResult) Succeeded() bool {
	return r.Status == JobSucceeded
}

// RunResult contains the results of a complete backup run.
type RunResult struct {
	ID        string        `json:"id"`
	Mode      Mode          `json:"mode"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	DryRun    bool          `json:"dry_run"`
	Jobs      []*JobResult  `json:"jobs"`
	Errors    []string      `json:"errors,omitempty"`
}

// NewRunResult creates a new RunResult.
func NewRunResult(id string, mode Mode, dryRun bool) *RunResult {
	return &RunResult{
		ID:        id,
		Mode:      mode,
		StartTime: time.Now(),
		DryRun:    dryRun,
		Jobs:      make([]*JobResult, 0),
		Errors:    make([]string, 0),
	}
}

// AddJob appends a job result.
func (r *RunResult) AddJob(j *JobResult) {
	if j != nil {
		r.Jobs = append(r.Jobs, j)
	}
}

// AddError adds a run-level error.
func (r *RunResult) AddError(err error) {
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
}

// Complete marks the run as complete. The run succeeds only if no job failed
// and no run-level error was recorded.
func (r *RunResult) Complete() {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
	r.Success = len(r.Errors) == 0 && len(r.Failed()) == 0
}

// Failed returns the failed jobs.
func (r *RunResult) Failed() []*JobResult {
	var failed []*JobResult
	for _, j := range r.Jobs {
		if j.Status == JobFailed {
			failed = append(failed, j)
		}
	}
	return failed
}

// Warned returns the jobs that succeeded with warnings.
func (r *RunResult) Warned() []*JobResult {
	var warned []*JobResult
	for _, j := range r.Jobs {
		if j.Succeeded() && len(j.Warnings) > 0 {
			warned = append(warned, j)
		}
	}
	return warned
}

// Succeeded returns the number of jobs that produced an archive.
func (r *RunResult) Succeeded() int {
	n := 0
	for _, j := range r.Jobs {
		if j.Succeeded() {
			n++
		}
	}
	return n
}
