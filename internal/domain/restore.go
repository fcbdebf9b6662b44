package domain

import "time"

// RestoreState is a state of the restore state machine.
type RestoreState string

const (
	RestoreRequested      RestoreState = "REQUESTED"
	RestoreConfirming     RestoreState = "CONFIRMING"
	RestoreExtracting     RestoreState = "EXTRACTING"
	RestoreCompleted      RestoreState = "COMPLETED"
	RestorePartialFailure RestoreState = "PARTIAL_FAILURE"
	RestoreFailed         RestoreState = "FAILED"
	RestoreAborted        RestoreState = "ABORTED"
)

// Terminal reports whether no further transition is possible.
func (s RestoreState) Terminal() bool {
	switch s {
	case RestoreCompleted, RestorePartialFailure, RestoreFailed, RestoreAborted:
		return true
	default:
		return false
	}
}

// RestoreRequest asks to restore part of an archive onto a host.
type RestoreRequest struct {
	Host        string
	ArchivePath string
	Selectors   []RoleSelector
	// Operator identifies who confirmed a non-interactive restore.
	Operator string
	DryRun   bool
}

// RoleRestoreResult is the outcome for a single selector.
type RoleRestoreResult struct {
	Selector RoleSelector `json:"-"`
	Role     string       `json:"role"`
	Success  bool         `json:"success"`
	Entries  int          `json:"entries"`
	Error    string       `json:"error,omitempty"`
	Kind     ErrorKind    `json:"kind,omitempty"`
}

// RestoreResult contains the outcome of a restore.
type RestoreResult struct {
	Host        string               `json:"host"`
	ArchivePath string               `json:"archive"`
	Operator    string               `json:"operator,omitempty"`
	State       RestoreState         `json:"state"`
	History     []RestoreState       `json:"history"`
	Roles       []*RoleRestoreResult `json:"roles,omitempty"`
	Error       string               `json:"error,omitempty"`
	Kind        ErrorKind            `json:"kind,omitempty"`
	StartTime   time.Time            `json:"start_time"`
	EndTime     time.Time            `json:"end_time"`
	Duration    time.Duration        `json:"duration"`
}

// NewRestoreResult creates a result in the REQUESTED state.
func NewRestoreResult(req *RestoreRequest) *RestoreResult {
	return &RestoreResult{
		Host:        req.Host,
		ArchivePath: req.ArchivePath,
		Operator:    req.Operator,
		State:       RestoreRequested,
		History:     []RestoreState{RestoreRequested},
		StartTime:   time.Now(),
	}
}

// Transition moves to the next state.
func (r *RestoreResult) Transition(s RestoreState) {
	r.State = s
	r.History = append(r.History, s)
}

// Abort ends the restore before any extraction.
func (r *RestoreResult) Abort(err error) {
	if err != nil {
		r.Error = err.Error()
		r.Kind = KindOf(err)
	}
	r.Transition(RestoreAborted)
	r.finish()
}

// AddRole records the outcome for one selector.
func (r *RestoreResult) AddRole(sel RoleSelector, entries int, err error) {
	rr := &RoleRestoreResult{
		Selector: sel,
		Role:     sel.String(),
		Success:  err == nil,
		Entries:  entries,
	}
	if err != nil {
		rr.Error = err.Error()
		rr.Kind = KindOf(err)
	}
	r.Roles = append(r.Roles, rr)
}

// Finish derives the terminal state from the per-role outcomes.
func (r *RestoreResult) Finish() {
	ok, failed := 0, 0
	for _, rr := range r.Roles {
		if rr.Success {
			ok++
		} else {
			failed++
		}
	}
	switch {
	case failed == 0:
		r.Transition(RestoreCompleted)
	case ok > 0:
		r.Transition(RestorePartialFailure)
	default:
		r.Transition(RestoreFailed)
	}
	r.finish()
}

// Success reports whether every requested role was restored.
func (r *RestoreResult) Success() bool {
	return r.State == RestoreCompleted
}

func (r *RestoreResult) finish() {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
}
