package jobs

import (
	"context"
	"time"
)

type State string

const (
	StateQueued      State = "queued"
	StateDownloading State = "downloading"
	StateProcessing  State = "processing"
	StateFinalizing  State = "finalizing"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
)

var stateOrder = map[State]int{
	StateQueued:      0,
	StateDownloading: 1,
	StateProcessing:  2,
	StateFinalizing:  3,
	StateSucceeded:   4,
	StateFailed:      4,
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

func (s State) Valid() bool {
	_, ok := stateOrder[s]
	return ok
}

type EnqueueRequest struct {
	ProfileRef string
	Profile    string
	SkipVideo  bool
}

// Job is one run of the pipeline for a profile. ProfileRef, Profile and
// WorkingDir never change after creation.
type Job struct {
	ID          string    `json:"id"`
	ProfileRef  string    `json:"profile_ref"`
	Profile     string    `json:"profile"`
	SkipVideo   bool      `json:"skip_video"`
	State       State     `json:"state"`
	Progress    int       `json:"progress"`
	WorkingDir  string    `json:"working_dir"`
	ArchivePath string    `json:"archive_path,omitempty"`
	Processed   int       `json:"processed"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
}

// View is the polling representation of a job.
type View struct {
	ID       string `json:"id"`
	State    State  `json:"state"`
	Progress int    `json:"progress"`
	Archive  string `json:"archive,omitempty"`
	Error    string `json:"error,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

func (j *Job) View() View {
	v := View{ID: j.ID, State: j.State, Progress: j.Progress}
	switch j.State {
	case StateSucceeded:
		v.Archive = j.ArchivePath
	case StateFailed:
		v.Error = j.Error
		v.Kind = j.ErrorKind
	}
	return v
}

// Result is what a successful run produces.
type Result struct {
	ArchivePath string
	Processed   int
}

// Reporter moves a running job forward. States and progress never go back.
type Reporter interface {
	Advance(state State, progress int) error
}

// Executor runs one job to completion. A returned error fails the job; if the
// error carries an ErrorKind() string method that kind is recorded.
type Executor func(ctx context.Context, job *Job, r Reporter) (Result, error)
