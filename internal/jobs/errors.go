package jobs

import "errors"

var (
	ErrUnknownJob        = errors.New("unknown job")
	ErrNotReady          = errors.New("job is not finished")
	ErrJobFailed         = errors.New("job failed")
	ErrArchiveNotFound   = errors.New("archive no longer available")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrQueueClosed       = errors.New("queue is stopped")
)

const (
	// KindInterrupted marks jobs that were mid-pipeline when the process stopped.
	KindInterrupted = "Interrupted"
	// KindInternal is recorded when an executor error carries no kind.
	KindInternal = "Internal"
)

type kinded interface {
	ErrorKind() string
}

func errorKind(err error) string {
	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindInternal
}
