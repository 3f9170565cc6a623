package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/profile-letterbox/internal/metrics"
	"github.com/MimeLyc/profile-letterbox/pkg/log"
)

const defaultMaxJobs = 1000

type Option func(*Queue)

// WithMaxJobs bounds the number of jobs kept; the oldest terminal jobs are pruned first.
func WithMaxJobs(n int) Option {
	return func(q *Queue) { q.maxJobs = n }
}

// WithJobTimeout bounds a single execution. Zero means no limit.
func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) { q.jobTimeout = d }
}

type Queue struct {
	workerCount int
	maxJobs     int
	jobsDir     string
	jobTimeout  time.Duration
	store       Store

	mu         sync.RWMutex
	jobs       map[string]*Job
	done       map[string]chan struct{}
	started    bool
	stopped    bool
	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewQueue creates a queue whose jobs work under jobsDir/<id>.
// Jobs found in store are restored before it returns.
func NewQueue(workerCount int, jobsDir string, store Store, opts ...Option) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		workerCount: workerCount,
		maxJobs:     defaultMaxJobs,
		jobsDir:     jobsDir,
		store:       store,
		jobs:        make(map[string]*Job),
		done:        make(map[string]chan struct{}),
		pendingIDs:  make(chan string, 1024),
		stopCh:      make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.hydrateFromStore(context.Background())
	return q
}

// Enqueue allocates a queued job and hands it to the workers. It never blocks on execution.
func (q *Queue) Enqueue(req EnqueueRequest) (*Job, error) {
	now := time.Now()
	id := uuid.NewString()
	job := &Job{
		ID:         id,
		ProfileRef: req.ProfileRef,
		Profile:    req.Profile,
		SkipVideo:  req.SkipVideo,
		State:      StateQueued,
		WorkingDir: filepath.Join(q.jobsDir, id),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	q.jobs[id] = job
	q.done[id] = make(chan struct{})
	started := q.started
	snapshot := cloneJob(job)
	q.mu.Unlock()

	metrics.IncJobSubmitted()
	q.persistJob(snapshot)
	if started {
		q.enqueuePendingID(id)
	}
	return snapshot, nil
}

func (q *Queue) Get(id string) (*Job, error) {
	q.mu.RLock()
	job, ok := q.jobs[id]
	q.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownJob
	}
	return cloneJob(job), nil
}

func (q *Queue) View(id string) (View, error) {
	job, err := q.Get(id)
	if err != nil {
		return View{}, err
	}
	return job.View(), nil
}

// List returns snapshots of all jobs, newest first.
func (q *Queue) List() []*Job {
	q.mu.RLock()
	ret := make([]*Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		ret = append(ret, cloneJob(job))
	}
	q.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].ID < ret[j].ID
		}
		return ret[i].CreatedAt.After(ret[j].CreatedAt)
	})
	return ret
}

// OpenArchive opens the archive of a succeeded job. The caller closes the file.
func (q *Queue) OpenArchive(id string) (*os.File, *Job, error) {
	job, err := q.Get(id)
	if err != nil {
		return nil, nil, err
	}
	switch job.State {
	case StateSucceeded:
	case StateFailed:
		return nil, job, fmt.Errorf("%w: %s", ErrJobFailed, job.Error)
	default:
		return nil, job, ErrNotReady
	}

	f, err := os.Open(job.ArchivePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, job, ErrArchiveNotFound
	}
	if err != nil {
		return nil, job, fmt.Errorf("open archive: %w", err)
	}
	return f, job, nil
}

// Wait blocks until the job is terminal or ctx is done.
func (q *Queue) Wait(ctx context.Context, id string) (*Job, error) {
	q.mu.RLock()
	_, ok := q.jobs[id]
	done := q.done[id]
	q.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownJob
	}

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return q.Get(id)
}

func (q *Queue) Start(exec Executor) {
	q.mu.Lock()
	if q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.started = true

	type queued struct {
		id        string
		createdAt time.Time
	}
	pending := make([]queued, 0)
	for id, job := range q.jobs {
		if job.State == StateQueued {
			pending = append(pending, queued{id: id, createdAt: job.CreatedAt})
		}
	}
	q.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].createdAt.Before(pending[j].createdAt)
	})
	for _, p := range pending {
		q.enqueuePendingID(p.id)
	}

	for range q.workerCount {
		q.wg.Add(1)
		go q.worker(exec)
	}
}

// Stop cancels in-flight jobs and waits for the workers to exit.
// Jobs still queued stay queued and are picked up after a restart.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		q.mu.Unlock()

		q.cancel()
		close(q.stopCh)
		q.wg.Wait()
	})
}

func (q *Queue) worker(exec Executor) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case id := <-q.pendingIDs:
			job, ok := q.claim(id)
			if !ok {
				continue
			}
			q.run(exec, job)
		}
	}
}

func (q *Queue) run(exec Executor, job *Job) {
	metrics.IncJobsInFlight()
	defer metrics.DecJobsInFlight()

	ctx := q.ctx
	if q.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.jobTimeout)
		defer cancel()
	}

	res, err := exec(ctx, job, &reporter{q: q, id: job.ID})
	if err != nil {
		q.markFailed(job.ID, errorKind(err), err.Error())
		return
	}
	if res.ArchivePath == "" {
		q.markFailed(job.ID, KindInternal, "no archive was produced")
		return
	}
	q.markSucceeded(job.ID, res)
}

func (q *Queue) enqueuePendingID(id string) {
	select {
	case q.pendingIDs <- id:
	default:
		go func() {
			select {
			case q.pendingIDs <- id:
			case <-q.stopCh:
			}
		}()
	}
}

// claim returns a snapshot of a job still waiting in the queue.
func (q *Queue) claim(id string) (*Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.jobs[id]
	if !ok || job.State != StateQueued {
		return nil, false
	}
	return cloneJob(job), true
}

type reporter struct {
	q  *Queue
	id string
}

func (r *reporter) Advance(state State, progress int) error {
	return r.q.advance(r.id, state, progress)
}

func (q *Queue) advance(id string, state State, progress int) error {
	if !state.Valid() || state.Terminal() || state == StateQueued {
		return fmt.Errorf("%w: cannot advance to %q", ErrInvalidTransition, state)
	}
	if progress > 100 {
		progress = 100
	}

	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return ErrUnknownJob
	}
	if job.State.Terminal() || stateOrder[state] < stateOrder[job.State] || progress < job.Progress {
		from, fromProgress := job.State, job.Progress
		q.mu.Unlock()
		return fmt.Errorf("%w: %s(%d) -> %s(%d)", ErrInvalidTransition, from, fromProgress, state, progress)
	}
	if job.State == state && job.Progress == progress {
		q.mu.Unlock()
		return nil
	}
	job.State = state
	job.Progress = progress
	job.UpdatedAt = time.Now()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	return nil
}

func (q *Queue) markSucceeded(id string, res Result) {
	q.finish(id, func(job *Job) {
		job.State = StateSucceeded
		job.Progress = 100
		job.ArchivePath = res.ArchivePath
		job.Processed = res.Processed
		job.Error = ""
		job.ErrorKind = ""
	})
}

func (q *Queue) markFailed(id, kind, message string) {
	q.finish(id, func(job *Job) {
		job.State = StateFailed
		job.ArchivePath = ""
		job.Error = message
		job.ErrorKind = kind
	})
}

func (q *Queue) finish(id string, apply func(*Job)) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.State.Terminal() {
		q.mu.Unlock()
		return
	}
	apply(job)
	now := time.Now()
	job.UpdatedAt = now
	job.FinishedAt = now
	if done, ok := q.done[id]; ok {
		close(done)
		delete(q.done, id)
	}
	pruned := q.pruneTerminalJobsLocked()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	metrics.RecordJobFinished(string(snapshot.State), snapshot.ErrorKind)
	if snapshot.State == StateFailed {
		log.Warn("Job %s for %s failed (%s): %s", snapshot.ID, snapshot.Profile, snapshot.ErrorKind, snapshot.Error)
	} else {
		log.Info("Job %s for %s succeeded with %d items", snapshot.ID, snapshot.Profile, snapshot.Processed)
	}

	q.persistJob(snapshot)
	q.deleteJobsFromStore(pruned)
}

func (q *Queue) pruneTerminalJobsLocked() []string {
	if q.maxJobs <= 0 || len(q.jobs) <= q.maxJobs {
		return nil
	}

	type candidate struct {
		id        string
		updatedAt time.Time
	}
	terminal := make([]candidate, 0, len(q.jobs))
	for id, job := range q.jobs {
		if job == nil || !job.State.Terminal() {
			continue
		}
		terminal = append(terminal, candidate{id: id, updatedAt: job.UpdatedAt})
	}
	if len(terminal) == 0 {
		return nil
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].updatedAt.Before(terminal[j].updatedAt)
	})

	toRemove := len(q.jobs) - q.maxJobs
	if toRemove > len(terminal) {
		toRemove = len(terminal)
	}

	pruned := make([]string, 0, toRemove)
	for i := 0; i < toRemove; i++ {
		id := terminal[i].id
		delete(q.jobs, id)
		pruned = append(pruned, id)
	}
	return pruned
}

func (q *Queue) deleteJobsFromStore(ids []string) {
	if q.store == nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		if err := q.store.DeleteJob(context.Background(), id); err != nil {
			log.Error("Failed to delete pruned job %s from store: %v", id, err)
		}
	}
}

// hydrateFromStore restores persisted jobs. Queued jobs run again; jobs caught
// mid-pipeline cannot revisit earlier states and are failed.
func (q *Queue) hydrateFromStore(ctx context.Context) {
	if q.store == nil {
		return
	}
	loaded, err := q.store.LoadJobs(ctx)
	if err != nil {
		log.Error("Failed to load jobs from store: %v", err)
		return
	}

	now := time.Now()
	toPersist := make([]*Job, 0)
	q.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		switch {
		case job.State == StateQueued:
			q.done[job.ID] = make(chan struct{})
		case !job.State.Terminal():
			job.State = StateFailed
			job.ArchivePath = ""
			job.Error = "interrupted by restart"
			job.ErrorKind = KindInterrupted
			job.UpdatedAt = now
			job.FinishedAt = now
			toPersist = append(toPersist, cloneJob(job))
		}
		q.jobs[job.ID] = job
	}
	q.mu.Unlock()

	if len(loaded) > 0 {
		log.Info("Restored %d jobs from store (%d interrupted)", len(loaded), len(toPersist))
	}
	for _, job := range toPersist {
		q.persistJob(job)
	}
}

func (q *Queue) persistJob(job *Job) {
	if q.store == nil || job == nil {
		return
	}
	if err := q.store.UpsertJob(context.Background(), job); err != nil {
		log.Error("Failed to persist job %s: %v", job.ID, err)
	}
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	return &tmp
}
