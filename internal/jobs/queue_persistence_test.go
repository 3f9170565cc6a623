package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newMemoryStore() *memoryStore {
	return &memoryStore{jobs: make(map[string]*Job)}
}

func (m *memoryStore) LoadJobs(_ context.Context) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		ret = append(ret, cloneJob(j))
	}
	return ret, nil
}

func (m *memoryStore) UpsertJob(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *memoryStore) DeleteJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func (m *memoryStore) get(id string) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneJob(m.jobs[id])
}

func TestQueue_RecoversJobsFromStore(t *testing.T) {
	store := newMemoryStore()
	now := time.Now()
	store.jobs["queued-1"] = &Job{
		ID:         "queued-1",
		Profile:    "naturelovers",
		State:      StateQueued,
		WorkingDir: "/data/jobs/queued-1",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	store.jobs["running-1"] = &Job{
		ID:         "running-1",
		Profile:    "naturelovers",
		State:      StateProcessing,
		Progress:   40,
		WorkingDir: "/data/jobs/running-1",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	store.jobs["done-1"] = &Job{
		ID:          "done-1",
		Profile:     "naturelovers",
		State:       StateSucceeded,
		Progress:    100,
		ArchivePath: "/data/jobs/done-1/naturelovers_processed.zip",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	q := NewQueue(1, t.TempDir(), store)

	require.Len(t, q.List(), 3)

	interrupted, err := q.Get("running-1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, interrupted.State)
	assert.Equal(t, KindInterrupted, interrupted.ErrorKind)
	assert.Equal(t, "interrupted by restart", interrupted.Error)
	assert.Equal(t, 40, interrupted.Progress)
	assert.Equal(t, StateFailed, store.get("running-1").State)

	done, err := q.Get("done-1")
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, done.State)

	q.Start(func(_ context.Context, job *Job, r Reporter) (Result, error) {
		if err := r.Advance(StateDownloading, 5); err != nil {
			return Result{}, err
		}
		return Result{ArchivePath: job.WorkingDir + "/naturelovers_processed.zip", Processed: 2}, nil
	})
	defer q.Stop()

	got, err := q.Wait(context.Background(), "queued-1")
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, got.State)
	// the working dir recorded at creation is kept
	assert.Equal(t, "/data/jobs/queued-1/naturelovers_processed.zip", got.ArchivePath)
	require.Eventually(t, func() bool {
		return store.get("queued-1").State == StateSucceeded
	}, time.Second, 10*time.Millisecond)
}

func TestQueue_PersistsEveryTransition(t *testing.T) {
	store := newMemoryStore()
	q := NewQueue(1, t.TempDir(), store, WithMaxJobs(1))

	progressSeen := make(chan int, 1)
	q.Start(func(_ context.Context, job *Job, r Reporter) (Result, error) {
		if err := r.Advance(StateProcessing, 50); err != nil {
			return Result{}, err
		}
		progressSeen <- store.get(job.ID).Progress
		return writeArchive(t, job), nil
	})
	defer q.Stop()

	first, err := q.Enqueue(EnqueueRequest{Profile: "a"})
	require.NoError(t, err)
	assert.Equal(t, 50, <-progressSeen)

	_, err = q.Wait(context.Background(), first.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return store.get(first.ID).State == StateSucceeded
	}, time.Second, 10*time.Millisecond)

	second, err := q.Enqueue(EnqueueRequest{Profile: "b"})
	require.NoError(t, err)
	assert.Equal(t, 50, <-progressSeen)
	_, err = q.Wait(context.Background(), second.ID)
	require.NoError(t, err)

	// pruning removes the oldest terminal job from the store too
	require.Eventually(t, func() bool {
		return store.get(first.ID) == nil
	}, time.Second, 10*time.Millisecond)
	assert.NotNil(t, store.get(second.ID))
}
