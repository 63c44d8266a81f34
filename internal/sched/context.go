// Package sched implements spec.md §3's process-wide Context: the shared
// backend-instance pool, the session registry, and the global job queue
// and worker pool that actually run inferences.
//
// Grounded on the teacher's cmd/assistant/main.go (context.Context +
// sync.WaitGroup + goroutine-per-concern shutdown orchestration) and
// other_examples' kylesean-asr_server bounded semaphore-channel worker
// pool, adapted from a fixed goroutine count guarding a resource to a
// fixed goroutine count draining a shared job queue.
package sched

import (
	"context"
	"fmt"
	"sync"

	"github.com/nnrt/audiosched/internal/backend"
	"github.com/nnrt/audiosched/internal/config"
	"github.com/nnrt/audiosched/internal/diag"
	"github.com/nnrt/audiosched/internal/procspec"
	"github.com/nnrt/audiosched/internal/session"
)

// MinJobQueueCapacity is the floor spec.md §3 sets on the global job
// queue: "capacity ≥ MIN_JOBS and ≥ MAX_SLOTS across all sessions".
const MinJobQueueCapacity = 64

// Context is the process-wide scheduler singleton.
type Context struct {
	logger diag.Logger
	pool   *backend.Pool

	enabledBackends map[backend.Tag]bool

	mu       sync.Mutex
	sessions map[int]*session.Session
	nextID   int

	jobs chan session.Job

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Context with numWorkers worker goroutines and a job queue
// of the given capacity (the caller sizes it per MinJobQueueCapacity and
// the sum of every session's slot count it intends to create).
// enabledBackends restricts which backend tags sessions may request,
// mirroring the original implementation's build-time enabled-backend list
// (see SPEC_FULL.md's supplemented-features note); pass nil to allow any
// tag a Factory is registered for.
func New(numWorkers, jobQueueCapacity int, pool *backend.Pool, enabledBackends []backend.Tag, logger diag.Logger) *Context {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if jobQueueCapacity < MinJobQueueCapacity {
		jobQueueCapacity = MinJobQueueCapacity
	}
	var enabled map[backend.Tag]bool
	if len(enabledBackends) > 0 {
		enabled = make(map[backend.Tag]bool, len(enabledBackends))
		for _, t := range enabledBackends {
			enabled[t] = true
		}
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c := &Context{
		logger:          logger,
		pool:            pool,
		enabledBackends: enabled,
		sessions:        make(map[int]*session.Session),
		jobs:            make(chan session.Job, jobQueueCapacity),
		runCtx:          runCtx,
		cancel:          cancel,
	}
	for i := 0; i < numWorkers; i++ {
		c.wg.Add(1)
		go c.workerLoop()
	}
	return c
}

// workerLoop is one worker: non-blocking-per-spec dequeue with a
// context.Done case for shutdown, per spec.md §4.7. Channel receive
// already parks without busy-waiting when the queue is empty, so no
// explicit backoff sleep is needed here (only the host-donated polling
// path in submitOneFrame needs one, and it has none to give since it
// never blocks).
func (c *Context) workerLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.runCtx.Done():
			return
		case job, ok := <-c.jobs:
			if !ok {
				return
			}
			c.runJob(job)
		}
	}
}

func (c *Context) runJob(job session.Job) {
	if !job.Session.Initialised() {
		if !c.Enqueue(job) {
			diag.Logf(c.logger, "sched: dropped a job for uninitialised session %d, queue full", job.Session.ID())
		}
		return
	}
	job.Session.ExecuteSlot(job.SlotIndex)
}

// Enqueue implements session.Enqueuer: a non-blocking push onto the
// global job queue.
func (c *Context) Enqueue(job session.Job) bool {
	select {
	case c.jobs <- job:
		return true
	default:
		return false
	}
}

// RunOneDonatedJob runs the exact same loop body as a worker for at most
// one job, per spec.md §4.7's host-donated execution path. A host wires
// its audio callback's submit_task hook to this method. It returns false
// when the queue was empty.
func (c *Context) RunOneDonatedJob() bool {
	select {
	case job, ok := <-c.jobs:
		if !ok {
			return false
		}
		c.runJob(job)
		return true
	default:
		return false
	}
}

// NewSession constructs a session for cfg, acquiring (or sharing) one
// Backend instance per backend tag cfg declares, per spec.md §4.8.
// initial selects the backend used for the session's first inferences; if
// it isn't one of cfg's declared tags, the lowest-numbered declared tag is
// used instead.
func (c *Context) NewSession(cfg *config.InferenceConfig, processor procspec.Processor, initial backend.Tag) (*session.Session, error) {
	tags := cfg.Backends()
	if len(tags) == 0 {
		return nil, fmt.Errorf("sched: config declares no backends")
	}
	if c.enabledBackends != nil {
		for _, tag := range tags {
			if !c.enabledBackends[tag] {
				return nil, fmt.Errorf("sched: backend %s is not enabled in this process", tag)
			}
		}
	}

	backends := make(map[backend.Tag]backend.Backend, len(tags))
	backendCfgs := make(map[backend.Tag]backend.Config, len(tags))
	for _, tag := range tags {
		bcfg, err := cfg.BackendConfig(tag)
		if err != nil {
			c.releaseAcquired(backends, backendCfgs)
			return nil, err
		}
		b, err := c.pool.Acquire(bcfg)
		if err != nil {
			c.releaseAcquired(backends, backendCfgs)
			return nil, fmt.Errorf("sched: acquire backend %s: %w", tag, err)
		}
		backends[tag] = b
		backendCfgs[tag] = bcfg
	}

	if _, ok := backends[initial]; !ok {
		initial = tags[0]
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.mu.Unlock()

	s := session.New(id, cfg, processor, backends, backendCfgs, initial, c, c.logger)

	c.mu.Lock()
	c.sessions[id] = s
	c.mu.Unlock()
	return s, nil
}

func (c *Context) releaseAcquired(backends map[backend.Tag]backend.Backend, cfgs map[backend.Tag]backend.Config) {
	for tag, b := range backends {
		c.pool.Release(cfgs[tag], b)
	}
}

// Prepare runs spec.md §4.4's prepare sequence: quiesce the session,
// drain its jobs from the global queue (re-enqueueing everyone else's),
// then let it recompute sizing for hostCfg. customLatency overrides the
// computed per-output-tensor latency per spec.md §4.9's
// "prepare(host_config, custom_latency_per_output)" overload; pass nil to
// use the computed values unmodified.
func (c *Context) Prepare(s *session.Session, hostCfg config.HostConfig, customLatency []int) error {
	s.BeginLifecycleOp()
	c.drainSessionJobs(s)
	return s.FinishPrepare(hostCfg, customLatency)
}

// Reset runs the same quiesce-and-drain sequence as Prepare, but keeps the
// session's existing sizing, per spec.md §4.4.
func (c *Context) Reset(s *session.Session) error {
	s.BeginLifecycleOp()
	c.drainSessionJobs(s)
	return s.FinishReset()
}

// ReleaseSession quiesces and removes s from the registry, returning its
// backend instances to the shared pool.
func (c *Context) ReleaseSession(s *session.Session) {
	s.BeginLifecycleOp()
	c.drainSessionJobs(s)

	c.mu.Lock()
	delete(c.sessions, s.ID())
	c.mu.Unlock()

	backends, cfgs := s.ReleasedBackends()
	for tag, b := range backends {
		c.pool.Release(cfgs[tag], b)
	}
}

// drainSessionJobs removes every job belonging to s from the global queue,
// re-enqueueing every other job it finds along the way, per spec.md §4.4's
// "drain jobs belonging to this session from the global queue,
// re-enqueueing others".
func (c *Context) drainSessionJobs(s *session.Session) {
	var keep []session.Job
drain:
	for {
		select {
		case job := <-c.jobs:
			if job.Session != s {
				keep = append(keep, job)
			}
		default:
			break drain
		}
	}
	for _, job := range keep {
		if !c.Enqueue(job) {
			diag.Logf(c.logger, "sched: dropped a job re-queued during session %d's prepare/reset, queue full", s.ID())
		}
	}
}

// Shutdown cancels the worker pool and waits for every worker to exit.
func (c *Context) Shutdown() {
	c.cancel()
	c.wg.Wait()
}
