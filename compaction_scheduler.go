// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package cascade

import (
	"context"
	"sync"
	"time"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cascadedb/cascade/objstore"
	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// TaskState is the lifecycle state of a compaction task.
type TaskState int8

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskSucceeded
	TaskFailed
	TaskCanceled
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	case TaskCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// TaskInfo is the externally visible record of a compaction task.
type TaskInfo struct {
	ID          base.TaskID
	Group       base.GroupID
	StartLevel  int
	OutputLevel int
	State       TaskState
	Attempts    int
	Manual      bool
	Err         error
}

// task is the scheduler-internal task record.
type task struct {
	info TaskInfo
	pc   *pickedCompaction
	// done is closed when the task reaches a terminal state.
	done chan struct{}
}

// compactionScheduler owns the background compaction machinery: it reacts
// to publish signals and a periodic tick, asks the picker for work, and runs
// tasks on a bounded worker pool. Files claimed by a running task are
// excluded from later picks, so concurrent tasks always operate on disjoint
// inputs and their publishes rebase cleanly past each other.
type compactionScheduler struct {
	logger   Logger
	vs       *versionSet
	data     objstore.Store
	pins     *pinRegistry
	opts     *Options
	metrics  *Metrics
	listener *EventListener
	picker   *compactionPicker

	workers *errgroup.Group
	// workCtx is canceled by close and bounds every task.
	workCtx    context.Context
	cancelWork context.CancelFunc

	mu struct {
		sync.Mutex
		nextTaskID base.TaskID
		tasks      map[base.TaskID]*task
		// busy maps each sstable claimed by a pending or running task.
		busy map[base.SstableID]struct{}
	}
}

func newCompactionScheduler(
	logger Logger, vs *versionSet, data objstore.Store, pins *pinRegistry,
	opts *Options, metrics *Metrics, listener *EventListener,
) *compactionScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &compactionScheduler{
		logger:     logger,
		vs:         vs,
		data:       data,
		pins:       pins,
		opts:       opts,
		metrics:    metrics,
		listener:   listener,
		picker:     &compactionPicker{opts: opts},
		workCtx:    ctx,
		cancelWork: cancel,
	}
	s.workers, _ = errgroup.WithContext(ctx)
	s.workers.SetLimit(opts.CompactionWorkers)
	s.mu.nextTaskID = 1
	s.mu.tasks = make(map[base.TaskID]*task)
	s.mu.busy = make(map[base.SstableID]struct{})
	return s
}

// runLoop is the automatic trigger loop. It wakes on every version publish
// and on a periodic tick, and schedules picks until no level is over its
// threshold.
func (s *compactionScheduler) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.CompactionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.vs.compactionSignal:
		case <-ticker.C:
		}
		if s.opts.DisableAutomaticCompactions {
			continue
		}
		s.maybeScheduleCompaction(ctx)
	}
}

// maybeScheduleCompaction schedules score-based and reclaim picks until the
// picker finds nothing runnable. Each pick claims its inputs before the next
// pick runs, so one round never schedules overlapping work.
func (s *compactionScheduler) maybeScheduleCompaction(ctx context.Context) {
	for {
		if err := ctx.Err(); err != nil {
			return
		}
		v := s.vs.current()
		s.mu.Lock()
		busy := s.busyLocked()
		s.mu.Unlock()
		pc := s.picker.pickAuto(v, busy)
		if pc == nil {
			pc = s.picker.pickReclaim(v, busy)
		}
		if pc == nil {
			return
		}
		if _, err := s.schedule(pc, false); err != nil {
			s.logger.Errorf("cascade: scheduling compaction: %v", err)
			return
		}
	}
}

// TriggerManual schedules a compaction of the whole given level into the
// next one, bypassing scores. The returned channel is closed when the task
// reaches a terminal state.
func (s *compactionScheduler) triggerManual(
	g base.GroupID, level int,
) (TaskInfo, <-chan struct{}, error) {
	v := s.vs.current()
	s.mu.Lock()
	busy := s.busyLocked()
	s.mu.Unlock()
	pc, err := s.picker.pickManual(v, g, level, busy)
	if err != nil {
		return TaskInfo{}, nil, err
	}
	t, err := s.schedule(pc, true)
	if err != nil {
		return TaskInfo{}, nil, err
	}
	return t.info, t.done, nil
}

// schedule registers the pick as a task, claims its inputs, and hands it to
// the worker pool.
func (s *compactionScheduler) schedule(pc *pickedCompaction, manual bool) (*task, error) {
	s.mu.Lock()
	for _, in := range pc.inputTables() {
		if _, ok := s.mu.busy[in.ID]; ok {
			s.mu.Unlock()
			return nil, errors.Mark(errors.Newf(
				"cascade: input %s already claimed", in.ID), ErrConflict)
		}
	}
	t := &task{
		info: TaskInfo{
			ID:          s.mu.nextTaskID,
			Group:       pc.group,
			StartLevel:  pc.startLevel,
			OutputLevel: pc.outputLevel,
			State:       TaskPending,
			Manual:      manual,
		},
		pc:   pc,
		done: make(chan struct{}),
	}
	s.mu.nextTaskID++
	s.mu.tasks[t.info.ID] = t
	for _, in := range pc.inputTables() {
		s.mu.busy[in.ID] = struct{}{}
	}
	s.mu.Unlock()

	s.workers.Go(func() error {
		s.runTask(t)
		return nil
	})
	return t, nil
}

// runTask executes a task with per-attempt timeout and bounded backoff
// retries. Conflict failures are not retried from the same result: the
// inputs were invalidated, so the task is abandoned and the next trigger
// round re-picks against the fresh version.
func (s *compactionScheduler) runTask(t *task) {
	s.setState(t, TaskRunning, nil)
	start := time.Now()

	var res *compactionResult
	policy := backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(s.opts.TaskRetryBackoff)),
		uint64(s.opts.MaxTaskRetries),
	)
	err := backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(s.workCtx, s.opts.TaskTimeout)
		defer cancel()
		s.mu.Lock()
		t.info.Attempts++
		s.mu.Unlock()

		floor := s.retainFloor()
		c := &compaction{
			vs:          s.vs,
			data:        s.data,
			opts:        s.opts,
			metrics:     s.metrics,
			pc:          t.pc,
			retainFloor: floor,
		}
		var attemptErr error
		res, attemptErr = c.run(attemptCtx)
		if attemptErr == nil {
			return nil
		}
		if IsConflict(attemptErr) || errors.Is(attemptErr, context.Canceled) {
			return backoff.Permanent(attemptErr)
		}
		s.logger.Errorf("cascade: compaction task %d attempt failed: %v",
			t.info.ID, attemptErr)
		return attemptErr
	}, backoff.WithContext(policy, s.workCtx))

	dur := elapsedSince(start)
	info := CompactionInfo{
		TaskID:      t.info.ID,
		Group:       t.pc.group,
		StartLevel:  t.pc.startLevel,
		OutputLevel: t.pc.outputLevel,
		InputFiles:  len(t.pc.inputTables()),
		Duration:    dur,
		Err:         err,
	}
	switch {
	case err == nil:
		info.OutputFiles = len(res.outputs)
		s.metrics.CompactionsSucceeded.Inc()
		s.metrics.CompactionBytesRead.Add(float64(res.bytesRead))
		s.metrics.CompactionBytesWritten.Add(float64(res.bytesWritten))
		s.setState(t, TaskSucceeded, nil)
	case errors.Is(err, context.Canceled):
		s.setState(t, TaskCanceled, err)
	default:
		s.metrics.CompactionsFailed.Inc()
		s.setState(t, TaskFailed, errors.Mark(err, ErrTaskFailed))
	}
	s.listener.CompactionEnd(info)
}

// retainFloor is the epoch below which shadowed entries may be reclaimed:
// the minimum of the safe epoch and the lowest pinned epoch. The safe epoch
// is read first; a pin created in between only raises the observed floor's
// conservativeness.
func (s *compactionScheduler) retainFloor() base.Epoch {
	floor := s.vs.current().SafeEpoch
	if pinned, ok := s.pins.minPinnedEpoch(); ok && pinned < floor {
		floor = pinned
	}
	return floor
}

func (s *compactionScheduler) setState(t *task, state TaskState, err error) {
	s.mu.Lock()
	t.info.State = state
	t.info.Err = err
	if state != TaskPending && state != TaskRunning {
		for _, in := range t.pc.inputTables() {
			delete(s.mu.busy, in.ID)
		}
	}
	s.mu.Unlock()
	if state != TaskPending && state != TaskRunning {
		close(t.done)
	}
}

// taskInfo returns the record of a task, or ErrNotFound.
func (s *compactionScheduler) taskInfo(id base.TaskID) (TaskInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.mu.tasks[id]
	if !ok {
		return TaskInfo{}, errors.Mark(errors.Newf("cascade: compaction task %d", id), ErrNotFound)
	}
	return t.info, nil
}

func (s *compactionScheduler) busyLocked() map[base.SstableID]struct{} {
	busy := make(map[base.SstableID]struct{}, len(s.mu.busy))
	for id := range s.mu.busy {
		busy[id] = struct{}{}
	}
	return busy
}

// close cancels running tasks and waits for the workers to drain.
func (s *compactionScheduler) close() {
	s.cancelWork()
	_ = s.workers.Wait()
}
