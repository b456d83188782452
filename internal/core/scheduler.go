package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ExecutionRunner drives a single execution to a terminal state.
type ExecutionRunner interface {
	Run(ctx context.Context, task *ScheduledTask) (*TaskExecution, error)
}

// Scheduler owns the set of armed recurring tasks. Each enabled task maps to
// exactly one outstanding timer; recurrence is driven by re-arming after an
// execution finalizes, never by fixed-interval timers, so a slow run cannot
// overlap with the next fire of the same task. The timer map is mutated only
// under mu since pause/resume/add arrive from API handlers while timers fire
// independently.
type Scheduler struct {
	store    Store
	runner   ExecutionRunner
	oracle   PermissionOracle
	logger   *slog.Logger
	location *time.Location

	retention      time.Duration
	resyncInterval time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool

	running sync.Map // task id -> struct{}

	ctx context.Context
}

const defaultResyncInterval = 5 * time.Minute

// NewScheduler constructs a scheduler with the given dependencies. retention
// bounds how long finished executions are kept; zero disables the sweep.
func NewScheduler(store Store, runner ExecutionRunner, oracle PermissionOracle, logger *slog.Logger, location *time.Location, retention, resyncInterval time.Duration) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	if resyncInterval <= 0 {
		resyncInterval = defaultResyncInterval
	}
	return &Scheduler{
		store:          store,
		runner:         runner,
		oracle:         oracle,
		logger:         logger,
		location:       location,
		retention:      retention,
		resyncInterval: resyncInterval,
		timers:         make(map[string]*time.Timer),
	}
}

// Start records the background context and begins the periodic resync loop
// that re-arms tasks skipped earlier (permission denials, store hiccups).
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	go func() {
		ticker := time.NewTicker(s.resyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.LoadActiveTasks(ctx); err != nil {
					s.logger.Warn("periodic resync", "err", err)
				}
			}
		}
	}()
}

// Stop disarms every timer. In-flight executions finish on their own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

// LoadActiveTasks reads all enabled tasks and arms one timer per task. A
// store read failure is fatal to this load call but leaves already-armed
// timers untouched. Per-task scheduling failures are logged and skipped so
// one bad row cannot take down the rest of the schedule.
func (s *Scheduler) LoadActiveTasks(ctx context.Context) error {
	tasks, err := s.store.ListTasks(ctx, TaskFilter{EnabledOnly: true})
	if err != nil {
		return fmt.Errorf("list enabled tasks: %w", err)
	}
	for _, task := range tasks {
		if s.IsArmed(task.ID) {
			continue
		}
		if err := s.ScheduleTask(ctx, task); err != nil {
			s.logger.Error("schedule task", "task_id", task.ID, "err", err)
		}
	}
	return nil
}

// ScheduleTask computes the task's next run, persists it, and arms a timer.
// A permission denial is a soft skip: logged, the task stays enabled and is
// retried on the next load cycle rather than disarmed permanently.
func (s *Scheduler) ScheduleTask(ctx context.Context, task *ScheduledTask) error {
	if !task.Enabled {
		s.disarm(task.ID)
		return nil
	}
	allowed, err := s.oracle.AllowTaskType(ctx, task.OwnerID, task.Type)
	if err != nil {
		s.logger.Warn("permission oracle unavailable, skipping until next resync", "task_id", task.ID, "err", err)
		s.disarm(task.ID)
		return nil
	}
	if !allowed {
		s.logger.Info("task type not permitted for owner's tier, skipping", "task_id", task.ID, "owner_id", task.OwnerID, "task_type", task.Type)
		s.disarm(task.ID)
		return nil
	}

	now := time.Now().In(s.location)
	next := NextRun(task, now)
	if task.Frequency == FrequencyCustom && task.CronExpr != nil {
		if _, parseErr := ParseCron(*task.CronExpr); parseErr != nil {
			s.logger.Warn("unparseable cron expression, using one hour fallback", "task_id", task.ID, "err", parseErr)
		}
	}
	nextUTC := next.UTC()
	// Persist before arming so a restart recovers approximate schedule state.
	if err := s.store.UpdateTaskNextRun(ctx, task.ID, &nextUTC); err != nil {
		s.logger.Warn("persist next_run_at", "task_id", task.ID, "err", err)
	}
	s.arm(task.ID, next.Sub(now))
	return nil
}

// PauseTask disarms the task and flips its enabled flag. Re-pausing an
// already-paused task is a no-op. An in-flight execution is not cancelled;
// pausing only prevents the next arming.
func (s *Scheduler) PauseTask(ctx context.Context, id string) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	s.disarm(id)
	if !task.Enabled {
		return nil
	}
	if err := s.store.SetTaskEnabled(ctx, id, false); err != nil {
		return fmt.Errorf("disable task: %w", err)
	}
	if err := s.store.UpdateTaskNextRun(ctx, id, nil); err != nil {
		s.logger.Warn("clear next_run_at", "task_id", id, "err", err)
	}
	return nil
}

// ResumeTask re-enables the task and arms its next run. Resuming an
// already-active task just re-arms it.
func (s *Scheduler) ResumeTask(ctx context.Context, id string) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if !task.Enabled {
		if err := s.store.SetTaskEnabled(ctx, id, true); err != nil {
			return fmt.Errorf("enable task: %w", err)
		}
		task.Enabled = true
	}
	return s.ScheduleTask(ctx, task)
}

// RemoveTask stops scheduling for the given task id.
func (s *Scheduler) RemoveTask(id string) {
	s.disarm(id)
}

// RunTaskNow starts an immediate execution outside the schedule. It refuses
// when the task already has a running execution.
func (s *Scheduler) RunTaskNow(ctx context.Context, task *ScheduledTask) error {
	if !s.claim(task.ID) {
		return ErrTaskRunning
	}
	go s.executeAndReschedule(task)
	return nil
}

// IsArmed reports whether the task currently has an outstanding timer.
func (s *Scheduler) IsArmed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

// IsRunning reports whether the task has an execution in flight.
func (s *Scheduler) IsRunning(id string) bool {
	_, ok := s.running.Load(id)
	return ok
}

func (s *Scheduler) onFire(taskID string) {
	ctx := s.ctxOrBackground()
	s.clearTimer(taskID)
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		// Store unavailable at fire time: nothing to corrupt, the periodic
		// resync re-arms the task once reads recover.
		s.logger.Error("load task at fire time", "task_id", taskID, "err", err)
		return
	}
	if !task.Enabled {
		return
	}
	if !s.claim(task.ID) {
		s.logger.Info("previous execution still running, rearming without firing", "task_id", task.ID)
		if err := s.ScheduleTask(ctx, task); err != nil {
			s.logger.Error("rearm task", "task_id", task.ID, "err", err)
		}
		return
	}
	s.executeAndReschedule(task)
}

// executeAndReschedule runs one execution to a terminal state, sweeps old
// execution history, then recomputes and arms the next run. The next run is
// re-armed regardless of the execution outcome: a task is never silently
// dropped from the schedule by a single failure.
func (s *Scheduler) executeAndReschedule(task *ScheduledTask) {
	defer s.release(task.ID)
	ctx := s.ctxOrBackground()
	if _, err := s.runner.Run(ctx, task); err != nil {
		s.logger.Error("task execution failed", "task_id", task.ID, "task_type", task.Type, "err", err)
	}
	if s.retention > 0 {
		if n, err := s.store.DeleteExecutionsBefore(ctx, time.Now().UTC().Add(-s.retention)); err != nil {
			s.logger.Warn("execution retention sweep", "err", err)
		} else if n > 0 {
			s.logger.Debug("pruned old executions", "count", n)
		}
	}
	fresh, err := s.store.GetTask(ctx, task.ID)
	if err != nil {
		s.logger.Warn("reload task after execution, rearming from in-memory copy", "task_id", task.ID, "err", err)
		fresh = task
	}
	if !fresh.Enabled {
		return
	}
	if err := s.ScheduleTask(ctx, fresh); err != nil {
		s.logger.Error("reschedule task", "task_id", task.ID, "err", err)
	}
}

func (s *Scheduler) arm(taskID string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if timer, ok := s.timers[taskID]; ok {
		timer.Stop()
	}
	s.timers[taskID] = time.AfterFunc(d, func() { s.onFire(taskID) })
}

func (s *Scheduler) disarm(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[taskID]; ok {
		timer.Stop()
		delete(s.timers, taskID)
	}
}

func (s *Scheduler) clearTimer(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, taskID)
}

func (s *Scheduler) claim(taskID string) bool {
	_, loaded := s.running.LoadOrStore(taskID, struct{}{})
	return !loaded
}

func (s *Scheduler) release(taskID string) {
	s.running.Delete(taskID)
}

func (s *Scheduler) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
