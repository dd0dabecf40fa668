package swarm

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/swarmbot/internal/agent"
	"github.com/mtzanidakis/swarmbot/internal/config"
	"github.com/mtzanidakis/swarmbot/internal/natsbus"
	"github.com/mtzanidakis/swarmbot/internal/registry"
	"github.com/mtzanidakis/swarmbot/internal/router"
	"github.com/mtzanidakis/swarmbot/internal/store"
	"golang.org/x/sync/errgroup"
)

// CoordinatorID is the bus address of the coordinator.
const CoordinatorID = "coordinator"

type Deps struct {
	Config     config.SwarmConfig
	Registry   *registry.Registry
	Router     *router.Router
	Store      *store.Store
	Publisher  router.Publisher
	Collectors *Collectors
}

// Coordinator matches queued tasks to agents, supervises execution and
// retries failures.
type Coordinator struct {
	registry   *registry.Registry
	router     *router.Router
	store      *store.Store
	publisher  router.Publisher
	collectors *Collectors
	queue      *TaskQueue

	mu        sync.Mutex
	cfg       config.SwarmConfig
	queued    map[string]*Task
	active    map[string]*Task
	completed map[string]*Task
	reserved  map[string]struct{}
	timedOut  map[string]struct{}
	metrics   Metrics

	runMu   sync.Mutex
	running atomic.Bool
	stopped bool
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	execs   sync.WaitGroup
}

func New(d Deps) *Coordinator {
	return &Coordinator{
		registry:   d.Registry,
		router:     d.Router,
		store:      d.Store,
		publisher:  d.Publisher,
		collectors: d.Collectors,
		queue:      NewTaskQueue(),
		cfg:        d.Config,
		queued:     make(map[string]*Task),
		active:     make(map[string]*Task),
		completed:  make(map[string]*Task),
		reserved:   make(map[string]struct{}),
		timedOut:   make(map[string]struct{}),
		metrics:    Metrics{AgentUtilization: make(map[string]AgentUsage)},
	}
}

func (c *Coordinator) config() config.SwarmConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// UpdateConfig swaps the swarm settings; the loops pick them up on their
// next iteration.
func (c *Coordinator) UpdateConfig(cfg config.SwarmConfig) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	slog.Info("swarm config updated", "max_retries", cfg.MaxRetries, "load_balancing", cfg.LoadBalancing)
}

// Submit enqueues a task and returns its id without waiting for execution.
func (c *Coordinator) Submit(ctx context.Context, req TaskRequest) (string, error) {
	if req.Type == "" {
		return "", fmt.Errorf("%w: type is required", ErrInvalidTask)
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	t := &Task{
		ID:           req.ID,
		Type:         req.Type,
		Description:  req.Description,
		Requirements: slices.Clone(req.Requirements),
		Priority:     req.Priority,
		Dependencies: slices.Clone(req.Dependencies),
		Payload:      maps.Clone(req.Payload),
		Status:       TaskPending,
		CreatedAt:    time.Now(),
	}

	c.mu.Lock()
	if c.knownLocked(t.ID) {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: task %s already exists", ErrInvalidTask, t.ID)
	}
	c.queued[t.ID] = t
	c.metrics.TasksSubmitted++
	c.mu.Unlock()

	c.queue.Push(t, t.Priority)
	c.collectors.taskEvent("submitted")
	c.updateGauges()
	c.publish(t.ID, "task_submitted", map[string]any{
		"type":         t.Type,
		"priority":     t.Priority,
		"dependencies": t.Dependencies,
	})
	slog.Info("task submitted", "id", t.ID, "type", t.Type, "priority", t.Priority)
	return t.ID, nil
}

// SubmitBatch validates the batch's dependency graph and submits the tasks
// tier by tier. Missing ids are generated first; nothing is submitted when
// validation fails.
func (c *Coordinator) SubmitBatch(ctx context.Context, reqs []TaskRequest) (*Plan, error) {
	reqs = slices.Clone(reqs)
	for i := range reqs {
		if reqs[i].Type == "" {
			return nil, fmt.Errorf("%w: batch task %d has no type", ErrInvalidTask, i)
		}
		if reqs[i].ID == "" {
			reqs[i].ID = uuid.New().String()
		}
	}

	plan, err := BuildPlan(reqs)
	if err != nil {
		return nil, fmt.Errorf("plan batch: %w", err)
	}

	c.mu.Lock()
	for _, r := range reqs {
		if c.knownLocked(r.ID) {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: task %s already exists", ErrInvalidTask, r.ID)
		}
	}
	c.mu.Unlock()

	byID := make(map[string]TaskRequest, len(reqs))
	for _, r := range reqs {
		byID[r.ID] = r
	}
	for _, tier := range plan.Tiers {
		for _, id := range tier {
			if _, err := c.Submit(ctx, byID[id]); err != nil {
				return plan, err
			}
		}
	}
	return plan, nil
}

func (c *Coordinator) knownLocked(id string) bool {
	if _, ok := c.queued[id]; ok {
		return true
	}
	if _, ok := c.active[id]; ok {
		return true
	}
	_, ok := c.completed[id]
	return ok
}

// Start launches the scheduling loop and the health monitor. A stopped
// coordinator cannot be restarted.
func (c *Coordinator) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.stopped {
		return fmt.Errorf("start coordinator: %w", ErrCoordinatorState)
	}
	if c.running.Load() {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running.Store(true)

	if c.router != nil {
		c.router.Register(CoordinatorID, c.handleMessage)
	}

	c.loops.Add(2)
	go c.schedule(runCtx)
	go c.monitor(runCtx)

	slog.Info("swarm coordinator started", "agents", len(c.registry.List()))
	return nil
}

// Stop cancels the loops and waits for them, waits for in-flight executions
// until ctx is done, then stops every agent. Running Process calls are not
// cancelled.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if !c.running.Load() {
		return nil
	}
	c.running.Store(false)
	c.stopped = true

	c.cancel()
	c.loops.Wait()
	c.queue.Close()
	if c.router != nil {
		c.router.Unregister(CoordinatorID)
	}

	done := make(chan struct{})
	go func() {
		c.execs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("stopping with tasks still executing", "active", c.activeCount())
	}

	if err := c.registry.StopAll(ctx); err != nil {
		return fmt.Errorf("stop agents: %w", err)
	}
	slog.Info("swarm coordinator stopped")
	return nil
}

func (c *Coordinator) Running() bool {
	return c.running.Load()
}

func (c *Coordinator) schedule(ctx context.Context) {
	defer c.loops.Done()
	for ctx.Err() == nil {
		cfg := c.config()
		poll := cfg.PollTimeout
		if poll <= 0 {
			poll = time.Second
		}
		task, ok := c.queue.Pop(ctx, poll)
		if !ok {
			continue
		}
		c.scheduleTask(ctx, task, cfg)
	}
}

func (c *Coordinator) scheduleTask(ctx context.Context, task *Task, cfg config.SwarmConfig) {
	if !c.dependenciesMet(task) {
		slog.Debug("task blocked on dependencies", "id", task.ID, "dependencies", task.Dependencies)
		c.queue.PushAfter(task, c.priority(task), cfg.DependencyBackoff)
		return
	}

	eligible := c.eligibleAgents(task, cfg.LoadBalancing)
	c.collectors.observeEligible(len(eligible))
	if len(eligible) == 0 {
		c.mu.Lock()
		task.Priority++
		p := task.Priority
		c.mu.Unlock()
		slog.Debug("no eligible agents, deferring task", "id", task.ID, "type", task.Type, "priority", p)
		c.queue.PushAfter(task, p, cfg.NoAgentBackoff)
		return
	}

	limit := 1
	if task.Collaborative() {
		limit = max(cfg.MaxCollaborators, 1)
	}
	c.dispatch(ctx, task, eligible[:min(limit, len(eligible))])
}

func (c *Coordinator) priority(task *Task) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return task.Priority
}

func (c *Coordinator) dependenciesMet(task *Task) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, dep := range task.Dependencies {
		if _, ok := c.completed[dep]; !ok {
			return false
		}
	}
	return true
}

// eligibleAgents returns idle or waiting agents able to run task, least
// loaded and then most reliable first when balancing. Agents reserved by a
// dispatch that has not reached Assign yet are skipped.
func (c *Coordinator) eligibleAgents(task *Task, balance bool) []*agent.Agent {
	type candidate struct {
		agent       *agent.Agent
		load        float64
		reliability float64
	}

	c.mu.Lock()
	reserved := maps.Clone(c.reserved)
	c.mu.Unlock()

	var candidates []candidate
	for _, a := range c.registry.List() {
		if _, ok := reserved[a.ID()]; ok {
			continue
		}
		st := a.Status()
		if st != agent.StatusIdle && st != agent.StatusWaiting {
			continue
		}
		if !a.CanHandle(task.Type, task.Requirements) {
			continue
		}
		candidates = append(candidates, candidate{agent: a, load: a.LoadFactor(), reliability: a.ReliabilityScore()})
	}

	if balance {
		slices.SortStableFunc(candidates, func(x, y candidate) int {
			if n := cmp.Compare(x.load, y.load); n != 0 {
				return n
			}
			return cmp.Compare(y.reliability, x.reliability)
		})
	}

	out := make([]*agent.Agent, len(candidates))
	for i, cand := range candidates {
		out[i] = cand.agent
	}
	return out
}

func (c *Coordinator) dispatch(ctx context.Context, task *Task, agents []*agent.Agent) {
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID()
	}

	c.mu.Lock()
	delete(c.queued, task.ID)
	task.Status = TaskAssigned
	task.AssignedAgents = ids
	c.active[task.ID] = task
	for _, id := range ids {
		c.reserved[id] = struct{}{}
		u := c.metrics.AgentUtilization[id]
		u.TasksAssigned++
		c.metrics.AgentUtilization[id] = u
	}
	c.mu.Unlock()

	c.updateGauges()
	c.publish(task.ID, "task_assigned", map[string]any{"agents": ids})
	slog.Info("task assigned", "id", task.ID, "type", task.Type, "agents", ids)

	c.execs.Add(1)
	// Executions outlive the scheduling loop; Stop lets them finish.
	go c.execute(context.WithoutCancel(ctx), task, agents)
}

func (c *Coordinator) execute(ctx context.Context, task *Task, agents []*agent.Agent) {
	defer c.execs.Done()

	started := time.Now()
	c.mu.Lock()
	task.Status = TaskExecuting
	task.StartedAt = &started
	c.mu.Unlock()

	var (
		result map[string]any
		err    error
	)
	if task.Collaborative() {
		result, err = c.runCollaborative(ctx, task, agents)
	} else {
		result, err = c.runSingle(ctx, task, agents[0])
	}

	if err != nil {
		for _, a := range agents {
			a.Reset()
		}
	}
	c.mu.Lock()
	for _, a := range agents {
		delete(c.reserved, a.ID())
	}
	c.mu.Unlock()

	switch {
	case err == nil:
		c.complete(task, result, started)
	case errors.Is(err, agent.ErrAgentBusy) && c.Running():
		c.deferBusy(task, err)
	default:
		c.fail(task, err, started)
	}
}

func (c *Coordinator) runSingle(ctx context.Context, task *Task, a *agent.Agent) (map[string]any, error) {
	start := time.Now()
	res, err := a.Assign(ctx, task.agentTask())
	if !errors.Is(err, agent.ErrAgentBusy) {
		c.recordUsage(a.ID(), time.Since(start), err == nil)
	}
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.ID(), err)
	}
	return map[string]any(res), nil
}

// runCollaborative splits task into one subtask per agent, runs them all to
// completion and gathers their results in agent order. A busy agent only
// surfaces as the error when no subtask failed for another reason.
func (c *Coordinator) runCollaborative(ctx context.Context, task *Task, agents []*agent.Agent) (map[string]any, error) {
	n := len(agents)
	parts := make([]map[string]any, n)
	busy := make([]error, n)

	var g errgroup.Group
	for i, a := range agents {
		sub := task.agentTask()
		sub.ID = fmt.Sprintf("%s_sub_%d", task.ID, i)
		sub.Description = fmt.Sprintf("%s (part %d/%d)", task.Description, i+1, n)

		g.Go(func() error {
			start := time.Now()
			res, err := a.Assign(ctx, sub)
			if errors.Is(err, agent.ErrAgentBusy) {
				busy[i] = fmt.Errorf("subtask %s on agent %s: %w", sub.ID, a.ID(), err)
				return nil
			}
			c.recordUsage(a.ID(), time.Since(start), err == nil)
			if err != nil {
				return fmt.Errorf("subtask %s on agent %s: %w", sub.ID, a.ID(), err)
			}
			parts[i] = map[string]any{
				"subtask_id": sub.ID,
				"agent_id":   a.ID(),
				"result":     map[string]any(res),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, err := range busy {
		if err != nil {
			return nil, err
		}
	}

	return map[string]any{
		"collaborative": true,
		"agents":        n,
		"results":       parts,
	}, nil
}

func (c *Coordinator) recordUsage(agentID string, d time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.metrics.AgentUtilization[agentID]
	if ok {
		u.TasksCompleted++
	}
	u.ProcessingTime += d
	c.metrics.AgentUtilization[agentID] = u
}

func (c *Coordinator) complete(task *Task, result map[string]any, started time.Time) {
	now := time.Now()

	c.mu.Lock()
	task.Status = TaskCompleted
	task.CompletedAt = &now
	task.Result = result
	task.Error = ""
	delete(c.active, task.ID)
	delete(c.timedOut, task.ID)
	c.completed[task.ID] = task

	c.metrics.TasksCompleted++
	n := time.Duration(c.metrics.TasksCompleted)
	elapsed := now.Sub(task.CreatedAt)
	c.metrics.AverageCompletionTime = (c.metrics.AverageCompletionTime*(n-1) + elapsed) / n
	snap := task.clone()
	c.mu.Unlock()

	c.collectors.taskEvent("completed")
	c.collectors.observeDuration(TaskCompleted, task.Collaborative(), now.Sub(started))
	c.updateGauges()
	c.persist(snap)
	c.publish(task.ID, "task_completed", map[string]any{
		"agents":   snap.AssignedAgents,
		"duration": now.Sub(started).String(),
	})
	slog.Info("task completed", "id", task.ID, "type", task.Type, "duration", now.Sub(started))
}

// fail records a failed attempt. The task is re-enqueued one priority
// level lower while retries remain and the coordinator is running,
// otherwise it fails terminally.
func (c *Coordinator) fail(task *Task, cause error, started time.Time) {
	now := time.Now()
	maxRetries := c.config().MaxRetries

	c.mu.Lock()
	task.Error = cause.Error()
	task.Result = map[string]any{"error": cause.Error()}
	task.RetryCount++
	delete(c.active, task.ID)
	delete(c.timedOut, task.ID)

	retry := task.RetryCount < maxRetries && c.running.Load()
	if retry {
		task.Status = TaskPending
		task.Priority++
		task.AssignedAgents = nil
		task.StartedAt = nil
		c.queued[task.ID] = task
		c.metrics.TasksRetried++
	}
	priority := task.Priority
	attempts := task.RetryCount
	c.mu.Unlock()

	c.collectors.observeDuration(TaskFailed, task.Collaborative(), now.Sub(started))

	if !retry {
		c.finishFailed(task, cause)
		return
	}
	if !c.queue.Push(task, priority) {
		c.mu.Lock()
		c.metrics.TasksRetried--
		c.mu.Unlock()
		c.finishFailed(task, fmt.Errorf("%w: %w", ErrCoordinatorState, cause))
		return
	}
	c.collectors.retry()
	c.updateGauges()
	c.publish(task.ID, "task_retry", map[string]any{
		"error":    cause.Error(),
		"attempt":  attempts,
		"priority": priority,
	})
	slog.Warn("task failed, retrying", "id", task.ID, "attempt", attempts, "priority", priority, "error", cause)
}

// finishFailed moves task to the completed table as failed.
func (c *Coordinator) finishFailed(task *Task, cause error) {
	now := time.Now()

	c.mu.Lock()
	delete(c.queued, task.ID)
	delete(c.active, task.ID)
	task.Status = TaskFailed
	task.Error = cause.Error()
	task.Result = map[string]any{"error": cause.Error()}
	task.CompletedAt = &now
	c.completed[task.ID] = task
	c.metrics.TasksFailed++
	attempts := task.RetryCount
	snap := task.clone()
	c.mu.Unlock()

	c.collectors.taskEvent("failed")
	c.updateGauges()
	c.persist(snap)
	c.publish(task.ID, "task_failed", map[string]any{
		"error":    cause.Error(),
		"attempts": attempts,
	})
	slog.Error("task failed", "id", task.ID, "attempts", attempts, "error", cause)
}

// deferBusy puts task back in the queue after an agent refused it for
// being busy. Neither the retry count nor the priority changes.
func (c *Coordinator) deferBusy(task *Task, cause error) {
	backoff := c.config().NoAgentBackoff

	c.mu.Lock()
	delete(c.active, task.ID)
	delete(c.timedOut, task.ID)
	task.Status = TaskPending
	task.AssignedAgents = nil
	task.StartedAt = nil
	c.queued[task.ID] = task
	c.metrics.TasksDeferred++
	priority := task.Priority
	c.mu.Unlock()

	if !c.queue.PushAfter(task, priority, backoff) {
		c.finishFailed(task, fmt.Errorf("%w: %w", ErrCoordinatorState, cause))
		return
	}
	c.updateGauges()
	c.publish(task.ID, "task_deferred", map[string]any{"reason": cause.Error()})
	slog.Debug("agent busy, deferring task", "id", task.ID, "priority", priority, "reason", cause)
}

func (c *Coordinator) monitor(ctx context.Context) {
	defer c.loops.Done()

	interval := healthInterval(c.config())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckHealth(ctx)
			if next := healthInterval(c.config()); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func healthInterval(cfg config.SwarmConfig) time.Duration {
	if cfg.HealthInterval <= 0 {
		return 30 * time.Second
	}
	return cfg.HealthInterval
}

// CheckHealth samples agent load and returns executing tasks older than the
// task timeout. Overrunning tasks are only reported, never cancelled.
func (c *Coordinator) CheckHealth(ctx context.Context) []string {
	loads := make(map[string]float64)
	for _, a := range c.registry.List() {
		loads[a.ID()] = a.LoadFactor()
	}

	now := time.Now()
	c.mu.Lock()
	timeout := c.cfg.TaskTimeout
	var overdue []string
	var fresh []string
	for id, t := range c.active {
		if t.Status == TaskExecuting && t.StartedAt != nil && timeout > 0 && now.Sub(*t.StartedAt) > timeout {
			overdue = append(overdue, id)
			if _, seen := c.timedOut[id]; !seen {
				c.timedOut[id] = struct{}{}
				c.metrics.TimeoutsDetected++
				fresh = append(fresh, id)
			}
		}
	}
	active := len(c.active)
	c.mu.Unlock()
	slices.Sort(overdue)
	slices.Sort(fresh)

	// Each overrun is counted and announced once.
	for _, id := range fresh {
		c.collectors.timeout()
		c.publish(id, "task_timeout", map[string]any{"timeout": timeout.String()})
		slog.Warn("task exceeded timeout", "id", id, "timeout", timeout)
	}

	c.updateGauges()
	if c.publisher != nil {
		event := natsbus.NewEvent("swarm_health", map[string]any{
			"agent_load":   loads,
			"active_tasks": active,
			"overdue":      overdue,
		})
		if err := c.publisher.PublishJSON(natsbus.TopicEventsSwarm, event); err != nil {
			slog.Debug("publish health event failed", "error", err)
		}
	}
	if c.router != nil {
		hb := router.NewMessage(router.Heartbeat, CoordinatorID, router.ChannelRecipient(router.ChannelStatus), nil)
		if _, err := c.router.Broadcast(ctx, router.ChannelStatus, hb); err != nil {
			slog.Debug("status heartbeat failed", "error", err)
		}
	}
	return overdue
}

// handleMessage answers bus requests addressed to the coordinator.
func (c *Coordinator) handleMessage(ctx context.Context, msg *router.Message) (map[string]any, error) {
	switch msg.Type {
	case router.Request:
		st := c.Status()
		return map[string]any{
			"queue_size":      st.QueueSize,
			"active_tasks":    st.ActiveTasks,
			"completed_tasks": st.CompletedTasks,
			"agents":          len(st.Agents),
		}, nil
	case router.StatusUpdate, router.TaskResult, router.Error:
		slog.Debug("coordinator received message", "type", msg.Type, "from", msg.SenderID)
	}
	return nil, nil
}

// Task returns a copy of the task with the given id from any table.
func (c *Coordinator) Task(id string) (*Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, table := range []map[string]*Task{c.active, c.queued, c.completed} {
		if t, ok := table[id]; ok {
			return t.clone(), true
		}
	}
	return nil, false
}

// Tasks returns copies of every known task, oldest first.
func (c *Coordinator) Tasks() []*Task {
	c.mu.Lock()
	out := make([]*Task, 0, len(c.queued)+len(c.active)+len(c.completed))
	for _, table := range []map[string]*Task{c.queued, c.active, c.completed} {
		for _, t := range table {
			out = append(out, t.clone())
		}
	}
	c.mu.Unlock()

	slices.SortFunc(out, func(a, b *Task) int {
		if n := a.CreatedAt.Compare(b.CreatedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (c *Coordinator) Status() Status {
	agents := make(map[string]AgentStatus)
	for _, a := range c.registry.List() {
		agents[a.ID()] = AgentStatus{
			Name:        a.Name(),
			Role:        a.Role(),
			Status:      a.Status(),
			Reliability: a.ReliabilityScore(),
			Load:        a.LoadFactor(),
		}
	}

	c.mu.Lock()
	st := Status{
		Agents:         agents,
		QueueSize:      len(c.queued),
		ActiveTasks:    len(c.active),
		CompletedTasks: len(c.completed),
		Metrics:        c.metrics,
		Config:         c.cfg,
	}
	st.Metrics.AgentUtilization = maps.Clone(c.metrics.AgentUtilization)
	c.mu.Unlock()

	st.Running = c.Running()
	return st
}

func (c *Coordinator) activeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

func (c *Coordinator) updateGauges() {
	if c.collectors == nil {
		return
	}
	c.mu.Lock()
	queued, active := len(c.queued), len(c.active)
	c.mu.Unlock()
	c.collectors.setQueueDepth(queued)
	c.collectors.setActive(active)
}

func (c *Coordinator) persist(t *Task) {
	if c.store == nil {
		return
	}
	agents, _ := json.Marshal(t.AssignedAgents)
	var result json.RawMessage
	if t.Result != nil {
		raw, err := json.Marshal(t.Result)
		if err != nil {
			slog.Warn("encode task result failed", "id", t.ID, "error", err)
		} else {
			result = raw
		}
	}
	err := c.store.SaveTaskRun(&store.TaskRun{
		ID:             t.ID,
		Type:           t.Type,
		Description:    t.Description,
		Priority:       t.Priority,
		Status:         string(t.Status),
		AssignedAgents: agents,
		Result:         result,
		Error:          t.Error,
		RetryCount:     t.RetryCount,
		CreatedAt:      t.CreatedAt,
		CompletedAt:    t.CompletedAt,
	})
	if err != nil {
		slog.Warn("persist task run failed", "id", t.ID, "error", err)
	}
}

func (c *Coordinator) publish(taskID, eventType string, data map[string]any) {
	if c.publisher == nil {
		return
	}
	data["task_id"] = taskID
	if err := c.publisher.PublishJSON(natsbus.TopicEventsTask(taskID), natsbus.NewEvent(eventType, data)); err != nil {
		slog.Debug("publish task event failed", "id", taskID, "error", err)
	}
}
