package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/srand/jolt/engine/pkg/execution"
	"github.com/srand/jolt/engine/pkg/log"
	"github.com/srand/jolt/engine/pkg/metrics"
	"github.com/srand/jolt/engine/pkg/utils"
)

var (
	ErrCoordinatorStopped = fmt.Errorf("checkpoint coordinator %w", utils.ErrTerminated)
	ErrNoParticipants     = fmt.Errorf("no open checkpoint participants: %w", utils.ErrUnavailable)
	ErrUnknownParticipant = fmt.Errorf("checkpoint participant %w", utils.ErrNotFound)
	ErrPipelineNotFound   = fmt.Errorf("pipeline %w", utils.ErrNotFound)
)

// Low cardinality abort classification, used as metric label.
type AbortReason string

const (
	ReasonTimeout        AbortReason = "timeout"
	ReasonStorage        AbortReason = "storage"
	ReasonSuperseded     AbortReason = "superseded"
	ReasonBarrier        AbortReason = "barrier"
	ReasonTaskFailed     AbortReason = "task_failed"
	ReasonCanceled       AbortReason = "canceled"
	ReasonNoParticipants AbortReason = "no_participants"
)

// Injects checkpoint barriers into tasks.
type BarrierTrigger interface {
	TriggerBarrier(ctx context.Context, location execution.TaskLocation, checkpointID int64) error
}

// Delivers checkpoint outcomes to tasks.
type ResultNotifier interface {
	NotifyCheckpointResult(ctx context.Context, location execution.TaskLocation, checkpointID int64, success bool) error
}

// Checkpoint participants and starting point of one pipeline.
type PipelinePlan struct {
	PipelineID   execution.PipelineID
	Participants []Participant
	// Checkpoint ids continue after this one, typically the restored checkpoint.
	LastCheckpointID int64
}

type pendingCheckpoint struct {
	id        int64
	triggered time.Time
	expected  map[execution.TaskLocation]struct{}
	acked     map[execution.TaskLocation][]byte
	timer     *time.Timer
}

func (p *pendingCheckpoint) ready() bool {
	return len(p.expected) > 0 && len(p.acked) == len(p.expected)
}

func (p *pendingCheckpoint) record(pipeline execution.PipelineID) Record {
	return Record{
		PipelineID:   pipeline,
		CheckpointID: p.id,
		Status:       StatusPending,
		Triggered:    p.triggered,
		Acked:        len(p.acked),
		Expected:     len(p.expected),
	}
}

// Outcome to deliver to the tasks of a checkpoint.
type notice struct {
	id        int64
	success   bool
	locations []execution.TaskLocation
}

// Drives the checkpoints of one pipeline.
//
// Every checkpoint id moves from PENDING to exactly one of COMPLETED or
// ABORTED. Acks for ids that are not pending are ignored.
type Coordinator struct {
	key      execution.PipelineKey
	label    string
	config   Config
	storage  Storage
	trigger  BarrierTrigger
	notifier ResultNotifier
	metrics  *metrics.Checkpoint

	mu           sync.Mutex
	participants map[execution.TaskLocation]Participant
	closed       map[execution.TaskLocation]struct{}
	lastID       int64
	latest       int64
	pending      map[int64]*pendingCheckpoint
	history      []Record
	stopped      bool

	ctx           context.Context
	cancel        context.CancelFunc
	notifications sync.WaitGroup
}

func NewCoordinator(jobID execution.JobID, plan PipelinePlan, config Config, storage Storage, trigger BarrierTrigger, notifier ResultNotifier, m *metrics.Checkpoint) *Coordinator {
	config.SetDefaults()
	if m == nil {
		m = metrics.NewCheckpoint(nil)
	}

	key := execution.PipelineKey{JobID: jobID, PipelineID: plan.PipelineID}
	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		key:          key,
		label:        key.String(),
		config:       config,
		storage:      storage,
		trigger:      trigger,
		notifier:     notifier,
		metrics:      m,
		participants: map[execution.TaskLocation]Participant{},
		closed:       map[execution.TaskLocation]struct{}{},
		lastID:       plan.LastCheckpointID,
		latest:       plan.LastCheckpointID,
		pending:      map[int64]*pendingCheckpoint{},
		ctx:          ctx,
		cancel:       cancel,
	}

	for _, participant := range plan.Participants {
		c.participants[participant.Location] = participant
	}

	return c
}

func (c *Coordinator) Key() execution.PipelineKey {
	return c.key
}

// Starts a new checkpoint and injects its barrier into every open participant.
func (c *Coordinator) TriggerCheckpoint(ctx context.Context) (int64, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, ErrCoordinatorStopped
	}

	expected := map[execution.TaskLocation]struct{}{}
	for location := range c.participants {
		if _, closed := c.closed[location]; !closed {
			expected[location] = struct{}{}
		}
	}
	if len(expected) == 0 {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: pipeline %s", ErrNoParticipants, c.key)
	}

	c.lastID++
	id := c.lastID
	p := &pendingCheckpoint{
		id:        id,
		triggered: time.Now(),
		expected:  expected,
		acked:     map[execution.TaskLocation][]byte{},
	}
	p.timer = time.AfterFunc(c.config.Timeout, func() {
		c.Abort(id, ReasonTimeout, fmt.Sprintf("not acknowledged within %v", c.config.Timeout))
	})
	c.pending[id] = p

	c.metrics.Triggered.WithLabelValues(c.label).Inc()
	c.metrics.Pending.Inc()

	locations := sortedLocations(expected)
	c.mu.Unlock()

	log.Debugf("new - checkpoint - pipeline: %s, id: %d, participants: %d", c.key, id, len(locations))

	for _, location := range locations {
		err := c.trigger.TriggerBarrier(ctx, location, id)
		if err == nil {
			continue
		}

		// The task may have finished after the participant set was taken.
		if errors.Is(err, utils.ErrNotFound) && c.isClosed(location) {
			continue
		}

		c.Abort(id, ReasonBarrier, err.Error())
		return id, fmt.Errorf("trigger barrier at %s: %w", location, err)
	}

	return id, nil
}

// Records the state of one participant. The last expected ack persists the
// checkpoint. Acks for checkpoints that are not pending are ignored.
func (c *Coordinator) Acknowledge(location execution.TaskLocation, checkpointID int64, state []byte) error {
	c.mu.Lock()

	if _, ok := c.participants[location]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, location)
	}

	p, ok := c.pending[checkpointID]
	if !ok {
		c.mu.Unlock()
		log.Debugf("nok - checkpoint - ack for id not pending, ignored - pipeline: %s, id: %d, location: %s",
			c.key, checkpointID, location)
		return nil
	}

	if _, ok := p.expected[location]; !ok {
		c.mu.Unlock()
		log.Debugf("nok - checkpoint - ack from closed participant, ignored - pipeline: %s, id: %d, location: %s",
			c.key, checkpointID, location)
		return nil
	}

	p.acked[location] = state
	log.Tracef("exe - checkpoint - ack - pipeline: %s, id: %d, location: %s, acked: %d/%d",
		c.key, checkpointID, location, len(p.acked), len(p.expected))

	var notices []notice
	if p.ready() {
		notices = c.completeNoLock(p)
	}
	c.mu.Unlock()

	c.deliver(notices)
	return nil
}

// Aborts a pending checkpoint. Returns false if it is not pending.
func (c *Coordinator) Abort(checkpointID int64, reason AbortReason, detail string) bool {
	c.mu.Lock()
	p, ok := c.pending[checkpointID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	n := c.abortNoLock(p, reason, detail)
	c.mu.Unlock()

	c.deliver([]notice{n})
	return true
}

// Aborts all pending checkpoints and returns how many there were.
func (c *Coordinator) AbortPending(reason AbortReason, detail string) int {
	c.mu.Lock()
	var notices []notice
	for _, id := range c.pendingIDsNoLock() {
		notices = append(notices, c.abortNoLock(c.pending[id], reason, detail))
	}
	c.mu.Unlock()

	c.deliver(notices)
	return len(notices)
}

// Excludes an idle participant from subsequent checkpoints.
func (c *Coordinator) ReadyToCloseIdleTask(location execution.TaskLocation) error {
	return c.closeParticipant(location, "idle")
}

// Excludes a finished participant from subsequent checkpoints.
func (c *Coordinator) TaskCompleted(location execution.TaskLocation) error {
	return c.closeParticipant(location, "completed")
}

// A closed participant is no longer expected by pending checkpoints
// it has not acknowledged yet, which may complete them.
func (c *Coordinator) closeParticipant(location execution.TaskLocation, why string) error {
	c.mu.Lock()

	if _, ok := c.participants[location]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, location)
	}
	if _, ok := c.closed[location]; ok {
		c.mu.Unlock()
		return nil
	}

	c.closed[location] = struct{}{}
	log.Debugf("del - checkpoint participant - pipeline: %s, location: %s, reason: %s", c.key, location, why)

	var notices []notice
	for _, id := range c.pendingIDsNoLock() {
		p, ok := c.pending[id]
		if !ok {
			continue
		}
		if _, ok := p.expected[location]; !ok {
			continue
		}
		if _, ok := p.acked[location]; ok {
			continue
		}

		delete(p.expected, location)

		switch {
		case len(p.expected) == 0:
			notices = append(notices, c.abortNoLock(p, ReasonNoParticipants, "all participants closed"))
		case p.ready():
			notices = append(notices, c.completeNoLock(p)...)
		}
	}
	c.mu.Unlock()

	c.deliver(notices)
	return nil
}

func (c *Coordinator) isClosed(location execution.TaskLocation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.closed[location]
	return ok
}

// Persists a fully acknowledged checkpoint. A storage failure aborts it.
// Success aborts older pending checkpoints as superseded.
func (c *Coordinator) completeNoLock(p *pendingCheckpoint) []notice {
	c.removePendingNoLock(p)

	state := c.buildStateNoLock(p)
	handle, err := c.storage.StoreCheckpoint(state)
	if err != nil {
		log.Warnf("err - checkpoint - store failed - pipeline: %s, id: %d: %v", c.key, p.id, err)
		return []notice{c.abortedNoLock(p, ReasonStorage, err.Error())}
	}

	now := time.Now()
	if p.id > c.latest {
		c.latest = p.id
	}

	rec := p.record(c.key.PipelineID)
	rec.Status = StatusCompleted
	rec.Finished = &now
	rec.Handle = handle
	c.addHistoryNoLock(rec)

	c.metrics.Completed.WithLabelValues(c.label).Inc()
	c.metrics.Duration.Observe(now.Sub(p.triggered).Seconds())

	log.Infof("end - checkpoint - pipeline: %s, id: %d, vertices: %d, handle: %s", c.key, p.id, len(state.States), handle)

	notices := []notice{{id: p.id, success: true, locations: sortedLocations(p.expected)}}
	for _, id := range c.pendingIDsNoLock() {
		if id < p.id {
			notices = append(notices, c.abortNoLock(c.pending[id], ReasonSuperseded, fmt.Sprintf("superseded by %d", p.id)))
		}
	}
	return notices
}

func (c *Coordinator) abortNoLock(p *pendingCheckpoint, reason AbortReason, detail string) notice {
	c.removePendingNoLock(p)
	return c.abortedNoLock(p, reason, detail)
}

func (c *Coordinator) abortedNoLock(p *pendingCheckpoint, reason AbortReason, detail string) notice {
	now := time.Now()
	rec := p.record(c.key.PipelineID)
	rec.Status = StatusAborted
	rec.Finished = &now
	rec.Reason = fmt.Sprintf("%s: %s", reason, detail)
	c.addHistoryNoLock(rec)

	c.metrics.Aborted.WithLabelValues(c.label, string(reason)).Inc()

	log.Infof("int - checkpoint - pipeline: %s, id: %d, reason: %s", c.key, p.id, rec.Reason)

	return notice{id: p.id, success: false, locations: sortedLocations(p.expected)}
}

func (c *Coordinator) removePendingNoLock(p *pendingCheckpoint) {
	delete(c.pending, p.id)
	p.timer.Stop()
	c.metrics.Pending.Dec()
}

func (c *Coordinator) buildStateNoLock(p *pendingCheckpoint) *PipelineState {
	state := &PipelineState{
		JobID:        c.key.JobID,
		PipelineID:   c.key.PipelineID,
		CheckpointID: p.id,
		Timestamp:    time.Now(),
		States:       map[string]*TaskState{},
	}

	for location, data := range p.acked {
		participant := c.participants[location]
		taskState, ok := state.States[participant.VertexKey]
		if !ok {
			taskState = NewTaskState(participant.VertexKey, participant.Parallelism, participant.Rescalable)
			state.States[participant.VertexKey] = taskState
		}
		taskState.ReportState(location.Index, data)
	}

	return state
}

func (c *Coordinator) addHistoryNoLock(rec Record) {
	c.history = append(c.history, rec)
	if overflow := len(c.history) - c.config.HistorySize; overflow > 0 {
		c.history = append([]Record{}, c.history[overflow:]...)
	}
}

func (c *Coordinator) pendingIDsNoLock() []int64 {
	ids := make([]int64, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Sends outcomes to tasks in the background. Failures are logged; the
// receiving side retries lookups of tasks that are not registered yet.
func (c *Coordinator) deliver(notices []notice) {
	if c.notifier == nil {
		return
	}

	// Stop waits for notifications added before it marked the coordinator
	// stopped. Nothing is delivered after that.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	for _, n := range notices {
		for _, location := range n.locations {
			c.notifications.Add(1)
			go func(id int64, success bool, location execution.TaskLocation) {
				defer c.notifications.Done()
				if err := c.notifier.NotifyCheckpointResult(c.ctx, location, id, success); err != nil {
					log.Warnf("err - checkpoint - result undelivered - pipeline: %s, id: %d, location: %s: %v",
						c.key, id, location, err)
				}
			}(n.id, n.success, location)
		}
	}
}

// Returns true if a checkpoint is pending.
func (c *Coordinator) HasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) > 0
}

// Returns the id of the newest completed checkpoint, or the restored one.
func (c *Coordinator) LatestCompleted() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

type PipelineStatus struct {
	PipelineID      execution.PipelineID `json:"pipeline_id"`
	LatestCompleted int64                `json:"latest_completed"`
	Participants    int                  `json:"participants"`
	Closed          int                  `json:"closed"`
	Pending         []Record             `json:"pending"`
	History         []Record             `json:"history"`
}

func (c *Coordinator) Status() PipelineStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := PipelineStatus{
		PipelineID:      c.key.PipelineID,
		LatestCompleted: c.latest,
		Participants:    len(c.participants),
		Closed:          len(c.closed),
		Pending:         []Record{},
		History:         append([]Record{}, c.history...),
	}
	for _, id := range c.pendingIDsNoLock() {
		status.Pending = append(status.Pending, c.pending[id].record(c.key.PipelineID))
	}
	return status
}

// Aborts pending checkpoints without notifying tasks and waits for
// outstanding notifications.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	for _, id := range c.pendingIDsNoLock() {
		c.abortNoLock(c.pending[id], ReasonCanceled, "coordinator stopped")
	}
	c.mu.Unlock()

	c.cancel()
	c.notifications.Wait()
}

func sortedLocations(set map[execution.TaskLocation]struct{}) []execution.TaskLocation {
	locations := make([]execution.TaskLocation, 0, len(set))
	for location := range set {
		locations = append(locations, location)
	}
	sort.Slice(locations, func(i, j int) bool {
		a, b := locations[i], locations[j]
		if a.Group.GroupID != b.Group.GroupID {
			return a.Group.GroupID < b.Group.GroupID
		}
		if a.TaskID != b.TaskID {
			return a.TaskID < b.TaskID
		}
		return a.Index < b.Index
	})
	return locations
}
