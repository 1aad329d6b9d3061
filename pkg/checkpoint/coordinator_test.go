package checkpoint_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srand/jolt/engine/pkg/checkpoint"
	"github.com/srand/jolt/engine/pkg/checkpoint/storage/memory"
	"github.com/srand/jolt/engine/pkg/execution"
	"github.com/srand/jolt/engine/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type MockBarrierTrigger struct {
	mock.Mock
}

func (m *MockBarrierTrigger) TriggerBarrier(ctx context.Context, location execution.TaskLocation, checkpointID int64) error {
	args := m.Called(location, checkpointID)
	return args.Error(0)
}

type result struct {
	location     execution.TaskLocation
	checkpointID int64
	success      bool
}

type recordingNotifier struct {
	mu      sync.Mutex
	results []result
}

func (n *recordingNotifier) NotifyCheckpointResult(_ context.Context, location execution.TaskLocation, checkpointID int64, success bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, result{location, checkpointID, success})
	return nil
}

func (n *recordingNotifier) forCheckpoint(id int64) []result {
	n.mu.Lock()
	defer n.mu.Unlock()

	var results []result
	for _, r := range n.results {
		if r.checkpointID == id {
			results = append(results, r)
		}
	}
	return results
}

type failingStorage struct {
	*memory.Storage
}

func (failingStorage) StoreCheckpoint(*checkpoint.PipelineState) (string, error) {
	return "", errors.New("disk full")
}

type CoordinatorTestSuite struct {
	suite.Suite
	trigger      *MockBarrierTrigger
	notifier     *recordingNotifier
	storage      *memory.Storage
	participants []checkpoint.Participant
	config       checkpoint.Config
}

func TestCoordinatorTestSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorTestSuite))
}

func location(group int64, task int64, index int) execution.TaskLocation {
	return execution.TaskLocation{
		Group:  execution.TaskGroupLocation{JobID: 1, PipelineID: 1, GroupID: execution.TaskGroupID(group)},
		TaskID: task,
		Index:  index,
	}
}

func (s *CoordinatorTestSuite) SetupTest() {
	log.SetLevel(log.TraceLevel)

	s.trigger = &MockBarrierTrigger{}
	s.trigger.On("TriggerBarrier", mock.Anything, mock.Anything).Return(nil)
	s.notifier = &recordingNotifier{}
	s.storage = memory.New()
	s.config = checkpoint.Config{Timeout: time.Minute, HistorySize: 4}
	s.participants = []checkpoint.Participant{
		{Location: location(1, 1, 0), VertexKey: "source", Parallelism: 2},
		{Location: location(1, 2, 1), VertexKey: "source", Parallelism: 2},
		{Location: location(2, 3, 0), VertexKey: "sink", Parallelism: 1},
	}
}

func (s *CoordinatorTestSuite) newCoordinator(storage checkpoint.Storage, lastID int64) *checkpoint.Coordinator {
	plan := checkpoint.PipelinePlan{PipelineID: 1, Participants: s.participants, LastCheckpointID: lastID}
	c := checkpoint.NewCoordinator(1, plan, s.config, storage, s.trigger, s.notifier, nil)
	s.T().Cleanup(c.Stop)
	return c
}

func (s *CoordinatorTestSuite) trigger1(c *checkpoint.Coordinator) int64 {
	id, err := c.TriggerCheckpoint(context.Background())
	require.NoError(s.T(), err)
	return id
}

func (s *CoordinatorTestSuite) TestCompletesAfterAllAcks() {
	c := s.newCoordinator(s.storage, 0)

	id := s.trigger1(c)
	assert.Equal(s.T(), int64(1), id)
	s.trigger.AssertNumberOfCalls(s.T(), "TriggerBarrier", 3)

	require.NoError(s.T(), c.Acknowledge(s.participants[0].Location, id, []byte("a")))
	require.NoError(s.T(), c.Acknowledge(s.participants[1].Location, id, []byte("b")))
	assert.True(s.T(), c.HasPending())

	require.NoError(s.T(), c.Acknowledge(s.participants[2].Location, id, []byte("c")))
	assert.False(s.T(), c.HasPending())
	assert.Equal(s.T(), id, c.LatestCompleted())

	state, err := s.storage.GetLatestCheckpoint(1)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), id, state.CheckpointID)
	assert.Equal(s.T(), map[int][]byte{0: []byte("a"), 1: []byte("b")}, state.States["source"].SubtaskStates)
	assert.Equal(s.T(), 2, state.States["source"].Parallelism)
	assert.Equal(s.T(), map[int][]byte{0: []byte("c")}, state.States["sink"].SubtaskStates)

	assert.Eventually(s.T(), func() bool { return len(s.notifier.forCheckpoint(id)) == 3 }, time.Second, time.Millisecond)
	for _, r := range s.notifier.forCheckpoint(id) {
		assert.True(s.T(), r.success)
	}

	status := c.Status()
	require.Len(s.T(), status.History, 1)
	assert.Equal(s.T(), checkpoint.StatusCompleted, status.History[0].Status)
	assert.Empty(s.T(), status.Pending)
}

func (s *CoordinatorTestSuite) TestLateAckIsIgnored() {
	c := s.newCoordinator(s.storage, 4)

	five := s.trigger1(c)
	assert.Equal(s.T(), int64(5), five)
	assert.True(s.T(), c.Abort(five, checkpoint.ReasonTimeout, "test"))
	six := s.trigger1(c)
	assert.True(s.T(), c.Abort(six, checkpoint.ReasonTimeout, "test"))

	seven := s.trigger1(c)
	assert.Equal(s.T(), int64(7), seven)

	require.NoError(s.T(), c.Acknowledge(s.participants[0].Location, seven, []byte("a")))
	require.NoError(s.T(), c.Acknowledge(s.participants[1].Location, seven, []byte("b")))

	require.NoError(s.T(), c.Acknowledge(s.participants[2].Location, five, []byte("late")))

	status := c.Status()
	require.Len(s.T(), status.Pending, 1)
	assert.Equal(s.T(), seven, status.Pending[0].CheckpointID)
	assert.Equal(s.T(), 2, status.Pending[0].Acked)
	assert.Equal(s.T(), 3, status.Pending[0].Expected)

	_, err := s.storage.GetLatestCheckpoint(1)
	assert.ErrorIs(s.T(), err, checkpoint.ErrCheckpointNotFound)

	require.NoError(s.T(), c.Acknowledge(s.participants[2].Location, seven, []byte("c")))
	assert.Equal(s.T(), seven, c.LatestCompleted())

	state, err := s.storage.GetLatestCheckpoint(1)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), []byte("c"), state.States["sink"].SubtaskStates[0])
}

func (s *CoordinatorTestSuite) TestTerminalStateIsImmutable() {
	c := s.newCoordinator(s.storage, 0)

	id := s.trigger1(c)
	for _, p := range s.participants {
		require.NoError(s.T(), c.Acknowledge(p.Location, id, nil))
	}

	assert.False(s.T(), c.Abort(id, checkpoint.ReasonCanceled, "too late"))
	require.NoError(s.T(), c.Acknowledge(s.participants[0].Location, id, []byte("again")))

	history := c.Status().History
	require.Len(s.T(), history, 1)
	assert.Equal(s.T(), checkpoint.StatusCompleted, history[0].Status)
}

func (s *CoordinatorTestSuite) TestAbortNotifiesTasks() {
	c := s.newCoordinator(s.storage, 0)

	id := s.trigger1(c)
	require.NoError(s.T(), c.Acknowledge(s.participants[0].Location, id, []byte("a")))
	assert.True(s.T(), c.Abort(id, checkpoint.ReasonTaskFailed, "sink crashed"))

	assert.Eventually(s.T(), func() bool { return len(s.notifier.forCheckpoint(id)) == 3 }, time.Second, time.Millisecond)
	for _, r := range s.notifier.forCheckpoint(id) {
		assert.False(s.T(), r.success)
	}

	history := c.Status().History
	require.Len(s.T(), history, 1)
	assert.Equal(s.T(), checkpoint.StatusAborted, history[0].Status)
	assert.Equal(s.T(), "task_failed: sink crashed", history[0].Reason)
}

func (s *CoordinatorTestSuite) TestTimeoutAborts() {
	s.config.Timeout = 20 * time.Millisecond
	c := s.newCoordinator(s.storage, 0)

	id := s.trigger1(c)
	assert.Eventually(s.T(), func() bool { return !c.HasPending() }, time.Second, time.Millisecond)

	history := c.Status().History
	require.Len(s.T(), history, 1)
	assert.Equal(s.T(), id, history[0].CheckpointID)
	assert.Equal(s.T(), checkpoint.StatusAborted, history[0].Status)
	assert.Contains(s.T(), history[0].Reason, "timeout")
}

func (s *CoordinatorTestSuite) TestStorageFailureAborts() {
	c := s.newCoordinator(failingStorage{s.storage}, 0)

	id := s.trigger1(c)
	for _, p := range s.participants {
		require.NoError(s.T(), c.Acknowledge(p.Location, id, []byte("x")))
	}

	assert.Equal(s.T(), int64(0), c.LatestCompleted())
	history := c.Status().History
	require.Len(s.T(), history, 1)
	assert.Equal(s.T(), checkpoint.StatusAborted, history[0].Status)
	assert.Contains(s.T(), history[0].Reason, "disk full")

	assert.Eventually(s.T(), func() bool { return len(s.notifier.forCheckpoint(id)) == 3 }, time.Second, time.Millisecond)
	assert.False(s.T(), s.notifier.forCheckpoint(id)[0].success)
}

func (s *CoordinatorTestSuite) TestNewerCompletionSupersedesOlder() {
	c := s.newCoordinator(s.storage, 0)

	older := s.trigger1(c)
	newer := s.trigger1(c)

	for _, p := range s.participants {
		require.NoError(s.T(), c.Acknowledge(p.Location, newer, nil))
	}

	assert.False(s.T(), c.HasPending())
	history := c.Status().History
	require.Len(s.T(), history, 2)
	assert.Equal(s.T(), newer, history[0].CheckpointID)
	assert.Equal(s.T(), checkpoint.StatusCompleted, history[0].Status)
	assert.Equal(s.T(), older, history[1].CheckpointID)
	assert.Equal(s.T(), checkpoint.StatusAborted, history[1].Status)

	require.NoError(s.T(), c.Acknowledge(s.participants[0].Location, older, nil))
	assert.Len(s.T(), c.Status().History, 2)
}

func (s *CoordinatorTestSuite) TestClosedParticipantCompletesPending() {
	c := s.newCoordinator(s.storage, 0)

	id := s.trigger1(c)
	require.NoError(s.T(), c.Acknowledge(s.participants[0].Location, id, []byte("a")))
	require.NoError(s.T(), c.Acknowledge(s.participants[2].Location, id, []byte("c")))

	require.NoError(s.T(), c.ReadyToCloseIdleTask(s.participants[1].Location))
	assert.False(s.T(), c.HasPending())
	assert.Equal(s.T(), id, c.LatestCompleted())

	s.trigger.Calls = nil
	next := s.trigger1(c)
	s.trigger.AssertNumberOfCalls(s.T(), "TriggerBarrier", 2)
	s.trigger.AssertNotCalled(s.T(), "TriggerBarrier", s.participants[1].Location, next)

	require.NoError(s.T(), c.Acknowledge(s.participants[1].Location, next, []byte("idle")))
	assert.Equal(s.T(), 2, c.Status().Pending[0].Expected)
	assert.Equal(s.T(), 0, c.Status().Pending[0].Acked)
}

func (s *CoordinatorTestSuite) TestAllParticipantsClosed() {
	c := s.newCoordinator(s.storage, 0)

	id := s.trigger1(c)
	for _, p := range s.participants {
		require.NoError(s.T(), c.TaskCompleted(p.Location))
	}

	assert.False(s.T(), c.HasPending())
	history := c.Status().History
	require.Len(s.T(), history, 1)
	assert.Equal(s.T(), id, history[0].CheckpointID)
	assert.Equal(s.T(), checkpoint.StatusAborted, history[0].Status)

	_, err := c.TriggerCheckpoint(context.Background())
	assert.ErrorIs(s.T(), err, checkpoint.ErrNoParticipants)

	assert.NoError(s.T(), c.TaskCompleted(s.participants[0].Location))
}

func (s *CoordinatorTestSuite) TestUnknownParticipant() {
	c := s.newCoordinator(s.storage, 0)
	id := s.trigger1(c)

	err := c.Acknowledge(location(9, 9, 0), id, nil)
	assert.ErrorIs(s.T(), err, checkpoint.ErrUnknownParticipant)
	assert.ErrorIs(s.T(), c.TaskCompleted(location(9, 9, 0)), checkpoint.ErrUnknownParticipant)
}

func (s *CoordinatorTestSuite) TestBarrierFailureAborts() {
	s.trigger = &MockBarrierTrigger{}
	s.trigger.On("TriggerBarrier", s.participants[0].Location, mock.Anything).Return(nil)
	s.trigger.On("TriggerBarrier", s.participants[1].Location, mock.Anything).Return(errors.New("worker gone"))
	s.trigger.On("TriggerBarrier", s.participants[2].Location, mock.Anything).Return(nil)

	c := s.newCoordinator(s.storage, 0)

	id, err := c.TriggerCheckpoint(context.Background())
	assert.EqualError(s.T(), errors.Unwrap(err), "worker gone")
	assert.False(s.T(), c.HasPending())
	assert.Equal(s.T(), checkpoint.StatusAborted, c.Status().History[0].Status)
	assert.Equal(s.T(), id, c.Status().History[0].CheckpointID)
}

func (s *CoordinatorTestSuite) TestHistoryIsBounded() {
	c := s.newCoordinator(s.storage, 0)

	for i := 0; i < 6; i++ {
		id := s.trigger1(c)
		c.Abort(id, checkpoint.ReasonCanceled, "test")
	}

	history := c.Status().History
	require.Len(s.T(), history, 4)
	assert.Equal(s.T(), int64(3), history[0].CheckpointID)
	assert.Equal(s.T(), int64(6), history[3].CheckpointID)
}

func (s *CoordinatorTestSuite) TestStopAbortsPending() {
	c := s.newCoordinator(s.storage, 0)
	s.trigger1(c)

	c.Stop()

	assert.False(s.T(), c.HasPending())
	_, err := c.TriggerCheckpoint(context.Background())
	assert.ErrorIs(s.T(), err, checkpoint.ErrCoordinatorStopped)
}

func (s *CoordinatorTestSuite) TestNothingIsDeliveredAfterStop() {
	for i := 0; i < 50; i++ {
		c := s.newCoordinator(s.storage, int64(i*10))
		id := s.trigger1(c)
		require.NoError(s.T(), c.Acknowledge(s.participants[0].Location, id, nil))
		require.NoError(s.T(), c.Acknowledge(s.participants[1].Location, id, nil))

		acked := make(chan struct{})
		go func() {
			defer close(acked)
			c.Acknowledge(s.participants[2].Location, id, nil)
		}()
		c.Stop()

		delivered := len(s.notifier.forCheckpoint(id))
		<-acked
		time.Sleep(time.Millisecond)
		assert.Equal(s.T(), delivered, len(s.notifier.forCheckpoint(id)), "checkpoint %d", id)
	}
}
