package resource

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/srand/jolt/engine/pkg/execution"
	"github.com/srand/jolt/engine/pkg/log"
	"github.com/srand/jolt/engine/pkg/metrics"
	"github.com/srand/jolt/engine/pkg/utils"
)

var (
	ErrWorkerNotFound   = fmt.Errorf("worker %w", utils.ErrNotFound)
	ErrLeaseNotFound    = fmt.Errorf("lease %w", utils.ErrNotFound)
	ErrLeaseInvalidated = fmt.Errorf("lease invalidated by worker eviction: %w", utils.ErrTerminated)
	ErrManagerClosed    = fmt.Errorf("resource manager %w", utils.ErrTerminated)
)

// Called after a worker has been evicted, with the leases it held.
type EvictionListener func(worker WorkerProfile, leases []SlotProfile)

type workerEntry struct {
	profile  WorkerProfile
	lastSeen time.Time
	used     ResourceProfile
	leases   map[string]SlotProfile
}

func (w *workerEntry) free() ResourceProfile {
	return w.profile.Capacity.sub(w.used)
}

type pendingApply struct {
	jobID   execution.JobID
	profile ResourceProfile
	future  *utils.Future[SlotProfile]
	applied time.Time
	timer   *time.Timer
	element *list.Element
}

// Tracks live workers and arbitrates slot leases.
// A worker's leases never exceed its declared capacity.
type Manager struct {
	config  Config
	metrics *metrics.Resource

	mu          sync.Mutex
	workers     map[string]*workerEntry
	leases      map[string]*workerEntry
	invalidated map[string]SlotProfile
	pending     *list.List
	listeners   []EvictionListener
	closed      bool
}

func NewManager(config Config, m *metrics.Resource) (*Manager, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if m == nil {
		m = metrics.NewResource(nil)
	}

	return &Manager{
		config:      config,
		metrics:     m,
		workers:     map[string]*workerEntry{},
		leases:      map[string]*workerEntry{},
		invalidated: map[string]SlotProfile{},
		pending:     list.New(),
	}, nil
}

func (m *Manager) AddEvictionListener(listener EvictionListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// Registers a worker or replaces the profile of a known one.
// Leases of a known worker are kept.
func (m *Manager) WorkerRegister(profile WorkerProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}

	entry, ok := m.workers[profile.WorkerID]
	if ok {
		log.Infof("upd - worker - id: %s, address: %s, capacity: %s", profile.WorkerID, profile.Address, profile.Capacity)
		entry.profile = profile
		for id, lease := range entry.leases {
			lease.WorkerAddress = profile.Address
			entry.leases[id] = lease
		}
	} else {
		log.Infof("new - worker - id: %s, address: %s, capacity: %s", profile.WorkerID, profile.Address, profile.Capacity)
		entry = &workerEntry{profile: profile, leases: map[string]SlotProfile{}}
		m.workers[profile.WorkerID] = entry
	}
	entry.lastSeen = time.Now()

	m.metrics.Workers.Set(float64(len(m.workers)))
	m.dispatchNoLock()
	return nil
}

// Refreshes the liveness of a worker. Unknown workers must register again.
func (m *Manager) HeartbeatFromWorker(workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.workers[workerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, workerID)
	}
	entry.lastSeen = time.Now()
	return nil
}

// Evicts silent workers until ctx is done, then closes the manager.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Close()
			return
		case <-ticker.C:
			m.evictStale(time.Now())
		}
	}
}

func (m *Manager) evictStale(now time.Time) {
	deadline := now.Add(-m.config.LivenessTimeout())

	type eviction struct {
		profile WorkerProfile
		leases  []SlotProfile
	}
	var evictions []eviction

	m.mu.Lock()
	for id, entry := range m.workers {
		if !entry.lastSeen.Before(deadline) {
			continue
		}

		leases := make([]SlotProfile, 0, len(entry.leases))
		for slotID, lease := range entry.leases {
			delete(m.leases, slotID)
			m.invalidated[slotID] = lease
			leases = append(leases, lease)
		}
		delete(m.workers, id)

		log.Warnf("del - worker - id: %s, missed heartbeats since %s, invalidated leases: %d",
			id, entry.lastSeen.Format(time.RFC3339), len(leases))

		m.metrics.Evictions.Inc()
		evictions = append(evictions, eviction{entry.profile, leases})
	}
	m.metrics.Workers.Set(float64(len(m.workers)))
	m.metrics.Leases.Set(float64(len(m.leases)))
	listeners := append([]EvictionListener{}, m.listeners...)
	m.mu.Unlock()

	for _, e := range evictions {
		for _, listener := range listeners {
			listener(e.profile, e.leases)
		}
	}
}

// Leases a slot for the job. The future completes when a worker with enough
// free capacity and matching properties is found, or fails with
// utils.ErrResourceUnavailable after the apply timeout.
func (m *Manager) ApplyResource(jobID execution.JobID, profile ResourceProfile) *utils.Future[SlotProfile] {
	if err := profile.Validate(); err != nil {
		return utils.CompletedFuture(SlotProfile{}, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return utils.CompletedFuture(SlotProfile{}, ErrManagerClosed)
	}

	p := &pendingApply{
		jobID:   jobID,
		profile: profile,
		future:  utils.NewFuture[SlotProfile](),
		applied: time.Now(),
	}

	if m.placeNoLock(p) {
		return p.future
	}

	log.Debugf("exe - apply - queued - job: %d, profile: %s", jobID, profile)

	p.element = m.pending.PushBack(p)
	p.timer = time.AfterFunc(m.config.ApplyTimeout, func() {
		m.expire(p)
	})
	m.metrics.PendingApplies.Set(float64(m.pending.Len()))
	return p.future
}

func (m *Manager) expire(p *pendingApply) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.element == nil {
		return
	}
	m.pending.Remove(p.element)
	p.element = nil
	m.metrics.PendingApplies.Set(float64(m.pending.Len()))
	m.metrics.Applies.WithLabelValues("unavailable").Inc()

	log.Infof("nok - apply - job: %d, profile: %s, waited: %v", p.jobID, p.profile, m.config.ApplyTimeout)
	p.future.Complete(SlotProfile{}, fmt.Errorf("%w: no worker can host %s within %v",
		utils.ErrResourceUnavailable, p.profile, m.config.ApplyTimeout))
}

// Leases a slot on the least loaded fitting worker.
func (m *Manager) placeNoLock(p *pendingApply) bool {
	worker := m.selectWorkerNoLock(p.profile)
	if worker == nil {
		return false
	}

	slot := SlotProfile{
		SlotID:        uuid.NewString(),
		WorkerID:      worker.profile.WorkerID,
		WorkerAddress: worker.profile.Address,
		JobID:         p.jobID,
		Profile:       p.profile,
	}

	worker.used = worker.used.add(p.profile)
	worker.leases[slot.SlotID] = slot
	m.leases[slot.SlotID] = worker

	m.metrics.Leases.Set(float64(len(m.leases)))
	m.metrics.Applies.WithLabelValues("leased").Inc()
	m.metrics.ApplyLatency.Observe(time.Since(p.applied).Seconds())

	log.Debugf("new - lease - job: %d, slot: %s, profile: %s", p.jobID, slot, p.profile)
	p.future.Complete(slot, nil)
	return true
}

func (m *Manager) selectWorkerNoLock(profile ResourceProfile) *workerEntry {
	var best *workerEntry
	for _, id := range m.workerIDsNoLock() {
		worker := m.workers[id]
		free := worker.free()
		if !profile.fits(free) || !worker.profile.Fulfills(profile.Properties) {
			continue
		}
		if best == nil {
			best = worker
			continue
		}
		bestFree := best.free()
		if free.CPU > bestFree.CPU || (free.CPU == bestFree.CPU && len(worker.leases) < len(best.leases)) {
			best = worker
		}
	}
	return best
}

// Places queued applications in arrival order where capacity allows.
func (m *Manager) dispatchNoLock() {
	for e := m.pending.Front(); e != nil; {
		next := e.Next()
		p := e.Value.(*pendingApply)
		if m.placeNoLock(p) {
			m.pending.Remove(e)
			p.element = nil
			p.timer.Stop()
		}
		e = next
	}
	m.metrics.PendingApplies.Set(float64(m.pending.Len()))
}

// Returns a lease. Unknown, released and invalidated leases are ignored.
func (m *Manager) ReleaseResource(jobID execution.JobID, slot SlotProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	worker, ok := m.leases[slot.SlotID]
	if !ok {
		if _, ok := m.invalidated[slot.SlotID]; ok {
			delete(m.invalidated, slot.SlotID)
			log.Tracef("del - lease - invalidated lease released - slot: %s", slot)
		}
		return nil
	}

	lease := worker.leases[slot.SlotID]
	if lease.JobID != jobID {
		return fmt.Errorf("%w: slot %s is leased to job %d, not %d", utils.ErrBadRequest, slot, lease.JobID, jobID)
	}

	worker.used = worker.used.sub(lease.Profile)
	delete(worker.leases, slot.SlotID)
	delete(m.leases, slot.SlotID)

	log.Debugf("del - lease - job: %d, slot: %s", jobID, slot)
	m.metrics.Leases.Set(float64(len(m.leases)))

	m.dispatchNoLock()
	return nil
}

func (m *Manager) ReleaseResources(jobID execution.JobID, slots []SlotProfile) error {
	var errs []error
	for _, slot := range slots {
		if err := m.ReleaseResource(jobID, slot); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reports whether a lease is still valid.
func (m *Manager) CheckLease(slot SlotProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.leases[slot.SlotID]; ok {
		return nil
	}
	if _, ok := m.invalidated[slot.SlotID]; ok {
		return fmt.Errorf("%w: %s", ErrLeaseInvalidated, slot)
	}
	return fmt.Errorf("%w: %s", ErrLeaseNotFound, slot)
}

// Returns the address of a live worker.
func (m *Manager) WorkerAddress(workerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.workers[workerID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrWorkerNotFound, workerID)
	}
	return entry.profile.Address, nil
}

type WorkerStatus struct {
	Profile  WorkerProfile   `json:"profile"`
	LastSeen time.Time       `json:"last_seen"`
	Used     ResourceProfile `json:"used"`
	Leases   int             `json:"leases"`
}

// Returns a snapshot of all live workers ordered by id.
func (m *Manager) ListWorkers() []WorkerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	workers := make([]WorkerStatus, 0, len(m.workers))
	for _, id := range m.workerIDsNoLock() {
		entry := m.workers[id]
		workers = append(workers, WorkerStatus{
			Profile:  entry.profile,
			LastSeen: entry.lastSeen,
			Used:     entry.used,
			Leases:   len(entry.leases),
		})
	}
	return workers
}

func (m *Manager) workerIDsNoLock() []string {
	ids := make([]string, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Fails queued applications and rejects new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	for e := m.pending.Front(); e != nil; e = e.Next() {
		p := e.Value.(*pendingApply)
		p.timer.Stop()
		p.element = nil
		p.future.Complete(SlotProfile{}, ErrManagerClosed)
	}
	m.pending.Init()
	m.metrics.PendingApplies.Set(0)
}
