package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "engine"

// Returns a registry with the go and process collectors installed.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// HTTP handler exposing the metrics of a registry.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Metrics of a task execution service.
type TaskExecution struct {
	GroupsDeployed   prometheus.Counter
	GroupsRejected   prometheus.Counter
	GroupsTerminated *prometheus.CounterVec
	LiveGroups       prometheus.Gauge
	FinishedGroups   prometheus.Gauge
	SharedWorkers    prometheus.Gauge
	ExclusiveWorkers prometheus.Gauge
	QueuedTasks      prometheus.Gauge
	BlockingTasks    prometheus.Gauge
	CallTimeouts     prometheus.Counter
}

func NewTaskExecution(registerer prometheus.Registerer) *TaskExecution {
	m := &TaskExecution{
		GroupsDeployed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "taskexec", Name: "groups_deployed_total",
			Help: "Task groups accepted for execution",
		}),
		GroupsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "taskexec", Name: "groups_rejected_total",
			Help: "Task groups rejected at deployment",
		}),
		GroupsTerminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "taskexec", Name: "groups_terminated_total",
			Help: "Task groups that reached a terminal state",
		}, []string{"state"}),
		LiveGroups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "taskexec", Name: "live_groups",
			Help: "Task groups currently executing",
		}),
		FinishedGroups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "taskexec", Name: "finished_groups",
			Help: "Finished task group contexts retained for queries",
		}),
		SharedWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "taskexec", Name: "shared_workers",
			Help: "Cooperative workers serving the shared queue",
		}),
		ExclusiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "taskexec", Name: "exclusive_workers",
			Help: "Cooperative workers bound to a single overrunning task",
		}),
		QueuedTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "taskexec", Name: "queued_tasks",
			Help: "Thread-shared tasks waiting for a cooperative worker",
		}),
		BlockingTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "taskexec", Name: "blocking_tasks",
			Help: "Blocking tasks running on dedicated goroutines",
		}),
		CallTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "taskexec", Name: "call_timeouts_total",
			Help: "Cooperative steps that overran the call quantum",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.GroupsDeployed, m.GroupsRejected, m.GroupsTerminated,
			m.LiveGroups, m.FinishedGroups, m.SharedWorkers, m.ExclusiveWorkers,
			m.QueuedTasks, m.BlockingTasks, m.CallTimeouts,
		)
	}
	return m
}

// Metrics of the resource manager.
type Resource struct {
	Workers        prometheus.Gauge
	Leases         prometheus.Gauge
	PendingApplies prometheus.Gauge
	Evictions      prometheus.Counter
	Applies        *prometheus.CounterVec
	ApplyLatency   prometheus.Histogram
}

func NewResource(registerer prometheus.Registerer) *Resource {
	m := &Resource{
		Workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "resource", Name: "workers",
			Help: "Registered workers",
		}),
		Leases: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "resource", Name: "leases",
			Help: "Outstanding slot leases",
		}),
		PendingApplies: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "resource", Name: "pending_applies",
			Help: "Resource applications waiting for capacity",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "resource", Name: "evictions_total",
			Help: "Workers evicted after missed heartbeats",
		}),
		Applies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "resource", Name: "applies_total",
			Help: "Resource applications by outcome",
		}, []string{"outcome"}),
		ApplyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "resource", Name: "apply_latency_seconds",
			Help:    "Time from application to lease",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if registerer != nil {
		registerer.MustRegister(m.Workers, m.Leases, m.PendingApplies, m.Evictions, m.Applies, m.ApplyLatency)
	}
	return m
}

// Metrics of checkpoint coordination.
type Checkpoint struct {
	Triggered *prometheus.CounterVec
	Completed *prometheus.CounterVec
	Aborted   *prometheus.CounterVec
	Duration  prometheus.Histogram
	Pending   prometheus.Gauge
}

func NewCheckpoint(registerer prometheus.Registerer) *Checkpoint {
	m := &Checkpoint{
		Triggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "checkpoint", Name: "triggered_total",
			Help: "Checkpoints triggered",
		}, []string{"pipeline"}),
		Completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "checkpoint", Name: "completed_total",
			Help: "Checkpoints completed and persisted",
		}, []string{"pipeline"}),
		Aborted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "checkpoint", Name: "aborted_total",
			Help: "Checkpoints aborted",
		}, []string{"pipeline", "reason"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "checkpoint", Name: "duration_seconds",
			Help:    "Time from trigger to completion",
			Buckets: prometheus.DefBuckets,
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "checkpoint", Name: "pending",
			Help: "Checkpoints awaiting acknowledgements",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(m.Triggered, m.Completed, m.Aborted, m.Duration, m.Pending)
	}
	return m
}

// Metrics of the job master.
type Jobs struct {
	Submitted      prometheus.Counter
	Terminated     *prometheus.CounterVec
	Running        prometheus.Gauge
	ApplyRetries   prometheus.Counter
	StatusReceived *prometheus.CounterVec
}

func NewJobs(registerer prometheus.Registerer) *Jobs {
	m := &Jobs{
		Submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "submitted_total",
			Help: "Jobs accepted for execution",
		}),
		Terminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "terminated_total",
			Help: "Jobs that reached a terminal state",
		}, []string{"state"}),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "running",
			Help: "Jobs not yet terminated",
		}),
		ApplyRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "apply_retries_total",
			Help: "Slot applications retried for lack of resources",
		}),
		StatusReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "group_status_total",
			Help: "Task group status notifications by outcome",
		}, []string{"outcome"}),
	}

	if registerer != nil {
		registerer.MustRegister(m.Submitted, m.Terminated, m.Running, m.ApplyRetries, m.StatusReceived)
	}
	return m
}
