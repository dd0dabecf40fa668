package swarm

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors exposes Prometheus metrics for coordinator activity. A nil
// *Collectors is valid and records nothing.
type Collectors struct {
	tasksTotal     *prometheus.CounterVec
	retries        prometheus.Counter
	timeouts       prometheus.Counter
	taskDuration   *prometheus.HistogramVec
	activeTasks    prometheus.Gauge
	queueDepth     prometheus.Gauge
	agentsEligible prometheus.Histogram
}

var (
	defaultCollectorsOnce sync.Once
	sharedCollectors      *Collectors
)

// DefaultCollectors returns collectors registered once with the global
// Prometheus registry.
func DefaultCollectors() *Collectors {
	defaultCollectorsOnce.Do(func() {
		sharedCollectors = MustNewCollectors(prometheus.DefaultRegisterer)
	})
	return sharedCollectors
}

// MustNewCollectors registers the coordinator collectors with reg, reusing
// collectors that are already registered. Other registration errors panic.
func MustNewCollectors(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collectors{
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarmbot",
			Subsystem: "swarm",
			Name:      "tasks_total",
			Help:      "Tasks by lifecycle event (submitted, completed, failed).",
		}, []string{"event"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmbot",
			Subsystem: "swarm",
			Name:      "task_retries_total",
			Help:      "Failed task attempts that were re-enqueued.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmbot",
			Subsystem: "swarm",
			Name:      "task_timeouts_detected_total",
			Help:      "Executing tasks found past the task timeout by the health monitor.",
		}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "swarmbot",
			Subsystem: "swarm",
			Name:      "task_duration_seconds",
			Help:      "Time from dispatch to a terminal or retried outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status", "mode"}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swarmbot",
			Subsystem: "swarm",
			Name:      "active_tasks",
			Help:      "Tasks currently dispatched to agents.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swarmbot",
			Subsystem: "swarm",
			Name:      "queue_depth",
			Help:      "Tasks waiting in the priority queue, including delayed re-inserts.",
		}),
		agentsEligible: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "swarmbot",
			Subsystem: "swarm",
			Name:      "eligible_agents",
			Help:      "Eligible agents found per scheduling decision.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}),
	}

	register := func(col prometheus.Collector) prometheus.Collector {
		if err := reg.Register(col); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return already.ExistingCollector
			}
			panic(err)
		}
		return col
	}
	c.tasksTotal = register(c.tasksTotal).(*prometheus.CounterVec)
	c.retries = register(c.retries).(prometheus.Counter)
	c.timeouts = register(c.timeouts).(prometheus.Counter)
	c.taskDuration = register(c.taskDuration).(*prometheus.HistogramVec)
	c.activeTasks = register(c.activeTasks).(prometheus.Gauge)
	c.queueDepth = register(c.queueDepth).(prometheus.Gauge)
	c.agentsEligible = register(c.agentsEligible).(prometheus.Histogram)
	return c
}

func (c *Collectors) taskEvent(event string) {
	if c == nil {
		return
	}
	c.tasksTotal.WithLabelValues(event).Inc()
}

func (c *Collectors) retry() {
	if c == nil {
		return
	}
	c.retries.Inc()
}

func (c *Collectors) timeout() {
	if c == nil {
		return
	}
	c.timeouts.Inc()
}

func (c *Collectors) observeDuration(status TaskStatus, collaborative bool, d time.Duration) {
	if c == nil {
		return
	}
	mode := "single"
	if collaborative {
		mode = "collaborative"
	}
	c.taskDuration.WithLabelValues(string(status), mode).Observe(d.Seconds())
}

func (c *Collectors) setActive(n int) {
	if c == nil {
		return
	}
	c.activeTasks.Set(float64(n))
}

func (c *Collectors) setQueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}

func (c *Collectors) observeEligible(n int) {
	if c == nil {
		return
	}
	c.agentsEligible.Observe(float64(n))
}
