package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"zotregistry.dev/zprune/pkg/retention/types"
)

const (
	namespace = "zprune"
	imageLbl  = "image"
)

// Collector gathers the counters of one run, they are pushed to a pushgateway once the run ends.
type Collector struct {
	registry      *prometheus.Registry
	kept          *prometheus.CounterVec
	selected      *prometheus.CounterVec
	deleted       *prometheus.CounterVec
	deleteErrors  *prometheus.CounterVec
	imageErrors   prometheus.Counter
	lastRunSecond prometheus.Gauge
}

func NewCollector() *Collector {
	collector := &Collector{
		registry: prometheus.NewRegistry(),
		kept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digests_kept_total",
			Help:      "Digests retained by the retention policy.",
		}, []string{imageLbl}),
		selected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digests_selected_total",
			Help:      "Digests selected for deletion by the retention policy.",
		}, []string{imageLbl}),
		deleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digests_deleted_total",
			Help:      "Digests actually deleted from the registry.",
		}, []string{imageLbl}),
		deleteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delete_errors_total",
			Help:      "Digest deletions which failed.",
		}, []string{imageLbl}),
		imageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_errors_total",
			Help:      "Images which could not be listed or classified.",
		}),
		lastRunSecond: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the end of the last run.",
		}),
	}

	collector.registry.MustRegister(collector.kept, collector.selected, collector.deleted,
		collector.deleteErrors, collector.imageErrors, collector.lastRunSecond)

	return collector
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) ObservePlan(plan types.Plan) {
	c.kept.WithLabelValues(plan.Image).Add(float64(len(plan.Keep)))
	c.selected.WithLabelValues(plan.Image).Add(float64(len(plan.Delete)))
}

func (c *Collector) ObserveDeleted(image string) {
	c.deleted.WithLabelValues(image).Inc()
}

func (c *Collector) ObserveDeleteError(image string) {
	c.deleteErrors.WithLabelValues(image).Inc()
}

func (c *Collector) ObserveImageError() {
	c.imageErrors.Inc()
}

func (c *Collector) SetLastRun(when time.Time) {
	c.lastRunSecond.Set(float64(when.Unix()))
}

// Push sends all collected metrics to the pushgateway at url, replacing the ones of job.
func (c *Collector) Push(ctx context.Context, url, job string) error {
	return push.New(url, job).Gatherer(c.registry).PushContext(ctx)
}
