// Package metrics exposes Prometheus collectors for publication and listing.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"newswave/internal/nw"
)

var (
	PublishStages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "nw", Name: "publish_stage_total", Help: "Number of submissions entering each publication stage."},
		[]string{"stage"},
	)
	PublishFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "nw", Name: "publish_failures_total", Help: "Number of failed submissions by failing stage."},
		[]string{"stage"},
	)
	PublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "nw", Name: "publish_duration_seconds", Help: "Time from submission to completion or failure.", Buckets: prometheus.ExponentialBuckets(0.05, 2, 12)},
		[]string{"outcome"},
	)
	ListingItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "nw", Name: "listing_items", Help: "Items in the most recent listing by kind."},
		[]string{"kind"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "nw", Name: "rate_limit_rejected_total", Help: "Number of requests rejected by limiter."},
		[]string{"limiter"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(PublishStages)
	reg.MustRegister(PublishFailures)
	reg.MustRegister(PublishDuration)
	reg.MustRegister(ListingItems)
	reg.MustRegister(RateLimitRejected)
}

// ObserveListing records the shape of a listing.
func ObserveListing(l *nw.Listing) {
	ListingItems.WithLabelValues("total").Set(float64(len(l.Items)))
	ListingItems.WithLabelValues("verified").Set(float64(len(l.Verified())))
	ListingItems.WithLabelValues("questionable").Set(float64(len(l.Questionable())))
	ListingItems.WithLabelValues("degraded").Set(float64(l.Degraded()))
	ListingItems.WithLabelValues("skipped").Set(float64(len(l.Skipped)))
}

// StageObserver is an nw.ProgressObserver that feeds the publish collectors.
type StageObserver struct {
	clock nw.Clock

	mu      sync.Mutex
	started map[string]time.Time
}

func NewStageObserver(clock nw.Clock) *StageObserver {
	return &StageObserver{clock: clock, started: make(map[string]time.Time)}
}

func (o *StageObserver) OnProgress(p nw.Progress) {
	if p.Failed() {
		PublishFailures.WithLabelValues(p.Stage.String()).Inc()
		o.finish(p.SubmissionID, "failed")
		return
	}

	PublishStages.WithLabelValues(p.Stage.String()).Inc()
	switch p.Stage {
	case nw.StageIdle:
		o.mu.Lock()
		o.started[p.SubmissionID] = o.clock.Now()
		o.mu.Unlock()
	case nw.StageDone:
		o.finish(p.SubmissionID, "done")
	}
}

func (o *StageObserver) finish(id, outcome string) {
	o.mu.Lock()
	start, ok := o.started[id]
	delete(o.started, id)
	o.mu.Unlock()
	if ok {
		PublishDuration.WithLabelValues(outcome).Observe(o.clock.Now().Sub(start).Seconds())
	}
}

// Compile-time check that StageObserver implements nw.ProgressObserver interface
var _ nw.ProgressObserver = (*StageObserver)(nil)
