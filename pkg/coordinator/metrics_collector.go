package coordinator

import (
	"time"

	"github.com/wipac/ltacoord/pkg/metrics"
	"github.com/wipac/ltacoord/pkg/storage"
)

// MetricsCollector periodically samples the Coordinator's store and
// publishes gauge-style metrics that a pull-based scrape can't derive
// from counters alone: bundle/request counts by status, claimed-bundle
// counts, quarantine counts, and per-component-type heartbeat record counts.
type MetricsCollector struct {
	coord  *Coordinator
	stopCh chan struct{}
}

// NewMetricsCollector creates a new metrics collector over a Coordinator.
func NewMetricsCollector(coord *Coordinator) *MetricsCollector {
	return &MetricsCollector{
		coord:  coord,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15-second interval.
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	c.collectRequestMetrics()
	c.collectBundleMetrics()
	c.collectHeartbeatMetrics()
}

func (c *MetricsCollector) collectRequestMetrics() {
	requests, err := c.coord.ListRequests(storage.RequestFilter{})
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, r := range requests {
		counts[string(r.Status)]++
	}
	for status, n := range counts {
		metrics.TransferRequestsTotal.WithLabelValues(status).Set(float64(n))
	}
}

func (c *MetricsCollector) collectBundleMetrics() {
	bundles, err := c.coord.ListBundles(storage.BundleFilter{})
	if err != nil {
		return
	}

	counts := make(map[string]int)
	claimedCounts := make(map[string]int)
	quarantined := 0
	for _, b := range bundles {
		counts[string(b.Status)]++
		if b.IsClaimed() {
			claimedCounts[string(b.Status)]++
		}
		if b.IsQuarantined() {
			quarantined++
		}
	}
	for status, n := range counts {
		metrics.BundlesTotal.WithLabelValues(status).Set(float64(n))
	}
	for status, n := range claimedCounts {
		metrics.ClaimedBundlesTotal.WithLabelValues(status).Set(float64(n))
	}
	metrics.QuarantinedBundlesTotal.Set(float64(quarantined))
}

// componentTypes are the stage names of spec.md §4.4 plus the coordinator
// itself, swept each cycle to report per-type heartbeat record counts.
var componentTypes = []string{
	"picker", "locator", "bundler", "rate-limiter", "replicator",
	"site-move-verifier", "nersc-mover", "nersc-retriever",
	"nersc-verifier", "desy-verifier", "deleter", "unpacker",
	"transfer-request-finisher", "coordinator",
}

func (c *MetricsCollector) collectHeartbeatMetrics() {
	for _, ct := range componentTypes {
		heartbeats, err := c.coord.ListHeartbeats(ct)
		if err != nil {
			continue
		}
		metrics.HeartbeatsTotal.WithLabelValues(ct).Set(float64(len(heartbeats)))
	}
}
