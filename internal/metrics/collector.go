// Package metrics provides a small Prometheus-compatible collector for the
// gateway and consumer. It renders the text exposition format directly.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// family groups every labelled series of one metric name so the output
// carries a single HELP/TYPE header per name.
type family struct {
	name   string
	help   string
	kind   kind
	series map[string]series // labels -> series
}

type series interface {
	write(sb *strings.Builder, name, labels string)
}

// MetricsCollector is a registry of metric families.
type MetricsCollector struct {
	mu       sync.Mutex
	families map[string]*family
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{families: make(map[string]*family)}
}

// register returns the series for name and labels, creating it with mk on
// first use. Registering one name with two kinds panics.
func (c *MetricsCollector) register(name, help string, k kind, labels string, mk func() series) series {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.families[name]
	if !ok {
		f = &family{name: name, help: help, kind: k, series: make(map[string]series)}
		c.families[name] = f
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s registered as %s and %s", name, f.kind, k))
	}
	s, ok := f.series[labels]
	if !ok {
		s = mk()
		f.series[labels] = s
	}
	return s
}

// Counter is a monotonically increasing counter.
type Counter struct {
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

func (c *Counter) write(sb *strings.Builder, name, labels string) {
	fmt.Fprintf(sb, "%s%s %d\n", name, braces(labels), c.Value())
}

// Gauge is a value that goes up and down.
type Gauge struct {
	value atomic.Int64
}

func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

func (g *Gauge) write(sb *strings.Builder, name, labels string) {
	fmt.Fprintf(sb, "%s%s %d\n", name, braces(labels), g.Value())
}

// Histogram tracks a distribution over fixed upper bounds. Bucket counts
// are stored per bucket and summed when rendered.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []int64 // len(bounds)+1, last is +Inf
	count  int64
	sum    float64
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	i := sort.SearchFloat64s(h.bounds, v)
	h.mu.Lock()
	h.counts[i]++
	h.count++
	h.sum += v
	h.mu.Unlock()
}

func (h *Histogram) write(sb *strings.Builder, name, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sep := ""
	if labels != "" {
		sep = ","
	}
	var cumulative int64
	for i, c := range h.counts {
		cumulative += c
		le := "+Inf"
		if i < len(h.bounds) {
			le = strconv.FormatFloat(h.bounds[i], 'g', -1, 64)
		}
		fmt.Fprintf(sb, "%s_bucket{%s%sle=%q} %d\n", name, labels, sep, le, cumulative)
	}
	fmt.Fprintf(sb, "%s_count%s %d\n", name, braces(labels), h.count)
	fmt.Fprintf(sb, "%s_sum%s %g\n", name, braces(labels), h.sum)
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

// Counter returns or creates the counter for name and labels.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	return c.register(name, help, kindCounter, labels, func() series {
		return &Counter{labels: labels}
	}).(*Counter)
}

// Gauge returns or creates the gauge for name and labels.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	return c.register(name, help, kindGauge, labels, func() series {
		return &Gauge{}
	}).(*Gauge)
}

// Histogram returns or creates the histogram for name and labels. The
// buckets of the first registration win.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	return c.register(name, help, kindHistogram, labels, func() series {
		bounds := bucketBounds(buckets)
		return &Histogram{bounds: bounds, counts: make([]int64, len(bounds)+1)}
	}).(*Histogram)
}

// bucketBounds returns sorted finite bounds; +Inf is implicit.
func bucketBounds(buckets []float64) []float64 {
	out := make([]float64, 0, len(buckets))
	for _, b := range buckets {
		if !math.IsInf(b, 1) && !math.IsNaN(b) {
			out = append(out, b)
		}
	}
	sort.Float64s(out)
	return out
}

// Handler renders every family in Prometheus text format, sorted by name
// and then by labels.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		fams := make([]family, 0, len(c.families))
		for _, f := range c.families {
			cp := *f
			cp.series = make(map[string]series, len(f.series))
			for k, s := range f.series {
				cp.series[k] = s
			}
			fams = append(fams, cp)
		}
		c.mu.Unlock()
		sort.Slice(fams, func(i, j int) bool { return fams[i].name < fams[j].name })

		var sb strings.Builder
		for _, f := range fams {
			fmt.Fprintf(&sb, "# HELP %s %s\n", f.name, f.help)
			fmt.Fprintf(&sb, "# TYPE %s %s\n", f.name, f.kind)
			labels := make([]string, 0, len(f.series))
			for l := range f.series {
				labels = append(labels, l)
			}
			sort.Strings(labels)
			for _, l := range labels {
				f.series[l].write(&sb, f.name, l)
			}
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, sb.String())
	}
}

// --- Pre-defined metrics used across the application ---

var (
	SecretFetches    = Collector.Counter("slackgate_secret_fetches_total", "Secret store fetches", "")
	AuthFailures     = Collector.Counter("slackgate_auth_failures_total", "Requests rejected by signature verification", "")
	Publishes        = Collector.Counter("slackgate_publishes_total", "Payloads published to a topic", "")
	PublishErrors    = Collector.Counter("slackgate_publish_errors_total", "Failed publish attempts", "")
	Deliveries       = Collector.Counter("slackgate_deliveries_total", "Records delivered to Slack", "")
	DeliveryFailures = Collector.Counter("slackgate_delivery_failures_total", "Records that failed delivery to Slack", "")
	RateLimited      = Collector.Counter("slackgate_rate_limited_total", "Slack API calls answered with 429", "")
	Installations    = Collector.Counter("slackgate_installations_total", "Completed OAuth installations", "")
	InFlight         = Collector.Gauge("slackgate_inflight_requests", "Requests currently being handled", "")

	PublishLatency = Collector.Histogram("slackgate_publish_latency_seconds", "Publish latency in seconds", "",
		[]float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5})
	DeliveryLatency = Collector.Histogram("slackgate_delivery_latency_seconds", "Slack API call latency in seconds", "",
		[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10})
)

// Request returns the request counter for a route and status code.
func Request(route string, status int) *Counter {
	return Collector.Counter("slackgate_requests_total", "Requests handled by the gateway",
		fmt.Sprintf("route=%q,code=\"%d\"", route, status))
}

// PayloadKind returns the counter for classified payloads of one kind.
func PayloadKind(k string) *Counter {
	return Collector.Counter("slackgate_payloads_total", "Classified payloads by kind",
		fmt.Sprintf("kind=%q", k))
}

// Since observes the seconds elapsed since start on h.
func Since(h *Histogram, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
