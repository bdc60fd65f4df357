// Package datadog implements a Datadog backend for the internal/metrics
// package.
//
// NOTE ABOUT FLUSHING:
// This backend serves both short-lived commands (one ingest run) and the
// long-running schedule daemon. Submitting only once at process exit
// makes dashboards awkward for long jobs (a single spike instead of a
// time series), so we:
//   - buffer metrics in-memory (fast, lock-protected)
//   - periodically Flush() on a ticker (default: once per minute)
//   - Flush() one final time on Close()
//
// Concurrency model:
//   - engine goroutines call IncCounter/ObserveHistogram at any time
//   - Flush snapshots+resets buffers under a mutex, then submits
//     out-of-lock
//   - the flush loop calls Flush() periodically; Close() stops the loop
//
// If the process dies with SIGKILL/OOM, Close() won't run; no backend
// can fix that.
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric.
	// If empty, defaults to "recon".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"service:recon"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// The following fields are unexported test seams.
	//
	// Production code will never set them; unit tests set them to avoid
	// real network submission and nondeterministic clocks/tickers.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the minimal interface needed to submit metrics.
//
// The Datadog SDK exposes a concrete *datadogV2.MetricsApi, which cannot
// be stubbed without real HTTP. Backend depends on this interface
// instead, enabling deterministic tests with a fake submitter.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	submitter metricsSubmitter
	ddctx     context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu       sync.Mutex
	counters map[seriesKey]int64
	samples  map[seriesKey][]float64
}

// seriesKey identifies one buffered series: metric name plus its sorted,
// joined tag set.
type seriesKey struct {
	name string
	tags string
}

func keyFor(name string, tags []string) seriesKey {
	if len(tags) == 0 {
		return seriesKey{name: name}
	}
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	return seriesKey{name: name, tags: strings.Join(sorted, ",")}
}

func (k seriesKey) tagList() []string {
	if k.tags == "" {
		return nil
	}
	return strings.Split(k.tags, ",")
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client.
//
// Edge cases:
//   - If opts.FlushEvery <= 0, defaults to 60s.
//   - If opts.JobName is empty, defaults to "recon".
//   - Environment tag selection uses ENV then DD_ENV, else env:unknown.
//
// Errors:
//   - Datadog client construction does not fail under normal conditions;
//     network errors surface from Flush().
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "recon"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		submitter:  submitter,
		ddctx:      dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		counters:   make(map[seriesKey]int64),
		samples:    make(map[seriesKey][]float64),
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush(b.ddctx)
		case <-b.stopCh:
			return
		}
	}
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta int64, tags ...string) {
	if delta <= 0 {
		return
	}
	k := keyFor(name, tags)

	b.mu.Lock()
	b.counters[k] += delta
	b.mu.Unlock()
}

// ObserveHistogram implements metrics.Backend. Samples are submitted as
// gauge points; percentile aggregation happens server-side.
func (b *Backend) ObserveHistogram(name string, value float64, tags ...string) {
	if value < 0 {
		return
	}
	k := keyFor(name, tags)

	b.mu.Lock()
	b.samples[k] = append(b.samples[k], value)
	b.mu.Unlock()
}

// Flush snapshots the buffers and submits one payload. Counters reset on
// snapshot; a failed submission drops the snapshot rather than
// double-counting on retry.
func (b *Backend) Flush(ctx context.Context) error {
	b.mu.Lock()
	counters := b.counters
	samples := b.samples
	b.counters = make(map[seriesKey]int64)
	b.samples = make(map[seriesKey][]float64)
	b.mu.Unlock()

	if len(counters) == 0 && len(samples) == 0 {
		return nil
	}

	ts := b.now().Unix()
	series := make([]datadogV2.MetricSeries, 0, len(counters)+len(samples))

	for k, v := range counters {
		series = append(series, datadogV2.MetricSeries{
			Metric: k.name,
			Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
			Points: []datadogV2.MetricPoint{{
				Timestamp: dd.PtrInt64(ts),
				Value:     dd.PtrFloat64(float64(v)),
			}},
			Tags: append(append([]string(nil), b.baseTags...), k.tagList()...),
		})
	}
	for k, vals := range samples {
		pts := make([]datadogV2.MetricPoint, 0, len(vals))
		for _, v := range vals {
			pts = append(pts, datadogV2.MetricPoint{
				Timestamp: dd.PtrInt64(ts),
				Value:     dd.PtrFloat64(v),
			})
		}
		series = append(series, datadogV2.MetricSeries{
			Metric: k.name,
			Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
			Points: pts,
			Tags:   append(append([]string(nil), b.baseTags...), k.tagList()...),
		})
	}

	// API keys ride on the Datadog context built at construction; the
	// caller's ctx only carries cancellation and is not needed for the
	// buffered snapshot path.
	payload := datadogV2.MetricPayload{Series: series}
	_, _, err := b.submitter.SubmitMetrics(b.ddctx, payload)
	return err
}

// Close stops the background flush loop and performs one final Flush().
//
// Errors:
//   - Returns any error from the final submission.
//   - Calling Close twice panics (stopCh closed twice); process-lifetime
//     backends get "close once" semantics.
func (b *Backend) Close(ctx context.Context) error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush(ctx)
}
