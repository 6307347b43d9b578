// Package observe provides the observability primitives for bubbletalk:
// OpenTelemetry metrics, tracing, trace-aware logging and HTTP middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus via [InitProvider]. Tests should build their own [Metrics] with
// [NewMetrics] and an sdkmetric.ManualReader; [DefaultMetrics] uses the global
// provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/bubbletalk"

// Error kinds recorded by [Metrics.RecordDialogueError].
const (
	ErrorKindConfiguration = "configuration"
	ErrorKindGraph         = "graph"
	ErrorKindUsage         = "usage"
	ErrorKindStore         = "store"
)

// Metrics holds all metric instruments. The zero value is not usable; use
// [NewMetrics]. A nil *Metrics is accepted by every Record method and records
// nothing.
type Metrics struct {
	// ConversationsStarted counts started conversations. Attribute: speaker.
	ConversationsStarted metric.Int64Counter

	// ConversationsEnded counts finished conversations. Attributes: speaker,
	// reason.
	ConversationsEnded metric.Int64Counter

	// LinesRendered counts lines presented to a surface. Attributes: speaker,
	// condition.
	LinesRendered metric.Int64Counter

	// RevealSkips counts accepted skip requests. Attribute: speaker.
	RevealSkips metric.Int64Counter

	// DialogueErrors counts non-fatal dialogue errors. Attributes: speaker,
	// kind.
	DialogueErrors metric.Int64Counter

	// StoreReloads counts line store reloads. Attribute: status.
	StoreReloads metric.Int64Counter

	// ActiveConversations tracks the number of running conversations.
	ActiveConversations metric.Int64UpDownCounter

	// ConversationDuration tracks wall time from start to end.
	ConversationDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// conversationBuckets covers a handful of lines at a few seconds each.
var conversationBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300,
}

var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ConversationsStarted, err = m.Int64Counter("bubbletalk.conversations.started",
		metric.WithDescription("Conversations started by speaker."),
	); err != nil {
		return nil, err
	}
	if met.ConversationsEnded, err = m.Int64Counter("bubbletalk.conversations.ended",
		metric.WithDescription("Conversations ended by speaker and reason."),
	); err != nil {
		return nil, err
	}
	if met.LinesRendered, err = m.Int64Counter("bubbletalk.lines.rendered",
		metric.WithDescription("Lines presented by speaker and condition."),
	); err != nil {
		return nil, err
	}
	if met.RevealSkips, err = m.Int64Counter("bubbletalk.reveal.skips",
		metric.WithDescription("Accepted reveal skip requests by speaker."),
	); err != nil {
		return nil, err
	}
	if met.DialogueErrors, err = m.Int64Counter("bubbletalk.dialogue.errors",
		metric.WithDescription("Non-fatal dialogue errors by speaker and kind."),
	); err != nil {
		return nil, err
	}
	if met.StoreReloads, err = m.Int64Counter("bubbletalk.store.reloads",
		metric.WithDescription("Line store reloads by status."),
	); err != nil {
		return nil, err
	}

	if met.ActiveConversations, err = m.Int64UpDownCounter("bubbletalk.conversations.active",
		metric.WithDescription("Number of running conversations."),
	); err != nil {
		return nil, err
	}

	if met.ConversationDuration, err = m.Float64Histogram("bubbletalk.conversation.duration",
		metric.WithDescription("Conversation duration from start to end."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(conversationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("bubbletalk.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first use
// from [otel.GetMeterProvider]. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordConversationStart increments the started counter and the active
// gauge.
func (m *Metrics) RecordConversationStart(ctx context.Context, speaker string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(Attr("speaker", speaker))
	m.ConversationsStarted.Add(ctx, 1, attrs)
	m.ActiveConversations.Add(ctx, 1, attrs)
}

// RecordConversationEnd increments the ended counter, decrements the active
// gauge and records the duration.
func (m *Metrics) RecordConversationEnd(ctx context.Context, speaker, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.ConversationsEnded.Add(ctx, 1,
		metric.WithAttributes(Attr("speaker", speaker), Attr("reason", reason)),
	)
	m.ActiveConversations.Add(ctx, -1, metric.WithAttributes(Attr("speaker", speaker)))
	m.ConversationDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("speaker", speaker)))
}

// RecordLineRendered increments the rendered lines counter.
func (m *Metrics) RecordLineRendered(ctx context.Context, speaker, condition string) {
	if m == nil {
		return
	}
	if condition == "" {
		condition = "none"
	}
	m.LinesRendered.Add(ctx, 1,
		metric.WithAttributes(Attr("speaker", speaker), Attr("condition", condition)),
	)
}

// RecordSkip increments the skip counter.
func (m *Metrics) RecordSkip(ctx context.Context, speaker string) {
	if m == nil {
		return
	}
	m.RevealSkips.Add(ctx, 1, metric.WithAttributes(Attr("speaker", speaker)))
}

// RecordDialogueError increments the error counter for kind.
func (m *Metrics) RecordDialogueError(ctx context.Context, speaker, kind string) {
	if m == nil {
		return
	}
	m.DialogueErrors.Add(ctx, 1,
		metric.WithAttributes(Attr("speaker", speaker), Attr("kind", kind)),
	)
}

// RecordStoreReload increments the reload counter with status "ok",
// "unchanged" or "error".
func (m *Metrics) RecordStoreReload(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.StoreReloads.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}
