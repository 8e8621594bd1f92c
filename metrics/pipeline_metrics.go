package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "litflow-pipeline"

// Pipeline collects metrics for completion calls, render attempts and batch items.
// All methods are safe on a nil receiver, which records nothing.
type Pipeline struct {
	completionDuration metric.Float64Histogram
	completionsFailed  metric.Int64Counter
	renderAttempts     metric.Int64Counter
	itemsProcessed     metric.Int64Counter
	itemsFailed        metric.Int64Counter
	batchDuration      metric.Float64Histogram
}

// NewPipeline creates the pipeline instruments on the global meter provider.
func NewPipeline() (*Pipeline, error) {
	return NewPipelineWithProvider(otel.GetMeterProvider())
}

// NewPipelineWithProvider creates the instruments on the given provider.
func NewPipelineWithProvider(mp metric.MeterProvider) (*Pipeline, error) {
	meter := mp.Meter(meterName)
	completionDuration, err := meter.Float64Histogram(
		"litflow.completion.duration",
		metric.WithDescription("Duration of text-generation calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	completionsFailed, err := meter.Int64Counter(
		"litflow.completion.failed",
		metric.WithDescription("Total number of failed text-generation calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	renderAttempts, err := meter.Int64Counter(
		"litflow.render.attempts",
		metric.WithDescription("Total number of renderer invocations"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	itemsProcessed, err := meter.Int64Counter(
		"litflow.items.processed",
		metric.WithDescription("Total number of batch items processed"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	itemsFailed, err := meter.Int64Counter(
		"litflow.items.failed",
		metric.WithDescription("Total number of batch items that failed"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	batchDuration, err := meter.Float64Histogram(
		"litflow.batch.duration",
		metric.WithDescription("Duration of whole batch runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		completionDuration: completionDuration,
		completionsFailed:  completionsFailed,
		renderAttempts:     renderAttempts,
		itemsProcessed:     itemsProcessed,
		itemsFailed:        itemsFailed,
		batchDuration:      batchDuration,
	}, nil
}

// RecordCompletion records one text-generation call.
func (p *Pipeline) RecordCompletion(ctx context.Context, task string, duration time.Duration, err error) {
	if p == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		p.completionsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("task", task)))
	}
	p.completionDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("task", task),
			attribute.String("status", status),
		),
	)
}

// RecordRenderAttempt records one renderer subprocess invocation.
func (p *Pipeline) RecordRenderAttempt(ctx context.Context, succeeded bool) {
	if p == nil {
		return
	}
	p.renderAttempts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("succeeded", succeeded)))
}

// RecordItem records the final outcome of one batch item.
func (p *Pipeline) RecordItem(ctx context.Context, succeeded bool, errorKind string) {
	if p == nil {
		return
	}
	p.itemsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("succeeded", succeeded)))
	if !succeeded {
		p.itemsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("error.kind", errorKind)))
	}
}

// RecordBatch records a finished batch run.
func (p *Pipeline) RecordBatch(ctx context.Context, mode string, items int, duration time.Duration) {
	if p == nil {
		return
	}
	p.batchDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.Int("items", items),
		),
	)
}
