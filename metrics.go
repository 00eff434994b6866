// Copyright 2011 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package forge

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// instrumentation holds the OpenTelemetry instruments the executor (C7)
// records against: counts of actions started/finished/failed/skipped, and
// a histogram of action wall-clock duration. This replaces the teacher's
// process-global Metrics/Stopwatch/ScopedMetric trio (which timed
// arbitrary named code paths with a platform-specific high-res timer)
// with instruments an operator can point a real OTel exporter at.
type instrumentation struct {
	actionsStarted  metric.Int64Counter
	actionsFinished metric.Int64Counter
	actionsFailed   metric.Int64Counter
	actionsSkipped  metric.Int64Counter
	actionDuration  metric.Float64Histogram
}

// newInstrumentation creates instruments from the global otel MeterProvider.
// When no MeterProvider has been configured, otel's default returns no-op
// instruments, so this is always safe to call.
func newInstrumentation() (*instrumentation, error) {
	meter := otel.Meter("github.com/maruel/forge")

	started, err := meter.Int64Counter("forge.actions.started",
		metric.WithDescription("number of actions dispatched to a worker"))
	if err != nil {
		return nil, err
	}
	finished, err := meter.Int64Counter("forge.actions.finished",
		metric.WithDescription("number of actions that completed successfully"))
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("forge.actions.failed",
		metric.WithDescription("number of actions a worker finished without success (failed Method, missing input, or I/O error)"))
	if err != nil {
		return nil, err
	}
	skipped, err := meter.Int64Counter("forge.actions.skipped",
		metric.WithDescription("number of actions skipped due to a failed dependency"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("forge.actions.duration",
		metric.WithDescription("wall-clock duration of one worker's handling of an action (freshness check, Execute, cache update)"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &instrumentation{
		actionsStarted:  started,
		actionsFinished: finished,
		actionsFailed:   failed,
		actionsSkipped:  skipped,
		actionDuration:  duration,
	}, nil
}

func (m *instrumentation) recordStart(ctx context.Context) {
	if m == nil {
		return
	}
	m.actionsStarted.Add(ctx, 1)
}

func (m *instrumentation) recordFinish(ctx context.Context, outcome ExecOutcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.actionDuration.Record(ctx, elapsed.Seconds())
	if outcome == ExecSucceeded {
		m.actionsFinished.Add(ctx, 1)
	} else {
		m.actionsFailed.Add(ctx, 1)
	}
}

func (m *instrumentation) recordSkip(ctx context.Context) {
	if m == nil {
		return
	}
	m.actionsSkipped.Add(ctx, 1)
}
