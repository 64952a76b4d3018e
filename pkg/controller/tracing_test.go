package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	werrors "github.com/ldd69/anvil/pkg/errors"
)

func newTestTracer(t *testing.T) (*tracetest.InMemoryExporter, Option) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })
	return exp, WithTracer(tp.Tracer("anvil/controller-test"))
}

func spansNamed(spans tracetest.SpanStubs, name string) []tracetest.SpanStub {
	var out []tracetest.SpanStub
	for _, s := range spans {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

func attr(s tracetest.SpanStub, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range s.Attributes {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracing_IterationSpans(t *testing.T) {
	exp, withTracer := newTestTracer(t)
	f := newFixture(t)
	f.params.NSample = 3
	f.seed("1000 60 3.0 0 0 0 0")
	f.script(iteration(2.0, 0.995, 0.995, 0.995))

	_, err := f.run(context.Background(), withTracer)
	require.NoError(t, err)

	spans := exp.GetSpans()
	iters := spansNamed(spans, "anvil.iteration")
	require.Len(t, iters, 1)
	assert.Equal(t, codes.Unset, iters[0].Status.Code)

	v, ok := attr(iters[0], "epochs_after")
	require.True(t, ok)
	assert.Equal(t, int64(2000), v.AsInt64())
	v, ok = attr(iters[0], "acceptance_mean")
	require.True(t, ok)
	assert.InDelta(t, 0.995, v.AsFloat64(), 1e-12)

	invokes := spansNamed(spans, "anvil.invoke")
	require.Len(t, invokes, 4)
	for _, s := range invokes {
		assert.Equal(t, iters[0].SpanContext.SpanID(), s.Parent.SpanID(), "invocations nest under the iteration")
	}
}

func TestTracing_FailureMarksSpans(t *testing.T) {
	exp, withTracer := newTestTracer(t)
	f := newFixture(t)
	f.params.NSample = 2
	f.seed("1000 60 3.0 0 0 0 0")
	f.script(
		[]step{{out: trainOut(2.0), dur: 30 * time.Second}},
		[]step{{out: "boom\n", err: werrors.ProcessFailed("anvil-sample", 1, errors.New("exit status 1"))}},
	)

	_, err := f.run(context.Background(), withTracer)
	require.Error(t, err)

	iters := spansNamed(exp.GetSpans(), "anvil.iteration")
	require.Len(t, iters, 1)
	assert.Equal(t, codes.Error, iters[0].Status.Code)
	assert.Equal(t, "sampling failed", iters[0].Status.Description)

	invokes := spansNamed(exp.GetSpans(), "anvil.invoke")
	require.Len(t, invokes, 2)
	assert.Equal(t, codes.Unset, invokes[0].Status.Code)
	assert.Equal(t, codes.Error, invokes[1].Status.Code)
	assert.Equal(t, "sample failed", invokes[1].Status.Description)
}

func TestTracing_CancellationIsNotAnError(t *testing.T) {
	exp, withTracer := newTestTracer(t)
	f := newFixture(t)
	f.seed("1000 60 3.0 0 0 0 0")

	ctx, cancel := context.WithCancel(context.Background())
	f.runner.cancel = cancel
	f.script([]step{{out: trainOut(2.0), dur: 30 * time.Second, err: context.Canceled, cancel: true}})

	sum, err := f.run(ctx, withTracer)
	require.NoError(t, err)
	assert.True(t, sum.Interrupted)

	iters := spansNamed(exp.GetSpans(), "anvil.iteration")
	require.Len(t, iters, 1)
	assert.NotEqual(t, codes.Error, iters[0].Status.Code)
}
