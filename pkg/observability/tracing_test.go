package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan_RecordsOutcome(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	_, ok := StartSpan(context.Background(), "refresh", attribute.String("table", "gene2go"))
	EndSpan(ok, nil)
	_, failed := StartSpan(context.Background(), "fetch_batch")
	EndSpan(failed, errors.New("reset"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "refresh", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "reset", spans[1].Status().Description)
}

func TestInitTracing_ExportsToWriter(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	var buf bytes.Buffer
	shutdown, err := InitTracing(TracingConfig{
		ServiceName:  "hgd",
		Environment:  "test",
		SamplingRate: 1,
		Writer:       &buf,
	})
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "load")
	EndSpan(span, nil)
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), `"Name":"load"`)
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
}
