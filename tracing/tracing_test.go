package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"virtius.io/virtius/config"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())

	if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
		t.Errorf("expected noop provider, got %T", otel.GetTracerProvider())
	}
}

func TestSetup_Exporters(t *testing.T) {
	for _, exp := range []string{"", "noop", "stdout"} {
		shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: exp})
		if err != nil {
			t.Fatalf("Setup(%q): %v", exp, err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown(%q): %v", exp, err)
		}
	}
	if _, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "jaeger"}); err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}

func TestStartSpan_RecordsStatus(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(noop.NewTracerProvider())

	_, ok := StartSpan(context.Background(), "ok-stage")
	SetOK(ok)
	ok.End()

	_, bad := StartSpan(context.Background(), "bad-stage")
	bad.SetAttributes(StringAttr("stage", "cloak"), IntAttr("width", 10), Float64Attr("score", 1.5))
	RecordError(bad, errors.New("boom"))
	bad.End()

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 ended spans, got %d", len(spans))
	}
	if spans[0].Name() != "ok-stage" || spans[1].Name() != "bad-stage" {
		t.Fatalf("unexpected span names")
	}
	if spans[1].Status().Description != "boom" {
		t.Fatalf("expected error status, got %+v", spans[1].Status())
	}
	if len(spans[1].Events()) == 0 {
		t.Fatalf("expected recorded error event")
	}
}
