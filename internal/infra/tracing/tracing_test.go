package tracing

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOTel_TraceExternalCall(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	tr := NewOTel(tp.Tracer("test"), "resilience")
	boom := errors.New("boom")

	if err := tr.TraceExternalCall(context.Background(), "notion", "query", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.TraceExternalCall(context.Background(), "xero", "invoices", func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name != "notion.query" || spans[0].Status.Code != codes.Ok {
		t.Errorf("first span = %s/%v", spans[0].Name, spans[0].Status.Code)
	}
	if spans[1].Name != "xero.invoices" || spans[1].Status.Code != codes.Error {
		t.Errorf("second span = %s/%v", spans[1].Name, spans[1].Status.Code)
	}
}

func TestNoop_PassesThrough(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")

	p, err := Setup(Config{}, nil)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if _, ok := p.Tracer.(Noop); !ok {
		t.Fatalf("disabled tracing should pass through, got %T", p.Tracer)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}

	called := false
	err = p.Tracer.TraceExternalCall(ctx, "a", "b", func(got context.Context) error {
		called = true
		if got.Value(key{}) != "v" {
			t.Error("context not passed through")
		}
		return nil
	})
	if err != nil || !called {
		t.Fatalf("called=%v err=%v", called, err)
	}
}

func TestSetup_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	p, err := Setup(Config{Enabled: true, ServiceName: "resilience-test"}, &buf)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	_ = p.Tracer.TraceExternalCall(context.Background(), "notion", "query", func(context.Context) error { return nil })
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"notion.query", "resilience-test"} {
		if !strings.Contains(out, want) {
			t.Errorf("exported spans missing %q:\n%s", want, out)
		}
	}
}

func TestSetup_UnknownExporter(t *testing.T) {
	if _, err := Setup(Config{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Error("expected error for unknown exporter")
	}
}
