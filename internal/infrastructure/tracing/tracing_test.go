package tracing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetup_Disabled(t *testing.T) {
	p, err := Setup(Config{})
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetup_WritesSpansToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "traces.jsonl")
	p, err := Setup(Config{Enabled: true, ServiceName: "debt-clearance", OutputPath: out})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "workflow.Decide")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(content), "workflow.Decide")
}

func TestSetupWithExporter(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	p, err := SetupWithExporter(Config{ServiceName: "debt-clearance"}, exporter, sdktrace.NewSimpleSpanProcessor(exporter))
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	_, span := otel.Tracer("test").Start(context.Background(), "workflow.Create")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "workflow.Create", spans[0].Name)
}
