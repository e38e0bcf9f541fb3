package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_IDs(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithUserID(ctx, "user-7")
	ctx = WithJobID(ctx, "job_abc")

	got := map[string]string{}
	for _, f := range ContextFields(ctx) {
		got[f.Key] = f.String
	}
	assert.Equal(t, map[string]string{
		"request.id": "req-1",
		"user.id":    "user-7",
		"job.id":     "job_abc",
	}, got)
}

func TestContextFields_EmptyIDsIgnored(t *testing.T) {
	ctx := WithUserID(context.Background(), "")
	assert.Empty(t, UserIDFromContext(ctx))
	assert.Empty(t, ContextFields(ctx))
}

func TestContextFields_Trace(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	keys := map[string]bool{}
	for _, f := range ContextFields(ctx) {
		keys[f.Key] = true
	}
	assert.True(t, keys["trace_id"])
	assert.True(t, keys["span_id"])
}

func TestLogger_InjectsContextFields(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithJobID(context.Background(), "job_1")

	tl.Info(ctx, "page indexed", zap.String("url", "https://example.com/"))

	tl.AssertLogged(t, zapcore.InfoLevel, "page indexed")
	tl.AssertField(t, "page indexed", "job.id", "job_1")
	tl.AssertField(t, "page indexed", "url", "https://example.com/")
}

func TestLogger_TraceLevel(t *testing.T) {
	tl := NewTestLogger()
	tl.Trace(context.Background(), "sentence distance")
	tl.AssertLogged(t, TraceLevel, "sentence distance")
}

func TestFromContext_DefaultsToNop(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
	l.Info(context.Background(), "discarded")

	tl := NewTestLogger()
	assert.Same(t, tl.Logger, FromContext(WithLogger(context.Background(), tl.Logger)))
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.False(t, cfg.Sampling.Enabled)

	_, err = FromAppConfig(config.LoggingConfig{Format: "xml"})
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Stdout = false
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Redaction.Patterns = []string{"("}
	assert.Error(t, cfg.Validate())
}

func TestRedactedString(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "key", RedactedString("api_key", "sk-1234567890abcdef"))
	tl.AssertField(t, "key", "api_key", "[REDACTED:19]")

	tl.Info(context.Background(), "secret", Secret("dsn", config.Secret("postgres://u:p@h/db")))
	tl.AssertField(t, "secret", "dsn", "[REDACTED:19]")
}

func TestRedactingEncoder(t *testing.T) {
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	enc, err := NewRedactingEncoder(base, NewDefaultConfig().Redaction)
	require.NoError(t, err)

	var buf bytes.Buffer
	core := zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.InfoLevel)
	logger := zap.New(core)

	logger.Info("request",
		zap.String("password", "hunter2"),
		zap.String("header", "Authorization: Bearer abc.def"),
		zap.String("url", "https://example.com/docs"),
	)

	out := buf.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "abc.def")
	assert.Contains(t, out, "Authorization: [REDACTED]")
	assert.Contains(t, out, "https://example.com/docs")
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	enc, err := NewRedactingEncoder(base, RedactionConfig{})
	require.NoError(t, err)

	var buf bytes.Buffer
	zap.New(zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.InfoLevel)).
		Info("x", zap.String("password", "visible"))
	assert.Contains(t, buf.String(), "visible")
}

func TestSampledCore_ErrorsNeverSampled(t *testing.T) {
	var buf bytes.Buffer
	base := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(&buf), zapcore.InfoLevel)
	core := newSampledCore(base, SamplingConfig{
		Enabled:    true,
		Tick:       config.Duration(60e9),
		Initial:    1,
		Thereafter: 0,
	})
	logger := zap.New(core)

	for i := 0; i < 5; i++ {
		logger.Info("repeated")
		logger.Error("failure")
	}

	out := buf.String()
	assert.Equal(t, 1, bytes.Count([]byte(out), []byte(`"repeated"`)))
	assert.Equal(t, 5, bytes.Count([]byte(out), []byte(`"failure"`)))
}
