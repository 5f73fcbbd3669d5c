package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func swapLogger(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, observed := observer.New(zapcore.InfoLevel)
	original := log
	log = zap.New(core)
	t.Cleanup(func() { log = original })
	return observed
}

func TestInit(t *testing.T) {
	original := log
	defer func() { log = original }()

	for _, env := range []string{"production", "development"} {
		t.Run(env, func(t *testing.T) {
			Init(env)
			assert.NotNil(t, log)
		})
	}
}

func TestL_LazyInit(t *testing.T) {
	original := log
	defer func() { log = original }()

	log = nil
	t.Setenv("APP_ENV", "test")

	assert.NotNil(t, L())
	assert.NotNil(t, log)
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestIDFrom(ctx))
	assert.Equal(t, "", RequestIDFrom(context.Background()))
}

func TestFromCtx(t *testing.T) {
	observed := swapLogger(t)

	FromCtx(WithRequestID(context.Background(), "req-abc")).Info("with id")
	FromCtx(context.Background()).Info("without id")

	logs := observed.TakeAll()
	require.Len(t, logs, 2)
	assert.Equal(t, "req-abc", logs[0].ContextMap()["request_id"])
	_, ok := logs[1].ContextMap()["request_id"]
	assert.False(t, ok)
}

func TestInit_LogLevel(t *testing.T) {
	original := log
	defer func() { log = original }()

	t.Setenv("LOG_LEVEL", "warn")
	Init("production")
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))

	t.Setenv("LOG_LEVEL", "not-a-level")
	Init("production")
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
}

func TestWithFields(t *testing.T) {
	observed := swapLogger(t)

	ctx := WithRequestID(context.Background(), "req-9")
	ctx = WithFields(ctx, zap.String("provider", "wallet"))
	ctx = WithFields(ctx, zap.Int64("callback_id", 31))
	assert.Equal(t, ctx, WithFields(ctx))

	FromCtx(ctx).Info("nested")

	logs := observed.TakeAll()
	require.Len(t, logs, 1)
	fields := logs[0].ContextMap()
	assert.Equal(t, "req-9", fields["request_id"])
	assert.Equal(t, "wallet", fields["provider"])
	assert.EqualValues(t, 31, fields["callback_id"])
}

func TestMasked(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"3f9a1c22-payment-77ab", "*****************77ab"},
		{"abcd", "****"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Masked("payment_id", tt.in).String)
	}
}

func TestSync(t *testing.T) {
	assert.NotPanics(t, Sync)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	t.Run("Generates ID when missing", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/callbacks/wallet", nil))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
	})

	t.Run("Preserves existing ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/callbacks/wallet", nil)
		req.Header.Set(RequestIDHeader, "upstream-id")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, "upstream-id", seen)
		assert.Equal(t, "upstream-id", w.Header().Get(RequestIDHeader))
	})
}

func TestLoggingMiddleware(t *testing.T) {
	observed := swapLogger(t)

	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/callbacks/delivery", nil))

	logs := observed.TakeAll()
	require.Len(t, logs, 1)
	assert.Equal(t, "incoming request", logs[0].Message)
	assert.Equal(t, "/callbacks/delivery", logs[0].ContextMap()["path"])
	assert.EqualValues(t, http.StatusBadRequest, logs[0].ContextMap()["status"])
}
