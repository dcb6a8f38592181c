package log

import (
	"bytes"
	"context"
	"net"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newBufferLogger(t *testing.T, cfg *Config) (*zap.Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	lg, _, err := InitLoggerWithWriteSyncer(cfg, zapcore.AddSync(buf))
	require.NoError(t, err)
	return lg, buf
}

func TestInitLoggerWithWriteSyncer(t *testing.T) {
	lg, buf := newBufferLogger(t, &Config{Level: "info", Format: "json"})

	lg.Debug("hidden")
	lg.Info("relay started", zap.String("addr", ":5001"))
	require.NoError(t, lg.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"message":"relay started"`)
	assert.Contains(t, out, `"addr":":5001"`)
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	_, _, err := InitLoggerWithWriteSyncer(&Config{Level: "loud"}, zapcore.AddSync(&bytes.Buffer{}))
	assert.Error(t, err)
}

func TestDisableErrorVerbose(t *testing.T) {
	err := errors.Wrap(errors.New("disk full"), "insert message")

	verbose, vbuf := newBufferLogger(t, &Config{Level: "info", Format: "json"})
	verbose.Error("store failed", zap.Error(err))
	assert.Contains(t, vbuf.String(), "errorVerbose")

	terse, tbuf := newBufferLogger(t, &Config{Level: "info", Format: "json", DisableErrorVerbose: true, DisableStacktrace: true})
	terse.Error("store failed", zap.Error(err))
	assert.NotContains(t, tbuf.String(), "errorVerbose")
	assert.Contains(t, tbuf.String(), `"error":"insert message: disk full"`)
}

func TestCtxLogger(t *testing.T) {
	lg, buf := newBufferLogger(t, &Config{Level: "debug", Format: "json"})

	ctx := context.WithValue(context.Background(), CtxLogKey, &MLogger{Logger: lg})
	ctx = WithFields(ctx, FieldUsername("alice"), FieldSessionID(7))
	Ctx(ctx).Info("joined")

	out := buf.String()
	assert.Contains(t, out, `"username":"alice"`)
	assert.Contains(t, out, `"sessionID":7`)

	assert.NotNil(t, Ctx(context.Background()))
	assert.NotNil(t, Ctx(nil)) //nolint:staticcheck
}

func TestLazyWith(t *testing.T) {
	lg, buf := newBufferLogger(t, &Config{Level: "debug", Format: "json"})

	ml := (&MLogger{Logger: lg}).With(FieldEvent("privateMessage"))
	ml.Info("delivered")
	ml.With(FieldUsername("bob")).Info("fan-out")

	out := buf.String()
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte(`"event":"privateMessage"`)))
	assert.Contains(t, out, `"username":"bob"`)
}

func TestRateGroup(t *testing.T) {
	lg, buf := newBufferLogger(t, &Config{Level: "debug", Format: "json"})

	ml := (&MLogger{Logger: lg}).WithRateGroup("log_test.rate", 0.0001, 1)
	assert.True(t, ml.RatedWarn(1, "first"))
	assert.False(t, ml.RatedWarn(1, "second"))
	assert.Contains(t, buf.String(), "first")
	assert.NotContains(t, buf.String(), "second")
}

func TestNewIntentContext(t *testing.T) {
	ctx, span := NewIntentContext(context.Background(), "relay", "join")
	defer span.End()

	require.NotNil(t, span)
	_, ok := ctx.Value(CtxLogKey).(*MLogger)
	assert.True(t, ok)
}

func TestBinder(t *testing.T) {
	var b Binder
	assert.NotNil(t, b.Logger())

	lg, _ := newBufferLogger(t, &Config{Level: "info"})
	ml := &MLogger{Logger: lg}
	b.SetLogger(ml)
	assert.Same(t, ml, b.Logger())
}

func TestInitTestLogger(t *testing.T) {
	lg, props, err := InitTestLogger(t, &Config{Level: "info"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, props.Level.Level())
	lg.Info("visible in test output")
}

func TestFieldRemoteAddr(t *testing.T) {
	lg, buf := newBufferLogger(t, &Config{Level: "debug", Format: "json"})

	lg.Info("connected", FieldRemoteAddr(nil))
	lg.Info("connected", FieldRemoteAddr(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5001}))

	out := buf.String()
	assert.NotContains(t, out, "remoteError")
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte(`"remote":"127.0.0.1:5001"`)))
}
