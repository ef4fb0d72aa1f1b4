package logger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel(" error "))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestBuildConfigEncoding(t *testing.T) {
	assert.Equal(t, "console", buildConfig("debug").Encoding)
	assert.Equal(t, "json", buildConfig("error").Encoding)
}

func TestFieldAttribute(t *testing.T) {
	assert.Equal(t, attribute.Bool("ok", true), fieldAttribute(zap.Bool("ok", true)))
	assert.Equal(t, attribute.Int64("slot", 3), fieldAttribute(zap.Int("slot", 3)))
	assert.Equal(t, attribute.Float64("ratio", 0.5), fieldAttribute(zap.Float64("ratio", 0.5)))
	assert.Equal(t, attribute.String("fuzzer", "dice"), fieldAttribute(zap.String("fuzzer", "dice")))
	assert.Equal(t, attribute.String("error", "boom"), fieldAttribute(zap.Error(errors.New("boom"))))
	assert.Equal(t, attribute.String("elapsed", "1m30s"), fieldAttribute(zap.Duration("elapsed", 90*time.Second)))
	assert.Equal(t, attribute.String("ids", "[A B]"), fieldAttribute(zap.Strings("ids", []string{"A", "B"})))
}
