package logger

import (
	"context"
	"fmt"
	"frbench/config"
	"frbench/pkg/telemetry"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerParams struct {
	fx.In
	Lc        fx.Lifecycle
	AppConfig *config.AppConfig
	Telemetry telemetry.Telemetry `optional:"true"`
}

func NewLogger(p LoggerParams) *zap.Logger {
	loggerCtx, cancel := context.WithCancel(context.Background())
	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})

	cfg := buildConfig(p.AppConfig.LogLevel)
	if p.Telemetry == nil || p.Telemetry.GetLogger() == nil {
		return build(cfg)
	}

	lg, err := cfg.Build(
		zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return &telemetryCore{
				Core:      core,
				logger:    p.Telemetry.GetLogger(),
				ctx:       loggerCtx,
				attrsBase: []attribute.KeyValue{attribute.String("frb.service", p.AppConfig.ServiceName)},
			}
		}),
		zap.AddCaller(),
	)
	if err != nil {
		return build(cfg)
	}
	lg.Debug("logger exports to opentelemetry")
	return lg
}

// buildConfig picks the development encoder up to info and the JSON
// production encoder above it.
func buildConfig(levelName string) zap.Config {
	level := parseLevel(levelName)
	var cfg zap.Config
	if level > zapcore.InfoLevel {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg
}

func parseLevel(name string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

func build(cfg zap.Config) *zap.Logger {
	lg, err := cfg.Build()
	if err != nil {
		return zap.NewExample()
	}
	return lg
}

// telemetryCore writes through the wrapped core and mirrors every entry as an
// OpenTelemetry log record.
type telemetryCore struct {
	zapcore.Core
	logger    log.Logger
	ctx       context.Context
	attrsBase []attribute.KeyValue
}

func (t *telemetryCore) With(fields []zapcore.Field) zapcore.Core {
	return &telemetryCore{
		Core:      t.Core.With(fields),
		logger:    t.logger,
		ctx:       t.ctx,
		attrsBase: t.attrsBase,
	}
}

func (t *telemetryCore) Check(ent zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if t.Enabled(ent.Level) {
		return checked.AddCore(ent, t)
	}
	return checked
}

func (t *telemetryCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if err := t.Core.Write(ent, fields); err != nil {
		return err
	}

	rec := log.Record{}
	rec.SetTimestamp(ent.Time)
	rec.SetBody(log.StringValue(ent.Message))
	rec.SetSeverityText(ent.Level.String())
	for _, attr := range t.attrsBase {
		rec.AddAttributes(log.KeyValueFromAttribute(attr))
	}
	for _, f := range fields {
		rec.AddAttributes(log.KeyValueFromAttribute(fieldAttribute(f)))
	}

	t.logger.Emit(t.ctx, rec)
	return nil
}

func fieldAttribute(f zapcore.Field) attribute.KeyValue {
	switch f.Type {
	case zapcore.BoolType:
		return attribute.Bool(f.Key, f.Integer != 0)
	case zapcore.Float64Type:
		return attribute.Float64(f.Key, math.Float64frombits(uint64(f.Integer)))
	case zapcore.Float32Type:
		return attribute.Float64(f.Key, float64(math.Float32frombits(uint32(f.Integer))))
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
		zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
		return attribute.Int64(f.Key, f.Integer)
	case zapcore.DurationType:
		return attribute.String(f.Key, time.Duration(f.Integer).String())
	case zapcore.StringType:
		return attribute.String(f.Key, f.String)
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok {
			return attribute.String(f.Key, err.Error())
		}
	}
	if f.Interface != nil {
		return attribute.String(f.Key, fmt.Sprint(f.Interface))
	}
	return attribute.String(f.Key, f.String)
}
