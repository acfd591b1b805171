// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package log

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RFC3339TrailingNano is RFC3339 format with trailing nanoseconds precision.
const RFC3339TrailingNano = "2006-01-02T15:04:05.000000000Z07:00"

// LevelEnvVar names the environment variable that overrides the
// level of outputters built by NewZapOutputter.
const LevelEnvVar = "LOG_LEVEL"

// ZapConfig configures a zap-backed outputter.
type ZapConfig struct {
	// OutputPaths are zap sink URLs; defaults to stderr.
	OutputPaths []string
	// Fields are key-value pairs attached to every message,
	// e.g. "db", "/var/lib/outbox".
	Fields []interface{}
}

// printDepth is the calldepth used by the package-level print
// functions and Level.Print.
const printDepth = 2

type zapOutputter struct {
	logger *zap.Logger
	// sugar has its caller skip set for printDepth.
	sugar *zap.SugaredLogger
	level *Level
}

// NewZapOutputter returns an outputter that writes JSON-structured
// messages through zap. Its level follows SetLevel unless the
// LOG_LEVEL environment variable names a level.
func NewZapOutputter(config ZapConfig) (Outputter, error) {
	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(zap.DebugLevel),
		Encoding:         "json",
		EncoderConfig:    newEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if config.OutputPaths != nil {
		zc.OutputPaths = config.OutputPaths
	}
	logger, err := zc.Build(zap.AddCaller())
	if err != nil {
		return nil, err
	}
	o := NewZapOutputterFromLogger(logger.With(zapFields(config.Fields)...))
	if l, err := ParseLevel(os.Getenv(LevelEnvVar)); err == nil {
		o.(*zapOutputter).level = &l
	}
	return o, nil
}

// NewZapOutputterFromLogger returns an outputter that writes to the
// provided zap logger. This allows tests to observe log output.
func NewZapOutputterFromLogger(logger *zap.Logger) Outputter {
	return &zapOutputter{
		logger: logger,
		sugar:  logger.WithOptions(zap.AddCallerSkip(printDepth)).Sugar(),
	}
}

func (o *zapOutputter) Level() Level {
	if o.level != nil {
		return *o.level
	}
	return golevel
}

func (o *zapOutputter) Output(calldepth int, level Level, s string) error {
	if o.Level() < level {
		return nil
	}
	// calldepth and zap's caller skip both count frames above Output.
	sugar := o.sugar
	if calldepth != printDepth {
		sugar = o.logger.WithOptions(zap.AddCallerSkip(calldepth)).Sugar()
	}
	switch {
	case level <= Error:
		sugar.Error(s)
	case level == Info:
		sugar.Info(s)
	default:
		sugar.Debugw(s, "verbosity", int(level))
	}
	return nil
}

func zapFields(kv []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, kv[i+1]))
	}
	return fields
}

func newEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     rfc3339TrailingNanoTimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func rfc3339TrailingNanoTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format(RFC3339TrailingNano))
}
