// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package log_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/journaldb/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type testOutputter struct {
	level    log.Level
	messages map[log.Level][]string
}

func newTestOutputter(level log.Level) *testOutputter {
	return &testOutputter{level, make(map[log.Level][]string)}
}

func (t *testOutputter) Empty() bool {
	for _, m := range t.messages {
		if len(m) != 0 {
			return false
		}
	}
	return true
}

func (t *testOutputter) Next(level log.Level) string {
	if len(t.messages[level]) == 0 {
		return ""
	}
	var m string
	m, t.messages[level] = t.messages[level][0], t.messages[level][1:]
	return m
}

func (t *testOutputter) Level() log.Level {
	return t.level
}

func (t *testOutputter) Output(calldepth int, level log.Level, s string) error {
	t.messages[level] = append(t.messages[level], s)
	return nil
}

func TestLog(t *testing.T) {
	out := newTestOutputter(log.Info)
	defer log.SetOutputter(log.SetOutputter(out))
	log.Printf("hello %q", "world")
	if got, want := out.Next(log.Info), `hello "world"`; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	log.Error.Print(1, 2, 3)
	if got, want := out.Next(log.Error), "1 2 3"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	log.Debug.Print("x")
	if got, want := out.Next(log.Debug), ""; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !out.Empty() {
		t.Error("extra messages")
	}
}

func TestParseLevel(t *testing.T) {
	for _, l := range []log.Level{log.Off, log.Error, log.Info, log.Debug} {
		got, err := log.ParseLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	_, err := log.ParseLevel("loud")
	assert.Error(t, err)
}

func TestZapOutputter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	out := log.NewZapOutputterFromLogger(zap.New(core).With(zap.String("db", "test")))
	defer log.SetOutputter(log.SetOutputter(out))
	log.SetLevel(log.Info)
	defer log.SetLevel(log.Info)

	log.Printf("rolled segment %d", 3)
	log.Error.Printf("monitor: %v", "boom")
	log.Debug.Printf("invisible")

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, "rolled segment 3", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "test", entries[0].ContextMap()["db"])
	assert.Equal(t, "monitor: boom", entries[1].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)

	log.SetLevel(log.Debug)
	log.Debug.Printf("visible")
	require.Equal(t, 1, logs.FilterMessage("visible").Len())
}

func TestZapOutputterCaller(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	out := log.NewZapOutputterFromLogger(zap.New(core, zap.AddCaller()))
	defer log.SetOutputter(log.SetOutputter(out))

	log.Printf("via print")
	log.Error.Print("via level")
	log.Output(1, log.Info, "via output")
	require.NoError(t, out.Output(1, log.Info, "direct"))

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	for _, e := range entries {
		require.True(t, e.Caller.Defined, e.Message)
		assert.Equal(t, "log_test.go", filepath.Base(e.Caller.File), e.Message)
	}
}

func Example_default() {
	log.SetOutput(os.Stdout)
	log.SetFlags(0)
	log.Print("hello, world!")
	log.Error.Print("hello from error")
	log.Debug.Print("invisible")

	// Output:
	// hello, world!
	// hello from error
}
