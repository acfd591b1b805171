// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package journaldb

import (
	"flag"
	"testing"

	"github.com/grailbio/journaldb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	for _, test := range []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"4096", 4096},
		{"512K", 512 << 10},
		{"100MB", 100 << 20},
		{"100mb", 100 << 20},
		{" 1G ", 1 << 30},
	} {
		got, err := ParseSize(test.in)
		require.NoError(t, err, test.in)
		if got != test.want {
			t.Errorf("%q: got %v, want %v", test.in, got, test.want)
		}
	}
	for _, in := range []string{"", "-1", "MB", "ten", "-5K"} {
		_, err := ParseSize(in)
		assert.True(t, errors.Is(errors.Invalid, err), "%q: got %v", in, err)
	}
}

func TestRegisterFlags(t *testing.T) {
	var opts Options
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	opts.RegisterFlags(fs, "journal-")
	require.NoError(t, fs.Parse([]string{
		"-journal-dir", "/tmp/journal",
		"-journal-max-size", "64MB",
		"-journal-relocate-on-write-failure",
	}))
	assert.Equal(t, Options{
		Dir:                    "/tmp/journal",
		MaxSize:                64 << 20,
		RelocateOnWriteFailure: true,
	}, opts)
	assert.Equal(t, "64M", fs.Lookup("journal-max-size").Value.String())
	assert.Error(t, fs.Parse([]string{"-journal-max-size", "lots"}))
}
