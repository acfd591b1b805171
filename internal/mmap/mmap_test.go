// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/journaldb/errors"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(dir, "journal_meta")

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)
	defer f.Close()

	r, err := Map(f, 100)
	require.NoError(t, err)
	require.Len(t, r.Bytes(), 100)
	r.Bytes()[7] = 5
	require.NoError(t, r.Sync())
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.True(t, errors.Is(errors.Closed, r.Sync()))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, b, 100)
	assert.Equal(t, byte(5), b[7])
}
