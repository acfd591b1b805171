// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/grailbio/journaldb/cmdutil"
	"github.com/grailbio/journaldb/errors"
	"github.com/grailbio/journaldb/journal"
	"github.com/grailbio/journaldb/journaldb"
	"golang.org/x/sync/errgroup"
	"v.io/x/lib/cmdline"
)

func newCmdLs() *cmdline.Command {
	return &cmdline.Command{
		Runner:   cmdutil.RunnerFunc(runLs),
		Name:     "ls",
		Short:    "List the segments of a database directory",
		ArgsName: "<dir>",
		Long: `
Command ls lists the segments of a database directory with their sizes,
states and record counts. The current segment is marked with '*'. Ls does
not take the directory's lock.
`,
	}
}

type segmentInfo struct {
	seq    uint64
	size   int64
	header journal.FileHeader
	err    error
}

func runLs(env *cmdline.Env, args []string) error {
	if len(args) != 1 {
		return env.UsageErrorf("expected one directory")
	}
	dir := args[0]
	seqs, err := journaldb.ListSegments(dir)
	if err != nil {
		return err
	}
	current := uint64(0)
	hasCurrent := false
	if b, err := os.ReadFile(filepath.Join(dir, journaldb.MetaName)); err == nil && len(b) >= 8 {
		current, hasCurrent = binary.BigEndian.Uint64(b), true
	}
	infos := make([]segmentInfo, len(seqs))
	var g errgroup.Group
	for i, seq := range seqs {
		i, seq := i, seq
		g.Go(func() error {
			infos[i] = readSegmentInfo(journaldb.SegmentPath(dir, seq))
			infos[i].seq = seq
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(env.Stdout, 2, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "\tSEGMENT\tSIZE\tSTATE\tRECORDS\tCREATED")
	for _, info := range infos {
		mark := ""
		if hasCurrent && info.seq == current {
			mark = "*"
		}
		name := filepath.Base(journaldb.SegmentPath(dir, info.seq))
		if info.err != nil {
			fmt.Fprintf(tw, "%s\t%s\t%s\terror: %v\t\t\n", mark, name, journaldb.FormatSize(info.size), info.err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", mark, name, journaldb.FormatSize(info.size),
			segmentState(info.header), info.header.Sequence, formatMillis(info.header.CreatedAt))
	}
	return tw.Flush()
}

func readSegmentInfo(path string) (info segmentInfo) {
	stat, err := os.Stat(path)
	if err != nil {
		info.err = errors.E(path, err)
		return
	}
	info.size = stat.Size()
	r, err := journal.OpenReader(path, journal.ReaderOptions{AllowNotClosed: true})
	if err != nil {
		info.err = err
		return
	}
	info.header = r.Header()
	info.err = r.Close()
	return
}
