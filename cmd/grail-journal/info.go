// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/grailbio/journaldb/cmdutil"
	"github.com/grailbio/journaldb/errors"
	"github.com/grailbio/journaldb/journal"
	"github.com/grailbio/journaldb/journaldb"
	"v.io/x/lib/cmdline"
)

func newCmdInfo() *cmdline.Command {
	return &cmdline.Command{
		Runner:   cmdutil.RunnerFunc(runInfo),
		Name:     "info",
		Short:    "Print the header of a segment",
		ArgsName: "<segment>",
	}
}

func runInfo(env *cmdline.Env, args []string) error {
	if len(args) != 1 {
		return env.UsageErrorf("expected one segment")
	}
	r, err := journal.OpenReader(args[0], journal.ReaderOptions{AllowNotClosed: true, IgnoreMagic: true})
	if err != nil {
		return err
	}
	defer r.Close()
	info, err := os.Stat(args[0])
	if err != nil {
		return errors.E(args[0], err)
	}
	printHeader(env.Stdout, r.Path(), r.Header())
	fmt.Fprintf(env.Stdout, "file size:\t%d (%s)\n", info.Size(), journaldb.FormatSize(info.Size()))
	return nil
}

func printHeader(w io.Writer, path string, h journal.FileHeader) {
	fmt.Fprintf(w, "segment:\t%s\n", path)
	fmt.Fprintf(w, "magic:\t%q\n", h.Magic)
	fmt.Fprintf(w, "state:\t%s\n", segmentState(h))
	fmt.Fprintf(w, "created:\t%s\n", formatMillis(h.CreatedAt))
	fmt.Fprintf(w, "archived:\t%s\n", formatMillis(h.ArchivedAt))
	fmt.Fprintf(w, "sequence:\t%d\n", h.Sequence)
	fmt.Fprintf(w, "position:\t%d\n", h.Position)
}

func segmentState(h journal.FileHeader) journal.State {
	switch {
	case h.Archived:
		return journal.Archived
	case h.Closed:
		return journal.Closed
	default:
		return journal.Live
	}
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.Unix(0, ms*int64(time.Millisecond)).UTC().Format(time.RFC3339Nano)
}
