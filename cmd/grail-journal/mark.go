// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strconv"

	"github.com/grailbio/journaldb/cmdutil"
	"github.com/grailbio/journaldb/journal"
	"v.io/x/lib/cmdline"
)

func newCmdMark() *cmdline.Command {
	var clearFlag, sync bool
	cmd := &cmdline.Command{
		Runner: cmdutil.RunnerFunc(func(env *cmdline.Env, args []string) error {
			return runMark(env, args, !clearFlag, sync)
		}),
		Name:     "mark",
		Short:    "Mark a record processed",
		ArgsName: "<segment> <position>",
		ArgsLong: "<position> is the offset of the record, as printed by dump.",
	}
	cmd.Flags.BoolVar(&clearFlag, "clear", false, "clear the processed state instead")
	cmd.Flags.BoolVar(&sync, "sync", false, "write the processed state synchronously")
	return cmd
}

func runMark(env *cmdline.Env, args []string, state, sync bool) error {
	if len(args) != 2 {
		return env.UsageErrorf("expected a segment and a record position")
	}
	pos, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return env.UsageErrorf("bad position %q: %v", args[1], err)
	}
	at, err := journal.MarkProcessed(args[0], pos, state, sync)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Stdout, "%s@%d: processed %v at %s\n", args[0], pos, state, formatMillis(at))
	return nil
}
