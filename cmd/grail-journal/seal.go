// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"github.com/grailbio/journaldb/cmdutil"
	"github.com/grailbio/journaldb/journal"
	"v.io/x/lib/cmdline"
)

func newCmdSeal() *cmdline.Command {
	return &cmdline.Command{
		Runner:   cmdutil.RunnerFunc(runSeal),
		Name:     "seal",
		Short:    "Archive a segment left behind by a crashed writer",
		ArgsName: "<segment>",
		Long: `
Command seal restores the header counters of a segment from its committed
records and archives it. The segment must not be in use by a writer.
`,
	}
}

func runSeal(env *cmdline.Env, args []string) error {
	if len(args) != 1 {
		return env.UsageErrorf("expected one segment")
	}
	h, err := journal.Seal(args[0])
	if err != nil {
		return err
	}
	printHeader(env.Stdout, args[0], h)
	return nil
}
