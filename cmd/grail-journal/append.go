// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"

	"github.com/grailbio/journaldb/cmdutil"
	"github.com/grailbio/journaldb/errors"
	"github.com/grailbio/journaldb/journaldb"
	"v.io/x/lib/cmdline"
)

const maxLine = 64 << 20

func newCmdAppend() *cmdline.Command {
	var (
		opts journaldb.Options
		sync bool
	)
	cmd := &cmdline.Command{
		Runner: cmdutil.RunnerFunc(func(env *cmdline.Env, args []string) error {
			return runAppend(env, args, opts, sync)
		}),
		Name:     "append",
		Short:    "Append lines read from stdin to a database",
		ArgsName: "[<dir>]",
		Long: `
Command append appends each line read from stdin, without its newline, as a
record of the database in <dir> (or -dir), creating the database if needed.
`,
	}
	opts.RegisterFlags(&cmd.Flags, "")
	cmd.Flags.BoolVar(&sync, "sync", false, "append records synchronously")
	return cmd
}

func runAppend(env *cmdline.Env, args []string, opts journaldb.Options, sync bool) (err error) {
	switch len(args) {
	case 0:
	case 1:
		opts.Dir = args[0]
	default:
		return env.UsageErrorf("expected at most one directory")
	}
	if opts.Dir == "" {
		return env.UsageErrorf("no database directory")
	}
	db, err := journaldb.Open(opts)
	if err != nil {
		return err
	}
	defer errors.CleanUp(db.Close, &err)
	scan := bufio.NewScanner(env.Stdin)
	scan.Buffer(nil, maxLine)
	var n int
	for scan.Scan() {
		if _, err := db.Append(scan.Bytes(), sync); err != nil {
			return err
		}
		n++
	}
	if err := scan.Err(); err != nil {
		return errors.E(errors.IO, "read stdin", err)
	}
	if err := db.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(env.Stdout, "appended %d records; current segment %d\n", n, db.CurrentSequence())
	return nil
}
