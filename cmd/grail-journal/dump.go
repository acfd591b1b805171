// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"fmt"

	"github.com/grailbio/journaldb/cmdutil"
	"github.com/grailbio/journaldb/journal"
	"v.io/x/lib/cmdline"
)

type dumpFlags struct {
	start     int64
	processed string
	allowTorn bool
	noVerify  bool
	format    string
}

func newCmdDump() *cmdline.Command {
	var flags dumpFlags
	cmd := &cmdline.Command{
		Runner: cmdutil.RunnerFunc(func(env *cmdline.Env, args []string) error {
			return runDump(env, args, flags)
		}),
		Name:     "dump",
		Short:    "Print the records of a segment",
		ArgsName: "<segment>",
		Long: `
Command dump prints the records of a segment, one per line: the record's
position, sequence number, allocation time, processed state and payload.
Dump stops at the first record that fails verification.
`,
	}
	cmd.Flags.Int64Var(&flags.start, "start", 0, "offset of the first record to print; 0 means the first record")
	cmd.Flags.StringVar(&flags.processed, "processed", "any", "print only records whose processed state is: any, yes or no")
	cmd.Flags.BoolVar(&flags.allowTorn, "allow-torn", false, "print records whose integrity flag is unset")
	cmd.Flags.BoolVar(&flags.noVerify, "no-verify", false, "skip payload checksum verification")
	cmd.Flags.StringVar(&flags.format, "format", "text", "payload format: text or hex")
	return cmd
}

func runDump(env *cmdline.Env, args []string, flags dumpFlags) error {
	if len(args) != 1 {
		return env.UsageErrorf("expected one segment")
	}
	opts := journal.EntryOptions{
		Start:           flags.start,
		IgnoreIntegrity: flags.allowTorn,
		SkipChecksum:    flags.noVerify,
	}
	switch flags.processed {
	case "any":
	case "yes":
		opts.Filter = func(info journal.RecordInfo) bool { return info.Processed }
	case "no":
		opts.Filter = func(info journal.RecordInfo) bool { return !info.Processed }
	default:
		return env.UsageErrorf("bad -processed value %q", flags.processed)
	}
	if flags.format != "text" && flags.format != "hex" {
		return env.UsageErrorf("bad -format value %q", flags.format)
	}
	r, err := journal.OpenReader(args[0], journal.ReaderOptions{AllowNotClosed: true})
	if err != nil {
		return err
	}
	defer r.Close()
	return r.ForEach(opts, func(e *journal.Entry) error {
		processed := "-"
		if e.Processed {
			processed = formatMillis(e.ProcessedAt)
		}
		torn := ""
		if !e.Committed {
			torn = " (torn)"
		}
		if flags.format == "hex" {
			fmt.Fprintf(env.Stdout, "%d\t%d\t%s\t%s%s\n%s", e.Position, e.Sequence,
				formatMillis(e.Timestamp), processed, torn, hex.Dump(e.Data))
			return nil
		}
		fmt.Fprintf(env.Stdout, "%d\t%d\t%s\t%s%s\t%q\n", e.Position, e.Sequence,
			formatMillis(e.Timestamp), processed, torn, e.Data)
		return nil
	})
}
