// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// The following enables go generate to generate the doc.go file.
//go:generate go run v.io/x/lib/cmdline/gendoc "--build-cmd=go install" --copyright-notice= . -help
package main

import (
	"regexp"

	"v.io/x/lib/cmdline"

	"github.com/grailbio/journaldb/cmdutil"
	"github.com/grailbio/journaldb/log"
)

func newCmdRoot() *cmdline.Command {
	return &cmdline.Command{
		Name:     "grail-journal",
		Short:    "Inspect and maintain journal segments and databases",
		LookPath: false,
		Long: `
Command grail-journal inspects journal segments (journal_<N>.jdf files) and
journal database directories, and performs maintenance on them: marking
records processed, sealing segments left behind by a crashed writer, and
appending records.

Commands that open a database directory take its lock, and fail if the
directory is in use.
`,
		Children: []*cmdline.Command{
			newCmdInfo(),
			newCmdDump(),
			newCmdMark(),
			newCmdSeal(),
			newCmdLs(),
			newCmdAppend(),
			cmdutil.CreateVersionCommand("version", "grail-journal"),
		},
	}
}

func main() {
	log.AddFlags()
	cmdline.HideGlobalFlagsExcept(regexp.MustCompile(`^log$`))
	cmdline.Main(newCmdRoot())
}
