// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package cmdutil provides utility routines for implementing command line
// tools.
package cmdutil

import (
	"io"
	"os"
	"path/filepath"

	"github.com/grailbio/journaldb/log"
)

// LogFormatEnvVar selects the log format of command line tools: "json"
// installs the structured zap outputter, writing to stderr; anything
// else keeps the default outputter.
const LogFormatEnvVar = "LOG_FORMAT"

// ConfigureLogging configures logging from the environment. The level
// is taken from LOG_LEVEL and the format from LOG_FORMAT. Plain log
// messages are written to w.
func ConfigureLogging(w io.Writer) error {
	if s := os.Getenv(log.LevelEnvVar); s != "" {
		level, err := log.ParseLevel(s)
		if err != nil {
			return err
		}
		log.SetLevel(level)
	}
	if os.Getenv(LogFormatEnvVar) != "json" {
		log.SetOutput(w)
		return nil
	}
	o, err := log.NewZapOutputter(log.ZapConfig{
		Fields: []interface{}{"cmd", filepath.Base(os.Args[0])},
	})
	if err != nil {
		return err
	}
	log.SetOutputter(o)
	return nil
}
