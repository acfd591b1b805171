// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package journaldb

import (
	"flag"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/grailbio/journaldb/errors"
)

// DefaultMonitorInterval is the default parking interval of the
// rollover monitor.
const DefaultMonitorInterval = 50 * time.Millisecond

// Options configures a DB. The zero value of each field other than
// Dir is its default.
type Options struct {
	// Dir is the data directory. It is created if it does not exist.
	Dir string
	// MaxSize is the soft size threshold of a segment, in bytes. A
	// segment that grows past it is rolled over. Zero disables
	// rollover.
	MaxSize int64
	// RelocateOnBootFailure starts a new segment, instead of failing,
	// when the recorded segment cannot be reopened.
	RelocateOnBootFailure bool
	// RelocateOnWriteFailure rolls over to a new segment, instead of
	// closing the database, when an append fails.
	RelocateOnWriteFailure bool
	// MonitorInterval is the parking interval of the rollover
	// monitor. Zero means DefaultMonitorInterval.
	MonitorInterval time.Duration
}

func (o Options) validate() error {
	switch {
	case o.Dir == "":
		return errors.E(errors.Invalid, "journaldb: no data directory")
	case o.MaxSize < 0:
		return errors.E(errors.Invalid, "journaldb: negative max size")
	case o.MonitorInterval < 0:
		return errors.E(errors.Invalid, "journaldb: negative monitor interval")
	}
	return nil
}

// RegisterFlags registers flags for each option in fs. Flag names are
// prefixed with prefix.
func (o *Options) RegisterFlags(fs *flag.FlagSet, prefix string) {
	fs.StringVar(&o.Dir, prefix+"dir", o.Dir, "journal data directory")
	fs.Var((*sizeFlag)(&o.MaxSize), prefix+"max-size", "segment size threshold (e.g., 100MB); 0 disables rollover")
	fs.BoolVar(&o.RelocateOnBootFailure, prefix+"relocate-on-boot-failure", o.RelocateOnBootFailure,
		"start a new segment if the recorded segment cannot be reopened")
	fs.BoolVar(&o.RelocateOnWriteFailure, prefix+"relocate-on-write-failure", o.RelocateOnWriteFailure,
		"roll over to a new segment if an append fails")
}

// ParseSize parses a size with an optional binary unit suffix, as in
// "4096", "512K", "100MB" or "1G".
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, errors.E(errors.Invalid, "negative size", s)
		}
		return n, nil
	}
	n, err := bytefmt.ToBytes(s)
	if err != nil {
		return 0, errors.E(errors.Invalid, "bad size", s, err)
	}
	return int64(n), nil
}

// FormatSize formats n bytes with a binary unit suffix.
func FormatSize(n int64) string {
	if n <= 0 {
		return "0B"
	}
	return bytefmt.ByteSize(uint64(n))
}

type sizeFlag int64

func (f *sizeFlag) String() string {
	if f == nil {
		return "0"
	}
	return FormatSize(int64(*f))
}

func (f *sizeFlag) Set(s string) error {
	n, err := ParseSize(s)
	if err != nil {
		return err
	}
	*f = sizeFlag(n)
	return nil
}
