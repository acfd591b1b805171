// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cmdutil

import (
	"fmt"
	"sync"

	"v.io/x/lib/cmdline"
)

var runnerOnce sync.Once

// RunnerFunc is an adapter that turns regular functions into cmdline.Runners.
type RunnerFunc func(*cmdline.Env, []string) error

// Run implements the cmdline.Runner interface method by calling f(env, args)
// and also ensures that logging is configured before the first command
// runs.
func (f RunnerFunc) Run(env *cmdline.Env, args []string) error {
	runnerOnce.Do(func() {
		if err := ConfigureLogging(env.Stderr); err != nil {
			fmt.Fprintf(env.Stderr, "configure logging: %v\n", err)
		}
	})
	return f(env, args)
}
