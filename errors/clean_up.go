// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package errors

import "fmt"

// CleanUp is defer-able syntactic sugar that calls f and reports an error, if any,
// to *err. Pass the caller's named return error. Example usage:
//
//	func openSegment(path string) (_ *Segment, err error) {
//		f, err := os.Open(path)
//		if err != nil { ... }
//		defer errors.CleanUp(f.Close, &err)
//		...
//	}
//
// If the caller returns with its own error, any error from cleanUp is
// appended to its message rather than replacing it.
func CleanUp(cleanUp func() error, dst *error) {
	addErr(cleanUp(), dst)
}

func addErr(err2 error, dst *error) {
	if err2 == nil {
		return
	}
	if *dst == nil {
		*dst = err2
		return
	}
	// err2 is not chained as *dst's cause: *dst may already carry a
	// meaningful cause, and err2 is usually unrelated to it.
	*dst = E(*dst, fmt.Sprintf("second error in close: %v", err2))
}
