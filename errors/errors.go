// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package errors implements an error type that defines interpretable
// error codes for the failure conditions of journal segments and
// databases. Errors also contain interpretable severities, so that
// error-producing operations can be retried in consistent ways.
// Errors returned by this package can also be chained: thus
// attributing one error to another.
//
// Callers inspect errors by kind:
//
//	if errors.Is(errors.Archived, err) {
//		// the segment was retired; open the next one
//	}
//
// Errors implement Unwrap, so that causes are also reachable with
// the standard library's errors.Is and errors.As.
package errors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/grailbio/journaldb/log"
)

// Separator defines the separation string inserted between
// chained errors in error messages.
var Separator = ":\n\t"

// Kind defines the type of error. Kinds are semantically
// meaningful, and may be interpreted by the receiver of an error
// (e.g., to determine whether a segment should be relocated).
type Kind int

const (
	// Other indicates an unknown error.
	Other Kind = iota
	// Canceled indicates a context cancellation.
	Canceled
	// Invalid indicates that the caller supplied invalid parameters.
	Invalid
	// NotExist indicates a nonexistent resource.
	NotExist
	// Closed indicates an operation on a closed writer or database.
	Closed
	// IO indicates a lower-level I/O failure: lock contention, short
	// writes, device errors.
	IO
	// Locked indicates that another holder owns the database directory.
	Locked
	// NotDir indicates that the database path is a regular file.
	NotDir
	// BadMagic indicates that a segment opened for writing does not
	// carry the journal file magic.
	BadMagic
	// Archived indicates an attempt to write to an archived segment.
	Archived
	// NotClosed indicates an attempt to write to a live segment that
	// was not closed gracefully.
	NotClosed
	// BadSignature indicates that a segment opened for reading does not
	// carry the journal file magic.
	BadSignature
	// NotArchived indicates that a reader required an archived segment.
	NotArchived
	// ReaderNotClosed indicates that a reader required a segment that
	// was retired cleanly.
	ReaderNotClosed
	// RecordMagic indicates a record without the record magic.
	RecordMagic
	// RecordIntegrity indicates a torn or aborted record.
	RecordIntegrity
	// RecordChecksum indicates a record whose payload does not match
	// its stored checksum.
	RecordChecksum

	maxKind
)

var kinds = map[Kind]string{
	Other:           "unknown error",
	Canceled:        "operation was canceled",
	Invalid:         "invalid argument",
	NotExist:        "resource does not exist",
	Closed:          "journal is closed",
	IO:              "I/O error",
	Locked:          "database is locked",
	NotDir:          "database directory is a file",
	BadMagic:        "journal magic mismatch",
	Archived:        "journal is archived",
	NotClosed:       "journal was not closed gracefully",
	BadSignature:    "journal signature mismatch",
	NotArchived:     "journal is not archived",
	ReaderNotClosed: "journal was not retired cleanly",
	RecordMagic:     "record magic mismatch",
	RecordIntegrity: "record integrity failure",
	RecordChecksum:  "record checksum mismatch",
}

// String returns a human-readable explanation of the error kind k.
func (k Kind) String() string {
	return kinds[k]
}

// Severity defines an Error's severity. An Error's severity determines
// whether an error-producing operation may be retried or not.
type Severity int

const (
	// Retriable indicates that the failing operation can be safely retried,
	// regardless of application context.
	Retriable Severity = -2
	// Temporary indicates that the underlying error condition is likely
	// temporary, and can be possibly be retried. However, such errors
	// should be retried in an application specific context.
	Temporary Severity = -1
	// Unknown indicates the error's severity is unknown. This is the default
	// severity level.
	Unknown Severity = 0
	// Fatal indicates that the underlying error condition is unrecoverable;
	// retrying is unlikely to help.
	Fatal Severity = 1
)

var severities = map[Severity]string{
	Retriable: "retriable",
	Temporary: "temporary",
	Unknown:   "unknown",
	Fatal:     "fatal",
}

// String returns a human-readable explanation of the error severity s.
func (s Severity) String() string {
	return severities[s]
}

// Error is the standard error type, carrying a kind (error code),
// message (error message), and potentially an underlying error.
// Errors should be constructed by errors.E, which interprets
// arguments according to a set of rules.
type Error struct {
	// Kind is the error's type.
	Kind Kind
	// Severity is an optional severity.
	Severity Severity
	// Message is an optional error message associated with this error.
	Message string
	// Err is the error that caused this error, if any.
	// Errors can form chains through Err: the full chain is printed
	// by Error().
	Err error
}

// E constructs a new errors from the provided arguments. It is meant
// as a convenient way to construct, annotate, and wrap errors.
//
// Arguments are interpreted according to their types:
//
//	- Kind: sets the Error's kind
//	- Severity: set the Error's severity
//	- string: sets the Error's message; multiple strings are
//	  separated by a single space
//	- *Error: copies the error and sets the error's cause
//	- error: sets the Error's cause
//
// If an unrecognized argument type is encountered, an error with
// kind Invalid is returned.
//
// If a kind is not provided, but an underlying error is, E attempts to
// interpret the underlying error according to a set of conventions,
// in order:
//
//	- If os.IsNotExist(error) returns true, its kind is set to NotExist.
//	- If the error is context.Canceled, its kind is set to Canceled.
//	- If the error is an *os.PathError, an *os.SyscallError,
//	  io.ErrShortWrite or io.ErrUnexpectedEOF, its kind is set to IO.
//	- If the error implements interface { Temporary() bool } and
//	  Temporary() returns true, then its severity is set to at least
//	  Temporary.
//
// If the underlying error is another *Error, and a kind is not provided,
// the returned error inherits that error's kind.
func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("no args")
	}
	e := new(Error)
	var msg strings.Builder
	for _, arg := range args {
		switch arg := arg.(type) {
		case Kind:
			e.Kind = arg
		case Severity:
			e.Severity = arg
		case string:
			if msg.Len() > 0 {
				msg.WriteString(" ")
			}
			msg.WriteString(arg)
		case *Error:
			copy := *arg
			if len(args) == 1 {
				return &copy
			}
			e.Err = &copy
		case error:
			e.Err = arg
		default:
			_, file, line, _ := runtime.Caller(1)
			log.Error.Printf("errors.E: bad call (type %T) from %s:%d: %v", arg, file, line, arg)
			return &Error{
				Kind:    Invalid,
				Message: fmt.Sprintf("unknown type %T, value %v in error call", arg, arg),
			}
		}
	}
	e.Message = msg.String()
	if e.Err == nil {
		return e
	}
	switch prev := e.Err.(type) {
	case *Error:
		if prev.Kind == e.Kind || e.Kind == Other {
			e.Kind = prev.Kind
			prev.Kind = Other
		}
		if prev.Severity == e.Severity || e.Severity == Unknown {
			e.Severity = prev.Severity
			prev.Severity = Unknown
		}
	default:
		if err, ok := e.Err.(interface {
			Temporary() bool
		}); ok && err.Temporary() && e.Severity == Unknown {
			e.Severity = Temporary
		}
		if e.Kind != Other {
			break
		}
		e.Kind = classify(e.Err)
	}
	return e
}

func classify(err error) Kind {
	var (
		pathErr    *os.PathError
		syscallErr *os.SyscallError
	)
	switch {
	case os.IsNotExist(err):
		return NotExist
	case errors.Is(err, context.Canceled):
		return Canceled
	case errors.As(err, &pathErr), errors.As(err, &syscallErr),
		errors.Is(err, io.ErrShortWrite), errors.Is(err, io.ErrUnexpectedEOF):
		return IO
	}
	return Other
}

// Recover recovers any error into an *Error. If the passed-in Error is already
// an error, it is simply returned; otherwise it is wrapped in an error.
func Recover(err error) *Error {
	if err == nil {
		return nil
	}
	if err, ok := err.(*Error); ok {
		return err
	}
	return E(err).(*Error)
}

// Error returns a human readable string describing this error.
// It uses the separator defined by errors.Separator.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b bytes.Buffer
	e.writeError(&b)
	return b.String()
}

func (e *Error) writeError(b *bytes.Buffer) {
	if e.Message != "" {
		pad(b, ": ")
		b.WriteString(e.Message)
	}
	if e.Kind != Other {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Severity != Unknown {
		pad(b, " ")
		b.WriteByte('(')
		b.WriteString(e.Severity.String())
		b.WriteByte(')')
	}

	if e.Err == nil {
		return
	}
	if err, ok := e.Err.(*Error); ok {
		pad(b, Separator)
		b.WriteString(err.Error())
	} else {
		pad(b, ": ")
		b.WriteString(e.Err.Error())
	}
}

// Unwrap returns the error's cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Temporary tells whether this error is temporary.
func (e *Error) Temporary() bool {
	return e.Severity <= Temporary
}

// Is tells whether an error has a specified kind, except for the
// indeterminate kind Other. In the case an error has kind Other, the
// chain is traversed until a non-Other error is encountered.
func Is(kind Kind, err error) bool {
	if err == nil {
		return false
	}
	return is(kind, Recover(err))
}

func is(kind Kind, e *Error) bool {
	if e.Kind != Other {
		return e.Kind == kind
	}
	if e.Err != nil {
		if e2, ok := e.Err.(*Error); ok {
			return is(kind, e2)
		}
	}
	return false
}

// IsTemporary tells whether the provided error is likely temporary.
func IsTemporary(err error) bool {
	return Recover(err).Temporary()
}

// Match tells whether every nonempty field in err1
// matches the corresponding fields in err2. The comparison
// recurses on chained errors. Match is designed to aid in
// testing errors.
func Match(err1, err2 error) bool {
	var (
		e1 = Recover(err1)
		e2 = Recover(err2)
	)
	if e1.Kind != Other && e1.Kind != e2.Kind {
		return false
	}
	if e1.Severity != Unknown && e1.Severity != e2.Severity {
		return false
	}
	if e1.Message != "" && e1.Message != e2.Message {
		return false
	}
	if e1.Err != nil {
		if e2.Err == nil {
			return false
		}
		switch e1.Err.(type) {
		case *Error:
			return Match(e1.Err, e2.Err)
		default:
			return e1.Err.Error() == e2.Err.Error()
		}
	}
	return true
}

// Visit calls the given function for every error object in the chain, including
// itself.  Recursion stops after the function finds an error object of type
// other than *Error.
func Visit(err error, callback func(err error)) {
	callback(err)
	for {
		next, ok := err.(*Error)
		if !ok {
			break
		}
		err = next.Err
		callback(err)
	}
}

// New is synonymous with errors.New, and is provided here so that
// users need only import one errors package.
func New(msg string) error {
	return errors.New(msg)
}

// As is synonymous with errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func pad(b *bytes.Buffer, s string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(s)
}
