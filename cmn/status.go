// Package cmn provides common low-level types and utilities shared by every
// kio package: the result/status enum, version and key encoding, and the
// handful of assertion helpers the other packages lean on.
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import "fmt"

// Code is the result of a single drive-level or stripe-level operation.
// Ordered so that Ok, NotFound and VersionMismatch compare less than any
// error code: callers scanning a multiset of results for the
// smallest-ranked quorum-meeting code get that ordering for free from
// sort.Slice on a []Code.
type Code int

const (
	Ok Code = iota
	NotFound
	VersionMismatch
	ClientIoError
	InvalidArgument
	Unfixable
)

func (c Code) String() string {
	switch c {
	case Ok:
		return "Ok"
	case NotFound:
		return "NotFound"
	case VersionMismatch:
		return "VersionMismatch"
	case ClientIoError:
		return "ClientIoError"
	case InvalidArgument:
		return "InvalidArgument"
	case Unfixable:
		return "Unfixable"
	default:
		return "Unknown"
	}
}

// Rank orders codes for quorum scanning: lower rank sorts first.
func (c Code) Rank() int {
	switch c {
	case Ok:
		return 0
	case NotFound:
		return 1
	case VersionMismatch:
		return 2
	default:
		return 3 + int(c)
	}
}

// Status is a single operation's outcome, a result/sum type rather than an
// exception: only InvalidArgument-class programmer errors are raised as
// panics, via Assert.
type Status struct {
	Code Code
	Err  error
}

func (s Status) String() string {
	if s.Err != nil {
		return fmt.Sprintf("%s: %v", s.Code, s.Err)
	}
	return s.Code.String()
}

func (s Status) OK() bool { return s.Code == Ok }

func StatusOK() Status                     { return Status{Code: Ok} }
func StatusNotFound() Status               { return Status{Code: NotFound} }
func StatusVersionMismatch() Status        { return Status{Code: VersionMismatch} }
func StatusIoError(err error) Status       { return Status{Code: ClientIoError, Err: err} }
func StatusInvalidArgument(err error) Status { return Status{Code: InvalidArgument, Err: err} }
func StatusUnfixable(err error) Status     { return Status{Code: Unfixable, Err: err} }
