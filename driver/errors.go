// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"errors"
	"fmt"

	"github.com/dkvstore/docdriver/bson"
	"github.com/dkvstore/docdriver/bson/bsontype"
)

// RetryableWriteError and RetryableReadError are the error labels the
// Executor retries once on, per §7.
const (
	RetryableWriteError = "RetryableWriteError"
	RetryableReadError  = "RetryableReadError"
)

// Error is a server-reported command failure: an {ok: 0, errmsg, code,
// codeName, errorLabels} reply decoded into a typed value, grounded on the
// teacher's command.Error/extractError shape.
type Error struct {
	Code    int32
	Message string
	Name    string
	Labels  []string
}

func (e *Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("server error %d (%s): %s", e.Code, e.Name, e.Message)
	}
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// HasErrorLabel reports whether label is attached to this error.
func (e *Error) HasErrorLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// NetworkError wraps a transport-layer failure — a checkout dial error, or
// a conn.Write/conn.Read failure during roundTrip — so the retry loop can
// recognize it as belonging to §7's "Network" retry-eligible class
// alongside a server-reported label. Unwrap lets errors.As/errors.Is see
// through it and through the github.com/pkg/errors wrapping executeOnce
// adds on top.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a network-layer failure, or carries a
// retryable-write or retryable-read label, per §7.
func IsRetryable(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var de *Error
	if errors.As(err, &de) {
		return de.HasErrorLabel(RetryableWriteError) || de.HasErrorLabel(RetryableReadError)
	}
	return false
}

// extractError decodes a server reply into an *Error, or nil if the reply
// reports ok:1. The {ok, errmsg, codeName, code, errorLabels} field walk is
// the same shape the teacher's command.extractError performs over a raw
// bson.Reader, adapted onto this module's bson.Doc.
func extractError(reply bson.Doc) error {
	if v, ok := reply.Lookup("ok"); ok {
		switch v.Type {
		case bsontype.Double:
			if v.AsDouble() == 1 {
				return nil
			}
		case bsontype.Int32:
			if v.AsInt32() == 1 {
				return nil
			}
		case bsontype.Int64:
			if v.AsInt64() == 1 {
				return nil
			}
		}
	}

	var errmsg, codeName string
	var code int32
	var labels []string

	if v, ok := reply.Lookup("errmsg"); ok {
		errmsg = v.StringValue()
	}
	if v, ok := reply.Lookup("codeName"); ok {
		codeName = v.StringValue()
	}
	if v, ok := reply.Lookup("code"); ok {
		code = v.AsInt32()
	}
	if v, ok := reply.Lookup("errorLabels"); ok {
		if arr, err := v.AsArray(); err == nil {
			for _, e := range arr {
				labels = append(labels, e.StringValue())
			}
		}
	}

	if errmsg == "" {
		errmsg = "command failed"
	}
	return &Error{Code: code, Message: errmsg, Name: codeName, Labels: labels}
}
