// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package wiremessage frames OP_MSG requests and replies per §4.2: a fixed
// header, flag bits, and a sequence of sections, with compression handled
// as a wrapping opcode around an otherwise-complete message.
package wiremessage

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// OpCode identifies a wire protocol message's payload shape.
type OpCode int32

// Recognized opcodes. OpCompressed wraps any other opcode's bytes;
// OpQuery survives only for the legacy handshake.
const (
	OpCompressed OpCode = 2012
	OpMsg        OpCode = 2013
	OpQuery      OpCode = 2004
)

func (c OpCode) String() string {
	switch c {
	case OpCompressed:
		return "OP_COMPRESSED"
	case OpMsg:
		return "OP_MSG"
	case OpQuery:
		return "OP_QUERY"
	default:
		return fmt.Sprintf("OpCode(%d)", int32(c))
	}
}

// Header is the 16-byte prefix common to every wire protocol message.
type Header struct {
	MessageLength int32
	RequestID     int32
	ResponseTo    int32
	OpCode        OpCode
}

// HeaderLen is the fixed on-wire size of a Header.
const HeaderLen = 16

func (h Header) String() string {
	return fmt.Sprintf("Header{MessageLength: %d, RequestID: %d, ResponseTo: %d, OpCode: %v}",
		h.MessageLength, h.RequestID, h.ResponseTo, h.OpCode)
}

// AppendHeader appends h's wire encoding to b.
func (h Header) AppendHeader(b []byte) []byte {
	b = appendInt32(b, h.MessageLength)
	b = appendInt32(b, h.RequestID)
	b = appendInt32(b, h.ResponseTo)
	b = appendInt32(b, int32(h.OpCode))
	return b
}

// ReadHeader reads a Header starting at pos.
func ReadHeader(b []byte, pos int32) (Header, error) {
	if len(b) < int(pos)+HeaderLen {
		return Header{}, fmt.Errorf("wiremessage: buffer too small to contain a header")
	}
	return Header{
		MessageLength: readInt32(b, pos),
		RequestID:     readInt32(b, pos+4),
		ResponseTo:    readInt32(b, pos+8),
		OpCode:        OpCode(readInt32(b, pos+12)),
	}, nil
}

var requestIDCounter int32

// NextRequestID returns the next value of the process-wide monotonically
// increasing requestId counter described in §4.2.
func NextRequestID() int32 {
	return atomic.AddInt32(&requestIDCounter, 1)
}

func appendInt32(b []byte, i int32) []byte {
	return append(b, byte(i), byte(i>>8), byte(i>>16), byte(i>>24))
}

func readInt32(b []byte, pos int32) int32 {
	return int32(binary.LittleEndian.Uint32(b[pos : pos+4]))
}
