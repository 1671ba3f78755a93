// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wiremessage

import "fmt"

// Msg is the OP_MSG message: a header, flag bits, and an ordered list of
// sections, with an optional CRC-32C checksum when ChecksumPresent is set.
type Msg struct {
	MsgHeader Header
	FlagBits  MsgFlag
	Sections  []Section
	Checksum  uint32
}

// MsgFlag is the OP_MSG flag bitset.
type MsgFlag uint32

// Flag bit constants.
const (
	ChecksumPresent MsgFlag = 1 << 0
	MoreToCome      MsgFlag = 1 << 1
	ExhaustAllowed  MsgFlag = 1 << 16
)

// Section kind tags.
const (
	sectionKindBody             = 0
	sectionKindDocumentSequence = 1
)

// Section is one section of an OP_MSG body.
type Section interface {
	Kind() uint8
}

// SectionBody is kind-0: the single required body document.
type SectionBody struct {
	Document []byte // an already-encoded BSON document
}

// Kind implements Section.
func (SectionBody) Kind() uint8 { return sectionKindBody }

// SectionDocumentSequence is kind-1: a named sequence of documents, used
// for batched writes.
type SectionDocumentSequence struct {
	Identifier string
	Documents  [][]byte
}

// Kind implements Section.
func (SectionDocumentSequence) Kind() uint8 { return sectionKindDocumentSequence }

// AppendWireMessage renders m into its on-wire byte form, computing and
// filling in MsgHeader.MessageLength.
func (m Msg) AppendWireMessage(b []byte) ([]byte, error) {
	start := len(b)
	m.MsgHeader.OpCode = OpMsg
	b = m.MsgHeader.AppendHeader(b)
	b = appendUint32(b, uint32(m.FlagBits))

	for _, s := range m.Sections {
		switch sec := s.(type) {
		case SectionBody:
			b = append(b, byte(sectionKindBody))
			b = append(b, sec.Document...)
		case SectionDocumentSequence:
			b = append(b, byte(sectionKindDocumentSequence))
			seqStart := len(b)
			b = appendInt32(b, 0) // size, patched below
			b = appendCString(b, sec.Identifier)
			for _, doc := range sec.Documents {
				b = append(b, doc...)
			}
			size := int32(len(b) - seqStart)
			putInt32(b[seqStart:], size)
		default:
			return nil, fmt.Errorf("wiremessage: unknown section kind %d", s.Kind())
		}
	}

	if m.FlagBits&ChecksumPresent != 0 {
		b = appendUint32(b, m.Checksum)
	}

	putInt32(b[start:], int32(len(b)-start))
	return b, nil
}

// ReadMsg parses an OP_MSG payload (the bytes following the header) given
// the already-parsed header.
func ReadMsg(header Header, body []byte) (Msg, error) {
	m := Msg{MsgHeader: header}
	if len(body) < 4 {
		return Msg{}, fmt.Errorf("wiremessage: OP_MSG body too short for flag bits")
	}
	m.FlagBits = MsgFlag(readUint32(body, 0))
	pos := 4

	end := len(body)
	if m.FlagBits&ChecksumPresent != 0 {
		end -= 4
	}

	for pos < end {
		kind := body[pos]
		pos++
		switch kind {
		case sectionKindBody:
			doc, n, err := readRawDocument(body[pos:])
			if err != nil {
				return Msg{}, err
			}
			m.Sections = append(m.Sections, SectionBody{Document: doc})
			pos += n
		case sectionKindDocumentSequence:
			if pos+4 > end {
				return Msg{}, fmt.Errorf("wiremessage: truncated document sequence section")
			}
			size := int(readInt32(body, int32(pos)))
			seqEnd := pos + size
			p := pos + 4
			idEnd := p
			for idEnd < seqEnd && body[idEnd] != 0 {
				idEnd++
			}
			identifier := string(body[p:idEnd])
			p = idEnd + 1

			var docs [][]byte
			for p < seqEnd {
				doc, n, err := readRawDocument(body[p:])
				if err != nil {
					return Msg{}, err
				}
				docs = append(docs, doc)
				p += n
			}
			m.Sections = append(m.Sections, SectionDocumentSequence{Identifier: identifier, Documents: docs})
			pos = seqEnd
		default:
			return Msg{}, fmt.Errorf("wiremessage: unknown OP_MSG section kind %d", kind)
		}
	}

	if m.FlagBits&ChecksumPresent != 0 {
		m.Checksum = readUint32(body, end)
	}

	return m, nil
}

// Body returns the first SectionBody document in m, which is always
// required by the protocol.
func (m Msg) Body() ([]byte, error) {
	for _, s := range m.Sections {
		if b, ok := s.(SectionBody); ok {
			return b.Document, nil
		}
	}
	return nil, fmt.Errorf("wiremessage: OP_MSG has no body section")
}

func readRawDocument(b []byte) ([]byte, int, error) {
	if len(b) < 4 {
		return nil, 0, fmt.Errorf("wiremessage: buffer too small for a document length")
	}
	size := int(readInt32(b, 0))
	if size < 5 || len(b) < size {
		return nil, 0, fmt.Errorf("wiremessage: declared document length %d exceeds buffer", size)
	}
	return b[:size], size, nil
}

func appendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func readUint32(b []byte, pos int) uint32 {
	return uint32(b[pos]) | uint32(b[pos+1])<<8 | uint32(b[pos+2])<<16 | uint32(b[pos+3])<<24
}

func putInt32(b []byte, v int32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func appendCString(b []byte, s string) []byte {
	b = append(b, s...)
	return append(b, 0x00)
}
