package wiremessage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderAppendReadRoundTrip(t *testing.T) {
	h := Header{MessageLength: 42, RequestID: 7, ResponseTo: 3, OpCode: OpMsg}

	buf := h.AppendHeader(nil)
	require.Len(t, buf, HeaderLen)

	got, err := ReadHeader(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestReadHeaderRejectsShortBuffer(t *testing.T) {
	_, err := ReadHeader(make([]byte, HeaderLen-1), 0)
	assert.Error(t, err)
}

func TestNextRequestIDMonotonic(t *testing.T) {
	a := NextRequestID()
	b := NextRequestID()
	assert.Greater(t, b, a)
}

func TestMsgBodySectionRoundTrip(t *testing.T) {
	doc := []byte{5, 0, 0, 0, 0} // a minimal empty BSON document
	msg := Msg{
		MsgHeader: Header{RequestID: 1},
		Sections:  []Section{SectionBody{Document: doc}},
	}

	buf, err := msg.AppendWireMessage(nil)
	require.NoError(t, err)

	header, err := ReadHeader(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, OpMsg, header.OpCode)
	assert.EqualValues(t, len(buf), header.MessageLength)

	decoded, err := ReadMsg(header, buf[HeaderLen:])
	require.NoError(t, err)
	require.Len(t, decoded.Sections, 1)

	body, err := decoded.Body()
	require.NoError(t, err)
	assert.Equal(t, doc, body)
}

func TestMsgDocumentSequenceRoundTrip(t *testing.T) {
	docs := [][]byte{
		{5, 0, 0, 0, 0},
		{5, 0, 0, 0, 0},
	}
	msg := Msg{
		MsgHeader: Header{RequestID: 2},
		Sections: []Section{
			SectionBody{Document: []byte{5, 0, 0, 0, 0}},
			SectionDocumentSequence{Identifier: "documents", Documents: docs},
		},
	}

	buf, err := msg.AppendWireMessage(nil)
	require.NoError(t, err)

	header, err := ReadHeader(buf, 0)
	require.NoError(t, err)

	decoded, err := ReadMsg(header, buf[HeaderLen:])
	require.NoError(t, err)
	require.Len(t, decoded.Sections, 2)

	seq, ok := decoded.Sections[1].(SectionDocumentSequence)
	require.True(t, ok)
	assert.Equal(t, "documents", seq.Identifier)
	assert.Equal(t, docs, seq.Documents)
}

func TestMsgChecksumRoundTrip(t *testing.T) {
	msg := Msg{
		MsgHeader: Header{RequestID: 3},
		FlagBits:  ChecksumPresent,
		Sections:  []Section{SectionBody{Document: []byte{5, 0, 0, 0, 0}}},
		Checksum:  0xDEADBEEF,
	}

	buf, err := msg.AppendWireMessage(nil)
	require.NoError(t, err)

	header, err := ReadHeader(buf, 0)
	require.NoError(t, err)

	decoded, err := ReadMsg(header, buf[HeaderLen:])
	require.NoError(t, err)
	assert.Equal(t, ChecksumPresent, decoded.FlagBits)
	assert.EqualValues(t, 0xDEADBEEF, decoded.Checksum)
}

func TestBodyErrorsWithoutSectionBody(t *testing.T) {
	msg := Msg{Sections: []Section{SectionDocumentSequence{Identifier: "x"}}}
	_, err := msg.Body()
	assert.Error(t, err)
}
