package wiremessage

import (
	"fmt"

	"github.com/golang/snappy"
)

// CompressorID identifies a negotiated wire compressor by its OP_COMPRESSED
// wire value.
type CompressorID uint8

// Recognized compressor IDs.
const (
	CompressorNoop   CompressorID = 0
	CompressorSnappy CompressorID = 1
)

// Compressor compresses/decompresses the payload bytes of a wire message
// (everything after the original header).
type Compressor interface {
	ID() CompressorID
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte, originalLen int32) ([]byte, error)
}

type snappyCompressor struct{}

func (snappyCompressor) ID() CompressorID { return CompressorSnappy }
func (snappyCompressor) Name() string     { return "snappy" }

func (snappyCompressor) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyCompressor) Decompress(src []byte, originalLen int32) ([]byte, error) {
	dst := make([]byte, originalLen)
	out, err := snappy.Decode(dst, src)
	if err != nil {
		return nil, fmt.Errorf("wiremessage: snappy decompress: %w", err)
	}
	return out, nil
}

type noopCompressor struct{}

func (noopCompressor) ID() CompressorID                              { return CompressorNoop }
func (noopCompressor) Name() string                                  { return "noop" }
func (noopCompressor) Compress(src []byte) ([]byte, error)           { return src, nil }
func (noopCompressor) Decompress(src []byte, _ int32) ([]byte, error) { return src, nil }

// Snappy and Noop are the compressors this driver implements. The "hello"
// handshake does not carry a compression array.
var (
	Snappy Compressor = snappyCompressor{}
	Noop   Compressor = noopCompressor{}
)

// CompressorRegistry maps a negotiated compressor name to its
// implementation. The executor consults it by id to decompress OP_COMPRESSED
// replies; the monitor does not use it.
type CompressorRegistry struct {
	byName map[string]Compressor
	byID   map[CompressorID]Compressor
}

// NewCompressorRegistry builds a registry advertising snappy and noop.
func NewCompressorRegistry() *CompressorRegistry {
	r := &CompressorRegistry{
		byName: map[string]Compressor{"snappy": Snappy, "noop": Noop},
		byID:   map[CompressorID]Compressor{CompressorSnappy: Snappy, CompressorNoop: Noop},
	}
	return r
}

// ByName returns the compressor negotiated by name (as advertised in a
// connection string's "compressors" option).
func (r *CompressorRegistry) ByName(name string) (Compressor, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// ByID returns the compressor identified by the OP_COMPRESSED wire value.
func (r *CompressorRegistry) ByID(id CompressorID) (Compressor, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// Names returns the compressor names in preference order. Nothing in the
// handshake sends them.
func (r *CompressorRegistry) Names() []string { return []string{"snappy"} }

// WrapCompressed frames an already-encoded OP_MSG/OP_QUERY payload as
// OP_COMPRESSED: header with OpCode=OpCompressed, original opcode, original
// uncompressed size, compressor id, compressed payload.
func WrapCompressed(header Header, payload []byte, c Compressor) ([]byte, error) {
	compressed, err := c.Compress(payload[HeaderLen:])
	if err != nil {
		return nil, err
	}

	b := make([]byte, 0, HeaderLen+9+len(compressed))
	outerHeader := header
	outerHeader.OpCode = OpCompressed
	b = outerHeader.AppendHeader(b)
	b = appendInt32(b, int32(header.OpCode))
	b = appendInt32(b, int32(len(payload)-HeaderLen))
	b = append(b, byte(c.ID()))
	b = append(b, compressed...)
	putInt32(b, int32(len(b)))
	return b, nil
}

// UnwrapCompressed reverses WrapCompressed, returning the original opcode
// and the decompressed payload (excluding the original header).
func UnwrapCompressed(body []byte, registry *CompressorRegistry) (OpCode, []byte, error) {
	if len(body) < 9 {
		return 0, nil, fmt.Errorf("wiremessage: OP_COMPRESSED body too short")
	}
	originalOpCode := OpCode(readInt32(body, 0))
	originalLen := readInt32(body, 4)
	id := CompressorID(body[8])

	c, ok := registry.ByID(id)
	if !ok {
		return 0, nil, fmt.Errorf("wiremessage: unknown compressor id %d", id)
	}
	decompressed, err := c.Decompress(body[9:], originalLen)
	if err != nil {
		return 0, nil, err
	}
	return originalOpCode, decompressed, nil
}
