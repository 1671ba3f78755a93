package driver

import "github.com/dkvstore/docdriver/wiremessage"

// Compressor and CompressorRegistry are the executor-facing names for the
// wiremessage compression types, per SPEC_FULL §4.2. The executor compresses
// requests with the Compressor it is given and resolves OP_COMPRESSED
// replies through a CompressorRegistry; the hello handshake negotiates no
// compression.
type Compressor = wiremessage.Compressor

// CompressorRegistry maps a negotiated compressor name to its
// implementation.
type CompressorRegistry = wiremessage.CompressorRegistry

// NewCompressorRegistry builds a registry advertising every compressor
// this driver supports.
func NewCompressorRegistry() *CompressorRegistry { return wiremessage.NewCompressorRegistry() }
