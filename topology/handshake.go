package topology

import (
	"context"
	"encoding/binary"
	"fmt"
	"runtime"

	"github.com/dkvstore/docdriver/bson"
	"github.com/dkvstore/docdriver/description"
	"github.com/dkvstore/docdriver/wiremessage"
)

const (
	driverName    = "docdriver"
	driverVersion = "0.1.0"
)

// clientMetadataDoc builds the {driver, os, platform} subdocument §6
// requires on the first hello sent over a new connection.
func clientMetadataDoc() bson.Doc {
	return bson.Doc{
		bson.E("driver", bson.DocumentValue(mustMarshalDoc(bson.Doc{
			bson.E("name", bson.String(driverName)),
			bson.E("version", bson.String(driverVersion)),
		}))),
		bson.E("os", bson.DocumentValue(mustMarshalDoc(bson.Doc{
			bson.E("type", bson.String(runtime.GOOS)),
			bson.E("architecture", bson.String(runtime.GOARCH)),
		}))),
		bson.E("platform", bson.String(runtime.Version())),
	}
}

func mustMarshalDoc(d bson.Doc) []byte {
	raw, err := bson.Marshal(d)
	if err != nil {
		panic(err)
	}
	return raw
}

// buildHelloCommand assembles an outgoing hello. metadata, when non-nil, is
// attached as "client" and must only be passed on a connection's first
// hello. tv, when non-nil, turns the command into an awaitable hello
// carrying topologyVersion/maxAwaitTimeMS, the streaming discovery protocol
// §4.3 describes.
func buildHelloCommand(metadata bson.Doc, tv *description.TopologyVersion, maxAwaitTimeMS int64) bson.Doc {
	cmd := bson.Doc{
		bson.E("hello", bson.Int32(1)),
		bson.E("$db", bson.String("admin")),
	}
	if metadata != nil {
		cmd = cmd.Append("client", bson.DocumentValue(mustMarshalDoc(metadata)))
	}
	if tv != nil {
		tvDoc := bson.Doc{
			bson.E("processId", bson.ObjectIDValue(tv.ProcessID)),
			bson.E("counter", bson.Int64(tv.Counter)),
		}
		cmd = cmd.Append("topologyVersion", bson.DocumentValue(mustMarshalDoc(tvDoc)))
		cmd = cmd.Append("maxAwaitTimeMS", bson.Int64(maxAwaitTimeMS))
	}
	return cmd
}

// sendHello writes cmd as an OP_MSG and reads back exactly one reply on
// conn. Shared by the connection handshake and both of Monitor's streams so
// the length-prefixed framing lives in one place.
func sendHello(ctx context.Context, conn *Connection, cmd bson.Doc) (bson.Doc, error) {
	body, err := bson.Marshal(cmd)
	if err != nil {
		return nil, err
	}

	msg := wiremessage.Msg{
		MsgHeader: wiremessage.Header{RequestID: wiremessage.NextRequestID()},
		Sections:  []wiremessage.Section{wiremessage.SectionBody{Document: body}},
	}
	buf, err := msg.AppendWireMessage(nil)
	if err != nil {
		return nil, err
	}
	if err := conn.Write(ctx, buf); err != nil {
		return nil, err
	}

	lenBuf := make([]byte, 4)
	if err := conn.Read(ctx, lenBuf); err != nil {
		return nil, err
	}
	total := int32(binary.LittleEndian.Uint32(lenBuf))
	if total < wiremessage.HeaderLen {
		return nil, fmt.Errorf("topology: reply shorter than a header")
	}
	rest := make([]byte, total-4)
	if err := conn.Read(ctx, rest); err != nil {
		return nil, err
	}

	full := append(lenBuf, rest...)
	header, err := wiremessage.ReadHeader(full, 0)
	if err != nil {
		return nil, err
	}
	replyMsg, err := wiremessage.ReadMsg(header, full[wiremessage.HeaderLen:])
	if err != nil {
		return nil, err
	}
	rawDoc, err := replyMsg.Body()
	if err != nil {
		return nil, err
	}
	return bson.Unmarshal(rawDoc)
}

// handshake sends the first hello on a freshly dialed connection, carrying
// the client metadata subdocument, and returns its parsed reply so the
// caller can populate WireVersionRange before the connection is made
// available to anyone — §4.6's "handshake ... must complete before
// availability".
func handshake(ctx context.Context, conn *Connection) (description.Server, error) {
	cmd := buildHelloCommand(clientMetadataDoc(), nil, 0)
	reply, err := sendHello(ctx, conn, cmd)
	if err != nil {
		return description.Server{}, err
	}
	return parseHelloReply(conn.Address, reply), nil
}
