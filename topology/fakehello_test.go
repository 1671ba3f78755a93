package topology

import (
	"context"
	"encoding/binary"
	"io"
	"net"

	"github.com/dkvstore/docdriver/address"
	"github.com/dkvstore/docdriver/bson"
	"github.com/dkvstore/docdriver/wiremessage"
)

// fakeHelloDialer returns a Dialer whose dialed connections are served by an
// in-memory net.Pipe responder that answers every incoming hello with reply,
// standing in for a real server so newConnection's handshake and Monitor's
// heartbeat loop can be exercised without a socket.
func fakeHelloDialer(reply bson.Doc) Dialer {
	return func(ctx context.Context, addr address.Address) (net.Conn, error) {
		client, server := net.Pipe()
		go serveHello(server, reply)
		return client, nil
	}
}

func serveHello(conn net.Conn, reply bson.Doc) {
	defer conn.Close()
	for {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return
		}
		total := int32(binary.LittleEndian.Uint32(lenBuf))
		if total < 4 {
			return
		}
		rest := make([]byte, total-4)
		if _, err := io.ReadFull(conn, rest); err != nil {
			return
		}

		body, err := bson.Marshal(reply)
		if err != nil {
			return
		}
		msg := wiremessage.Msg{
			MsgHeader: wiremessage.Header{RequestID: wiremessage.NextRequestID()},
			Sections:  []wiremessage.Section{wiremessage.SectionBody{Document: body}},
		}
		buf, err := msg.AppendWireMessage(nil)
		if err != nil {
			return
		}
		if _, err := conn.Write(buf); err != nil {
			return
		}
	}
}

// failingDialer always fails, simulating a server that refuses connections.
func failingDialer(err error) Dialer {
	return func(ctx context.Context, addr address.Address) (net.Conn, error) {
		return nil, err
	}
}

func minimalHelloReply() bson.Doc {
	return bson.Doc{
		bson.E("ok", bson.Double(1)),
		bson.E("isWritablePrimary", bson.Boolean(true)),
		bson.E("minWireVersion", bson.Int32(6)),
		bson.E("maxWireVersion", bson.Int32(21)),
	}
}
