// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package driver implements the operation executor: the seven-step
// select-checkout-encode-send-decode-advance-retry cycle described in
// §4.8, grounded on the teacher's core/dispatch package (Read/Write) and
// core/command (the RoundTrip/extractError shape), generalized onto this
// module's own Topology, session.Client, and event types.
package driver

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dkvstore/docdriver/bson"
	"github.com/dkvstore/docdriver/bson/bsontype"
	"github.com/dkvstore/docdriver/description"
	"github.com/dkvstore/docdriver/event"
	"github.com/dkvstore/docdriver/readpref"
	"github.com/dkvstore/docdriver/session"
	"github.com/dkvstore/docdriver/topology"
	"github.com/dkvstore/docdriver/wiremessage"
	"github.com/pkg/errors"
)

// RetryKind selects which error label, if any, makes an Operation eligible
// for the single retry §7 describes.
type RetryKind uint8

// Retry kinds.
const (
	RetryNone RetryKind = iota
	RetryWrite
	RetryRead
)

var compressorRegistry = NewCompressorRegistry()

// BoundConnection carries an already-selected connection/pool/server for
// operations — cursor getMore, change-stream resume — that must stay
// pinned to the server that produced them rather than going through
// selection again, per §4.8's bound-connection strategy.
type BoundConnection struct {
	Connection *topology.Connection
	Pool       *topology.Pool
	Server     description.Server
}

// Operation is one logical command execution. CommandFn builds the command
// document given the resolved session and chosen server, so it can react
// to wire version (e.g. whether $clusterTime will be honored).
type Operation struct {
	Database    string
	ClientID    uint64
	CommandFn   func(sess *session.Client, desc description.Server) (bson.Doc, error)
	ReadPref    *readpref.ReadPref
	Topology    *topology.Topology
	Session     *session.Client
	SessionPool *session.Pool
	Clock       *session.ClusterClock
	Retry       RetryKind
	Compressor  Compressor

	CommandEvents *event.CommandPublisher
	OperationID   int64

	ConnectionOverride *BoundConnection
}

// Execute runs the full seven-step cycle, retrying once if Retry is set
// and the failure carries a retryable label.
func (op *Operation) Execute(ctx context.Context) (bson.Doc, error) {
	sess, implicit, err := op.resolveSession()
	if err != nil {
		return nil, err
	}
	if implicit {
		defer sess.EndSession()
	}
	if sess != nil {
		if err := sess.Validate(op.ClientID); err != nil {
			return nil, err
		}
		if err := sess.Begin(); err != nil {
			return nil, err
		}
		defer sess.End()
	}

	// A retried write reuses the same txnNumber rather than allocating a
	// fresh one per attempt — allocate it once, outside the retry loop.
	var txnNumber int64
	hasTxnNumber := false
	if op.Retry == RetryWrite && sess != nil {
		txnNumber = sess.NextTxnNumber()
		hasTxnNumber = true
	}

	maxAttempts := 1
	if op.Retry != RetryNone {
		maxAttempts = 2
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		reply, err := op.executeOnce(ctx, sess, txnNumber, hasTxnNumber)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (op *Operation) resolveSession() (*session.Client, bool, error) {
	if op.Session != nil {
		return op.Session, false, nil
	}
	if op.SessionPool == nil {
		return nil, false, nil
	}
	return session.NewClient(op.SessionPool, op.ClientID, session.Implicit, false), true, nil
}

// executeOnce runs steps 2 through 6: select, checkout, encode+send+decode,
// advance session state, release the connection.
func (op *Operation) executeOnce(ctx context.Context, sess *session.Client, txnNumber int64, hasTxnNumber bool) (bson.Doc, error) {
	var conn *topology.Connection
	var pool *topology.Pool
	var desc description.Server
	bound := op.ConnectionOverride != nil

	if bound {
		conn = op.ConnectionOverride.Connection
		pool = op.ConnectionOverride.Pool
		desc = op.ConnectionOverride.Server
	} else {
		sd, p, err := op.Topology.SelectServer(ctx, op.ReadPref)
		if err != nil {
			return nil, errors.Wrap(err, "driver: server selection")
		}
		desc = sd
		pool = p
		op.Topology.IncrementOpCount(desc.Address)
		defer op.Topology.DecrementOpCount(desc.Address)

		c, err := pool.Checkout(ctx)
		if err != nil {
			return nil, errors.Wrap(&NetworkError{Err: err}, "driver: connection checkout")
		}
		conn = c
	}

	bad := false
	defer func() {
		if !bound {
			pool.Checkin(conn, bad)
		}
	}()

	cmdDoc, err := op.CommandFn(sess, desc)
	if err != nil {
		return nil, err
	}
	cmdDoc = op.attachSessionMetadata(cmdDoc, sess, desc, txnNumber, hasTxnNumber)

	reply, err := op.roundTrip(ctx, conn, cmdDoc)
	if err != nil {
		bad = true
		if op.Topology != nil {
			op.Topology.HandleConnectionError(desc, err)
		}
		return nil, errors.Wrap(&NetworkError{Err: err}, "driver: round trip")
	}

	op.advanceSession(sess, reply)

	if srvErr := extractError(reply); srvErr != nil {
		return reply, srvErr
	}
	return reply, nil
}

// attachSessionMetadata appends {$db, $clusterTime, lsid,
// readConcern.afterClusterTime, txnNumber} per step 4 of §4.8.
func (op *Operation) attachSessionMetadata(cmd bson.Doc, sess *session.Client, desc description.Server, txnNumber int64, hasTxnNumber bool) bson.Doc {
	out := append(bson.Doc{}, cmd...)
	out = out.Append("$db", bson.String(op.Database))

	if desc.MaxWireVersion >= session.MinWireVersionForClusterTime && op.Clock != nil && op.Clock.Seen() {
		if raw, err := bson.Marshal(bson.Doc(op.Clock.GetClusterTime())); err == nil {
			out = out.Append("$clusterTime", bson.DocumentValue(raw))
		}
	}

	if sess != nil {
		if raw, err := bson.Marshal(sess.LSID()); err == nil {
			out = out.Append("lsid", bson.DocumentValue(raw))
		}
		if ts, ok := sess.AfterClusterTime(); ok {
			rc := bson.Doc{bson.E("afterClusterTime", bson.TimestampValue(ts))}
			if raw, err := bson.Marshal(rc); err == nil {
				out = out.Append("readConcern", bson.DocumentValue(raw))
			}
		}
		if hasTxnNumber {
			out = out.Append("txnNumber", bson.Int64(txnNumber))
		}
		sess.UpdateUseTime()
	}

	return out
}

// advanceSession folds $clusterTime/operationTime from reply into both the
// per-client clock and the session, per §4.7's monotonicity rule.
func (op *Operation) advanceSession(sess *session.Client, reply bson.Doc) {
	if v, ok := reply.Lookup("$clusterTime"); ok {
		if doc, err := v.AsDocument(); err == nil {
			ct := session.ClusterTime(doc)
			if op.Clock != nil {
				op.Clock.AdvanceClusterTime(ct)
			}
			if sess != nil {
				sess.AdvanceClusterTime(ct)
			}
		}
	}
	if sess != nil {
		if v, ok := reply.Lookup("operationTime"); ok && v.Type == bsontype.Timestamp {
			sess.AdvanceOperationTime(v.AsTimestamp())
		}
	}
}

func (op *Operation) roundTrip(ctx context.Context, conn *topology.Connection, cmd bson.Doc) (bson.Doc, error) {
	requestID := wiremessage.NextRequestID()
	name := commandName(cmd)
	start := time.Now()

	op.publishStarted(cmd, name, requestID, conn)

	body, err := bson.Marshal(cmd)
	if err != nil {
		op.publishFailure(name, requestID, conn, time.Since(start), err)
		return nil, err
	}

	msg := wiremessage.Msg{
		MsgHeader: wiremessage.Header{RequestID: requestID},
		Sections:  []wiremessage.Section{wiremessage.SectionBody{Document: body}},
	}
	buf, err := msg.AppendWireMessage(nil)
	if err != nil {
		op.publishFailure(name, requestID, conn, time.Since(start), err)
		return nil, err
	}

	if op.Compressor != nil {
		if compressed, cerr := wiremessage.WrapCompressed(msg.MsgHeader, buf, op.Compressor); cerr == nil {
			buf = compressed
		}
	}

	if err := conn.Write(ctx, buf); err != nil {
		op.publishFailure(name, requestID, conn, time.Since(start), err)
		return nil, err
	}

	reply, err := readReply(ctx, conn)
	duration := time.Since(start)
	if err != nil {
		op.publishFailure(name, requestID, conn, duration, err)
		return nil, err
	}

	op.publishSucceeded(name, requestID, conn, duration, reply)
	return reply, nil
}

func (op *Operation) publishStarted(cmd bson.Doc, name string, requestID int32, conn *topology.Connection) {
	if op.CommandEvents == nil {
		return
	}
	op.CommandEvents.Publish(event.Command{
		Kind:         event.CommandStarted,
		Command:      cmd,
		CommandName:  name,
		DatabaseName: op.Database,
		RequestID:    requestID,
		OperationID:  op.OperationID,
		ConnectionID: conn.ID(),
	})
}

func (op *Operation) publishSucceeded(name string, requestID int32, conn *topology.Connection, d time.Duration, reply bson.Doc) {
	if op.CommandEvents == nil {
		return
	}
	op.CommandEvents.Publish(event.Command{
		Kind:         event.CommandSucceeded,
		CommandName:  name,
		DatabaseName: op.Database,
		RequestID:    requestID,
		OperationID:  op.OperationID,
		ConnectionID: conn.ID(),
		Duration:     d,
		Reply:        reply,
	})
}

func (op *Operation) publishFailure(name string, requestID int32, conn *topology.Connection, d time.Duration, err error) {
	if op.CommandEvents == nil {
		return
	}
	op.CommandEvents.Publish(event.Command{
		Kind:         event.CommandFailed,
		CommandName:  name,
		DatabaseName: op.Database,
		RequestID:    requestID,
		OperationID:  op.OperationID,
		ConnectionID: conn.ID(),
		Duration:     d,
		Failure:      err,
	})
}

func commandName(cmd bson.Doc) string {
	if len(cmd) == 0 {
		return ""
	}
	return cmd[0].Key
}

// readReply reads one full wire message off conn, transparently unwrapping
// OP_COMPRESSED, and decodes its body document.
func readReply(ctx context.Context, conn *topology.Connection) (bson.Doc, error) {
	lenBuf := make([]byte, 4)
	if err := conn.Read(ctx, lenBuf); err != nil {
		return nil, err
	}
	total := int32(binary.LittleEndian.Uint32(lenBuf))
	if total < wiremessage.HeaderLen {
		return nil, fmt.Errorf("driver: reply shorter than a header")
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

	body := full[wiremessage.HeaderLen:]
	opCode := header.OpCode
	if opCode == wiremessage.OpCompressed {
		originalOpCode, decompressed, err := wiremessage.UnwrapCompressed(body, compressorRegistry)
		if err != nil {
			return nil, err
		}
		opCode = originalOpCode
		body = decompressed
	}
	if opCode != wiremessage.OpMsg {
		return nil, fmt.Errorf("driver: unexpected reply opcode %s", opCode)
	}

	msg, err := wiremessage.ReadMsg(header, body)
	if err != nil {
		return nil, err
	}
	raw, err := msg.Body()
	if err != nil {
		return nil, err
	}
	return bson.Unmarshal(raw)
}
