// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package client is the top-level facade: it wires Topology, selection,
// pooling, sessions, and the operation executor into the single
// Connect/Ping/RunCommand surface described in SPEC_FULL §2, grounded on
// the teacher's yamgo/client.go (NewClient → connstring.Parse →
// cluster.New → RunCommand, the smallest complete wiring of those parts
// the retrieved pack shows) and on mongo/client_options.go's
// connection-string-then-Option-overrides precedence.
package client

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/dkvstore/docdriver/address"
	"github.com/dkvstore/docdriver/bson"
	"github.com/dkvstore/docdriver/connstring"
	"github.com/dkvstore/docdriver/description"
	"github.com/dkvstore/docdriver/driver"
	"github.com/dkvstore/docdriver/event"
	"github.com/dkvstore/docdriver/readpref"
	"github.com/dkvstore/docdriver/session"
	"github.com/dkvstore/docdriver/tag"
	"github.com/dkvstore/docdriver/topology"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var nextClientID uint64

// Client is a connected handle onto a deployment: a live Topology
// (Monitors + Pools keyed by server address), a session pool, and the
// cluster clock causal consistency is tracked through.
type Client struct {
	id       uint64
	opts     *clientOptions
	cs       *connstring.ConnString
	topology *topology.Topology
	sessions *session.Pool
	clock    *session.ClusterClock
	log      *logrus.Entry

	commandEvents *event.CommandPublisher
	sdamEvents    *event.SDAMPublisher
	poolEvents    *event.PoolPublisher

	opCounter int64
}

// Connect parses uri and opens a Client against it, applying opts over
// whatever the connection string already set.
func Connect(ctx context.Context, uri string, opts ...Option) (*Client, error) {
	cs, err := connstring.Parse(uri)
	if err != nil {
		return nil, errors.Wrap(err, "client: parse connection string")
	}
	return NewWithConnString(ctx, cs, opts...)
}

// NewWithConnString builds a Client from an already-parsed connection
// string, for callers that built one programmatically instead of through a
// URI.
func NewWithConnString(ctx context.Context, cs *connstring.ConnString, opts ...Option) (*Client, error) {
	o := defaultOptions()
	applyConnString(o, cs)
	for _, opt := range opts {
		opt(o)
	}

	rp, err := resolveReadPreference(cs, o)
	if err != nil {
		return nil, err
	}
	o.readPref = rp

	seeds := make([]address.Address, 0, len(cs.Hosts))
	for _, h := range cs.Hosts {
		seeds = append(seeds, address.Address(h).Canonicalize())
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("client: connection string names no hosts")
	}

	id := atomic.AddUint64(&nextClientID, 1)
	log := o.logger.WithField("clientID", id)
	if o.appName != "" {
		log = log.WithField("appName", o.appName)
	}

	sdamEvents := event.NewSDAMPublisher()
	poolEvents := event.NewPoolPublisher()
	commandEvents := event.NewCommandPublisher()

	directConnect := len(seeds) == 1 && cs.ReplicaSet == ""

	topo := topology.New(topology.Config{
		Seeds:              seeds,
		DirectConnect:      directConnect,
		HeartbeatFrequency: o.heartbeatFrequency,
		LocalThreshold:     o.localThreshold,
		Pool: topology.PoolConfig{
			MinSize:     o.minPoolSize,
			MaxSize:     o.maxPoolSize,
			MaxIdleTime: o.maxConnIdleTime,
			Dialer:      o.dialer,
		},
		Dialer:     o.dialer,
		SDAMEvents: sdamEvents,
		PoolEvents: poolEvents,
	})

	if err := topo.Connect(ctx); err != nil {
		return nil, errors.Wrap(err, "client: connect topology")
	}

	c := &Client{
		id:            id,
		opts:          o,
		cs:            cs,
		topology:      topo,
		sessions:      session.NewPool(o.sessionTimeoutMinutes),
		clock:         &session.ClusterClock{},
		log:           log,
		commandEvents: commandEvents,
		sdamEvents:    sdamEvents,
		poolEvents:    poolEvents,
	}

	log.Info("client connected")
	return c, nil
}

func resolveReadPreference(cs *connstring.ConnString, o *clientOptions) (*readpref.ReadPref, error) {
	if cs.ReadPreference == "" {
		return o.readPref, nil
	}
	mode, err := readpref.ModeFromString(cs.ReadPreference)
	if err != nil {
		return nil, errors.Wrap(err, "client: read preference")
	}
	var rpOpts []readpref.Option
	if len(cs.ReadPreferenceTagSets) > 0 {
		rpOpts = append(rpOpts, readpref.WithTagSets(tag.NewSetsFromMaps(cs.ReadPreferenceTagSets)...))
	}
	if cs.MaxStalenessSet {
		rpOpts = append(rpOpts, readpref.WithMaxStaleness(cs.MaxStaleness, o.heartbeatFrequency))
	}
	return readpref.New(mode, rpOpts...)
}

// applyConnString seeds o's fields from the connection string's recognized
// options; Option values applied afterward always win, per §6's
// precedence.
func applyConnString(o *clientOptions, cs *connstring.ConnString) {
	if cs.AppName != "" {
		o.appName = cs.AppName
	}
	if cs.HeartbeatIntervalSet {
		o.heartbeatFrequency = cs.HeartbeatInterval
	}
	if cs.LocalThresholdSet {
		o.localThreshold = cs.LocalThreshold
	}
	if cs.ServerSelectionTimeoutSet {
		o.serverSelectionTimeout = cs.ServerSelectionTimeout
	}
	if cs.MaxPoolSizeSet {
		o.maxPoolSize = cs.MaxPoolSize
	}
	if cs.MinPoolSizeSet {
		o.minPoolSize = cs.MinPoolSize
	}
	if cs.MaxConnIdleTimeSet {
		o.maxConnIdleTime = cs.MaxConnIdleTime
	}
	if cs.RetryWritesSet {
		o.retryWrites = cs.RetryWrites
	}
	if cs.RetryReadsSet {
		o.retryReads = cs.RetryReads
	}
}

// Disconnect stops every Monitor, disconnects every Pool, and drains the
// session pool's endSessions batches.
func (c *Client) Disconnect(ctx context.Context) error {
	c.log.Info("client disconnecting")
	for _, batch := range c.sessions.Drain() {
		arr, err := lsidArray(batch)
		if err != nil {
			c.log.WithError(err).Warn("endSessions: encode lsid batch")
			continue
		}
		_, _ = c.runRaw(ctx, "admin", bson.Doc{bson.E("endSessions", arr)}, readpref.Primary())
	}
	return c.topology.Disconnect(ctx)
}

// Ping runs the "hello deployment is reachable" check against rp (the
// client's configured read preference, primary by default, if nil).
func (c *Client) Ping(ctx context.Context, rp *readpref.ReadPref) error {
	if rp == nil {
		rp = c.opts.readPref
	}
	_, err := c.runRaw(ctx, "admin", bson.Doc{bson.E("ping", bson.Int32(1))}, rp)
	return err
}

// RunCommand executes cmd against db, through the full seven-step executor
// cycle, implicitly starting and ending a session for it.
func (c *Client) RunCommand(ctx context.Context, db string, cmd bson.Doc, rp *readpref.ReadPref) (bson.Doc, error) {
	if rp == nil {
		rp = c.opts.readPref
	}
	reply, err := c.runRaw(ctx, db, cmd, rp)
	if err != nil {
		c.log.WithError(err).WithField("command", commandName(cmd)).Warn("command failed")
	}
	return reply, err
}

func (c *Client) runRaw(ctx context.Context, db string, cmd bson.Doc, rp *readpref.ReadPref) (bson.Doc, error) {
	op := &driver.Operation{
		Database:      db,
		ClientID:      c.id,
		CommandFn:     func(*session.Client, description.Server) (bson.Doc, error) { return cmd, nil },
		ReadPref:      rp,
		Topology:      c.topology,
		SessionPool:   c.sessions,
		Clock:         c.clock,
		Compressor:    c.opts.compressor,
		CommandEvents: c.commandEvents,
		OperationID:   atomic.AddInt64(&c.opCounter, 1),
	}
	return op.Execute(ctx)
}

// Topology exposes the underlying Topology, for callers that need a
// Snapshot or Subscribe beyond what RunCommand covers.
func (c *Client) Topology() *topology.Topology { return c.topology }

// CommandEvents, SDAMEvents, and PoolEvents expose this client's event
// streams, per §6's observability surface.
func (c *Client) CommandEvents() *event.CommandPublisher { return c.commandEvents }
func (c *Client) SDAMEvents() *event.SDAMPublisher       { return c.sdamEvents }
func (c *Client) PoolEvents() *event.PoolPublisher       { return c.poolEvents }

func commandName(cmd bson.Doc) string {
	if len(cmd) == 0 {
		return ""
	}
	return cmd[0].Key
}

// lsidArray encodes batch's lsid documents as a canonical BSON array value
// ({"0": lsid0, "1": lsid1, ...}), the wire form an array takes embedded in
// a command document.
func lsidArray(batch []bson.Doc) (bson.Value, error) {
	var arr bson.Doc
	for i, doc := range batch {
		raw, err := bson.Marshal(doc)
		if err != nil {
			return bson.Value{}, err
		}
		arr = arr.Append(strconv.Itoa(i), bson.DocumentValue(raw))
	}
	raw, err := bson.Marshal(arr)
	if err != nil {
		return bson.Value{}, err
	}
	return bson.ArrayValue(raw), nil
}

