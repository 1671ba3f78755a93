// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package client

import (
	"time"

	"github.com/dkvstore/docdriver/driver"
	"github.com/dkvstore/docdriver/readpref"
	"github.com/dkvstore/docdriver/topology"
	"github.com/sirupsen/logrus"
)

// defaults mirror the values spec.md §6 assigns when a connection string
// and its options are silent.
const (
	defaultHeartbeatFrequency     = 10 * time.Second
	defaultLocalThreshold         = 15 * time.Millisecond
	defaultServerSelectionTimeout = 30 * time.Second
	defaultMaxPoolSize            = 100
	defaultSessionTimeoutMinutes  = 30
)

type clientOptions struct {
	appName                string
	heartbeatFrequency     time.Duration
	localThreshold         time.Duration
	serverSelectionTimeout time.Duration
	maxPoolSize            uint64
	minPoolSize            uint64
	maxConnIdleTime        time.Duration
	readPref               *readpref.ReadPref
	retryWrites            bool
	retryReads             bool
	compressor             driver.Compressor
	dialer                 topology.Dialer
	logger                 *logrus.Entry
	sessionTimeoutMinutes  int32
}

func defaultOptions() *clientOptions {
	return &clientOptions{
		heartbeatFrequency:     defaultHeartbeatFrequency,
		localThreshold:         defaultLocalThreshold,
		serverSelectionTimeout: defaultServerSelectionTimeout,
		maxPoolSize:            defaultMaxPoolSize,
		readPref:               readpref.Primary(),
		retryWrites:            true,
		retryReads:             true,
		sessionTimeoutMinutes:  defaultSessionTimeoutMinutes,
		logger:                 logrus.NewEntry(logrus.StandardLogger()),
	}
}

// Option configures a Client at construction time, composing with whatever
// a connection string already set — an Option always wins over the
// connection string's value for the same setting.
type Option func(*clientOptions)

// WithAppName sets the application name a deployment logs alongside this
// client's connections.
func WithAppName(name string) Option {
	return func(o *clientOptions) { o.appName = name }
}

// WithReadPreference overrides the default read preference (primary) that
// RunCommand and Ping use when none is given per call.
func WithReadPreference(rp *readpref.ReadPref) Option {
	return func(o *clientOptions) { o.readPref = rp }
}

// WithHeartbeatFrequency overrides how often each server's Monitor checks
// in outside of an application-driven RequestImmediateCheck.
func WithHeartbeatFrequency(d time.Duration) Option {
	return func(o *clientOptions) { o.heartbeatFrequency = d }
}

// WithLocalThreshold sets the latency window server selection widens the
// primary/nearest candidate set by.
func WithLocalThreshold(d time.Duration) Option {
	return func(o *clientOptions) { o.localThreshold = d }
}

// WithServerSelectionTimeout records the server selection timeout in the
// client options. The value is not passed to the Topology; how long
// SelectServer waits for a suitable server is bounded only by the caller's
// context.
func WithServerSelectionTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.serverSelectionTimeout = d }
}

// WithMaxPoolSize bounds each server's connection pool.
func WithMaxPoolSize(n uint64) Option {
	return func(o *clientOptions) { o.maxPoolSize = n }
}

// WithMinPoolSize sets the floor maintainMinSize tries to keep each pool
// above.
func WithMinPoolSize(n uint64) Option {
	return func(o *clientOptions) { o.minPoolSize = n }
}

// WithMaxConnIdleTime bounds how long a pooled connection may sit idle
// before a checkout discards it instead of reusing it.
func WithMaxConnIdleTime(d time.Duration) Option {
	return func(o *clientOptions) { o.maxConnIdleTime = d }
}

// WithCompressor negotiates wire-message compression for every operation
// this Client runs.
func WithCompressor(c driver.Compressor) Option {
	return func(o *clientOptions) { o.compressor = c }
}

// WithDialer overrides the network dialer every Monitor and Pool uses —
// the hook integration tests use to run against an in-memory listener.
func WithDialer(d topology.Dialer) Option {
	return func(o *clientOptions) { o.dialer = d }
}

// WithLogger injects the logrus.Entry this Client and everything it owns
// logs through, instead of the package-level default.
func WithLogger(e *logrus.Entry) Option {
	return func(o *clientOptions) { o.logger = e }
}

// WithRetryWrites records the retryWrites setting in the client options.
// RunCommand and Ping run every command without retry whatever its value.
func WithRetryWrites(b bool) Option {
	return func(o *clientOptions) { o.retryWrites = b }
}

// WithRetryReads records the retryReads setting in the client options.
// RunCommand and Ping run every command without retry whatever its value.
func WithRetryReads(b bool) Option {
	return func(o *clientOptions) { o.retryReads = b }
}
