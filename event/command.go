package event

import (
	"time"

	"github.com/dkvstore/docdriver/bson"
)

// CommandKind identifies where in a command's lifecycle an event fired.
type CommandKind uint8

// Command event kinds, per §6.
const (
	CommandStarted CommandKind = iota
	CommandSucceeded
	CommandFailed
)

// elisionLimit caps how much of a command/reply document is kept in an
// event, per §6's "document fields over a configurable size are elided to
// keep log lines bounded".
const elisionLimit = 1000

// Command is published at each of the three points in §6's Command
// observability surface.
type Command struct {
	Kind           CommandKind
	Command        bson.Doc
	CommandName    string
	DatabaseName   string
	RequestID      int32
	OperationID    int64
	ConnectionID   uint64
	Duration       time.Duration
	Reply          bson.Doc
	Failure        error
	Elided         bool
}

// CommandPublisher fans Command events out to subscribers.
type CommandPublisher struct{ p *publisher[Command] }

// NewCommandPublisher builds an empty publisher.
func NewCommandPublisher() *CommandPublisher { return &CommandPublisher{p: newPublisher[Command]()} }

// Subscribe registers a listener.
func (cp *CommandPublisher) Subscribe() (<-chan Command, func()) { return cp.p.Subscribe() }

// Dropped returns the count of events dropped for lagging subscribers.
func (cp *CommandPublisher) Dropped() uint64 { return cp.p.Dropped() }

// Publish elides an oversized command/reply document before fanning out,
// per §6.
func (cp *CommandPublisher) Publish(e Command) {
	if len(e.Command) > elisionLimit {
		e.Command = e.Command[:elisionLimit]
		e.Elided = true
	}
	if len(e.Reply) > elisionLimit {
		e.Reply = e.Reply[:elisionLimit]
		e.Elided = true
	}
	cp.p.Publish(e)
}
