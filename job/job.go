// Package job implements the Job Abstraction (C5): the contract every
// IMAP command (login, delete, select, list, ...) fulfills, plus the
// shared response-handling helper jobs build on top of.
package job

import (
	"context"
	"fmt"

	"kimapgo/wire"
)

// Status classifies how a Job finished (spec §4.5 lifecycle:
// queued → running → finished (Ok | UserError | ConnectionLost |
// ProtocolError)).
type Status int

const (
	StatusOk Status = iota
	StatusUserError
	StatusConnectionLost
	StatusProtocolError
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "Ok"
	case StatusUserError:
		return "UserError"
	case StatusConnectionLost:
		return "ConnectionLost"
	case StatusProtocolError:
		return "ProtocolError"
	default:
		return "Unknown"
	}
}

// Result is a job's final, immutable outcome.
type Result struct {
	Status Status
	// Err carries the failure detail for UserError/ConnectionLost/
	// ProtocolError. Nil when Status == StatusOk.
	Err error
}

func (r Result) String() string {
	if r.Err == nil {
		return r.Status.String()
	}
	return fmt.Sprintf("%s: %v", r.Status, r.Err)
}

// Sender is the narrow slice of session.Session a running job needs:
// allocate a tag and write an encoded command. Declared here (rather
// than imported from session) to avoid an import cycle, since
// session.Session holds a queue of Job values.
type Sender interface {
	SendCommand(ctx context.Context, j Job, verb string, args ...wire.Arg) (tag string, err error)
}

// Job is the contract every concrete command (login.Job, jobs.Delete,
// jobs.Select, ...) implements (spec §4.5).
type Job interface {
	// Name identifies the job for logging and error text.
	Name() string
	// Start is invoked once the session makes this the running job; the
	// job issues its initial command(s) via Sender.
	Start(ctx context.Context, s Sender) error
	// HandleResponse is invoked for every response matching one of the
	// job's issued tags, or any untagged response while it is running.
	HandleResponse(msg *wire.Message)
	// ConnectionLost is invoked if the socket dies while this job is
	// running; the job must finalize with StatusConnectionLost.
	ConnectionLost(err error)
	// Done reports completion; closed exactly once, when the job calls
	// EmitResult.
	Done() <-chan struct{}
	// Result returns the job's outcome. Valid only after Done is closed.
	Result() Result
}

// Base is embedded by every concrete Job and supplies tag bookkeeping,
// the handle_error_replies terminator recognition shared by all jobs,
// and the done/result plumbing — the Go collapse of the original's
// Job/JobPrivate public/private split (spec §9 "Private opaque
// structures").
type Base struct {
	name string
	tags map[string]struct{}

	// successCodes are response-code names that turn an otherwise
	// failing NO/BAD terminator into success, e.g. NONEXISTENT on
	// DELETE, ALREADYEXISTS on CREATE (RFC 5530 idempotent replies).
	successCodes map[string]struct{}

	done    chan struct{}
	result  Result
	emitted bool
}

// NewBase constructs a Base for a job named name, optionally treating
// the given response-code names as success overrides on a non-OK
// terminator.
func NewBase(name string, successCodes ...string) *Base {
	b := &Base{
		name: name,
		tags: make(map[string]struct{}),
		done: make(chan struct{}),
	}
	if len(successCodes) > 0 {
		b.successCodes = make(map[string]struct{}, len(successCodes))
		for _, c := range successCodes {
			b.successCodes[c] = struct{}{}
		}
	}
	return b
}

// Name implements part of Job.
func (b *Base) Name() string { return b.name }

// Done implements part of Job.
func (b *Base) Done() <-chan struct{} { return b.done }

// Result implements part of Job.
func (b *Base) Result() Result { return b.result }

// TrackTag records a tag this job has issued, so later responses
// carrying it are recognized as belonging to this job (a job may issue
// several sequential commands, e.g. login's STARTTLS/CAPABILITY/LOGIN).
func (b *Base) TrackTag(tag string) { b.tags[tag] = struct{}{} }

// OwnsTag reports whether tag was issued by this job and not yet
// retired.
func (b *Base) OwnsTag(tag string) bool {
	_, ok := b.tags[tag]
	return ok
}

// HandleErrorReplies is the shared terminator recognizer (spec §4.5):
// if msg's leading tag is one this job issued, status OK completes the
// job successfully; any other status completes it with StatusUserError
// carrying the raw server text, unless the response code matches one
// of the job's successCodes, in which case it is treated as success
// too (spec §9 Open Question: DELETE's NONEXISTENT is a pinned
// success, not an error).
//
// Returns true if msg was this job's terminator (handled), false if
// the caller (the job's own HandleResponse) must keep looking.
func (b *Base) HandleErrorReplies(msg *wire.Message) bool {
	tag := msg.Tag()
	if tag == "" || !b.OwnsTag(tag) {
		return false
	}
	status := msg.StatusWord()
	switch {
	case status == "OK":
		b.retire(tag)
		b.maybeEmit(Result{Status: StatusOk})
	case b.successCodes != nil && b.hasSuccessCode(msg):
		b.retire(tag)
		b.maybeEmit(Result{Status: StatusOk})
	case status == "":
		b.retire(tag)
		b.maybeEmit(Result{Status: StatusUserError, Err: fmt.Errorf("%s: malformed reply from the server", b.name)})
	default:
		b.retire(tag)
		b.maybeEmit(Result{Status: StatusUserError, Err: fmt.Errorf("%s: server replied: %s", b.name, msg.String())})
	}
	return true
}

func (b *Base) hasSuccessCode(msg *wire.Message) bool {
	name := msg.ResponseCodeName()
	if name == "" {
		return false
	}
	_, ok := b.successCodes[name]
	return ok
}

func (b *Base) retire(tag string) {
	delete(b.tags, tag)
}

// maybeEmit finalizes the job once every issued tag has been retired —
// "only emit result when the last command returned", matching the
// original's tags.isEmpty() check, since a job may have several tags
// outstanding across its sequential commands.
func (b *Base) maybeEmit(r Result) {
	if len(b.tags) > 0 {
		return
	}
	b.EmitResult(r)
}

// EmitResult finalizes the job with r, closing Done exactly once. Safe
// to call directly for non-terminator completions (ConnectionLost,
// ProtocolError) that bypass HandleErrorReplies.
func (b *Base) EmitResult(r Result) {
	if b.emitted {
		return
	}
	b.emitted = true
	b.result = r
	close(b.done)
}

// ConnectionLost implements part of Job; embedders may call this
// directly as their ConnectionLost method, or wrap it to add cleanup.
func (b *Base) ConnectionLost(err error) {
	b.EmitResult(Result{Status: StatusConnectionLost, Err: fmt.Errorf("connection to server lost: %w", err)})
}
