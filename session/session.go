// Package session implements the Session state machine (C4): socket
// ownership, the wire parser/encoder, the job queue, tag routing, and
// the watchdog timers, grounded on original_source/src/session.cpp's
// SessionPrivate (responseReceived, sendCommand, addJob/startNext/
// jobDone) and on a goroutine-and-channel connection handling style.
package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"kimapgo/job"
	"kimapgo/logger"
	"kimapgo/watchdog"
	"kimapgo/wire"
)

// State is the session's connection/authentication state.
type State int

const (
	Disconnected State = iota
	NotAuthenticated
	Authenticated
	Selected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case NotAuthenticated:
		return "NotAuthenticated"
	case Authenticated:
		return "Authenticated"
	case Selected:
		return "Selected"
	default:
		return "Unknown"
	}
}

// ErrConnectionLost is wrapped into the error handed to jobs and to
// OnConnectionFailed when the socket dies unexpectedly.
var ErrConnectionLost = fmt.Errorf("session: connection lost")

// ErrHostileGreeting is returned when the server's opening line is
// neither OK nor PREAUTH.
var ErrHostileGreeting = fmt.Errorf("session: hostile or malformed greeting")

// Session owns the socket, the parser, the outbound encoder, the job
// queue, the tag-to-state-transition tracking, the logger sink, and
// the watchdog timers.
type Session struct {
	connMu sync.Mutex
	conn   net.Conn

	buf     *wire.ByteBuffer
	parser  *wire.Parser
	builder *wire.MessageBuilder
	encoder *wire.Encoder

	msgCh    chan *wire.Message
	ioErrCh  chan error
	submitCh chan job.Job
	closeCh  chan struct{}
	closed   chan struct{}
	closeOnce sync.Once

	pumpGen int // bumped on every UpgradeTLS so a stale pump's bytes/errors are ignored

	state          State
	queue          []job.Job
	current        job.Job
	authTag        string
	selectTag      string
	closeTag       string
	upcomingMbox   string
	currentMailbox string
	serverGreeting string
	greeted        bool

	pendingLiteralTag string
	pendingLiteralCh  chan error

	log  *slog.Logger
	sink logger.Sink
	wd   *watchdog.Watchdog

	onStateChanged     func(newState, old State)
	onConnectionFailed func(error)
	onQueueSizeChanged func(int)
	onSSLErrors        func([]error)
}

// New builds a Session over an already-dialed connection (plaintext or
// already TLS-wrapped for implicit TLS). Call Run to start driving it.
func New(conn net.Conn, log *slog.Logger, sink logger.Sink) *Session {
	if sink == nil {
		sink = logger.NoopSink{}
	}
	s := &Session{
		conn:     conn,
		buf:      wire.NewByteBuffer(wire.DefaultBufferSize),
		msgCh:    make(chan *wire.Message, 16),
		ioErrCh:  make(chan error, 1),
		submitCh: make(chan job.Job, 8),
		closeCh:  make(chan struct{}),
		closed:   make(chan struct{}),
		log:      log,
		sink:     sink,
	}
	s.builder = wire.NewMessageBuilder(func(m *wire.Message) {
		s.msgCh <- m
	})
	s.parser = wire.NewParser(s.buf, s.builder)
	s.encoder = wire.NewEncoder(s)
	s.wd = watchdog.New(watchdog.DefaultIdleTimeout, s.onIdleTimeout, s.onProgressTick)
	return s
}

// Write implements io.Writer for wire.Encoder: every byte the encoder
// produces goes through here so traffic logging and the watchdog stay
// consistent regardless of which call site wrote it.
func (s *Session) Write(p []byte) (int, error) {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	n, err := conn.Write(p)
	if err != nil {
		return n, err
	}
	s.sink.DataSent(p)
	s.wd.ResetIdle()
	return n, nil
}

// Run starts the background read pump and the owning event loop. It
// returns immediately; use Closed to wait for termination.
func (s *Session) Run() {
	s.startPump(s.conn, s.pumpGen)
	go s.loop()
}

// Closed is closed once the session's event loop has exited.
func (s *Session) Closed() <-chan struct{} { return s.closed }

// State returns the current session state.
func (s *Session) State() State { return s.state }

// CurrentMailbox returns the selected mailbox name, or "" outside
// State Selected.
func (s *Session) CurrentMailbox() string { return s.currentMailbox }

// ServerGreeting returns the stored greeting text, replaced by the
// final OK line's text on successful login.
func (s *Session) ServerGreeting() string { return s.serverGreeting }

// JobQueueSize returns the number of jobs queued plus one if a job is
// currently running (mirrors the original's queue.size() + jobRunning).
func (s *Session) JobQueueSize() int {
	n := len(s.queue)
	if s.current != nil {
		n++
	}
	return n
}

// OnStateChanged registers the state-transition event callback.
func (s *Session) OnStateChanged(f func(newState, old State)) { s.onStateChanged = f }

// OnConnectionFailed registers the connection-failure event callback.
func (s *Session) OnConnectionFailed(f func(error)) { s.onConnectionFailed = f }

// OnQueueSizeChanged registers the queue-size event callback.
func (s *Session) OnQueueSizeChanged(f func(int)) { s.onQueueSizeChanged = f }

// OnSSLErrors registers the TLS-error event callback (surfaced, never
// acted on automatically — the caller decides whether to proceed).
func (s *Session) OnSSLErrors(f func([]error)) { s.onSSLErrors = f }

// SetTimeout adjusts the idle watchdog (spec's session.setTimeout;
// seconds<=0 disables it).
func (s *Session) SetTimeout(seconds int) {
	s.wd.SetIdleTimeout(time.Duration(seconds) * time.Second)
}

// Submit enqueues a job. Safe to call from any goroutine: external
// callers submitting jobs from another goroutine post the submission
// through submitCh rather than touching session state directly.
func (s *Session) Submit(j job.Job) {
	select {
	case s.submitCh <- j:
	case <-s.closed:
	}
}

// Close aborts the socket; all queued and running jobs receive
// ConnectionLost.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closeCh) })
}

// setState applies a state transition and fires the event if it
// actually changed (mirrors SessionPrivate::setState).
func (s *Session) setState(newState State) {
	if newState == s.state {
		return
	}
	old := s.state
	s.state = newState
	if s.onStateChanged != nil {
		s.onStateChanged(newState, old)
	}
}

func (s *Session) setQueueSize() {
	if s.onQueueSizeChanged != nil {
		s.onQueueSizeChanged(s.JobQueueSize())
	}
}

// loop is the single owning execution context: every piece of session
// state (queue, current job, tag tracking, mailbox binding) is only
// ever touched from here, with no internal lock beyond the pump's io
// boundary.
func (s *Session) loop() {
	defer close(s.closed)
	defer s.wd.Stop()
	for {
		select {
		case msg := <-s.msgCh:
			s.wd.ResetIdle()
			s.routeMessage(msg)
		case err := <-s.ioErrCh:
			s.handleConnectionLost(err)
			return
		case j := <-s.submitCh:
			s.queue = append(s.queue, j)
			s.setQueueSize()
			s.startNext()
		case <-s.closeCh:
			s.connMu.Lock()
			s.conn.Close()
			s.connMu.Unlock()
			s.failAllJobs(ErrConnectionLost)
			s.setState(Disconnected)
			return
		}
	}
}

// startNext dequeues and starts the next job if the session is
// connected and none is currently running (mirrors
// SessionPrivate::doStartNext).
func (s *Session) startNext() {
	if len(s.queue) == 0 || s.current != nil || s.state == Disconnected && !s.greeted {
		return
	}
	j := s.queue[0]
	s.queue = s.queue[1:]
	s.current = j
	s.wd.SetActiveJob(j.Name())
	if err := j.Start(context.Background(), s); err != nil {
		s.log.Error("job failed to start", "job", j.Name(), "err", err)
		s.jobDone()
	}
}

// jobDone retires the current job and advances the queue (mirrors
// SessionPrivate::jobDone).
func (s *Session) jobDone() {
	s.current = nil
	s.wd.SetActiveJob("")
	s.setQueueSize()
	s.startNext()
}

// failAllJobs finalizes the running and queued jobs with
// ConnectionLost, in FIFO order.
func (s *Session) failAllJobs(cause error) {
	if s.current != nil {
		s.current.ConnectionLost(cause)
		s.current = nil
	}
	pending := s.queue
	s.queue = nil
	for _, j := range pending {
		j.ConnectionLost(cause)
	}
	s.setQueueSize()
}

func (s *Session) handleConnectionLost(err error) {
	s.connMu.Lock()
	s.conn.Close()
	s.connMu.Unlock()
	lost := fmt.Errorf("%w: %v", ErrConnectionLost, err)
	s.failAllJobs(lost)
	s.setState(Disconnected)
	s.sink.Disconnected()
	if s.onConnectionFailed != nil {
		s.onConnectionFailed(lost)
	}
}

func (s *Session) onIdleTimeout() {
	select {
	case s.ioErrCh <- fmt.Errorf("idle watchdog expired"):
	default:
	}
}

func (s *Session) onProgressTick(jobName string) {
	s.log.Debug("still waiting on job", "job", jobName)
}

// routeMessage implements the response-routing rules, grounded on
// SessionPrivate::responseReceived.
func (s *Session) routeMessage(msg *wire.Message) {
	tag := msg.Tag()
	status := msg.StatusWord()

	if tag == "*" && status == "BYE" {
		// The server will close the connection on its own; nothing to do.
		return
	}

	switch s.state {
	case Disconnected:
		s.handleGreeting(msg, status)
		return
	case NotAuthenticated:
		if status == "OK" && tag == s.authTag {
			s.setState(Authenticated)
			s.serverGreeting = strings.TrimSpace(stripLeading(msg, 2))
		}
	case Authenticated:
		if status == "OK" && tag == s.selectTag {
			s.setState(Selected)
			s.currentMailbox = canonicalizeMailbox(s.upcomingMbox)
		}
	case Selected:
		switch {
		case status == "OK" && tag == s.closeTag:
			s.setState(Authenticated)
			s.currentMailbox = ""
		case status != "OK" && tag == s.selectTag:
			s.setState(Authenticated)
			s.currentMailbox = ""
		case status == "OK" && tag == s.selectTag:
			s.currentMailbox = canonicalizeMailbox(s.upcomingMbox)
		}
	}

	if tag == s.authTag {
		s.authTag = ""
	}
	if tag == s.selectTag {
		s.selectTag = ""
	}
	if tag == s.closeTag {
		s.closeTag = ""
	}

	if tag == "+" && s.pendingLiteralCh != nil {
		ch := s.pendingLiteralCh
		s.pendingLiteralCh = nil
		s.pendingLiteralTag = ""
		select {
		case ch <- nil:
		default:
		}
	}

	if s.current != nil {
		s.current.HandleResponse(msg)
		select {
		case <-s.current.Done():
			s.jobDone()
		default:
		}
	} else {
		s.log.Warn("orphan response with no job to handle it", "message", msg.String())
	}
}

func (s *Session) handleGreeting(msg *wire.Message, status string) {
	s.greeted = true
	switch status {
	case "OK":
		s.setState(NotAuthenticated)
		s.serverGreeting = strings.TrimSpace(stripLeading(msg, 2))
		s.startNext()
	case "PREAUTH":
		s.setState(Authenticated)
		s.serverGreeting = strings.TrimSpace(stripLeading(msg, 2))
		s.startNext()
	default:
		s.connMu.Lock()
		s.conn.Close()
		s.connMu.Unlock()
		s.failAllJobs(ErrHostileGreeting)
	}
}

// stripLeading renders msg's content with the first n parts (the tag
// and status word) removed, for the "remainder of the greeting" and
// the final-OK-line replacement.
func stripLeading(msg *wire.Message, n int) string {
	if len(msg.Content) <= n {
		return ""
	}
	rest := &wire.Message{Content: msg.Content[n:]}
	return rest.String()
}

// canonicalizeMailbox rewrites the first segment to uppercase INBOX if
// it matches case-insensitively. The hierarchy separator itself is
// opaque here: only the boundary between "INBOX" and whatever follows
// matters.
func canonicalizeMailbox(name string) string {
	if len(name) < 5 || !strings.EqualFold(name[:5], "INBOX") {
		return name
	}
	if len(name) > 5 && isAlphaNumeric(name[5]) {
		return name // e.g. "INBOXER" is not a segment match
	}
	return "INBOX" + name[5:]
}

func isAlphaNumeric(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// SendCommand implements job.Sender: allocates a tag, writes the
// encoded command, and tracks whether it is auth-affecting,
// mailbox-selecting, or mailbox-closing, grounded on
// SessionPrivate::sendCommand's verb dispatch.
func (s *Session) SendCommand(ctx context.Context, j job.Job, verb string, args ...wire.Arg) (string, error) {
	tag := s.encoder.NextTag()
	if bj, ok := j.(interface{ TrackTag(string) }); ok {
		bj.TrackTag(tag)
	}

	switch strings.ToUpper(verb) {
	case "LOGIN", "AUTHENTICATE":
		s.authTag = tag
	case "SELECT", "EXAMINE":
		s.selectTag = tag
		s.upcomingMbox = firstQuotedArg(args)
	case "CLOSE":
		s.closeTag = tag
	}

	if !hasLiteralArg(args) {
		return tag, s.encoder.Encode(nil, tag, verb, args...)
	}

	// A literal-framed argument requires waiting for the server's "+"
	// continuation mid-command. That wait must not block loop() (which
	// is the same goroutine invoking this method from job.Start or
	// job.HandleResponse), so the blocking Encode call runs on a
	// detached goroutine; routeMessage signals pendingLiteralCh when it
	// sees the continuation.
	waitCh := make(chan error, 1)
	s.pendingLiteralTag = tag
	s.pendingLiteralCh = waitCh
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.encoder.Encode(waiterFunc(func() error {
			select {
			case err := <-waitCh:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		}), tag, verb, args...)
	}()
	go func() {
		if err := <-errCh; err != nil {
			s.log.Error("failed to send literal-framed command", "job", j.Name(), "verb", verb, "err", err)
		}
	}()
	return tag, nil
}

// waiterFunc adapts a plain func() error to wire.ContinuationWaiter.
type waiterFunc func() error

func (f waiterFunc) WaitContinuation() error { return f() }

func hasLiteralArg(args []wire.Arg) bool {
	for _, a := range args {
		if a.Literal != nil {
			return true
		}
	}
	return false
}

// firstQuotedArg extracts the bare mailbox name from a SELECT/EXAMINE
// argument list for upcomingMailBox tracking (mirrors
// SessionPrivate::sendCommand's ad hoc quote-stripping).
func firstQuotedArg(args []wire.Arg) string {
	if len(args) == 0 {
		return ""
	}
	return strings.Trim(args[0].Quoted, `"`)
}

// SendContinuationLine writes a raw line with no tag prefix — used by
// SASL exchanges to answer a "+" challenge.
func (s *Session) SendContinuationLine(data []byte) error {
	_, err := s.Write(append(append([]byte{}, data...), '\r', '\n'))
	return err
}

// UpgradeTLS performs a STARTTLS upgrade: stops the read pump, runs
// the TLS handshake directly on the raw connection, then restarts the
// pump over the encrypted connection. Spec §9's pinned Open Question
// ("always wait for the TLS-result signal") is honored by the caller
// (login.Job): this method only performs the mechanical upgrade once
// the job has already seen the STARTTLS command's tagged OK.
func (s *Session) UpgradeTLS(cfg *tls.Config) error {
	s.connMu.Lock()
	plain := s.conn
	s.pumpGen++
	gen := s.pumpGen
	s.connMu.Unlock()

	// Unstick a pump goroutine that may be blocked in Read on plain.
	plain.SetReadDeadline(time.Now())

	tlsConn := tls.Client(plain, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("session: TLS handshake: %w", err)
	}
	if cs := tlsConn.ConnectionState(); len(cs.PeerCertificates) == 0 {
		// No certificate at all is always worth surfacing, even though
		// cert validation itself already happened inside Handshake.
		if s.onSSLErrors != nil {
			s.onSSLErrors([]error{fmt.Errorf("session: server presented no certificate")})
		}
	}

	s.connMu.Lock()
	tlsConn.SetReadDeadline(time.Time{})
	s.conn = tlsConn
	s.connMu.Unlock()

	s.startPump(tlsConn, gen)
	return nil
}

// startPump launches the dedicated goroutine that only reads bytes off
// conn and forwards them to msgCh (via the parser, synchronously) or
// reports a fatal read error on ioErrCh. gen pins this pump to the
// connection generation it was started for, so a stale pump restarted
// by a since-superseded UpgradeTLS cannot deliver bytes after the
// upgrade.
func (s *Session) startPump(conn net.Conn, gen int) {
	go func() {
		buf := make([]byte, 16*1024)
		for {
			n, err := conn.Read(buf)
			s.connMu.Lock()
			stale := gen != s.pumpGen
			s.connMu.Unlock()
			if stale {
				return
			}
			if n > 0 {
				s.sink.DataReceived(buf[:n])
				s.wd.ResetIdle()
				if perr := s.parser.Feed(append([]byte(nil), buf[:n]...)); perr != nil {
					select {
					case s.ioErrCh <- perr:
					default:
					}
					return
				}
			}
			if err != nil {
				if isDeadlineErr(err) {
					continue // UpgradeTLS unsticking a blocked Read; pump exits via the stale check above
				}
				select {
				case s.ioErrCh <- err:
				default:
				}
				return
			}
		}
	}()
}

func isDeadlineErr(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
