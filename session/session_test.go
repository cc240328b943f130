package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"kimapgo/job"
	"kimapgo/jobs"
	"kimapgo/login"
	"kimapgo/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeServer is an inline "just enough IMAP server" built per-file
// over net.Pipe (no reusable harness package — SPEC_FULL §4's
// supplemented-features note pins this down explicitly).
type fakeServer struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func newFakeServer(t *testing.T, conn net.Conn) *fakeServer {
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return &fakeServer{t: t, conn: conn, r: bufio.NewReader(conn)}
}

// send and readLine report failures with Errorf rather than Fatalf:
// both run from background goroutines in several tests below, and
// FailNow (which Fatalf calls) is only safe from the test's own
// goroutine.
func (f *fakeServer) send(line string) {
	if _, err := fmt.Fprint(f.conn, line); err != nil {
		f.t.Errorf("fakeServer.send: %v", err)
	}
}

func (f *fakeServer) readLine() string {
	line, err := f.r.ReadString('\n')
	if err != nil {
		f.t.Errorf("fakeServer.readLine: %v", err)
		return ""
	}
	return strings.TrimRight(line, "\r\n")
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if s.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state %s, still at %s", want, s.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestGreetingOKEntersNotAuthenticated(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	sess := New(clientConn, testLogger(), nil)
	sess.Run()

	fs := newFakeServer(t, serverConn)
	fs.send("* OK IMAP4rev1 Service Ready\r\n")

	waitForState(t, sess, NotAuthenticated)
	if got := sess.ServerGreeting(); got != "IMAP4rev1 Service Ready" {
		t.Errorf("ServerGreeting() = %q, want %q", got, "IMAP4rev1 Service Ready")
	}
}

func TestPREAUTHGreetingEntersAuthenticated(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	sess := New(clientConn, testLogger(), nil)
	sess.Run()

	fs := newFakeServer(t, serverConn)
	fs.send("* PREAUTH already authenticated as alice\r\n")

	waitForState(t, sess, Authenticated)
}

func TestHostileGreetingFailsQueuedJobs(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	sess := New(clientConn, testLogger(), nil)
	j := jobs.NewNoop()
	sess.Submit(j)
	sess.Run()

	fs := newFakeServer(t, serverConn)
	fs.send("* BAD malformed greeting\r\n")

	select {
	case <-j.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("expected queued job to finish after a hostile greeting")
	}
	if res := j.Result(); res.Status != job.StatusConnectionLost {
		t.Fatalf("expected StatusConnectionLost, got %v", res)
	}
}

func TestLoginFlowEndToEndReplacesGreeting(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	sess := New(clientConn, testLogger(), nil)
	sess.Run()
	fs := newFakeServer(t, serverConn)

	go func() {
		fs.send("* OK IMAP4rev1 Service Ready\r\n")
		line := fs.readLine() // A000001 CAPABILITY
		tag := strings.Fields(line)[0]
		fs.send("* CAPABILITY IMAP4rev1 AUTH=PLAIN\r\n")
		fs.send(tag + " OK CAPABILITY completed\r\n")

		line = fs.readLine() // A000002 LOGIN "alice" "secret"
		tag = strings.Fields(line)[0]
		if !strings.Contains(line, `LOGIN "alice" "secret"`) {
			t.Errorf("unexpected LOGIN command: %q", line)
		}
		fs.send(tag + " OK LOGIN completed, welcome alice\r\n")
	}()

	waitForState(t, sess, NotAuthenticated)

	lj := login.New(login.Options{Username: "alice", Password: "secret"})
	sess.Submit(lj)

	select {
	case <-lj.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("login job did not complete")
	}
	if res := lj.Result(); res.Status != job.StatusOk {
		t.Fatalf("expected login to succeed, got %v", res)
	}
	waitForState(t, sess, Authenticated)
	if got := sess.ServerGreeting(); got != "LOGIN completed, welcome alice" {
		t.Errorf("ServerGreeting() after login = %q", got)
	}
}

func TestSelectCanonicalizesInboxAndTransitionsToSelected(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	sess := New(clientConn, testLogger(), nil)
	sess.Run()
	fs := newFakeServer(t, serverConn)

	fs.send("* PREAUTH already authenticated\r\n")
	waitForState(t, sess, Authenticated)

	go func() {
		line := fs.readLine() // A000001 SELECT "inbox"
		tag := strings.Fields(line)[0]
		fs.send("* 15 EXISTS\r\n")
		fs.send(tag + " OK [READ-WRITE] SELECT completed\r\n")
	}()

	sel := jobs.NewSelect("inbox", false)
	sess.Submit(sel)
	<-sel.Done()
	if res := sel.Result(); res.Status != job.StatusOk {
		t.Fatalf("expected SELECT to succeed, got %v", res)
	}
	waitForState(t, sess, Selected)
	if got := sess.CurrentMailbox(); got != "INBOX" {
		t.Errorf("CurrentMailbox() = %q, want INBOX (canonicalized)", got)
	}
}

func TestFailedSelectReturnsToAuthenticated(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	sess := New(clientConn, testLogger(), nil)
	sess.Run()
	fs := newFakeServer(t, serverConn)

	fs.send("* PREAUTH already authenticated\r\n")
	waitForState(t, sess, Authenticated)

	go func() {
		line := fs.readLine()
		tag := strings.Fields(line)[0]
		fs.send(tag + " NO [NONEXISTENT] no such mailbox\r\n")
	}()

	sel := jobs.NewSelect("Ghost", false)
	sess.Submit(sel)
	<-sel.Done()
	if res := sel.Result(); res.Status != job.StatusUserError {
		t.Fatalf("expected a failed SELECT, got %v", res)
	}
	if sess.State() != Authenticated {
		t.Fatalf("expected state to remain Authenticated, got %s", sess.State())
	}
	if sess.CurrentMailbox() != "" {
		t.Errorf("expected no mailbox bound after a failed SELECT, got %q", sess.CurrentMailbox())
	}
}

func TestConnectionLostFailsRunningAndQueuedJobs(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	sess := New(clientConn, testLogger(), nil)
	sess.Run()
	fs := newFakeServer(t, serverConn)
	fs.send("* PREAUTH already authenticated\r\n")
	waitForState(t, sess, Authenticated)

	running := jobs.NewNoop()
	queued := jobs.NewNoop()
	sess.Submit(running)

	// Drain the NOOP command so the session's Write doesn't block
	// forever on the unbuffered pipe, then go silent and close: the
	// running job is left waiting on a response that never arrives.
	go fs.readLine()
	time.Sleep(10 * time.Millisecond)
	sess.Submit(queued)
	time.Sleep(10 * time.Millisecond)

	serverConn.Close()

	for _, j := range []job.Job{running, queued} {
		select {
		case <-j.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("expected job to finish after connection loss")
		}
		if res := j.Result(); res.Status != job.StatusConnectionLost {
			t.Fatalf("expected StatusConnectionLost, got %v", res)
		}
	}
}

func TestBYEPrecedingLogoutIsNotRoutedToJob(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	sess := New(clientConn, testLogger(), nil)
	sess.Run()
	fs := newFakeServer(t, serverConn)
	fs.send("* PREAUTH already authenticated\r\n")
	waitForState(t, sess, Authenticated)

	go func() {
		line := fs.readLine()
		tag := strings.Fields(line)[0]
		fs.send("* BYE logging out\r\n")
		fs.send(tag + " OK LOGOUT completed\r\n")
	}()

	lo := jobs.NewLogout()
	sess.Submit(lo)
	select {
	case <-lo.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("logout job did not complete")
	}
	if res := lo.Result(); res.Status != job.StatusOk {
		t.Fatalf("expected Logout to succeed despite the preceding BYE, got %v", res)
	}
}

// literalJob is a minimal job.Job sending one literal-framed argument,
// exercising SendCommand's continuation-wait path.
type literalJob struct {
	*job.Base
	payload []byte
}

func newLiteralJob(payload []byte) *literalJob {
	return &literalJob{Base: job.NewBase("Append"), payload: payload}
}

func (l *literalJob) Start(ctx context.Context, s job.Sender) error {
	_, err := s.SendCommand(ctx, l, "APPEND", wire.QuotedArg("INBOX"), wire.LiteralArg(l.payload))
	return err
}

func (l *literalJob) HandleResponse(msg *wire.Message) {
	l.HandleErrorReplies(msg)
}

func TestLiteralArgumentWaitsForContinuation(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	sess := New(clientConn, testLogger(), nil)
	sess.Run()
	fs := newFakeServer(t, serverConn)
	fs.send("* PREAUTH already authenticated\r\n")
	waitForState(t, sess, Authenticated)

	payload := []byte("Subject: hi\r\n\r\nbody\r\n")

	go func() {
		header := fs.readLine() // A000001 APPEND "INBOX" {N}
		if !strings.Contains(header, fmt.Sprintf("{%d}", len(payload))) {
			t.Errorf("expected literal header with length %d, got %q", len(payload), header)
		}
		fs.send("+ go ahead\r\n")

		buf := make([]byte, len(payload))
		if _, err := io.ReadFull(fs.r, buf); err != nil {
			t.Errorf("reading literal payload: %v", err)
			return
		}
		if string(buf) != string(payload) {
			t.Errorf("got literal payload %q, want %q", buf, payload)
		}
		fs.r.ReadString('\n') // trailing CRLF after the literal

		fs.send("A000001 OK APPEND completed\r\n")
	}()

	lj := newLiteralJob(payload)
	sess.Submit(lj)
	select {
	case <-lj.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("literal-framed job did not complete")
	}
	if res := lj.Result(); res.Status != job.StatusOk {
		t.Fatalf("expected StatusOk, got %v", res)
	}
}
