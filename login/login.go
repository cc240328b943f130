// Package login implements the compound STARTTLS / implicit-TLS /
// CAPABILITY / SASL / LOGIN state machine a session runs once to
// authenticate, grounded on original_source/src/loginjob.cpp's
// LoginJobPrivate (the AuthState enum, doStart/login/sslResponse/
// retrieveCapabilities/startAuthentication/answerChallenge/
// saveServerGreeting sequence), replacing its process-wide libsasl2 C
// binding with a kimapgo/auth ClientMechanism a caller plugs in per
// session instead of registering one globally.
//
// Implicit TLS is not a runtime branch here: this package always
// waits for the TLS-result signal and never acts on the raw OK/NO
// alone for STARTTLS, and because session.Session accepts an
// already-established net.Conn, a caller wanting implicit TLS simply
// hands Session a *tls.Config-dialed connection before Run; only
// STARTTLS needs in-band negotiation, which this Job drives.
package login

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"strings"

	"kimapgo/auth"
	"kimapgo/job"
	"kimapgo/wire"
)

// authState mirrors original_source's LoginJobPrivate::AuthState.
type authState int

const (
	stateStartTLS authState = iota
	stateCapability
	stateLogin
	stateAuthenticate
)

func (s authState) commandName() string {
	switch s {
	case stateStartTLS:
		return "StartTls"
	case stateCapability:
		return "Capability"
	default:
		return "Login"
	}
}

// Sentinel errors for the login flow's failure cases, values instead
// of an enum, matching the rest of this module's error style.
var (
	ErrLoginDisabled       = fmt.Errorf("login: plain login is disabled by the server")
	ErrMechanismUnsupported = fmt.Errorf("login: authentication mode is not supported by the server")
	ErrSSLHandshakeFailed  = fmt.Errorf("login: TLS negotiation failed")
	ErrLoginFailed         = fmt.Errorf("login: server rejected credentials")
	ErrUnexpectedReply     = fmt.Errorf("login: malformed or unexpected reply from the server")
)

// tlsUpgrader and continuationSender narrow session.Session down to
// the two extra capabilities this job needs beyond job.Sender, found
// by type assertion the way session.go itself probes for TrackTag —
// avoids an import cycle (session already imports job; login imports
// both session-adjacent interfaces structurally, not by name).
type tlsUpgrader interface {
	UpgradeTLS(cfg *tls.Config) error
}

type continuationSender interface {
	SendContinuationLine(data []byte) error
}

// Options configures one login attempt.
type Options struct {
	// Host is used as the TLS ServerName when TLSConfig is nil and
	// StartTLS upgrades the connection.
	Host string
	// StartTLS requests the STARTTLS sub-machine before CAPABILITY.
	// Leave false for a plaintext session or one already wrapped in
	// implicit TLS by the caller before Session.Run.
	StartTLS bool
	// TLSConfig is used for the STARTTLS handshake. A zero value
	// derives a default from Host.
	TLSConfig *tls.Config

	// Username/Password are sent by plaintext LOGIN (Mechanism nil); a
	// SASL Mechanism carries its own credentials. AuthorizationName
	// (original_source's LoginJobPrivate::authorizationName) is kept
	// here but this Job does not read it; for PLAIN the authzid is
	// auth/plain.ClientMechanism.AuthzID.
	Username         string
	Password         string
	AuthorizationName string

	// Mechanism selects SASL AUTHENTICATE with the given mechanism
	// (e.g. auth/plain.ClientMechanism, auth/crammd5.ClientMechanism).
	// Nil means plaintext LOGIN "user" "pass".
	Mechanism auth.ClientMechanism
}

// Job drives one session's STARTTLS/CAPABILITY/SASL/LOGIN sequence.
type Job struct {
	*job.Base

	opts Options

	ctx    context.Context
	sender job.Sender

	state        authState
	capabilities []string
	loginDisabled bool
}

// New builds a login Job with the given options.
func New(opts Options) *Job {
	return &Job{Base: job.NewBase("Login"), opts: opts}
}

// Start implements job.Job: it kicks off STARTTLS if requested,
// otherwise goes straight to CAPABILITY (mirrors
// LoginJobPrivate::login when the session is already connected; the
// wait for the server's greeting is handled by session.Session
// itself, which never starts a queued job before its first greeting
// has been processed).
func (j *Job) Start(ctx context.Context, s job.Sender) error {
	j.ctx = ctx
	j.sender = s

	if j.opts.StartTLS {
		j.state = stateStartTLS
		_, err := s.SendCommand(ctx, j, "STARTTLS")
		return err
	}
	j.state = stateCapability
	_, err := s.SendCommand(ctx, j, "CAPABILITY")
	return err
}

// HandleResponse implements job.Job.
func (j *Job) HandleResponse(msg *wire.Message) {
	tag := msg.Tag()

	switch tag {
	case "*":
		j.handleUntagged(msg)
		return
	case "+":
		j.handleContinuation(msg)
		return
	}

	if !j.OwnsTag(tag) {
		return
	}

	if len(msg.Content) < 2 {
		j.fail(ErrUnexpectedReply)
		return
	}
	if msg.StatusWord() != "OK" {
		err := fmt.Errorf("%s failed, server replied: %s", j.state.commandName(), msg.String())
		if j.state == stateLogin || j.state == stateAuthenticate {
			err = fmt.Errorf("%w: %v", ErrLoginFailed, err)
		}
		j.fail(err)
		return
	}

	switch j.state {
	case stateStartTLS:
		if err := j.upgradeTLS(); err != nil {
			j.fail(fmt.Errorf("%w: %v", ErrSSLHandshakeFailed, err))
			return
		}
		// Anything learned before the handshake is untrusted.
		j.capabilities = nil
		j.loginDisabled = false
		j.state = stateCapability
		if _, err := j.sender.SendCommand(j.ctx, j, "CAPABILITY"); err != nil {
			j.fail(err)
		}
	case stateCapability:
		j.afterCapability()
	case stateLogin, stateAuthenticate:
		j.EmitResult(job.Result{Status: job.StatusOk})
	}
}

func (j *Job) handleUntagged(msg *wire.Message) {
	if len(msg.Content) < 2 || msg.StatusWord() != "CAPABILITY" {
		return
	}
	for _, p := range msg.Content[2:] {
		cap := strings.ToUpper(string(p.Bytes()))
		j.capabilities = append(j.capabilities, cap)
		if cap == "LOGINDISABLED" {
			j.loginDisabled = true
		}
	}
}

func (j *Job) handleContinuation(msg *wire.Message) {
	if j.state != stateAuthenticate {
		j.fail(ErrUnexpectedReply)
		return
	}

	var challenge []byte
	if len(msg.Content) > 1 {
		decoded, err := base64.StdEncoding.DecodeString(string(msg.Content[1].Bytes()))
		if err != nil {
			j.fail(fmt.Errorf("%w: invalid base64 challenge: %v", ErrUnexpectedReply, err))
			return
		}
		challenge = decoded
	}

	resp, err := j.opts.Mechanism.Next(challenge)
	if err != nil {
		j.fail(err)
		return
	}

	cs, ok := j.sender.(continuationSender)
	if !ok {
		j.fail(fmt.Errorf("login: session cannot answer a SASL continuation"))
		return
	}
	encoded := base64.StdEncoding.EncodeToString(resp)
	if err := cs.SendContinuationLine([]byte(encoded)); err != nil {
		j.fail(err)
	}
}

// afterCapability chooses plaintext LOGIN or SASL AUTHENTICATE
// (mirrors LoginJobPrivate::handleResponse's OK/Capability case).
func (j *Job) afterCapability() {
	if j.opts.Mechanism == nil {
		if j.loginDisabled {
			j.fail(ErrLoginDisabled)
			return
		}
		j.state = stateLogin
		_, err := j.sender.SendCommand(j.ctx, j, "LOGIN", wire.QuotedArg(j.opts.Username), wire.QuotedArg(j.opts.Password))
		if err != nil {
			j.fail(err)
		}
		return
	}

	name := j.opts.Mechanism.Name()
	if !j.mechanismSupported(name) {
		j.fail(fmt.Errorf("%w: %s", ErrMechanismUnsupported, name))
		return
	}

	j.state = stateAuthenticate
	ir, err := j.opts.Mechanism.Start()
	if err != nil {
		j.fail(err)
		return
	}
	if ir == nil {
		_, err = j.sender.SendCommand(j.ctx, j, "AUTHENTICATE", wire.RawArg(name))
	} else {
		encoded := base64.StdEncoding.EncodeToString(ir)
		_, err = j.sender.SendCommand(j.ctx, j, "AUTHENTICATE", wire.RawArg(name+" "+encoded))
	}
	if err != nil {
		j.fail(err)
	}
}

// mechanismSupported reports whether name may be attempted: PLAIN is
// always allowed, since some servers under-report it; everything
// else needs a matching AUTH= capability, consulted only from a
// post-TLS CAPABILITY reply when any encryption was requested (the
// STARTTLS branch above always refreshes capabilities after the
// handshake before reaching here).
func (j *Job) mechanismSupported(name string) bool {
	if name == "PLAIN" {
		return true
	}
	want := "AUTH=" + name
	for _, c := range j.capabilities {
		if c == want {
			return true
		}
	}
	return false
}

func (j *Job) upgradeTLS() error {
	up, ok := j.sender.(tlsUpgrader)
	if !ok {
		return fmt.Errorf("login: session cannot perform a TLS upgrade")
	}
	cfg := j.opts.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{ServerName: j.opts.Host}
	}
	return up.UpgradeTLS(cfg)
}

func (j *Job) fail(err error) {
	j.EmitResult(job.Result{Status: job.StatusUserError, Err: fmt.Errorf("%w", err)})
}
