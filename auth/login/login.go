// Package login implements the legacy LOGIN SASL mechanism: two
// server challenges, "Username:" then "Password:", answered in turn.
// Distinct from (and driven by) the top-level kimapgo/login package,
// which implements the whole authentication state machine including
// the plaintext IMAP LOGIN command.
package login

import (
	"fmt"

	"kimapgo/auth"
)

// Name is the SASL mechanism name.
const Name = "LOGIN"

// ClientMechanism replies to the server's two challenges with the
// username and then the password, in order, ignoring the challenge
// text itself (servers are not required to literally send "Username:"
// and "Password:", only to ask in that order).
type ClientMechanism struct {
	Username string
	Password string

	step int
}

// Name returns "LOGIN".
func (m *ClientMechanism) Name() string { return Name }

// Start returns nil: the server challenges first.
func (m *ClientMechanism) Start() ([]byte, error) { return nil, nil }

// Next returns the username on the first call, the password on the
// second, and errors on any further challenge.
func (m *ClientMechanism) Next(challenge []byte) ([]byte, error) {
	switch m.step {
	case 0:
		m.step++
		return []byte(m.Username), nil
	case 1:
		m.step++
		return []byte(m.Password), nil
	default:
		return nil, fmt.Errorf("login: unexpected challenge")
	}
}

func init() {
	auth.DefaultRegistry.Register(Name, func() auth.ClientMechanism {
		return &ClientMechanism{}
	})
}
