// Package plain implements the PLAIN SASL mechanism (RFC 4616), the one
// mechanism the login flow always treats as available even when the
// server's CAPABILITY list under-reports it.
package plain

import (
	"bytes"
	"fmt"

	"kimapgo/auth"
)

// Name is the SASL mechanism name.
const Name = "PLAIN"

// ClientMechanism authenticates with an authzid\0authcid\0passwd
// initial response, grounded on original_source/src/loginjob.cpp's
// answerChallenge PLAIN special case.
type ClientMechanism struct {
	// AuthzID is the authorization identity; empty except when
	// impersonating another identity (original_source's
	// authorizationName, distinct from Username and empty by default).
	AuthzID  string
	Username string
	Password string
}

// Name returns "PLAIN".
func (m *ClientMechanism) Name() string { return Name }

// Start returns the initial response; PLAIN never needs a second round.
func (m *ClientMechanism) Start() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(m.AuthzID)
	buf.WriteByte(0)
	buf.WriteString(m.Username)
	buf.WriteByte(0)
	buf.WriteString(m.Password)
	return buf.Bytes(), nil
}

// Next always errors: PLAIN's initial response carries everything.
func (m *ClientMechanism) Next(challenge []byte) ([]byte, error) {
	return nil, fmt.Errorf("plain: unexpected challenge")
}

func init() {
	auth.DefaultRegistry.Register(Name, func() auth.ClientMechanism {
		return &ClientMechanism{}
	})
}
