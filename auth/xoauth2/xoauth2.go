// Package xoauth2 implements the XOAUTH2 SASL mechanism used by
// Gmail and other OAuth2-fronted IMAP servers.
package xoauth2

import (
	"fmt"

	"kimapgo/auth"
)

// Name is the SASL mechanism name.
const Name = "XOAUTH2"

// ClientMechanism sends a single initial response carrying the bearer
// token; the server never challenges further on success.
type ClientMechanism struct {
	Username    string
	AccessToken string
}

// Name returns "XOAUTH2".
func (m *ClientMechanism) Name() string { return Name }

// Start returns "user=<Username>\x01auth=Bearer <AccessToken>\x01\x01".
func (m *ClientMechanism) Start() ([]byte, error) {
	ir := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", m.Username, m.AccessToken)
	return []byte(ir), nil
}

// Next acknowledges a server error response with an empty reply, the
// documented way to let the server emit its final tagged NO.
func (m *ClientMechanism) Next(challenge []byte) ([]byte, error) {
	return []byte{}, nil
}

func init() {
	auth.DefaultRegistry.Register(Name, func() auth.ClientMechanism {
		return &ClientMechanism{}
	})
}
