// Package jobs collects small concrete job.Job plug-ins
// (Capability, Noop, Logout, Delete, Select, List) that exercise the
// job/session/login contract end-to-end. Concrete command types are
// treated as plug-ins rather than core; these exist to give
// cmd/imapcmd and the test suite something real to submit.
package jobs

import (
	"context"
	"strings"

	"kimapgo/job"
	"kimapgo/wire"
)

// Capability runs the CAPABILITY command and accumulates the server's
// advertised capability list from the untagged reply.
type Capability struct {
	*job.Base
	capabilities []string
}

// NewCapability builds a Capability job.
func NewCapability() *Capability {
	return &Capability{Base: job.NewBase("Capability")}
}

// Capabilities returns the capability tokens seen, valid after Done.
func (c *Capability) Capabilities() []string { return c.capabilities }

func (c *Capability) Start(ctx context.Context, s job.Sender) error {
	_, err := s.SendCommand(ctx, c, "CAPABILITY")
	return err
}

func (c *Capability) HandleResponse(msg *wire.Message) {
	if msg.Tag() == "*" && msg.StatusWord() == "CAPABILITY" {
		for _, p := range msg.Content[2:] {
			c.capabilities = append(c.capabilities, strings.ToUpper(string(p.Bytes())))
		}
		return
	}
	c.HandleErrorReplies(msg)
}
