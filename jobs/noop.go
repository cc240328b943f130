package jobs

import (
	"context"

	"kimapgo/job"
	"kimapgo/wire"
)

// Noop runs the NOOP command, used to poll for unsolicited responses
// or simply keep the connection alive against the idle watchdog.
type Noop struct {
	*job.Base
}

// NewNoop builds a Noop job.
func NewNoop() *Noop {
	return &Noop{Base: job.NewBase("Noop")}
}

func (n *Noop) Start(ctx context.Context, s job.Sender) error {
	_, err := s.SendCommand(ctx, n, "NOOP")
	return err
}

func (n *Noop) HandleResponse(msg *wire.Message) {
	n.HandleErrorReplies(msg)
}
