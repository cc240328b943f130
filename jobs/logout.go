package jobs

import (
	"context"

	"kimapgo/job"
	"kimapgo/wire"
)

// Logout runs the LOGOUT command. The server's untagged BYE that
// precedes the tagged OK is already swallowed by session.Session's
// routing, since the server closes the connection on its own, so this
// job only ever sees its own tagged terminator.
type Logout struct {
	*job.Base
}

// NewLogout builds a Logout job.
func NewLogout() *Logout {
	return &Logout{Base: job.NewBase("Logout")}
}

func (l *Logout) Start(ctx context.Context, s job.Sender) error {
	_, err := s.SendCommand(ctx, l, "LOGOUT")
	return err
}

func (l *Logout) HandleResponse(msg *wire.Message) {
	l.HandleErrorReplies(msg)
}
