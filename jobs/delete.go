package jobs

import (
	"context"

	"kimapgo/job"
	"kimapgo/wire"
)

// Delete runs the DELETE command against a mailbox, grounded on
// original_source/src/deletejob.cpp: a NO reply carrying the
// NONEXISTENT response code is treated as success, matching RFC 5530
// idempotent-delete semantics rather than surfacing a UserError for a
// mailbox that is already gone.
type Delete struct {
	*job.Base
	mailbox string
}

// NewDelete builds a Delete job targeting mailbox.
func NewDelete(mailbox string) *Delete {
	return &Delete{Base: job.NewBase("Delete", "NONEXISTENT"), mailbox: mailbox}
}

func (d *Delete) Start(ctx context.Context, s job.Sender) error {
	_, err := s.SendCommand(ctx, d, "DELETE", wire.QuotedArg(d.mailbox))
	return err
}

func (d *Delete) HandleResponse(msg *wire.Message) {
	d.HandleErrorReplies(msg)
}
