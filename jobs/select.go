package jobs

import (
	"context"
	"strconv"

	"kimapgo/job"
	"kimapgo/wire"
)

// Select runs SELECT (or EXAMINE, for a read-only open) against a
// mailbox. session.Session already does the state transition and
// INBOX canonicalization on the tagged OK; this job only accumulates
// the untagged mailbox status responses RFC 3501 §6.3.1 defines
// (EXISTS, RECENT, FLAGS) for callers that want them.
type Select struct {
	*job.Base
	mailbox  string
	readOnly bool

	exists int
	recent int
	flags  []string
}

// NewSelect builds a Select job. If readOnly is true, EXAMINE is used
// instead of SELECT.
func NewSelect(mailbox string, readOnly bool) *Select {
	name := "Select"
	if readOnly {
		name = "Examine"
	}
	return &Select{Base: job.NewBase(name), mailbox: mailbox, readOnly: readOnly}
}

// Exists, Recent, and Flags report the mailbox status collected while
// this job ran, valid after Done.
func (s *Select) Exists() int       { return s.exists }
func (s *Select) Recent() int       { return s.recent }
func (s *Select) Flags() []string   { return s.flags }

func (s *Select) Start(ctx context.Context, sender job.Sender) error {
	verb := "SELECT"
	if s.readOnly {
		verb = "EXAMINE"
	}
	_, err := sender.SendCommand(ctx, s, verb, wire.QuotedArg(s.mailbox))
	return err
}

func (s *Select) HandleResponse(msg *wire.Message) {
	if msg.Tag() == "*" && len(msg.Content) >= 3 {
		if msg.StatusWord() == "FLAGS" {
			for _, p := range msg.Content[2].List {
				s.flags = append(s.flags, string(p))
			}
			return
		}
		// "* N EXISTS" / "* N RECENT": the count is content[1], the
		// keyword is content[2].
		if n, err := strconv.Atoi(string(msg.Content[1].Bytes())); err == nil {
			switch string(msg.Content[2].Bytes()) {
			case "EXISTS":
				s.exists = n
				return
			case "RECENT":
				s.recent = n
				return
			}
		}
	}
	s.HandleErrorReplies(msg)
}
