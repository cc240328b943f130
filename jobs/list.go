package jobs

import (
	"bytes"
	"context"
	"strings"

	"kimapgo/job"
	"kimapgo/wire"
)

// MailboxDescriptor is one mailbox reported by a List job, grounded
// on original_source/src/listjob.cpp's MailBoxDescriptor/flag
// accumulation.
type MailboxDescriptor struct {
	Name      string
	Separator byte
	Flags     []string
}

// List runs LIST (or LSUB for subscribed-only) with a "" reference
// and "*" pattern, accumulating every untagged reply into a
// MailboxDescriptor. This does not decode IMAP-UTF-7: mailbox names
// are passed through as the opaque bytes the server sent.
type List struct {
	*job.Base
	command string // "LIST" or "LSUB", matched against untagged replies
	results []MailboxDescriptor
}

// NewList builds a List job. If subscribedOnly is true, LSUB is used
// instead of LIST.
func NewList(subscribedOnly bool) *List {
	command := "LIST"
	if subscribedOnly {
		command = "LSUB"
	}
	return &List{Base: job.NewBase(command), command: command}
}

// Results returns the mailboxes collected, valid after Done.
func (l *List) Results() []MailboxDescriptor { return l.results }

func (l *List) Start(ctx context.Context, s job.Sender) error {
	_, err := s.SendCommand(ctx, l, l.command, wire.RawArg(`""`), wire.RawArg("*"))
	return err
}

func (l *List) HandleResponse(msg *wire.Message) {
	if msg.Tag() == "*" && len(msg.Content) >= 5 && msg.StatusWord() == l.command {
		l.results = append(l.results, parseListing(msg, l.command))
		return
	}
	l.HandleErrorReplies(msg)
}

// parseListing mirrors ListJob::handleResponse: lowercase the mailbox
// flags, default an empty separator to "/" (servers that report one
// only do so for mailboxes with no children), and join every
// remaining content part as the mailbox name.
func parseListing(msg *wire.Message, command string) MailboxDescriptor {
	var flags []string
	for _, f := range msg.Content[2].List {
		flags = append(flags, strings.ToLower(string(f)))
	}

	sep := msg.Content[3].Bytes()
	separator := byte('/')
	if len(sep) == 1 {
		separator = sep[0]
	}

	var name bytes.Buffer
	for i := 4; i < len(msg.Content); i++ {
		if i > 4 {
			name.WriteByte(' ')
		}
		name.Write(msg.Content[i].Bytes())
	}

	return MailboxDescriptor{
		Name:      canonicalizeInbox(name.String(), separator),
		Separator: separator,
		Flags:     flags,
	}
}

// canonicalizeInbox applies the same "INBOX is always uppercase"
// rewrite session.Session applies to SELECT targets, generalized here
// to a listing's hierarchy separator instead of assuming none.
func canonicalizeInbox(name string, separator byte) string {
	parts := strings.SplitN(name, string(separator), 2)
	if !strings.EqualFold(parts[0], "INBOX") {
		return name
	}
	if len(parts) == 1 {
		return "INBOX"
	}
	return "INBOX" + string(separator) + parts[1]
}
