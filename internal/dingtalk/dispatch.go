package dingtalk

import (
	"context"
	"log/slog"
	"strings"
)

// Reply is one outbound reply produced for an inbound message. Streaming
// handlers may dispatch several partial replies for one message; each is an
// independent delivery.
type Reply struct {
	Text     string
	MediaURL string
	AtUsers  []string
}

// Dispatcher routes handler replies back to the conversation they came
// from.
type Dispatcher struct {
	sender *Sender
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given sender.
func NewDispatcher(log *slog.Logger, sender *Sender) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		sender: sender,
		logger: log.With(slog.String("component", "dispatch")),
	}
}

// Dispatch delivers one reply. The session webhook is preferred when the
// inbound message carried one; otherwise the conversation's logical address
// is used. Group replies always mention the original sender so the reply is
// visible in busy conversations. An empty reply with no media is a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, msg InboundMessage, reply Reply) SendResult {
	text := strings.TrimSpace(reply.Text)
	if text == "" && reply.MediaURL == "" {
		return SendResult{OK: true}
	}
	if reply.MediaURL != "" {
		text = text + "\n\n📎 " + reply.MediaURL
	}

	to := msg.SessionWebhook
	if to == "" {
		to = msg.ReplyAddress()
	}

	atUsers := reply.AtUsers
	if msg.IsGroup() {
		atUsers = withSender(atUsers, msg.ReplySenderID())
	}

	result := d.sender.Send(ctx, to, text, SendOptions{
		AccountID: msg.AccountID,
		AtUsers:   atUsers,
	})
	if !result.OK {
		d.logger.Error("reply delivery failed",
			slog.String("account", msg.AccountID),
			slog.String("msg_id", msg.MsgID),
			slog.String("error", result.Error),
		)
	}
	return result
}

// withSender appends the sender id unless it is already mentioned.
func withSender(atUsers []string, senderID string) []string {
	if senderID == "" {
		return atUsers
	}
	for _, id := range atUsers {
		if id == senderID {
			return atUsers
		}
	}
	out := make([]string, 0, len(atUsers)+1)
	out = append(out, atUsers...)
	return append(out, senderID)
}
