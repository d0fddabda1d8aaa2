// Package dingtalk implements the DingTalk robot delivery engine: access
// token acquisition, Stream-mode inbound listening, and outbound message
// routing across the direct-user, group-conversation, and webhook
// transports.
package dingtalk

import (
	"strings"
	"time"
)

const (
	// TopicRobot is the Stream-mode callback topic for robot messages.
	TopicRobot = "/v1.0/im/bot/messages/get"

	// AckBudget is the window within which an inbound frame must be
	// acknowledged before the platform redelivers it.
	AckBudget = 5 * time.Second
)

// ConversationType distinguishes direct chats from group chats, using the
// platform's wire encoding.
type ConversationType string

const (
	ConversationDirect ConversationType = "1"
	ConversationGroup  ConversationType = "2"
)

// AtUser is one mentioned user on an inbound message.
type AtUser struct {
	DingtalkID string `json:"dingtalkId"`
	StaffID    string `json:"staffId,omitempty"`
}

// InboundMessage is one decoded robot message from the stream. It is
// constructed once per frame and scoped to the reply it triggers.
type InboundMessage struct {
	AccountID                 string
	ConversationID            string
	ConversationType          ConversationType
	SenderID                  string
	SenderStaffID             string
	SenderCorpID              string
	SenderNick                string
	Content                   string
	MsgID                     string
	MsgType                   string
	CreateAt                  int64
	SessionWebhook            string
	SessionWebhookExpiredTime int64
	AtUsers                   []AtUser
	IsAdmin                   bool
	ChatbotUserID             string
	RobotCode                 string
}

// IsGroup reports whether the message came from a group conversation.
func (m InboundMessage) IsGroup() bool {
	return m.ConversationType == ConversationGroup
}

// ReplySenderID returns the sender identifier to address replies to,
// preferring the staff id when present.
func (m InboundMessage) ReplySenderID() string {
	if id := strings.TrimSpace(m.SenderStaffID); id != "" {
		return id
	}
	return strings.TrimSpace(m.SenderID)
}

// ReplyAddress returns the conversation's logical address for replies when
// no session webhook is available.
func (m InboundMessage) ReplyAddress() string {
	if m.IsGroup() {
		return "group:" + m.ConversationID
	}
	return "user:" + m.ReplySenderID()
}

// SendResult is the terminal outcome of one delivery attempt.
type SendResult struct {
	OK              bool   `json:"ok"`
	MessageID       string `json:"messageId"`
	ProcessQueryKey string `json:"processQueryKey,omitempty"`
	Error           string `json:"error,omitempty"`
}
