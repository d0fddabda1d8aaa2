package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"github.com/memohai/dingbot/internal/config"
)

const (
	gatewayPath = "/v1.0/gateway/connections/open"

	frameTypeSystem   = "SYSTEM"
	frameTypeCallback = "CALLBACK"

	topicPing       = "ping"
	topicDisconnect = "disconnect"

	reconnectDelay   = 3 * time.Second
	tokenExpirySlack = time.Minute

	streamUserAgent = "dingbot/1.0"
)

// Handler consumes one decoded inbound message. It runs on its own
// goroutine after the frame has been acknowledged; errors are logged and
// never affect the receive loop.
type Handler func(ctx context.Context, msg InboundMessage) error

type frameHeaders struct {
	AppID        string `json:"appId,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
	ContentType  string `json:"contentType,omitempty"`
	MessageID    string `json:"messageId,omitempty"`
	Time         string `json:"time,omitempty"`
	Topic        string `json:"topic,omitempty"`
}

type eventFrame struct {
	SpecVersion string       `json:"specVersion,omitempty"`
	Type        string       `json:"type,omitempty"`
	Headers     frameHeaders `json:"headers"`
	Data        string       `json:"data,omitempty"`
}

type ackFrame struct {
	Code    int          `json:"code"`
	Headers frameHeaders `json:"headers"`
	Message string       `json:"message"`
	Data    string       `json:"data,omitempty"`
}

// robotFrame is the wire payload carried on the robot-message topic.
type robotFrame struct {
	ConversationID   string `json:"conversationId"`
	ConversationType string `json:"conversationType"`
	SenderID         string `json:"senderId"`
	SenderNick       string `json:"senderNick"`
	SenderCorpID     string `json:"senderCorpId"`
	SenderStaffID    string `json:"senderStaffId"`
	ChatbotUserID    string `json:"chatbotUserId"`
	MsgID            string `json:"msgId"`
	Msgtype          string `json:"msgtype"`
	CreateAt         int64  `json:"createAt"`
	Text             struct {
		Content string `json:"content"`
	} `json:"text"`
	SessionWebhook            string   `json:"sessionWebhook"`
	SessionWebhookExpiredTime int64    `json:"sessionWebhookExpiredTime"`
	AtUsers                   []AtUser `json:"atUsers"`
	IsAdmin                   bool     `json:"isAdmin"`
	RobotCode                 string   `json:"robotCode"`
}

// wsConn is the subset of *websocket.Conn the receive loop needs.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// StreamClient maintains one Stream-mode connection for a robot account and
// manages that connection's access token.
type StreamClient struct {
	account    config.Account
	apiBase    string
	httpClient *http.Client
	logger     *slog.Logger

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
	tokenGroup  singleflight.Group

	writeMu sync.Mutex
}

// NewStreamClient creates a stream client for the given account.
func NewStreamClient(log *slog.Logger, account config.Account, apiBase string, httpClient *http.Client) *StreamClient {
	if log == nil {
		log = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &StreamClient{
		account:    account,
		apiBase:    apiBase,
		httpClient: httpClient,
		logger: log.With(
			slog.String("component", "stream"),
			slog.String("account", account.AccountID),
		),
	}
}

// Account returns the resolved account this client serves.
func (c *StreamClient) Account() config.Account {
	return c.account
}

// AccessToken returns the connection's cached access token, refreshing it
// when missing or near expiry. Concurrent refreshes are coalesced.
func (c *StreamClient) AccessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		token := c.token
		c.tokenMu.Unlock()
		return token, nil
	}
	c.tokenMu.Unlock()

	value, err, _ := c.tokenGroup.Do("token", func() (any, error) {
		token, expireIn, err := ExchangeToken(ctx, c.httpClient, c.apiBase, c.account.ClientID, c.account.ClientSecret)
		if err != nil {
			return nil, err
		}
		ttl := time.Duration(expireIn) * time.Second
		if ttl <= tokenExpirySlack {
			ttl = time.Hour
		}
		c.tokenMu.Lock()
		c.token = token
		c.tokenExpiry = time.Now().Add(ttl - tokenExpirySlack)
		c.tokenMu.Unlock()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// Run registers the client, then connects and receives until ctx is
// cancelled, reconnecting after a fixed delay on connection failure.
// Deregistration happens on every exit path.
func (c *StreamClient) Run(ctx context.Context, registry *Registry, handler Handler) error {
	if registry != nil {
		registry.Register(c.account.AccountID, c)
		defer registry.Unregister(c.account.AccountID, c)
	}
	c.logger.Info("stream listener starting", slog.String("robot_code", c.account.RobotCode))

	for {
		err := c.runOnce(ctx, handler)
		if ctx.Err() != nil {
			c.logger.Info("stream listener stopping")
			return nil
		}
		if err != nil {
			c.logger.Error("stream connection failed", slog.Any("error", err))
		} else {
			c.logger.Warn("stream connection closed; reconnecting")
		}
		timer := time.NewTimer(reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.logger.Info("stream listener stopping")
			return nil
		case <-timer.C:
		}
	}
}

func (c *StreamClient) runOnce(ctx context.Context, handler Handler) error {
	endpoint, err := c.openGateway(ctx)
	if err != nil {
		return err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial stream endpoint: HTTP %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial stream endpoint: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()
	c.logger.Info("stream connected")

	// Closing the socket is the only way to unblock ReadMessage on
	// cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleFrame(ctx, conn, data, handler)
	}
}

// openGateway negotiates a streaming endpoint and ticket for this account.
func (c *StreamClient) openGateway(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"clientId":     c.account.ClientID,
		"clientSecret": c.account.ClientSecret,
		"ua":           streamUserAgent,
		"subscriptions": []map[string]string{
			{"type": frameTypeCallback, "topic": TopicRobot},
		},
	})
	if err != nil {
		return "", fmt.Errorf("open gateway: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+gatewayPath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("open gateway: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("open gateway: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("open gateway: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("open gateway: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var data struct {
		Endpoint string `json:"endpoint"`
		Ticket   string `json:"ticket"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return "", fmt.Errorf("open gateway: parse response: %w", err)
	}
	if data.Endpoint == "" || data.Ticket == "" {
		return "", fmt.Errorf("open gateway: endpoint or ticket missing in response")
	}
	return data.Endpoint + "?ticket=" + url.QueryEscape(data.Ticket), nil
}

func (c *StreamClient) handleFrame(ctx context.Context, conn wsConn, data []byte, handler Handler) {
	var frame eventFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn("undecodable frame dropped", slog.Any("error", err))
		return
	}

	switch frame.Headers.Topic {
	case topicPing:
		c.writeFrame(conn, ackFrame{
			Code: 200,
			Headers: frameHeaders{
				ContentType: "application/json",
				MessageID:   frame.Headers.MessageID,
				Topic:       frame.Headers.Topic,
			},
			Message: "OK",
			Data:    frame.Data,
		})
	case topicDisconnect:
		c.logger.Info("disconnect requested by platform")
	case TopicRobot:
		c.handleRobotFrame(ctx, conn, frame, handler)
	default:
		c.logger.Debug("frame on unhandled topic",
			slog.String("type", frame.Type),
			slog.String("topic", frame.Headers.Topic),
		)
	}
}

func (c *StreamClient) handleRobotFrame(ctx context.Context, conn wsConn, frame eventFrame, handler Handler) {
	msgID := frame.Headers.MessageID
	if msgID == "" {
		// Without a correlation id there is nothing to acknowledge and the
		// platform cannot redeliver; drop silently.
		c.logger.Debug("robot frame without correlation id dropped")
		return
	}

	ack := ackFrame{
		Code: 200,
		Headers: frameHeaders{
			ContentType: "application/json",
			MessageID:   msgID,
			Topic:       frame.Headers.Topic,
		},
		Message: "OK",
		Data:    `{"status":"ok"}`,
	}

	var payload robotFrame
	if err := json.Unmarshal([]byte(frame.Data), &payload); err != nil {
		// A malformed payload must not withhold the ack or the platform
		// redelivers the same broken frame.
		c.writeFrame(conn, ack)
		c.logger.Warn("malformed robot payload dropped",
			slog.String("correlation_id", msgID),
			slog.Any("error", err),
		)
		return
	}

	msg := c.inboundFromFrame(payload)
	c.writeFrame(conn, ack)

	if msg.Content == "" {
		return
	}
	if handler == nil {
		return
	}

	// In-flight handlers survive listener cancellation; only the receive
	// loop observes ctx.
	hctx := context.WithoutCancel(ctx)
	go func() {
		if err := handler(hctx, msg); err != nil {
			c.logger.Error("inbound handler failed",
				slog.String("msg_id", msg.MsgID),
				slog.Any("error", err),
			)
		}
	}()
}

func (c *StreamClient) inboundFromFrame(p robotFrame) InboundMessage {
	conversationType := ConversationDirect
	if p.ConversationType == string(ConversationGroup) {
		conversationType = ConversationGroup
	}
	senderID := p.SenderID
	if senderID == "" {
		senderID = p.SenderStaffID
	}
	msgtype := p.Msgtype
	if msgtype == "" {
		msgtype = "text"
	}
	createAt := p.CreateAt
	if createAt == 0 {
		createAt = time.Now().UnixMilli()
	}
	return InboundMessage{
		AccountID:                 c.account.AccountID,
		ConversationID:            p.ConversationID,
		ConversationType:          conversationType,
		SenderID:                  senderID,
		SenderStaffID:             p.SenderStaffID,
		SenderCorpID:              p.SenderCorpID,
		SenderNick:                p.SenderNick,
		Content:                   strings.TrimSpace(p.Text.Content),
		MsgID:                     p.MsgID,
		MsgType:                   msgtype,
		CreateAt:                  createAt,
		SessionWebhook:            p.SessionWebhook,
		SessionWebhookExpiredTime: p.SessionWebhookExpiredTime,
		AtUsers:                   p.AtUsers,
		IsAdmin:                   p.IsAdmin,
		ChatbotUserID:             p.ChatbotUserID,
		RobotCode:                 p.RobotCode,
	}
}

// writeFrame writes one frame under the acknowledgment deadline. Write
// failures are logged; the receive loop will observe the broken connection
// on its next read.
func (c *StreamClient) writeFrame(conn wsConn, frame any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(AckBudget))
	if err := conn.WriteJSON(frame); err != nil {
		c.logger.Error("frame write failed", slog.Any("error", err))
	}
}
