package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/memohai/dingbot/internal/config"
)

const (
	userSendPath  = "/v1.0/robot/oToMessages/batchSend"
	groupSendPath = "/v1.0/robot/groupMessages/send"

	tokenHeader    = "x-acs-dingtalk-access-token"
	msgKeyMarkdown = "sampleMarkdown"
	defaultTitle   = "DingTalk Message"
)

// SendOptions carry the optional per-send parameters.
type SendOptions struct {
	// AccountID selects the robot account; empty means the default account.
	AccountID string
	// AtUsers are mention entries: user ids, 11-digit mobiles, or the "all"
	// sentinel.
	AtUsers []string
}

// Sender routes outbound text to the transport its target classifies to.
// Every failure comes back inside the SendResult; Sender never panics and
// never returns a Go error to callers.
type Sender struct {
	cfg        config.DingtalkConfig
	tokens     *TokenCache
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSender creates a Sender on top of the given token cache.
func NewSender(log *slog.Logger, cfg config.DingtalkConfig, tokens *TokenCache, httpClient *http.Client) *Sender {
	if log == nil {
		log = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Sender{
		cfg:        cfg,
		tokens:     tokens,
		httpClient: httpClient,
		logger:     log.With(slog.String("component", "send")),
	}
}

// Send classifies the destination once and dispatches to the matching
// transport.
func (s *Sender) Send(ctx context.Context, to, text string, opts SendOptions) SendResult {
	target := ClassifyTarget(to)
	switch target.Kind {
	case TargetWebhook:
		return s.SendWebhook(ctx, target.Value, text, opts)
	case TargetGroup:
		return s.SendToGroup(ctx, target.Value, text, opts)
	default:
		return s.SendToUser(ctx, target.Value, text, opts)
	}
}

// SendToUser delivers a markdown message to a single user over the batch
// one-to-one API.
func (s *Sender) SendToUser(ctx context.Context, userID, text string, opts SendOptions) SendResult {
	account := s.cfg.ResolveAccount(opts.AccountID)
	if !account.Configured() {
		return SendResult{Error: ErrNotConfigured.Error()}
	}

	token, err := s.tokens.GetToken(ctx, account)
	if err != nil {
		return SendResult{Error: err.Error()}
	}

	msgParam, err := json.Marshal(map[string]string{
		"title": defaultTitle,
		"text":  FormatMentions(text, opts.AtUsers),
	})
	if err != nil {
		return SendResult{Error: err.Error()}
	}

	result := s.postMessage(ctx, s.cfg.APIBaseURL()+userSendPath, token, map[string]any{
		"robotCode": account.RobotCode,
		"userIds":   []string{userID},
		"msgKey":    msgKeyMarkdown,
		"msgParam":  string(msgParam),
	})
	if result.OK {
		s.logger.Info("user message sent",
			slog.String("account", account.AccountID),
			slog.String("user_id", userID),
		)
	}
	return result
}

// SendToGroup delivers a markdown message to a group conversation, with the
// structured at-block alongside the in-text mentions.
func (s *Sender) SendToGroup(ctx context.Context, conversationID, text string, opts SendOptions) SendResult {
	account := s.cfg.ResolveAccount(opts.AccountID)
	if !account.Configured() {
		return SendResult{Error: ErrNotConfigured.Error()}
	}

	token, err := s.tokens.GetToken(ctx, account)
	if err != nil {
		return SendResult{Error: err.Error()}
	}

	msgParam, err := json.Marshal(map[string]string{
		"title": defaultTitle,
		"text":  FormatMentions(text, opts.AtUsers),
	})
	if err != nil {
		return SendResult{Error: err.Error()}
	}

	result := s.postMessage(ctx, s.cfg.APIBaseURL()+groupSendPath, token, map[string]any{
		"robotCode":          account.RobotCode,
		"openConversationId": conversationID,
		"msgKey":             msgKeyMarkdown,
		"msgParam":           string(msgParam),
		"at":                 ParseAtList(opts.AtUsers),
	})
	if result.OK {
		s.logger.Info("group message sent",
			slog.String("account", account.AccountID),
			slog.String("conversation_id", conversationID),
		)
	}
	return result
}

// SendWebhook posts a markdown payload straight to a webhook URL. Webhooks
// work without credentials; when the account does resolve to a usable pair,
// an access token is attached for session webhooks, and token failures are
// swallowed because plain custom-robot webhooks reject nothing.
func (s *Sender) SendWebhook(ctx context.Context, webhookURL, text string, opts SendOptions) SendResult {
	if webhookURL == "" {
		return SendResult{Error: "webhook URL required"}
	}

	payload, err := json.Marshal(map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": defaultTitle,
			"text":  FormatMentions(text, opts.AtUsers),
		},
		"at": ParseAtList(opts.AtUsers),
	})
	if err != nil {
		return SendResult{Error: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return SendResult{Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	if account := s.cfg.ResolveAccount(opts.AccountID); account.Configured() {
		token, err := s.tokens.GetToken(ctx, account)
		if err != nil {
			s.logger.Debug("webhook token skipped",
				slog.String("account", account.AccountID),
				slog.Any("error", err),
			)
		} else {
			req.Header.Set(tokenHeader, token)
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return SendResult{Error: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SendResult{Error: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SendResult{Error: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body))}
	}

	s.logger.Info("webhook message sent")
	return SendResult{OK: true, MessageID: "webhook-" + uuid.NewString()}
}

// postMessage performs one authenticated robot-API send and normalizes the
// response into a SendResult.
func (s *Sender) postMessage(ctx context.Context, url, token string, body map[string]any) SendResult {
	payload, err := json.Marshal(body)
	if err != nil {
		return SendResult{Error: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return SendResult{Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tokenHeader, token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return SendResult{Error: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return SendResult{Error: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SendResult{Error: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(respBody))}
	}

	var data struct {
		ProcessQueryKey string `json:"processQueryKey"`
	}
	if err := json.Unmarshal(respBody, &data); err != nil {
		// The send went through; a response we cannot parse only costs the
		// query key.
		s.logger.Warn("unparseable send response", slog.Any("error", err))
	}

	messageID := data.ProcessQueryKey
	if messageID == "" {
		messageID = "dingtalk-" + uuid.NewString()
	}
	return SendResult{OK: true, MessageID: messageID, ProcessQueryKey: data.ProcessQueryKey}
}
