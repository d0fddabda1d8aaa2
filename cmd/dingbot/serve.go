package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/dingbot/internal/config"
	"github.com/memohai/dingbot/internal/dingtalk"
	"github.com/memohai/dingbot/internal/logger"
	"github.com/memohai/dingbot/internal/server"
	"github.com/memohai/dingbot/internal/tools"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideHTTPClient,
			dingtalk.NewRegistry,
			provideTokenCache,
			provideSender,
			provideDispatcher,
			provideListenerService,
			provideToolsClient,
			provideServerHandler(providePingHandler),
			provideServerHandler(provideAccountsHandler),
			provideServerHandler(provideSendHandler),
			provideServerHandler(provideToolsHandler),
			fx.Annotate(
				provideServer,
				fx.ParamTags("", `group:"server_handlers"`),
			),
		),
		fx.Invoke(
			startListeners,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideHTTPClient(cfg config.Config) *http.Client {
	return &http.Client{
		Timeout: time.Duration(cfg.Dingtalk.HTTPTimeout()) * time.Second,
	}
}

func provideTokenCache(log *slog.Logger, cfg config.Config, registry *dingtalk.Registry, httpClient *http.Client) *dingtalk.TokenCache {
	return dingtalk.NewTokenCache(log, registry, cfg.Dingtalk.APIBaseURL(), httpClient)
}

func provideSender(log *slog.Logger, cfg config.Config, tokens *dingtalk.TokenCache, httpClient *http.Client) *dingtalk.Sender {
	return dingtalk.NewSender(log, cfg.Dingtalk, tokens, httpClient)
}

func provideDispatcher(log *slog.Logger, sender *dingtalk.Sender) *dingtalk.Dispatcher {
	return dingtalk.NewDispatcher(log, sender)
}

func provideListenerService(log *slog.Logger, cfg config.Config, registry *dingtalk.Registry, tokens *dingtalk.TokenCache, httpClient *http.Client) *dingtalk.Service {
	return dingtalk.NewService(log, cfg.Dingtalk, registry, tokens, httpClient)
}

func provideToolsClient(log *slog.Logger, cfg config.Config, tokens *dingtalk.TokenCache, httpClient *http.Client) *tools.Client {
	return tools.NewClient(log, cfg.Dingtalk.APIBaseURL(), httpClient, func(ctx context.Context) (string, error) {
		return tokens.GetToken(ctx, cfg.Dingtalk.ResolveAccount(""))
	})
}

func providePingHandler() *server.PingHandler {
	return server.NewPingHandler()
}

func provideAccountsHandler(log *slog.Logger, cfg config.Config, registry *dingtalk.Registry, tokens *dingtalk.TokenCache) *server.AccountsHandler {
	return server.NewAccountsHandler(log, cfg.Dingtalk, registry, tokens)
}

func provideSendHandler(log *slog.Logger, sender *dingtalk.Sender) *server.SendHandler {
	return server.NewSendHandler(log, sender)
}

func provideToolsHandler(client *tools.Client) *server.ToolsHandler {
	return server.NewToolsHandler(client)
}

func provideServer(cfg config.Config, handlers []server.Handler) *server.Server {
	return server.NewServer(cfg.Server.Addr, handlers...)
}

// upstreamEvent is the inbound message as posted to the upstream handler.
type upstreamEvent struct {
	AccountID        string `json:"accountId"`
	ConversationID   string `json:"conversationId"`
	ConversationType string `json:"conversationType"`
	SenderID         string `json:"senderId"`
	SenderStaffID    string `json:"senderStaffId,omitempty"`
	SenderNick       string `json:"senderNick,omitempty"`
	Content          string `json:"content"`
	MsgID            string `json:"msgId"`
	MsgType          string `json:"msgType"`
	CreateAt         int64  `json:"createAt"`
	IsAdmin          bool   `json:"isAdmin"`
}

// upstreamReply is what the upstream handler answers with.
type upstreamReply struct {
	Text     string   `json:"text"`
	MediaURL string   `json:"mediaUrl,omitempty"`
	AtUsers  []string `json:"atUsers,omitempty"`
}

// buildInboundHandler forwards each inbound message to the upstream URL and
// dispatches its reply. Without an upstream, messages are logged only.
func buildInboundHandler(log *slog.Logger, cfg config.Config, dispatcher *dingtalk.Dispatcher) dingtalk.Handler {
	if cfg.Upstream.URL == "" {
		return func(ctx context.Context, msg dingtalk.InboundMessage) error {
			log.Info("inbound message (no upstream configured)",
				slog.String("account", msg.AccountID),
				slog.String("msg_id", msg.MsgID),
				slog.String("content", msg.Content),
			)
			return nil
		}
	}

	timeout := cfg.Upstream.TimeoutSeconds
	if timeout <= 0 {
		timeout = config.DefaultHTTPTimeoutSeconds
	}
	client := &http.Client{Timeout: time.Duration(timeout) * time.Second}

	return func(ctx context.Context, msg dingtalk.InboundMessage) error {
		payload, err := json.Marshal(upstreamEvent{
			AccountID:        msg.AccountID,
			ConversationID:   msg.ConversationID,
			ConversationType: string(msg.ConversationType),
			SenderID:         msg.SenderID,
			SenderStaffID:    msg.SenderStaffID,
			SenderNick:       msg.SenderNick,
			Content:          msg.Content,
			MsgID:            msg.MsgID,
			MsgType:          msg.MsgType,
			CreateAt:         msg.CreateAt,
			IsAdmin:          msg.IsAdmin,
		})
		if err != nil {
			return fmt.Errorf("encode upstream event: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Upstream.URL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build upstream request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("call upstream: %w", err)
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read upstream response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("upstream HTTP %d: %s", resp.StatusCode, string(body))
		}

		var reply upstreamReply
		if len(body) > 0 {
			if err := json.Unmarshal(body, &reply); err != nil {
				return fmt.Errorf("decode upstream reply: %w", err)
			}
		}

		result := dispatcher.Dispatch(ctx, msg, dingtalk.Reply{
			Text:     reply.Text,
			MediaURL: reply.MediaURL,
			AtUsers:  reply.AtUsers,
		})
		if !result.OK {
			return fmt.Errorf("dispatch reply: %s", result.Error)
		}
		return nil
	}
}

func startListeners(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, svc *dingtalk.Service, dispatcher *dingtalk.Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())
	handler := buildInboundHandler(log, cfg, dispatcher)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			started := svc.StartAll(ctx, handler)
			log.Info("stream listeners started", slog.Int("count", started))
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			svc.Shutdown()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			log.Info("admin API listening", slog.String("addr", cfg.Server.Addr))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
