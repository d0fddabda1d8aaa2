package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/dingbot/internal/config"
	"github.com/memohai/dingbot/internal/dingtalk"
	"github.com/memohai/dingbot/internal/tools"
)

type PingHandler struct{}

func NewPingHandler() *PingHandler {
	return &PingHandler{}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// AccountSnapshot is the admin view of one resolved account. Credentials
// themselves are never exposed.
type AccountSnapshot struct {
	AccountID   string `json:"accountId"`
	Name        string `json:"name,omitempty"`
	Enabled     bool   `json:"enabled"`
	Configured  bool   `json:"configured"`
	TokenSource string `json:"tokenSource"`
	RobotCode   string `json:"robotCode,omitempty"`
	Connected   bool   `json:"connected"`
}

// AccountsHandler serves account status and credential probing.
type AccountsHandler struct {
	cfg      config.DingtalkConfig
	registry *dingtalk.Registry
	tokens   *dingtalk.TokenCache
	logger   *slog.Logger
}

func NewAccountsHandler(log *slog.Logger, cfg config.DingtalkConfig, registry *dingtalk.Registry, tokens *dingtalk.TokenCache) *AccountsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AccountsHandler{
		cfg:      cfg,
		registry: registry,
		tokens:   tokens,
		logger:   log.With(slog.String("handler", "accounts")),
	}
}

func (h *AccountsHandler) Register(e *echo.Echo) {
	e.GET("/accounts", h.ListAccounts)
	e.GET("/accounts/:id/probe", h.ProbeAccount)
}

func (h *AccountsHandler) ListAccounts(c echo.Context) error {
	ids := h.cfg.AccountIDs()
	snapshots := make([]AccountSnapshot, 0, len(ids))
	for _, id := range ids {
		account := h.cfg.ResolveAccount(id)
		snapshots = append(snapshots, AccountSnapshot{
			AccountID:   account.AccountID,
			Name:        account.Name,
			Enabled:     account.Enabled,
			Configured:  account.Configured(),
			TokenSource: string(account.TokenSource),
			RobotCode:   account.RobotCode,
			Connected:   h.registry.Connected(account.AccountID),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"accounts": snapshots})
}

func (h *AccountsHandler) ProbeAccount(c echo.Context) error {
	account := h.cfg.ResolveAccount(c.Param("id"))
	if !account.Configured() {
		return c.JSON(http.StatusOK, dingtalk.ProbeResult{Error: dingtalk.ErrNotConfigured.Error()})
	}

	timeout := 10 * time.Second
	if raw := c.QueryParam("timeout_seconds"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "timeout_seconds must be a positive integer")
		}
		timeout = time.Duration(seconds) * time.Second
	}

	result := h.tokens.Probe(c.Request().Context(), account.ClientID, account.ClientSecret, timeout)
	return c.JSON(http.StatusOK, result)
}

// SendRequest is the direct-send payload.
type SendRequest struct {
	To        string   `json:"to" validate:"required"`
	Text      string   `json:"text" validate:"required"`
	AccountID string   `json:"accountId"`
	AtUsers   []string `json:"atUsers"`
}

// SendHandler exposes the delivery router over HTTP.
type SendHandler struct {
	sender *dingtalk.Sender
	logger *slog.Logger
}

func NewSendHandler(log *slog.Logger, sender *dingtalk.Sender) *SendHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SendHandler{
		sender: sender,
		logger: log.With(slog.String("handler", "send")),
	}
}

func (h *SendHandler) Register(e *echo.Echo) {
	e.POST("/send", h.Send)
}

func (h *SendHandler) Send(c echo.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	result := h.sender.Send(c.Request().Context(), req.To, req.Text, dingtalk.SendOptions{
		AccountID: req.AccountID,
		AtUsers:   req.AtUsers,
	})
	// Delivery failures are part of the result contract, not HTTP errors.
	return c.JSON(http.StatusOK, result)
}

// ToolsHandler exposes the workspace API wrappers.
type ToolsHandler struct {
	client *tools.Client
}

func NewToolsHandler(client *tools.Client) *ToolsHandler {
	return &ToolsHandler{client: client}
}

func (h *ToolsHandler) Register(e *echo.Echo) {
	group := e.Group("/tools")
	group.POST("/contact", h.Contact)
	group.POST("/todo", h.Todo)
	group.POST("/calendar", h.Calendar)
	group.POST("/doc", h.Doc)
}

type contactRequest struct {
	Action string `json:"action" validate:"required"`
	tools.ContactParams
}

func (h *ToolsHandler) Contact(c echo.Context) error {
	var req contactRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.client.Contact(c.Request().Context(), req.Action, req.ContactParams))
}

type todoRequest struct {
	Action string `json:"action" validate:"required"`
	tools.TodoParams
}

func (h *ToolsHandler) Todo(c echo.Context) error {
	var req todoRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.client.Todo(c.Request().Context(), req.Action, req.TodoParams))
}

type calendarRequest struct {
	Action string `json:"action" validate:"required"`
	tools.CalendarParams
}

func (h *ToolsHandler) Calendar(c echo.Context) error {
	var req calendarRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.client.Calendar(c.Request().Context(), req.Action, req.CalendarParams))
}

type docRequest struct {
	Action string `json:"action" validate:"required"`
	tools.DocParams
}

func (h *ToolsHandler) Doc(c echo.Context) error {
	var req docRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.client.Doc(c.Request().Context(), req.Action, req.DocParams))
}
