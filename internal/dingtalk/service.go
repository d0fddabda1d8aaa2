package dingtalk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/memohai/dingbot/internal/config"
)

// ErrAlreadyRunning is returned when a listener is started for an account
// that already has one.
var ErrAlreadyRunning = errors.New("listener already running for account")

const probeTimeout = 10 * time.Second

// Service owns the stream listeners: one per account, started and stopped
// as a group or individually.
type Service struct {
	cfg        config.DingtalkConfig
	registry   *Registry
	tokens     *TokenCache
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.Mutex
	cancels map[string]*listenerHandle
	wg      sync.WaitGroup
}

// listenerHandle identifies one started listener so that a stale cleanup
// cannot remove a replacement started in the meantime.
type listenerHandle struct {
	cancel context.CancelFunc
}

// NewService creates the listener service.
func NewService(log *slog.Logger, cfg config.DingtalkConfig, registry *Registry, tokens *TokenCache, httpClient *http.Client) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:        cfg,
		registry:   registry,
		tokens:     tokens,
		httpClient: httpClient,
		logger:     log.With(slog.String("component", "listener")),
		cancels:    map[string]*listenerHandle{},
	}
}

// Start launches the listener for one account. A second Start for a running
// account is refused rather than stacked: duplicate connections would each
// receive and ack the same messages.
func (s *Service) Start(ctx context.Context, accountID string, handler Handler) error {
	account := s.cfg.ResolveAccount(accountID)
	if !account.Enabled {
		return fmt.Errorf("account %s is disabled", account.AccountID)
	}
	if !account.Configured() {
		return fmt.Errorf("account %s: %w", account.AccountID, ErrNotConfigured)
	}

	s.mu.Lock()
	if _, running := s.cancels[account.AccountID]; running {
		s.mu.Unlock()
		return fmt.Errorf("account %s: %w", account.AccountID, ErrAlreadyRunning)
	}
	runCtx, cancel := context.WithCancel(ctx)
	handle := &listenerHandle{cancel: cancel}
	s.cancels[account.AccountID] = handle
	s.mu.Unlock()

	// A failed probe is a warning, not a refusal: the credential may work
	// by the time the connection loop retries.
	if probe := s.tokens.Probe(ctx, account.ClientID, account.ClientSecret, probeTimeout); !probe.OK {
		s.logger.Warn("credential probe failed before start",
			slog.String("account", account.AccountID),
			slog.String("error", probe.Error),
		)
	}

	client := NewStreamClient(s.logger, account, s.cfg.APIBaseURL(), s.httpClient)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.clear(account.AccountID, handle)
		_ = client.Run(runCtx, s.registry, handler)
	}()
	return nil
}

// StartAll starts listeners for every enabled, configured account and
// returns how many were launched.
func (s *Service) StartAll(ctx context.Context, handler Handler) int {
	started := 0
	for _, id := range s.cfg.AccountIDs() {
		account := s.cfg.ResolveAccount(id)
		if !account.Enabled {
			s.logger.Info("account disabled; listener skipped", slog.String("account", id))
			continue
		}
		if !account.Configured() {
			s.logger.Warn("account not configured; listener skipped", slog.String("account", id))
			continue
		}
		if err := s.Start(ctx, id, handler); err != nil {
			s.logger.Error("listener start failed",
				slog.String("account", id),
				slog.Any("error", err),
			)
			continue
		}
		started++
	}
	return started
}

// Stop cancels one account's listener. It reports whether one was running.
func (s *Service) Stop(accountID string) bool {
	s.mu.Lock()
	handle, ok := s.cancels[accountID]
	if ok {
		delete(s.cancels, accountID)
	}
	s.mu.Unlock()
	if ok {
		handle.cancel()
	}
	return ok
}

// Running reports whether the account has a live listener.
func (s *Service) Running(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cancels[accountID]
	return ok
}

// Shutdown stops every listener and waits for their loops to exit.
// In-flight message handlers are not waited on.
func (s *Service) Shutdown() {
	s.mu.Lock()
	handles := make([]*listenerHandle, 0, len(s.cancels))
	for id, handle := range s.cancels {
		handles = append(handles, handle)
		delete(s.cancels, id)
	}
	s.mu.Unlock()
	for _, handle := range handles {
		handle.cancel()
	}
	s.wg.Wait()
}

// clear removes the account's entry, but only when it still belongs to the
// exiting listener.
func (s *Service) clear(accountID string, handle *listenerHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.cancels[accountID]; ok && current == handle {
		delete(s.cancels, accountID)
	}
}
