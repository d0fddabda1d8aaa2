package dingtalk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/dingbot/internal/config"
)

func testServiceConfig(apiBase string) config.DingtalkConfig {
	return config.DingtalkConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RobotCode:    "robot-code",
		APIBase:      apiBase,
	}
}

func TestServiceRefusesSecondListener(t *testing.T) {
	t.Parallel()
	srv := tokenServer(t, nil)
	cfg := testServiceConfig(srv.URL)
	svc := NewService(nil, cfg, NewRegistry(), NewTokenCache(nil, nil, srv.URL, srv.Client()), srv.Client())
	defer svc.Shutdown()

	require.NoError(t, svc.Start(context.Background(), "default", nil))
	assert.True(t, svc.Running("default"))

	err := svc.Start(context.Background(), "default", nil)
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestServiceStartUnconfigured(t *testing.T) {
	t.Parallel()
	svc := NewService(nil, config.DingtalkConfig{}, NewRegistry(), NewTokenCache(nil, nil, "http://127.0.0.1:0", nil), nil)
	err := svc.Start(context.Background(), "default", nil)
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, svc.Running("default"))
}

func TestServiceStartDisabled(t *testing.T) {
	t.Parallel()
	disabled := false
	cfg := testServiceConfig("http://127.0.0.1:0")
	cfg.Enabled = &disabled
	svc := NewService(nil, cfg, NewRegistry(), NewTokenCache(nil, nil, cfg.APIBase, nil), nil)
	err := svc.Start(context.Background(), "default", nil)
	require.Error(t, err)
	assert.False(t, svc.Running("default"))
}

func TestServiceStopAndShutdown(t *testing.T) {
	t.Parallel()
	srv := tokenServer(t, nil)
	cfg := testServiceConfig(srv.URL)
	svc := NewService(nil, cfg, NewRegistry(), NewTokenCache(nil, nil, srv.URL, srv.Client()), srv.Client())

	require.NoError(t, svc.Start(context.Background(), "default", nil))
	assert.True(t, svc.Stop("default"))
	assert.False(t, svc.Stop("default"))

	require.NoError(t, svc.Start(context.Background(), "default", nil))
	svc.Shutdown()
	assert.False(t, svc.Running("default"))
}

func TestServiceStartAllSkipsUnusable(t *testing.T) {
	t.Parallel()
	srv := tokenServer(t, nil)
	cfg := testServiceConfig(srv.URL)
	cfg.Accounts = map[string]config.AccountConfig{
		"backup": {}, // no credentials
	}
	svc := NewService(nil, cfg, NewRegistry(), NewTokenCache(nil, nil, srv.URL, srv.Client()), srv.Client())
	defer svc.Shutdown()

	started := svc.StartAll(context.Background(), nil)
	assert.Equal(t, 1, started)
	assert.True(t, svc.Running("default"))
	assert.False(t, svc.Running("backup"))
}
