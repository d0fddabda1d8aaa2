// Package config loads the dingbot configuration file and resolves robot
// account credentials from it, with environment-variable fallback for the
// default account.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath = "config.toml"
	DefaultHTTPAddr   = ":8080"
	DefaultAPIBase    = "https://api.dingtalk.com"

	// DefaultAccountID is the reserved id of the implicit account backed by
	// the top-level [dingtalk] section or the DINGTALK_* environment.
	DefaultAccountID = "default"

	DefaultHTTPTimeoutSeconds = 30

	EnvClientID     = "DINGTALK_CLIENT_ID"
	EnvClientSecret = "DINGTALK_CLIENT_SECRET"
	EnvRobotCode    = "DINGTALK_ROBOT_CODE"
)

// TokenSource records where an account's credentials came from.
type TokenSource string

const (
	TokenSourceConfig TokenSource = "config"
	TokenSourceEnv    TokenSource = "env"
	TokenSourceNone   TokenSource = "none"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Dingtalk DingtalkConfig `toml:"dingtalk"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// UpstreamConfig points at the HTTP handler that produces replies for
// inbound messages. With an empty URL, inbound messages are logged only.
type UpstreamConfig struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type DingtalkConfig struct {
	Enabled            *bool                    `toml:"enabled"`
	Name               string                   `toml:"name"`
	ClientID           string                   `toml:"client_id"`
	ClientSecret       string                   `toml:"client_secret"`
	RobotCode          string                   `toml:"robot_code"`
	APIBase            string                   `toml:"api_base"`
	HTTPTimeoutSeconds int                      `toml:"http_timeout_seconds"`
	Accounts           map[string]AccountConfig `toml:"accounts"`
}

type AccountConfig struct {
	Enabled      *bool  `toml:"enabled"`
	Name         string `toml:"name"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RobotCode    string `toml:"robot_code"`
}

// Account is a resolved robot identity. It is rebuilt on every resolution
// and never cached, so config and environment changes take effect per
// operation.
type Account struct {
	AccountID    string
	Name         string
	Enabled      bool
	ClientID     string
	ClientSecret string
	RobotCode    string
	TokenSource  TokenSource
}

// Configured reports whether the account carries a usable credential pair.
func (a Account) Configured() bool {
	return a.ClientID != "" && a.ClientSecret != ""
}

// Load reads the toml config at path, applying defaults for anything the
// file omits. A missing file yields a pure-defaults config, which still
// works for env-only deployments.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
	}
	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// APIBaseURL returns the configured DingTalk API base, or the public
// endpoint when unset.
func (c DingtalkConfig) APIBaseURL() string {
	if c.APIBase != "" {
		return strings.TrimRight(c.APIBase, "/")
	}
	return DefaultAPIBase
}

// HTTPTimeout returns the configured timeout in seconds for token and send
// calls, defaulted when unset.
func (c DingtalkConfig) HTTPTimeout() int {
	if c.HTTPTimeoutSeconds > 0 {
		return c.HTTPTimeoutSeconds
	}
	return DefaultHTTPTimeoutSeconds
}

// ResolveAccount resolves the named account. The default account prefers
// the [dingtalk] section and falls back to the DINGTALK_* environment;
// named accounts come from [dingtalk.accounts.<id>] only. TokenSource is
// "none" when neither source supplies a client id; such accounts must fail
// sends without network I/O.
func (c DingtalkConfig) ResolveAccount(accountID string) Account {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		accountID = DefaultAccountID
	}

	if accountID == DefaultAccountID {
		envClientID := strings.TrimSpace(os.Getenv(EnvClientID))
		envClientSecret := strings.TrimSpace(os.Getenv(EnvClientSecret))
		envRobotCode := strings.TrimSpace(os.Getenv(EnvRobotCode))

		clientID := strings.TrimSpace(c.ClientID)
		clientSecret := strings.TrimSpace(c.ClientSecret)
		robotCode := strings.TrimSpace(c.RobotCode)
		if clientID == "" {
			clientID = envClientID
		}
		if clientSecret == "" {
			clientSecret = envClientSecret
		}
		if robotCode == "" {
			robotCode = envRobotCode
		}
		if robotCode == "" {
			robotCode = clientID
		}

		source := TokenSourceNone
		switch {
		case strings.TrimSpace(c.ClientID) != "":
			source = TokenSourceConfig
		case envClientID != "":
			source = TokenSourceEnv
		}

		return Account{
			AccountID:    accountID,
			Name:         c.Name,
			Enabled:      c.Enabled == nil || *c.Enabled,
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RobotCode:    robotCode,
			TokenSource:  source,
		}
	}

	ac := c.Accounts[accountID]
	clientID := strings.TrimSpace(ac.ClientID)
	robotCode := strings.TrimSpace(ac.RobotCode)
	if robotCode == "" {
		robotCode = clientID
	}
	source := TokenSourceNone
	if clientID != "" {
		source = TokenSourceConfig
	}
	return Account{
		AccountID:    accountID,
		Name:         ac.Name,
		Enabled:      ac.Enabled == nil || *ac.Enabled,
		ClientID:     clientID,
		ClientSecret: strings.TrimSpace(ac.ClientSecret),
		RobotCode:    robotCode,
		TokenSource:  source,
	}
}

// AccountIDs lists all known account ids. The default account is included
// when the section or the environment configures it, and sorts first.
func (c DingtalkConfig) AccountIDs() []string {
	ids := make([]string, 0, len(c.Accounts))
	for id := range c.Accounts {
		if strings.TrimSpace(id) != "" && id != DefaultAccountID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	hasDefault := strings.TrimSpace(c.ClientID) != "" ||
		strings.TrimSpace(os.Getenv(EnvClientID)) != ""
	if hasDefault {
		return append([]string{DefaultAccountID}, ids...)
	}
	if len(ids) == 0 {
		return []string{DefaultAccountID}
	}
	return ids
}

// DefaultAccount returns the id of the first known account.
func (c DingtalkConfig) DefaultAccount() string {
	ids := c.AccountIDs()
	if len(ids) == 0 {
		return DefaultAccountID
	}
	return ids[0]
}
