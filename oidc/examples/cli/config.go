// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hashicorp/authflow/oidc"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// List of configuration environment variables which override the file.
const (
	envServerURL    = "AUTHFLOW_SERVER_URL"
	envClientID     = "AUTHFLOW_CLIENT_ID"
	envClientSecret = "AUTHFLOW_CLIENT_SECRET"
	envProject      = "AUTHFLOW_PROJECT"
	envCallbackPort = "AUTHFLOW_CALLBACK_PORT"
	envTokenFile    = "AUTHFLOW_TOKEN_FILE"
	envLogLevel     = "AUTHFLOW_LOG_LEVEL"
)

const (
	defaultClientID     = "hctl"
	defaultCallbackPort = 8250
	defaultLoginTimeout = 2 * time.Minute
)

// cliConfig is the layout of the configuration file.
type cliConfig struct {
	ServerURL    string        `yaml:"server_url"`
	AuthPrefix   string        `yaml:"auth_prefix"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Project      string        `yaml:"project"`
	Scopes       []string      `yaml:"scopes"`
	UILocales    []string      `yaml:"ui_locales"`
	Discovery    bool          `yaml:"discovery"`
	CAFile       string        `yaml:"ca_file"`
	Timeout      time.Duration `yaml:"timeout"`
	CallbackPort int           `yaml:"callback_port"`
	LoginTimeout time.Duration `yaml:"login_timeout"`
	TokenFile    string        `yaml:"token_file"`
	LogLevel     string        `yaml:"log_level"`
}

// defaultConfigPath returns ~/.authflow/config.yaml.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".authflow", "config.yaml")
}

// loadConfig reads the file at path, when it exists, then applies the
// environment overrides and defaults.
func loadConfig(path string) (*cliConfig, error) {
	const op = "loadConfig"
	var cfg cliConfig
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%s: unable to parse %s: %w", op, path, err)
		}
	}

	if v := os.Getenv(envServerURL); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv(envClientID); v != "" {
		cfg.ClientID = v
	}
	if v := os.Getenv(envClientSecret); v != "" {
		cfg.ClientSecret = v
	}
	if v := os.Getenv(envProject); v != "" {
		cfg.Project = v
	}
	if v := os.Getenv(envCallbackPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %s is not a port: %w", op, envCallbackPort, err)
		}
		cfg.CallbackPort = port
	}
	if v := os.Getenv(envTokenFile); v != "" {
		cfg.TokenFile = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = v
	}

	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID
	}
	if cfg.CallbackPort == 0 {
		cfg.CallbackPort = defaultCallbackPort
	}
	if cfg.LoginTimeout == 0 {
		cfg.LoginTimeout = defaultLoginTimeout
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = filepath.Join(filepath.Dir(defaultConfigPath()), "tokens.db")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "warn"
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("%s: server_url is empty (set it in %s or %s)", op, path, envServerURL)
	}
	return &cfg, nil
}

// redirectURL is the local listener address registered with the server.
func (c *cliConfig) redirectURL() string {
	return fmt.Sprintf("http://localhost:%d/callback", c.CallbackPort)
}

// oidcConfig converts the file layout into an oidc.Config.
func (c *cliConfig) oidcConfig(redirectURL string) (*oidc.Config, error) {
	const op = "cliConfig.oidcConfig"
	var opts []oidc.Option
	if c.AuthPrefix != "" {
		opts = append(opts, oidc.WithAuthPrefix(c.AuthPrefix))
	}
	if c.ClientSecret != "" {
		opts = append(opts, oidc.WithClientSecret(oidc.ClientSecret(c.ClientSecret)))
	}
	if len(c.Scopes) > 0 {
		opts = append(opts, oidc.WithScopes(c.Scopes...))
	}
	if c.Timeout > 0 {
		opts = append(opts, oidc.WithTimeout(c.Timeout))
	}
	if c.Discovery {
		opts = append(opts, oidc.WithDiscovery(true))
	}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to read ca_file: %w", op, err)
		}
		opts = append(opts, oidc.WithProviderCA(string(pem)))
	}
	if len(c.UILocales) > 0 {
		tags := make([]language.Tag, 0, len(c.UILocales))
		for _, l := range c.UILocales {
			tag, err := language.Parse(l)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid ui locale %q: %w", op, l, err)
			}
			tags = append(tags, tag)
		}
		opts = append(opts, oidc.WithUILocales(tags...))
	}
	oc, err := oidc.NewConfig(c.ServerURL, c.ClientID, redirectURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return oc, nil
}
