package main

import (
	"fmt"
	"strings"
	"sync"

	"sortline/internal/api"
	"sortline/internal/config"
)

// commandContext resolves configuration and the daemon API client lazily, so
// commands that only talk to a remote daemon work without a local config file.
type commandContext struct {
	addressFlag *string
	tokenFlag   *string
	configFlag  *string

	configOnce sync.Once
	configPath string
	config     *config.Config
	configErr  error
}

func newCommandContext(addressFlag, tokenFlag, configFlag *string) *commandContext {
	return &commandContext{
		addressFlag: addressFlag,
		tokenFlag:   tokenFlag,
		configFlag:  configFlag,
	}
}

func (c *commandContext) resolveConfigPath() (string, error) {
	if c.configFlag != nil {
		if path := strings.TrimSpace(*c.configFlag); path != "" {
			return path, nil
		}
	}
	path, err := config.DefaultConfigPath()
	if err != nil {
		return "", fmt.Errorf("determine config path: %w", err)
	}
	return path, nil
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path, err := c.resolveConfigPath()
		if err != nil {
			c.configErr = err
			return
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.configPath = path
		c.config = cfg
	})
	return c.config, c.configErr
}

// client builds an API client from flags, falling back to the configuration
// file for whatever the flags leave blank. An explicit --address works even
// when no config file exists on this host.
func (c *commandContext) client() (*api.Client, error) {
	address := strings.TrimSpace(*c.addressFlag)
	token := strings.TrimSpace(*c.tokenFlag)

	if address == "" || token == "" {
		cfg, err := c.ensureConfig()
		switch {
		case err != nil && address == "":
			return nil, fmt.Errorf("no --address given and config unavailable: %w", err)
		case err == nil:
			if address == "" {
				address = cfg.API.Bind
			}
			if token == "" {
				token = cfg.API.Token
			}
		}
	}
	if address == "" {
		return nil, fmt.Errorf("daemon API address not configured; pass --address or set [api] bind")
	}
	return api.NewClient(address, token), nil
}
