package main

import (
	"strings"
	"sync"

	"flixor/internal/config"
)

type commandContext struct {
	serverFlag *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(serverFlag, configFlag *string) *commandContext {
	return &commandContext{
		serverFlag: serverFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// serverBaseURL resolves the daemon API base URL: the --server flag wins,
// otherwise the configured bind address is assumed reachable locally.
func (c *commandContext) serverBaseURL() string {
	if c.serverFlag != nil && strings.TrimSpace(*c.serverFlag) != "" {
		return strings.TrimRight(strings.TrimSpace(*c.serverFlag), "/")
	}
	cfg, err := c.ensureConfig()
	if err != nil || cfg == nil {
		return "http://127.0.0.1:7788"
	}
	bind := cfg.Paths.APIBind
	if strings.HasPrefix(bind, ":") {
		bind = "127.0.0.1" + bind
	}
	return "http://" + bind
}

func (c *commandContext) client() *apiClient {
	return newAPIClient(c.serverBaseURL())
}
