package main

import (
	"errors"
	"strings"
	"sync"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/client"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/config"
)

type commandContext struct {
	configFlag *string
	serverFlag *string
	tokenFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, serverFlag, tokenFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		serverFlag: serverFlag,
		tokenFlag:  tokenFlag,
	}
}

// ensureConfig charge la configuration une seule fois; les flags globaux passent
// en dernier.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if v := strings.TrimSpace(*c.serverFlag); v != "" {
			cfg.Client.ServerURL = v
		}
		if v := strings.TrimSpace(*c.tokenFlag); v != "" {
			cfg.Client.Token = v
		}
		c.config = &cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) client() (*client.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Client.Token == "" {
		return nil, errors.New("no access token: set client.token, $DHT_TOKEN or --token (see `dhtrack token`)")
	}
	return client.New(cfg.Client.ServerURL, cfg.Client.Token), nil
}
