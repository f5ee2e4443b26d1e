package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	dispatcher "github.com/CorralNAS/dispatcher-client"
	"github.com/CorralNAS/dispatcher-client/internal/config"
	"github.com/CorralNAS/dispatcher-client/internal/logging"
)

type commandContext struct {
	socketFlag  *string
	configFlag  *string
	timeoutFlag *int

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(socketFlag, configFlag *string, timeoutFlag *int) *commandContext {
	return &commandContext{
		socketFlag:  socketFlag,
		configFlag:  configFlag,
		timeoutFlag: timeoutFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolvedPath, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolvedPath
	})
	return c.config, c.configErr
}

func (c *commandContext) buildLogger() *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		logger, err := logging.New(logging.Options{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: os.Stderr,
		})
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		c.logger = logger
	})
	return c.logger
}

func (c *commandContext) socketPath() string {
	if c.socketFlag != nil && strings.TrimSpace(*c.socketFlag) != "" {
		return strings.TrimSpace(*c.socketFlag)
	}
	if cfg, err := c.ensureConfig(); err == nil {
		return cfg.Connection.SocketPath
	}
	return ""
}

func (c *commandContext) callTimeout() time.Duration {
	if c.timeoutFlag != nil && *c.timeoutFlag > 0 {
		return time.Duration(*c.timeoutFlag) * time.Second
	}
	if cfg, err := c.ensureConfig(); err == nil {
		return cfg.CallTimeout()
	}
	return time.Minute
}

func (c *commandContext) withClient(fn func(*dispatcher.Client) error) error {
	client, err := c.dialClient()
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func (c *commandContext) dialClient() (*dispatcher.Client, error) {
	socket := c.socketPath()
	client, err := dispatcher.Open(socket, dispatcher.WithLogger(c.buildLogger()))
	if err != nil {
		return nil, wrapDialError(err, socket)
	}
	return client, nil
}

func wrapDialError(err error, socket string) error {
	switch {
	case errors.Is(err, syscall.ENOENT) || os.IsNotExist(err):
		return fmt.Errorf("connect to dispatcher: socket %s not found; verify the daemon is running", socket)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to dispatcher: socket %s refused the connection; verify the daemon is running", socket)
	default:
		return fmt.Errorf("connect to dispatcher: %w", err)
	}
}
