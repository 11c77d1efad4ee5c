// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/localserver/lib/config"
	"github.com/bureau-foundation/localserver/lib/service"
)

// Connection locates the daemon socket: --socket wins, then the
// configuration from --config or LOCALSERVER_CONFIG, then the
// defaults.
type Connection struct {
	SocketPath string
	ConfigPath string
}

// AddFlags registers --socket and --config.
func (c *Connection) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&c.SocketPath, "socket", "", "daemon socket path")
	flags.StringVar(&c.ConfigPath, "config", "", "path to localserver.yaml")
}

// Client returns a client for the resolved socket.
func (c *Connection) Client() (*service.ServiceClient, error) {
	if c.SocketPath != "" {
		return service.NewServiceClient(c.SocketPath), nil
	}
	var (
		cfg *config.Config
		err error
	)
	switch {
	case c.ConfigPath != "":
		cfg, err = config.LoadFile(c.ConfigPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		return nil, err
	}
	return service.NewServiceClient(cfg.Paths.Socket), nil
}
