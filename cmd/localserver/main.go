// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/localserver/cmd/localserver/cli"
	"github.com/bureau-foundation/localserver/lib/codec"
	"github.com/bureau-foundation/localserver/lib/process"
	"github.com/bureau-foundation/localserver/lib/version"
)

// stdout receives command output. Tests replace it.
var stdout io.Writer = os.Stdout

// commandContext is cancelled on SIGINT or SIGTERM.
var commandContext = context.Background()

// callTimeout bounds one socket call. It exceeds the daemon's wait
// limit for task_status.
const callTimeout = 40 * time.Second

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	commandContext = ctx
	return root().Execute(os.Args[1:])
}

func root() *cli.Command {
	return &cli.Command{
		Name:    "localserver",
		Summary: "Manage the stores of a localserver daemon",
		Subcommands: []*cli.Command{
			statusCommand(),
			storeCommand(),
			captureCommand(),
			captureBlobCommand(),
			abortCommand(),
			capturedCommand(),
			removeCommand(),
			renameCommand(),
			copyCommand(),
			headersCommand(),
			updateCommand(),
			taskCommand(),
			lookupCommand(),
			versionCommand(),
		},
	}
}

// globalFlags are accepted by every command that talks to the daemon.
type globalFlags struct {
	cli.Connection
	cli.Output
}

func (g *globalFlags) addFlags(flags *pflag.FlagSet) {
	g.Connection.AddFlags(flags)
	g.Output.AddFlags(flags)
}

func newFlagSet(name string) *pflag.FlagSet {
	return pflag.NewFlagSet(name, pflag.ContinueOnError)
}

// call sends one action to the daemon and returns the undecoded data.
func (g *globalFlags) call(action string, fields map[string]any) (codec.RawMessage, error) {
	client, err := g.Client()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(commandContext, callTimeout)
	defer cancel()
	return client.CallRaw(ctx, action, fields)
}

// output returns the Output bound to stdout.
func (g *globalFlags) output() *cli.Output {
	g.Output.Writer = stdout
	return &g.Output
}

func decodeRaw(raw codec.RawMessage, target any) error {
	if err := codec.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, arg)
	}
	return id, nil
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func([]string) error {
			fmt.Fprintf(stdout, "localserver %s\n", version.Full())
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	var params globalFlags
	return &cli.Command{
		Name:    "status",
		Summary: "Show daemon status",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("status")
			params.addFlags(flags)
			return flags
		},
		Run: func(args []string) error {
			if err := cli.ExpectArgs(args, 0, 0, "localserver status"); err != nil {
				return err
			}
			raw, err := params.call("status", nil)
			if err != nil {
				return err
			}
			return cli.Emit(params.output(), raw, func(w io.Writer, status statusResult) error {
				uptime := time.Duration(status.UptimeSeconds * float64(time.Second)).Round(time.Second)
				return cli.Fields(w,
					"version", status.Version,
					"schema", status.SchemaVersion,
					"stores", strconv.Itoa(status.Stores),
					"active tasks", strconv.Itoa(status.ActiveTasks),
					"uptime", uptime.String(),
				)
			})
		},
	}
}

type statusResult struct {
	UptimeSeconds float64 `cbor:"uptime_seconds"`
	Version       string  `cbor:"version"`
	SchemaVersion string  `cbor:"schema_version"`
	Stores        int     `cbor:"stores"`
	ActiveTasks   int     `cbor:"active_tasks"`
}
