// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/localserver/cmd/localserver/cli"
	"github.com/bureau-foundation/localserver/lib/localserver"
)

func updateCommand() *cli.Command {
	return &cli.Command{
		Name:    "update",
		Summary: "Check and inspect managed store updates",
		Subcommands: []*cli.Command{
			updateCheckCommand(),
			updateInfoCommand(),
			updateVersionsCommand(),
			updateSetManifestCommand(),
			updateRunningCommand(),
		},
	}
}

func updateCheckCommand() *cli.Command {
	var (
		params globalFlags
		wait   bool
	)
	return &cli.Command{
		Name:    "check",
		Summary: "Start an update check of a managed store",
		Usage:   "localserver update check <store-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("check")
			params.addFlags(flags)
			flags.BoolVar(&wait, "wait", false, "wait for the update task to finish")
			return flags
		},
		Run: func(args []string) error {
			if err := cli.ExpectArgs(args, 1, 1, "localserver update check <store-id>"); err != nil {
				return err
			}
			id, err := parseID(args[0], "store id")
			if err != nil {
				return err
			}
			raw, err := params.call("check_for_update", map[string]any{"id": id})
			if err != nil {
				return err
			}
			var started struct {
				TaskID string `cbor:"task_id"`
			}
			if err := decodeRaw(raw, &started); err != nil {
				return err
			}
			if wait {
				return waitAndReport(&params, started.TaskID)
			}
			return cli.Emit(params.output(), raw, func(w io.Writer, _ struct{}) error {
				_, err := fmt.Fprintf(w, "update task %s started\n", started.TaskID)
				return err
			})
		},
	}
}

func updateInfoCommand() *cli.Command {
	var params globalFlags
	return &cli.Command{
		Name:    "info",
		Summary: "Show the update state of a managed store",
		Usage:   "localserver update info <store-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("info")
			params.addFlags(flags)
			return flags
		},
		Run: func(args []string) error {
			if err := cli.ExpectArgs(args, 1, 1, "localserver update info <store-id>"); err != nil {
				return err
			}
			id, err := parseID(args[0], "store id")
			if err != nil {
				return err
			}
			raw, err := params.call("update_info", map[string]any{"id": id})
			if err != nil {
				return err
			}
			return cli.Emit(params.output(), raw, func(w io.Writer, info localserver.UpdateInfo) error {
				return cli.Fields(w,
					"manifest", info.ManifestURL,
					"status", info.Status.String(),
					"last check", timeText(info.LastCheck),
					"manifest date", info.ManifestDate,
					"current version", info.CurrentVersion,
					"downloading", info.DownloadingVersion,
					"last error", info.LastError,
				)
			})
		},
	}
}

func updateVersionsCommand() *cli.Command {
	var params globalFlags
	return &cli.Command{
		Name:    "versions",
		Summary: "List the stored versions of a managed store",
		Usage:   "localserver update versions <store-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("versions")
			params.addFlags(flags)
			return flags
		},
		Run: func(args []string) error {
			if err := cli.ExpectArgs(args, 1, 1, "localserver update versions <store-id>"); err != nil {
				return err
			}
			id, err := parseID(args[0], "store id")
			if err != nil {
				return err
			}
			raw, err := params.call("versions", map[string]any{"id": id})
			if err != nil {
				return err
			}
			return cli.Emit(params.output(), raw, func(w io.Writer, versions []localserver.VersionInfo) error {
				if len(versions) == 0 {
					fmt.Fprintln(w, "no versions")
					return nil
				}
				rows := make([][]string, 0, len(versions))
				for _, version := range versions {
					rows = append(rows, []string{
						version.Label,
						version.State,
						fmt.Sprintf("%d/%d", version.Ready, version.Entries),
						version.SessionRedirectURL,
					})
				}
				return cli.Table(w, []string{"version", "state", "ready", "session redirect"}, rows)
			})
		},
	}
}

func updateSetManifestCommand() *cli.Command {
	var params globalFlags
	return &cli.Command{
		Name:    "set-manifest",
		Summary: "Change a managed store's manifest URL (empty clears it)",
		Usage:   "localserver update set-manifest <store-id> <manifest-url> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("set-manifest")
			params.Connection.AddFlags(flags)
			return flags
		},
		Run: func(args []string) error {
			if err := cli.ExpectArgs(args, 2, 2, "localserver update set-manifest <store-id> <manifest-url>"); err != nil {
				return err
			}
			id, err := parseID(args[0], "store id")
			if err != nil {
				return err
			}
			_, err = params.call("set_manifest_url", map[string]any{"id": id, "manifest_url": args[1]})
			return err
		},
	}
}

func updateRunningCommand() *cli.Command {
	var params globalFlags
	return &cli.Command{
		Name:    "running",
		Summary: "Report whether any process is updating a managed store",
		Usage:   "localserver update running <store-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("running")
			params.addFlags(flags)
			return flags
		},
		Run: func(args []string) error {
			if err := cli.ExpectArgs(args, 1, 1, "localserver update running <store-id>"); err != nil {
				return err
			}
			id, err := parseID(args[0], "store id")
			if err != nil {
				return err
			}
			raw, err := params.call("is_update_running", map[string]any{"id": id})
			if err != nil {
				return err
			}
			return cli.Emit(params.output(), raw, func(w io.Writer, result struct {
				Running bool `cbor:"running"`
			}) error {
				_, err := fmt.Fprintln(w, strconv.FormatBool(result.Running))
				return err
			})
		},
	}
}

func taskCommand() *cli.Command {
	var (
		params globalFlags
		wait   bool
		abort  bool
	)
	return &cli.Command{
		Name:    "task",
		Summary: "Show a capture or update task started through the daemon",
		Usage:   "localserver task <task-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("task")
			params.addFlags(flags)
			flags.BoolVar(&wait, "wait", false, "wait for the task to finish")
			flags.BoolVar(&abort, "abort", false, "stop the task before its next download")
			return flags
		},
		Run: func(args []string) error {
			if err := cli.ExpectArgs(args, 1, 1, "localserver task <task-id>"); err != nil {
				return err
			}
			if abort {
				raw, err := params.call("abort_task", map[string]any{"task_id": args[0]})
				if err != nil {
					return err
				}
				return cli.Emit(params.output(), raw, func(w io.Writer, result struct {
					Aborted bool `cbor:"aborted"`
				}) error {
					if !result.Aborted {
						_, err := fmt.Fprintf(w, "task %s already finished\n", args[0])
						return err
					}
					_, err := fmt.Fprintf(w, "task %s aborted\n", args[0])
					return err
				})
			}
			if wait {
				return waitAndReport(&params, args[0])
			}
			raw, err := params.call("task_status", map[string]any{"task_id": args[0]})
			if err != nil {
				return err
			}
			return cli.Emit(params.output(), raw, writeTaskStatus)
		},
	}
}
