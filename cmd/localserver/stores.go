// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/localserver/cmd/localserver/cli"
	"github.com/bureau-foundation/localserver/lib/localserver"
)

func storeCommand() *cli.Command {
	return &cli.Command{
		Name:    "store",
		Summary: "Create, inspect and remove stores",
		Subcommands: []*cli.Command{
			storeListCommand(),
			storeInfoCommand(),
			storeCreateCommand(),
			storeRemoveCommand(),
			storeEnableCommand("enable", true),
			storeEnableCommand("disable", false),
		},
	}
}

func storeListCommand() *cli.Command {
	var params globalFlags
	return &cli.Command{
		Name:    "list",
		Summary: "List every store in the database",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("list")
			params.addFlags(flags)
			return flags
		},
		Run: func(args []string) error {
			if err := cli.ExpectArgs(args, 0, 0, "localserver store list"); err != nil {
				return err
			}
			raw, err := params.call("list_stores", nil)
			if err != nil {
				return err
			}
			return cli.Emit(params.output(), raw, func(w io.Writer, stores []localserver.StoreInfo) error {
				if len(stores) == 0 {
					fmt.Fprintln(w, "no stores")
					return nil
				}
				rows := make([][]string, 0, len(stores))
				for _, store := range stores {
					rows = append(rows, []string{
						strconv.FormatInt(store.ID, 10),
						store.Identity.Name,
						store.Identity.Origin,
						store.Type.String(),
						enabledText(store.Enabled),
						store.Identity.RequiredCookie,
						updateText(store),
					})
				}
				return cli.Table(w, []string{"id", "name", "origin", "type", "enabled", "cookie", "update"}, rows)
			})
		},
	}
}

func storeInfoCommand() *cli.Command {
	var params globalFlags
	return &cli.Command{
		Name:    "info",
		Summary: "Show one store",
		Usage:   "localserver store info <store-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("info")
			params.addFlags(flags)
			return flags
		},
		Run: func(args []string) error {
			if err := cli.ExpectArgs(args, 1, 1, "localserver store info <store-id>"); err != nil {
				return err
			}
			id, err := parseID(args[0], "store id")
			if err != nil {
				return err
			}
			raw, err := params.call("store_info", map[string]any{"id": id})
			if err != nil {
				return err
			}
			return cli.Emit(params.output(), raw, writeStoreInfo)
		},
	}
}

func storeCreateCommand() *cli.Command {
	var (
		params      globalFlags
		name        string
		origin      string
		cookie      string
		manifestURL string
		managed     bool
	)
	return &cli.Command{
		Name:    "create",
		Summary: "Create a store, or return the existing one with the same identity",
		Usage:   "localserver store create --name <name> --origin <origin> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("create")
			params.addFlags(flags)
			flags.StringVar(&name, "name", "", "store name (required)")
			flags.StringVar(&origin, "origin", "", "security origin, scheme://host[:port] (required)")
			flags.StringVar(&cookie, "cookie", "", `required cookie: "name=value", "name", or "name=;NONE;"`)
			flags.StringVar(&manifestURL, "manifest", "", "manifest URL; implies --managed")
			flags.BoolVar(&managed, "managed", false, "create a managed store")
			return flags
		},
		Run: func(args []string) error {
			if err := cli.ExpectArgs(args, 0, 0, "localserver store create --name <name> --origin <origin>"); err != nil {
				return err
			}
			if name == "" || origin == "" {
				return fmt.Errorf("--name and --origin are required")
			}
			action := "create_store"
			fields := map[string]any{"name": name, "origin": origin, "required_cookie": cookie}
			if managed || manifestURL != "" {
				action = "create_managed_store"
				fields["manifest_url"] = manifestURL
			}
			raw, err := params.call(action, fields)
			if err != nil {
				return err
			}
			return cli.Emit(params.output(), raw, writeStoreInfo)
		},
	}
}

func storeRemoveCommand() *cli.Command {
	var params globalFlags
	return &cli.Command{
		Name:    "remove",
		Summary: "Delete a store with everything it holds",
		Usage:   "localserver store remove <store-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("remove")
			params.Connection.AddFlags(flags)
			return flags
		},
		Run: func(args []string) error {
			if err := cli.ExpectArgs(args, 1, 1, "localserver store remove <store-id>"); err != nil {
				return err
			}
			id, err := parseID(args[0], "store id")
			if err != nil {
				return err
			}
			if _, err := params.call("remove_store", map[string]any{"id": id}); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "removed store %d\n", id)
			return nil
		},
	}
}

func storeEnableCommand(name string, enabled bool) *cli.Command {
	var params globalFlags
	summary := "Serve a store's content again"
	if !enabled {
		summary = "Stop serving a store's content without deleting it"
	}
	return &cli.Command{
		Name:    name,
		Summary: summary,
		Usage:   "localserver store " + name + " <store-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet(name)
			params.Connection.AddFlags(flags)
			return flags
		},
		Run: func(args []string) error {
			if err := cli.ExpectArgs(args, 1, 1, "localserver store "+name+" <store-id>"); err != nil {
				return err
			}
			id, err := parseID(args[0], "store id")
			if err != nil {
				return err
			}
			_, err = params.call("set_enabled", map[string]any{"id": id, "enabled": enabled})
			return err
		},
	}
}

func writeStoreInfo(w io.Writer, store localserver.StoreInfo) error {
	pairs := []string{
		"id", strconv.FormatInt(store.ID, 10),
		"name", store.Identity.Name,
		"origin", store.Identity.Origin,
		"required cookie", store.Identity.RequiredCookie,
		"type", store.Type.String(),
		"enabled", enabledText(store.Enabled),
	}
	if store.Type == localserver.TypeManagedStore {
		pairs = append(pairs,
			"manifest", store.ManifestURL,
			"update status", store.UpdateStatus.String(),
			"last check", timeText(store.LastUpdateCheck),
			"manifest date", store.ManifestDateHeader,
			"last error", store.LastErrorMessage,
		)
	}
	return cli.Fields(w, pairs...)
}

func enabledText(enabled bool) string {
	if enabled {
		return "yes"
	}
	return "no"
}

func updateText(store localserver.StoreInfo) string {
	if store.Type != localserver.TypeManagedStore {
		return "-"
	}
	return store.UpdateStatus.String()
}

func timeText(t time.Time) string {
	if t.IsZero() || t.Unix() == 0 {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
