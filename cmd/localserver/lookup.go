// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/localserver/cmd/localserver/cli"
	"github.com/bureau-foundation/localserver/lib/localserver"
)

type lookupResult struct {
	StoreID         int64               `cbor:"store_id"`
	StatusCode      int                 `cbor:"status_code"`
	StatusLine      string              `cbor:"status_line"`
	Headers         localserver.Headers `cbor:"headers"`
	Body            []byte              `cbor:"body"`
	SessionRedirect bool                `cbor:"session_redirect"`
}

func lookupCommand() *cli.Command {
	var (
		params  globalFlags
		cookie  string
		include bool
	)
	return &cli.Command{
		Name:    "lookup",
		Summary: "Print the response the daemon would serve for a URL",
		Usage:   "localserver lookup <url> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("lookup")
			params.addFlags(flags)
			flags.StringVar(&cookie, "cookie", "", `Cookie header of the request, e.g. "session=abc; theme=dark"`)
			flags.BoolVarP(&include, "include", "i", false, "print the status line and headers before the body")
			return flags
		},
		Run: func(args []string) error {
			if err := cli.ExpectArgs(args, 1, 1, "localserver lookup <url>"); err != nil {
				return err
			}
			raw, err := params.call("lookup", map[string]any{"url": args[0], "cookie": cookie})
			if err != nil {
				return err
			}
			return cli.Emit(params.output(), raw, func(w io.Writer, result lookupResult) error {
				if include {
					fmt.Fprintf(w, "%s\r\n", result.StatusLine)
					fmt.Fprintf(w, "%s", result.Headers.String())
					fmt.Fprintf(w, "X-Localserver-Store: %d\r\n\r\n", result.StoreID)
				}
				_, err := w.Write(result.Body)
				return err
			})
		},
	}
}
