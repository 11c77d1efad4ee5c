// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/localserver/cmd/localserver/cli"
	"github.com/bureau-foundation/localserver/lib/process"
)

type captureResult struct {
	TaskID    string   `cbor:"task_id"`
	CaptureID int64    `cbor:"capture_id"`
	URLs      []string `cbor:"urls"`
}

func captureCommand() *cli.Command {
	var (
		params globalFlags
		base   string
		wait   bool
	)
	return &cli.Command{
		Name:    "capture",
		Summary: "Download URLs into a resource store as one batch",
		Usage:   "localserver capture <store-id> <url>... [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("capture")
			params.addFlags(flags)
			flags.StringVar(&base, "base", "", "URL relative URLs are resolved against (default: the store's origin)")
			flags.BoolVar(&wait, "wait", false, "wait for the batch to finish and report per-URL results")
			return flags
		},
		Run: func(args []string) error {
			if err := cli.ExpectArgs(args, 2, -1, "localserver capture <store-id> <url>..."); err != nil {
				return err
			}
			id, err := parseID(args[0], "store id")
			if err != nil {
				return err
			}
			fields := map[string]any{"id": id, "urls": args[1:]}
			if base != "" {
				fields["base"] = base
			}
			raw, err := params.call("capture", fields)
			if err != nil {
				return err
			}
			if !wait {
				return cli.Emit(params.output(), raw, func(w io.Writer, result captureResult) error {
					fmt.Fprintf(w, "capture %d queued as task %s (%d urls)\n", result.CaptureID, result.TaskID, len(result.URLs))
					return nil
				})
			}

			var queued captureResult
			if err := decodeRaw(raw, &queued); err != nil {
				return err
			}
			return waitAndReport(&params, queued.TaskID)
		},
	}
}

func captureBlobCommand() *cli.Command {
	var (
		params      globalFlags
		contentType string
	)
	return &cli.Command{
		Name:    "blob",
		Summary: "Store a local file as the response for a URL",
		Usage:   "localserver blob <store-id> <url> <file|-> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("blob")
			params.Connection.AddFlags(flags)
			flags.StringVar(&contentType, "content-type", "", "Content-Type header (default: from the file extension)")
			return flags
		},
		Run: func(args []string) error {
			if err := cli.ExpectArgs(args, 3, 3, "localserver blob <store-id> <url> <file|->"); err != nil {
				return err
			}
			id, err := parseID(args[0], "store id")
			if err != nil {
				return err
			}
			body, err := readInput(args[2])
			if err != nil {
				return err
			}
			if contentType == "" && args[2] != "-" {
				contentType = mime.TypeByExtension(filepath.Ext(args[2]))
			}
			_, err = params.call("capture_blob", map[string]any{
				"id":           id,
				"url":          args[1],
				"content_type": contentType,
				"body":         body,
			})
			return err
		},
	}
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func abortCommand() *cli.Command {
	var params globalFlags
	return &cli.Command{
		Name:    "abort",
		Summary: "Cancel a running or queued capture batch",
		Usage:   "localserver abort <store-id> <capture-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("abort")
			params.Connection.AddFlags(flags)
			return flags
		},
		Run: func(args []string) error {
			if err := cli.ExpectArgs(args, 2, 2, "localserver abort <store-id> <capture-id>"); err != nil {
				return err
			}
			id, err := parseID(args[0], "store id")
			if err != nil {
				return err
			}
			captureID, err := parseID(args[1], "capture id")
			if err != nil {
				return err
			}
			raw, err := params.call("abort_capture", map[string]any{"id": id, "capture_id": captureID})
			if err != nil {
				return err
			}
			var result struct {
				Aborted bool `cbor:"aborted"`
			}
			if err := decodeRaw(raw, &result); err != nil {
				return err
			}
			if !result.Aborted {
				return fmt.Errorf("store %d has no capture %d in progress", id, captureID)
			}
			fmt.Fprintf(stdout, "aborted capture %d\n", captureID)
			return nil
		},
	}
}

func capturedCommand() *cli.Command {
	var params globalFlags
	return &cli.Command{
		Name:    "captured",
		Summary: "Report whether a store holds a URL (exit status 1 if not)",
		Usage:   "localserver captured <store-id> <url> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("captured")
			params.Connection.AddFlags(flags)
			return flags
		},
		Run: func(args []string) error {
			if err := cli.ExpectArgs(args, 2, 2, "localserver captured <store-id> <url>"); err != nil {
				return err
			}
			id, err := parseID(args[0], "store id")
			if err != nil {
				return err
			}
			raw, err := params.call("is_captured", map[string]any{"id": id, "url": args[1]})
			if err != nil {
				return err
			}
			var result struct {
				Captured bool `cbor:"captured"`
			}
			if err := decodeRaw(raw, &result); err != nil {
				return err
			}
			if !result.Captured {
				fmt.Fprintln(stdout, "not captured")
				return &process.ExitError{Code: 1}
			}
			fmt.Fprintln(stdout, "captured")
			return nil
		},
	}
}

func removeCommand() *cli.Command {
	var params globalFlags
	return &cli.Command{
		Name:    "remove",
		Summary: "Remove a captured URL from a resource store",
		Usage:   "localserver remove <store-id> <url> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("remove")
			params.Connection.AddFlags(flags)
			return flags
		},
		Run: func(args []string) error {
			if err := cli.ExpectArgs(args, 2, 2, "localserver remove <store-id> <url>"); err != nil {
				return err
			}
			id, err := parseID(args[0], "store id")
			if err != nil {
				return err
			}
			raw, err := params.call("remove", map[string]any{"id": id, "url": args[1]})
			if err != nil {
				return err
			}
			var result struct {
				Removed bool `cbor:"removed"`
			}
			if err := decodeRaw(raw, &result); err != nil {
				return err
			}
			if !result.Removed {
				return fmt.Errorf("%s is not captured in store %d", args[1], id)
			}
			return nil
		},
	}
}

func renameCommand() *cli.Command { return moveCommand("rename", "Move a captured entry to another URL") }

func copyCommand() *cli.Command { return moveCommand("copy", "Copy a captured entry to another URL") }

func moveCommand(action, summary string) *cli.Command {
	var params globalFlags
	usage := "localserver " + action + " <store-id> <src-url> <dst-url>"
	return &cli.Command{
		Name:    action,
		Summary: summary,
		Usage:   usage + " [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet(action)
			params.Connection.AddFlags(flags)
			return flags
		},
		Run: func(args []string) error {
			if err := cli.ExpectArgs(args, 3, 3, usage); err != nil {
				return err
			}
			id, err := parseID(args[0], "store id")
			if err != nil {
				return err
			}
			_, err = params.call(action, map[string]any{"id": id, "src": args[1], "dst": args[2]})
			return err
		},
	}
}

type headerValue struct {
	Value string `cbor:"value"`
}

type allHeaders struct {
	Headers string `cbor:"headers"`
}

func headersCommand() *cli.Command {
	var (
		params globalFlags
		name   string
	)
	return &cli.Command{
		Name:    "headers",
		Summary: "Print the captured response headers of a URL",
		Usage:   "localserver headers <store-id> <url> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := newFlagSet("headers")
			params.addFlags(flags)
			flags.StringVar(&name, "name", "", "print only this header's value")
			return flags
		},
		Run: func(args []string) error {
			if err := cli.ExpectArgs(args, 2, 2, "localserver headers <store-id> <url>"); err != nil {
				return err
			}
			id, err := parseID(args[0], "store id")
			if err != nil {
				return err
			}
			if name != "" {
				raw, err := params.call("get_header", map[string]any{"id": id, "url": args[1], "name": name})
				if err != nil {
					return err
				}
				return cli.Emit(params.output(), raw, func(w io.Writer, result headerValue) error {
					_, err := fmt.Fprintln(w, result.Value)
					return err
				})
			}
			raw, err := params.call("get_all_headers", map[string]any{"id": id, "url": args[1]})
			if err != nil {
				return err
			}
			return cli.Emit(params.output(), raw, func(w io.Writer, result allHeaders) error {
				_, err := io.WriteString(w, result.Headers)
				return err
			})
		},
	}
}

// taskStatus mirrors the daemon's task_status response.
type taskStatus struct {
	TaskID     string   `cbor:"task_id"`
	Kind       string   `cbor:"kind"`
	StoreID    int64    `cbor:"store_id"`
	Done       bool     `cbor:"done"`
	CaptureID  int64    `cbor:"capture_id"`
	Succeeded  int      `cbor:"succeeded"`
	Failed     int      `cbor:"failed"`
	FailedURLs []string `cbor:"failed_urls"`
	Cancelled  bool     `cbor:"cancelled"`
	Outcome    string   `cbor:"outcome"`
	Version    string   `cbor:"version"`
	Error      string   `cbor:"error"`
}

// waitAndReport polls task_status until the task finishes, prints the
// result, and returns an exit status 1 error when the task did not
// fully succeed.
func waitAndReport(params *globalFlags, taskID string) error {
	for {
		raw, err := params.call("task_status", map[string]any{"task_id": taskID, "wait": true})
		if err != nil {
			return err
		}
		var status taskStatus
		if err := decodeRaw(raw, &status); err != nil {
			return err
		}
		if !status.Done {
			if err := commandContext.Err(); err != nil {
				return err
			}
			continue
		}
		if err := cli.Emit(params.output(), raw, writeTaskStatus); err != nil {
			return err
		}
		if !taskSucceeded(status) {
			return &process.ExitError{Code: 1}
		}
		return nil
	}
}

func taskSucceeded(status taskStatus) bool {
	switch status.Kind {
	case "capture":
		return status.Failed == 0 && !status.Cancelled && status.Error == ""
	case "update":
		return status.Outcome == "succeeded" || status.Outcome == "skipped"
	}
	return status.Error == ""
}

func writeTaskStatus(w io.Writer, status taskStatus) error {
	state := "running"
	if status.Done {
		state = "done"
	}
	pairs := []string{
		"task", status.TaskID,
		"kind", status.Kind,
		"store", strconv.FormatInt(status.StoreID, 10),
		"state", state,
	}
	if status.Kind == "capture" {
		pairs = append(pairs, "capture", strconv.FormatInt(status.CaptureID, 10))
		if status.Done {
			pairs = append(pairs,
				"succeeded", strconv.Itoa(status.Succeeded),
				"failed", strconv.Itoa(status.Failed),
			)
			if status.Cancelled {
				pairs = append(pairs, "cancelled", "yes")
			}
		}
	} else {
		pairs = append(pairs, "outcome", status.Outcome, "version", status.Version)
	}
	pairs = append(pairs, "error", status.Error)
	if err := cli.Fields(w, pairs...); err != nil {
		return err
	}
	for _, url := range status.FailedURLs {
		fmt.Fprintf(w, "  failed: %s\n", url)
	}
	return nil
}
