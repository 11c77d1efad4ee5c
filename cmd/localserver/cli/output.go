// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/localserver/lib/codec"
)

// Output writes command results. Terminals get text; pipes and --json
// get the daemon's response re-encoded as indented JSON, keeping the
// socket's field names.
type Output struct {
	JSON bool

	// Writer defaults to os.Stdout.
	Writer io.Writer
}

// AddFlags registers --json.
func (o *Output) AddFlags(flags *pflag.FlagSet) {
	flags.BoolVar(&o.JSON, "json", false, "output as JSON")
}

func (o *Output) writer() io.Writer {
	if o.Writer == nil {
		return os.Stdout
	}
	return o.Writer
}

// WantJSON reports whether results are written as JSON.
func (o *Output) WantJSON() bool {
	if o.JSON {
		return true
	}
	file, ok := o.writer().(*os.File)
	return ok && !term.IsTerminal(int(file.Fd()))
}

// Emit writes raw as JSON, or decodes it into a value of type T and
// passes that to text.
func Emit[T any](o *Output, raw codec.RawMessage, text func(w io.Writer, value T) error) error {
	if o.WantJSON() {
		return o.writeJSON(raw)
	}
	var value T
	if len(raw) > 0 {
		if err := codec.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return text(o.writer(), value)
}

func (o *Output) writeJSON(raw codec.RawMessage) error {
	var value any
	if len(raw) > 0 {
		if err := codec.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	encoder := json.NewEncoder(o.writer())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// Table writes aligned columns under an upper-case header.
func Table(w io.Writer, header []string, rows [][]string) error {
	table := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(table, strings.ToUpper(strings.Join(header, "\t")))
	for _, row := range rows {
		fmt.Fprintln(table, strings.Join(row, "\t"))
	}
	return table.Flush()
}

// Fields writes "name: value" lines with aligned values, skipping
// empty values.
func Fields(w io.Writer, pairs ...string) error {
	table := tabwriter.NewWriter(w, 2, 0, 1, ' ', 0)
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		fmt.Fprintf(table, "%s:\t%s\n", pairs[i], pairs[i+1])
	}
	return table.Flush()
}
