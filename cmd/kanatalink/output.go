package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/kanatalink/kanatalink/internal/sink"
)

const (
	formatAuto = "auto"
	formatText = "text"
	formatJSON = "json"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()

	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// resolveFormat turns "auto" into text for terminals and JSON lines otherwise.
func resolveFormat(raw string, out io.Writer) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", formatAuto:
		if isTerminal(out) {
			return formatText, nil
		}

		return formatJSON, nil
	case formatText:
		return formatText, nil
	case formatJSON:
		return formatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want auto, text or json)", raw)
	}
}

type eventLine struct {
	Event   string    `json:"event"`
	Payload string    `json:"payload"`
	At      time.Time `json:"at"`
}

// eventPrinter writes one line per sink event.
type eventPrinter struct {
	out    io.Writer
	format string
	enc    *json.Encoder
}

func newEventPrinter(out io.Writer, format string) *eventPrinter {
	return &eventPrinter{out: out, format: format, enc: json.NewEncoder(out)}
}

func (p *eventPrinter) Print(ev sink.Event) error {
	if p.format == formatJSON {
		return p.enc.Encode(eventLine{Event: ev.Name, Payload: ev.Payload, At: ev.At})
	}
	_, err := fmt.Fprintf(p.out, "%s  %-16s %s\n", ev.At.Format("15:04:05.000"), ev.Name, ev.Payload)

	return err
}
