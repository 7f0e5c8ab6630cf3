package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

type outputMode struct {
	json bool
	out  io.Writer
}

func (o outputMode) printJSON(value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("format json: %w", err)
	}
	_, err = fmt.Fprintln(o.out, string(data))
	return err
}

func (o outputMode) table(rows [][]string) error {
	w := tabwriter.NewWriter(o.out, 2, 4, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

func (o outputMode) line(format string, args ...any) {
	fmt.Fprintf(o.out, format+"\n", args...)
}

// preview shortens s to n runes for table cells.
func preview(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", "⏎")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
