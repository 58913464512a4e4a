package outfmt

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Formatter renders one command result: JSON (filtered by --query) in the
// JSON modes, aligned tables and label blocks in text mode.
type Formatter struct {
	ctx    context.Context
	out    io.Writer
	errOut io.Writer
}

// NewFormatter creates a Formatter writing results to out and notices to
// errOut.
func NewFormatter(ctx context.Context, out, errOut io.Writer) *Formatter {
	return &Formatter{ctx: ctx, out: out, errOut: errOut}
}

// Result writes v in JSON modes and reports whether it did. In text mode it
// writes nothing and the caller renders text instead.
func (f *Formatter) Result(v any) (bool, error) {
	if !IsJSON(f.ctx) {
		return false, nil
	}
	query := GetQuery(f.ctx)
	if IsJSONL(f.ctx) {
		return true, WriteLine(f.out, v, query)
	}
	return true, WriteJSON(f.out, v, query, false)
}

// Notice writes an informational line to stderr, e.g. an empty result.
func (f *Formatter) Notice(format string, args ...any) {
	_, _ = fmt.Fprintf(f.errOut, format+"\n", args...)
}

// Table is an aligned text table.
type Table struct {
	tw      *tabwriter.Writer
	columns int
}

// Table starts a table with the given column headers.
func (f *Formatter) Table(headers ...string) *Table {
	t := &Table{tw: tabwriter.NewWriter(f.out, 0, 4, 2, ' ', 0), columns: len(headers)}
	t.write(headers)
	return t
}

// Row appends a row. Missing trailing cells and empty strings print as "-".
func (t *Table) Row(cells ...any) {
	cols := make([]string, t.columns)
	for i := range cols {
		cols[i] = "-"
		if i < len(cells) {
			if s := cellText(cells[i]); s != "" {
				cols[i] = s
			}
		}
	}
	t.write(cols)
}

func (t *Table) write(cols []string) {
	_, _ = fmt.Fprintln(t.tw, strings.Join(cols, "\t"))
}

// Flush writes the aligned table.
func (t *Table) Flush() error {
	return t.tw.Flush()
}

// Field is one line of a label block.
type Field struct {
	Label string
	Value any
}

// Fields writes "Label: value" lines with the values aligned. Fields with a
// nil value are skipped.
func (f *Formatter) Fields(fields ...Field) error {
	tw := tabwriter.NewWriter(f.out, 0, 4, 2, ' ', 0)
	for _, fl := range fields {
		if fl.Value == nil {
			continue
		}
		_, _ = fmt.Fprintf(tw, "%s:\t%s\n", fl.Label, cellText(fl.Value))
	}
	return tw.Flush()
}

func cellText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
