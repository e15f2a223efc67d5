// Package render writes command output as json, yaml or an aligned table.
//
// When --format is not given, a terminal gets a table and anything else
// gets json. --no-color only affects table headers; the TUI carries its
// own styling.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/KendoTarakate/skin/cli/tui"
)

// Format is an output format.
type Format string

const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a --format value. The empty string yields the empty
// Format so the caller can pick a default.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatTable, FormatYAML, "":
		return f, nil
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Tabular is implemented by values with a custom table layout.
type Tabular interface {
	Header() []string
	Rows() [][]string
}

var headerStyle = lipgloss.NewStyle().Bold(true)

// Renderer writes values in one format.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer builds a renderer from the --format and --no-color flags,
// writing to the app's writer.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	var out io.Writer = os.Stdout
	if c.App != nil && c.App.Writer != nil {
		out = c.App.Writer
	}
	if format == "" {
		format = FormatJSON
		if f, ok := out.(*os.File); ok && isTTY(f) {
			format = FormatTable
		}
	}
	return NewRendererWithWriter(format, c.Bool("no-color"), out), nil
}

// NewRendererWithWriter builds a renderer writing to out.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// Format returns the selected format.
func (r *Renderer) Format() Format { return r.format }

// Render writes data in the selected format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return r.renderTable(data)
	default:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
}

// RenderTUI hands data to the interactive view registered for view.
func (r *Renderer) RenderTUI(view string, data any) error {
	if !tui.IsTUISupported(view) {
		return fmt.Errorf("TUI mode is not supported for %s", view)
	}
	return tui.Run(view, data)
}

func (r *Renderer) renderTable(data any) error {
	if t, ok := data.(Tabular); ok {
		return r.writeTable(t.Header(), t.Rows())
	}

	v := reflect.ValueOf(data)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			_, err := fmt.Fprintln(r.out, "(none)")
			return err
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			_, err := fmt.Fprintln(r.out, "(no results)")
			return err
		}
		return r.renderRows(v)
	case reflect.Struct:
		var pairs [][2]string
		flatten("", v, &pairs)
		return r.writePairs(pairs)
	case reflect.Map:
		keys := v.MapKeys()
		pairs := make([][2]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, [2]string{fmt.Sprint(k.Interface()), cell(v.MapIndex(k))})
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
		return r.writePairs(pairs)
	default:
		_, err := fmt.Fprintln(r.out, cell(v))
		return err
	}
}

func (r *Renderer) renderRows(v reflect.Value) error {
	elem := v.Type().Elem()
	for elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		rows := make([][]string, v.Len())
		for i := range rows {
			rows[i] = []string{cell(v.Index(i))}
		}
		return r.writeTable([]string{"value"}, rows)
	}

	var header []string
	var fields []int
	for i := range elem.NumField() {
		name, ok := fieldName(elem.Field(i))
		if !ok {
			continue
		}
		header = append(header, name)
		fields = append(fields, i)
	}

	rows := make([][]string, 0, v.Len())
	for i := range v.Len() {
		item := reflect.Indirect(v.Index(i))
		row := make([]string, len(fields))
		if item.IsValid() {
			for j, f := range fields {
				row[j] = cell(item.Field(f))
			}
		}
		rows = append(rows, row)
	}
	return r.writeTable(header, rows)
}

func (r *Renderer) writeTable(header []string, rows [][]string) error {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(header, "\t")))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	head, rest, _ := strings.Cut(buf.String(), "\n")
	if !r.noColor {
		head = headerStyle.Render(head)
	}
	_, err := io.WriteString(r.out, head+"\n"+rest)
	return err
}

func (r *Renderer) writePairs(pairs [][2]string) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	for _, p := range pairs {
		fmt.Fprintf(w, "%s:\t%s\n", p[0], p[1])
	}
	return w.Flush()
}

// flatten walks nested structs into dotted key/value pairs.
func flatten(prefix string, v reflect.Value, out *[][2]string) {
	t := v.Type()
	for i := range t.NumField() {
		name, ok := fieldName(t.Field(i))
		if !ok {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		f := reflect.Indirect(v.Field(i))
		if f.Kind() == reflect.Struct && !isScalar(f) {
			flatten(name, f, out)
			continue
		}
		*out = append(*out, [2]string{name, cell(v.Field(i))})
	}
}

// fieldName returns the json name of an exported field.
func fieldName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", false
	}
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name, true
	}
	return strings.ToLower(f.Name), true
}

func isScalar(v reflect.Value) bool {
	_, ok := v.Interface().(fmt.Stringer)
	return ok
}

func cell(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	if v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return "-"
		}
		v = v.Elem()
	}
	if s, ok := v.Interface().(fmt.Stringer); ok {
		return s.String()
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return fmt.Sprintf("%d bytes", v.Len())
		}
		parts := make([]string, v.Len())
		for i := range parts {
			parts[i] = cell(v.Index(i))
		}
		return strings.Join(parts, ", ")
	case reflect.Struct:
		b, err := json.Marshal(v.Interface())
		if err != nil {
			return fmt.Sprint(v.Interface())
		}
		return string(b)
	default:
		return fmt.Sprint(v.Interface())
	}
}

func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
