package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"TABLE", FormatTable, false},
		{" yaml ", FormatYAML, false},
		{"", "", false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

type skinRow struct {
	Owner string `json:"owner"`
	Bytes int    `json:"bytes"`
	Slim  bool   `json:"slim"`
	note  string
}

func TestRender_JSONAndYAML(t *testing.T) {
	data := skinRow{Owner: "steve", Bytes: 1200}

	var js bytes.Buffer
	if err := NewRendererWithWriter(FormatJSON, false, &js).Render(data); err != nil {
		t.Fatalf("Render json: %v", err)
	}
	if !strings.Contains(js.String(), `"owner": "steve"`) {
		t.Errorf("json output = %s", js.String())
	}

	var ym bytes.Buffer
	if err := NewRendererWithWriter(FormatYAML, false, &ym).Render(map[string]int{"records": 2}); err != nil {
		t.Fatalf("Render yaml: %v", err)
	}
	if got := ym.String(); got != "records: 2\n" {
		t.Errorf("yaml output = %q", got)
	}
}

func TestRender_TableRows(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	rows := []skinRow{
		{Owner: "steve", Bytes: 1200, Slim: true, note: "hidden"},
		{Owner: "alex", Bytes: 800},
	}
	if err := r.Render(rows); err != nil {
		t.Fatalf("Render: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf.String())
	}
	if fields := strings.Fields(lines[0]); strings.Join(fields, " ") != "OWNER BYTES SLIM" {
		t.Errorf("header = %q", lines[0])
	}
	if fields := strings.Fields(lines[1]); strings.Join(fields, " ") != "steve 1200 true" {
		t.Errorf("row = %q", lines[1])
	}
	if strings.Contains(buf.String(), "hidden") {
		t.Error("unexported field rendered")
	}
}

func TestRender_TableEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := NewRendererWithWriter(FormatTable, true, &buf).Render([]skinRow{}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got := buf.String(); got != "(no results)\n" {
		t.Errorf("output = %q", got)
	}
}

func TestRender_TableFlattensNestedStructs(t *testing.T) {
	type counters struct {
		Sent   int64 `json:"sent"`
		Failed int64 `json:"failed"`
	}
	type stats struct {
		Owner   uuid.UUID `json:"owner"`
		Records int       `json:"records"`
		Fanout  counters  `json:"fanout"`
		Payload []byte    `json:"payload"`
	}

	owner := uuid.MustParse("6b0a2c1e-8d2f-4c3a-9f4e-2b1d0c9e8a7f")
	var buf bytes.Buffer
	err := NewRendererWithWriter(FormatTable, true, &buf).Render(&stats{
		Owner:   owner,
		Records: 3,
		Fanout:  counters{Sent: 9, Failed: 1},
		Payload: make([]byte, 12),
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	got := buf.String()
	for _, want := range []string{
		"owner:",
		owner.String(),
		"fanout.sent:",
		"fanout.failed:",
		"12 bytes",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

type historyTable struct{}

func (historyTable) Header() []string { return []string{"#", "name"} }
func (historyTable) Rows() [][]string { return [][]string{{"1", "cape.png"}} }

func TestRender_TableTabular(t *testing.T) {
	var buf bytes.Buffer
	if err := NewRendererWithWriter(FormatTable, true, &buf).Render(historyTable{}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(buf.String(), "NAME") || !strings.Contains(buf.String(), "cape.png") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRender_NoColorLeavesJSONUnchanged(t *testing.T) {
	var a, b bytes.Buffer
	data := map[string]string{"key": "value"}

	if err := NewRendererWithWriter(FormatJSON, false, &a).Render(data); err != nil {
		t.Fatal(err)
	}
	if err := NewRendererWithWriter(FormatJSON, true, &b).Render(data); err != nil {
		t.Fatal(err)
	}
	if a.String() != b.String() {
		t.Errorf("--no-color changed json output")
	}
}

func TestRenderTUI_Unsupported(t *testing.T) {
	r := NewRendererWithWriter(FormatTable, true, &bytes.Buffer{})
	if err := r.RenderTUI("history", nil); err == nil {
		t.Fatal("expected error for view without TUI")
	}
}
