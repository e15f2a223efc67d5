package cmd

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/KendoTarakate/skin/cli/config"
	"github.com/KendoTarakate/skin/client"
	"github.com/KendoTarakate/skin/history"
	"github.com/KendoTarakate/skin/session"
	"github.com/KendoTarakate/skin/store"
	"github.com/KendoTarakate/skin/types"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := &cli.App{
		Name:           "skinsync",
		Writer:         &out,
		ErrWriter:      io.Discard,
		ExitErrHandler: func(*cli.Context, error) {},
		Commands:       Commands("test"),
	}
	err := app.RunContext(t.Context(), append([]string{"skinsync"}, args...))
	return out.String(), err
}

func writeSkin(t *testing.T, dir string, side int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, side, side))
	for y := range side {
		for x := range side {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 3), G: uint8(y * 5), B: uint8(x ^ y), A: 255})
		}
	}
	path := filepath.Join(dir, "skin.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func exitCode(err error) int {
	if ec, ok := err.(cli.ExitCoder); ok {
		return ec.ExitCode()
	}
	return -1
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func newTestServer(t *testing.T, keepOnLeave bool) (*httptest.Server, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	hub := session.NewHub(session.Config{Store: st, KeepOnLeave: keepOnLeave, JoinReplayDelay: time.Millisecond})
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return srv, st
}

func TestReadOnlyFlags_IncludesTUI(t *testing.T) {
	for _, f := range ReadOnlyFlags() {
		if f.Names()[0] == "tui" {
			return
		}
	}
	t.Error("ReadOnlyFlags should include --tui so unsupported commands can reject it")
}

func TestEndpoints(t *testing.T) {
	tests := []struct {
		addr     string
		ws, base string
		wantErr  bool
	}{
		{addr: "localhost:7420", ws: "ws://localhost:7420/ws", base: "http://localhost:7420"},
		{addr: "ws://10.0.0.2:7420/ws", ws: "ws://10.0.0.2:7420/ws", base: "http://10.0.0.2:7420"},
		{addr: "https://skins.example.com", ws: "wss://skins.example.com/ws", base: "https://skins.example.com"},
		{addr: "http://h:1/custom?participant=x", ws: "ws://h:1/custom?participant=x", base: "http://h:1"},
		{addr: "", wantErr: true},
		{addr: "localhost", wantErr: true},
		{addr: "ftp://h:21", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			ws, base, err := endpoints(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("endpoints(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
			}
			if ws != tt.ws || base != tt.base {
				t.Errorf("endpoints(%q) = %q, %q; want %q, %q", tt.addr, ws, base, tt.ws, tt.base)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runApp(t, "version", "--format", "json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var resp VersionResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if resp.Version != types.Version || resp.Protocol != types.ProtocolVersion || resp.Commit != "test" {
		t.Errorf("version = %+v", resp)
	}

	if _, err := runApp(t, "version", "--tui"); exitCode(err) != 1 {
		t.Errorf("version --tui error = %v", err)
	}
}

func TestEncodeFile(t *testing.T) {
	dir := t.TempDir()
	in := writeSkin(t, dir, 256)
	out := filepath.Join(dir, "encoded.png")

	resp, err := encodeFile(in, out, 128, 1<<20, 1000)
	if err != nil {
		t.Fatalf("encodeFile: %v", err)
	}
	if resp.OriginalSide != 256 || resp.Side != 128 {
		t.Errorf("sides = %d -> %d", resp.OriginalSide, resp.Side)
	}
	if want := (resp.Bytes + 999) / 1000; resp.Chunks != want {
		t.Errorf("chunks = %d, want %d", resp.Chunks, want)
	}
	info, err := os.Stat(out)
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	if int(info.Size()) != resp.Bytes {
		t.Errorf("output size = %d, want %d", info.Size(), resp.Bytes)
	}

	if _, err := encodeFile(in, in, 128, 1<<20, 1000); err == nil {
		t.Error("expected refusal to overwrite the input")
	}
}

func TestEncodeCommand_Usage(t *testing.T) {
	if _, err := runApp(t, "encode"); exitCode(err) != exitUsage {
		t.Errorf("encode without args error = %v", err)
	}
}

func TestOpenNotifier(t *testing.T) {
	n, err := openNotifier(config.AdapterConfig{})
	if err != nil || n != nil {
		t.Fatalf("empty adapter = %v, %v", n, err)
	}

	zero := 0
	n, err = openNotifier(config.AdapterConfig{Type: "webhook", URL: "http://127.0.0.1:1/hook", Retries: &zero})
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	_ = n.Close()

	if _, err := openNotifier(config.AdapterConfig{Type: "redis", URL: "not a url"}); err == nil {
		t.Error("expected error for invalid redis URL")
	}
	if _, err := openNotifier(config.AdapterConfig{Type: "kafka", URL: "x"}); err == nil {
		t.Error("expected error for unknown adapter")
	}

	if got := retriesOr(nil, 3); got != 3 {
		t.Errorf("retriesOr(nil) = %d", got)
	}
	if got := retriesOr(&zero, 3); got != 0 {
		t.Errorf("retriesOr(0) = %d", got)
	}
}

func TestApplyServeFlags(t *testing.T) {
	cfg := &config.Config{
		Server:  config.ServerConfig{Listen: ":1", ChunkSize: 500, Advertise: "from-file"},
		Storage: config.StorageConfig{Backend: "fs", Path: "/data"},
	}

	serve := ServeCommand()
	serve.Action = func(c *cli.Context) error {
		applyServeFlags(c, cfg)
		return nil
	}
	app := &cli.App{Name: "skinsync", Commands: []*cli.Command{serve}, Writer: io.Discard}
	err := app.RunContext(t.Context(), []string{"skinsync", "serve",
		"--listen", ":9000", "--storage", "memory", "--join-replay-delay", "250ms", "--keep-on-leave"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if cfg.Server.Listen != ":9000" || cfg.Storage.Backend != "memory" {
		t.Errorf("flags not applied: %+v %+v", cfg.Server, cfg.Storage)
	}
	if cfg.Server.JoinReplayDelay.Duration != 250*time.Millisecond || !cfg.Server.KeepOnLeave {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.ChunkSize != 500 || cfg.Server.Advertise != "from-file" || cfg.Storage.Path != "/data" {
		t.Errorf("unset flags overrode config: %+v %+v", cfg.Server, cfg.Storage)
	}
}

func TestClientConfig(t *testing.T) {
	id := uuid.New()
	cfg := &config.Config{Client: config.ClientConfig{Name: "file", Participant: id.String(), MaxBytes: 5000}}

	var got client.Config
	var gotErr error
	run := func(args ...string) {
		cmd := &cli.Command{
			Name:  "probe",
			Flags: participantFlags(),
			Action: func(c *cli.Context) error {
				got, gotErr = clientConfig(c, cfg)
				return nil
			},
		}
		app := &cli.App{Name: "skinsync", Commands: []*cli.Command{cmd}, Writer: io.Discard}
		if err := app.RunContext(t.Context(), append([]string{"skinsync", "probe"}, args...)); err != nil {
			t.Fatalf("run: %v", err)
		}
	}

	run("--name", "flag")
	if gotErr != nil || got.Name != "flag" || got.Participant != id || got.MaxBytes != 5000 {
		t.Errorf("config = %+v, %v", got, gotErr)
	}

	run("--participant", "nope")
	if gotErr == nil {
		t.Error("expected error for invalid participant")
	}
}

func TestStatsCommand(t *testing.T) {
	srv, _ := newTestServer(t, false)

	out, err := runApp(t, "stats", "--server", srv.URL, "--format", "json")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var resp session.StatsResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if resp.Version != types.Version || resp.Records != 0 {
		t.Errorf("stats = %+v", resp)
	}

	if _, err := runApp(t, "stats", "--server", "127.0.0.1:1", "--format", "json"); exitCode(err) != exitFailure {
		t.Errorf("unreachable server error = %v", err)
	}
	if _, err := runApp(t, "stats", "--format", "json"); exitCode(err) != exitUsage {
		t.Errorf("missing server error = %v", err)
	}
}

func TestPushSkinsAndReset(t *testing.T) {
	srv, st := newTestServer(t, true)
	dir := t.TempDir()
	skin := writeSkin(t, dir, 64)
	hist := filepath.Join(dir, "history.json")
	id := uuid.New()

	_, err := runApp(t, "push", "--server", srv.URL, "--participant", id.String(),
		"--name", "steve", "--history", hist, "--slim", "-q", skin)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	waitFor(t, "stored record", func() bool { return st.Len() == 1 })

	rec, ok, err := st.Get(t.Context(), id)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if rec.Name != "steve" || !rec.Slim {
		t.Errorf("record = %+v", rec.Meta())
	}

	out, err := runApp(t, "skins", "--server", srv.URL, "--format", "table", "--no-color")
	if err != nil {
		t.Fatalf("skins: %v", err)
	}
	if !strings.Contains(out, id.String()) || !strings.Contains(out, "slim") {
		t.Errorf("skins table = %q", out)
	}

	saved := filepath.Join(dir, "fetched.png")
	if _, err := runApp(t, "skins", "get", "--server", srv.URL, "-o", saved, id.String()); err != nil {
		t.Fatalf("skins get: %v", err)
	}
	data, err := os.ReadFile(saved)
	if err != nil || !bytes.Equal(data, rec.Payload) {
		t.Errorf("downloaded payload differs (err %v)", err)
	}
	if _, err := runApp(t, "skins", "get", "--server", srv.URL, "-o", saved, uuid.NewString()); exitCode(err) != exitFailure {
		t.Errorf("missing skin error = %v", err)
	}

	h, err := history.Open(hist, nil)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	if entries := h.Entries(); len(entries) != 1 || !entries[0].Slim {
		t.Errorf("history = %+v", entries)
	}

	if _, err := runApp(t, "reset", "--server", srv.URL, "--participant", id.String(), "--history", hist, "-q"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	waitFor(t, "record removed", func() bool { return st.Len() == 0 })
}

func TestResetRequiresParticipant(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := runApp(t, "reset", "--server", "127.0.0.1:1", "-q")
	if exitCode(err) != exitUsage {
		t.Errorf("reset without participant error = %v", err)
	}
}

func TestHistoryCommand(t *testing.T) {
	dir := t.TempDir()
	skin := writeSkin(t, dir, 64)
	path := filepath.Join(dir, "history.json")

	h, err := history.Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Add(skin, false); err != nil {
		t.Fatal(err)
	}

	if _, err := runApp(t, "history", "rename", "--history", path, skin, "Cape"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := runApp(t, "history", "model", "--history", path, "slim"); err != nil {
		t.Fatalf("model: %v", err)
	}

	out, err := runApp(t, "history", "--history", path, "--format", "json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var view struct {
		Slim    bool            `json:"slim_preference"`
		Entries []history.Entry `json:"entries"`
	}
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if !view.Slim || len(view.Entries) != 1 || view.Entries[0].Name != "Cape" {
		t.Errorf("history = %+v", view)
	}

	out, err = runApp(t, "history", "--history", path, "--format", "table", "--no-color")
	if err != nil {
		t.Fatalf("history table: %v", err)
	}
	if !strings.Contains(out, "Cape") || !strings.Contains(out, "just now") {
		t.Errorf("history table = %q", out)
	}

	if _, err := runApp(t, "history", "remove", "--history", path, filepath.Join(dir, "other.png")); exitCode(err) != exitFailure {
		t.Errorf("remove unknown entry error = %v", err)
	}
	if _, err := runApp(t, "history", "model", "--history", path, "tall"); exitCode(err) != exitFailure {
		t.Errorf("bad model error = %v", err)
	}
	if _, err := runApp(t, "history", "clear", "--history", path); err != nil {
		t.Fatalf("clear: %v", err)
	}

	h, err = history.Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Entries()) != 0 || !h.SlimPreference() {
		t.Errorf("after clear: entries %d, slim %v", len(h.Entries()), h.SlimPreference())
	}
}
