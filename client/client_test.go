package client

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/KendoTarakate/skin/engine"
	"github.com/KendoTarakate/skin/imaging"
	"github.com/KendoTarakate/skin/transfer"
	"github.com/KendoTarakate/skin/transport"
	"github.com/KendoTarakate/skin/types"
)

func gradient(side int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, side, side))
	for y := range side {
		for x := range side {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fakeHistory struct {
	mu      sync.Mutex
	records []string
	last    string
	slim    bool
}

func (h *fakeHistory) Record(file string, _ []byte, _ bool) {
	h.mu.Lock()
	h.records = append(h.records, file)
	h.mu.Unlock()
}

func (h *fakeHistory) Last() (string, bool, bool) {
	return h.last, h.slim, h.last != ""
}

func (h *fakeHistory) recorded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.records...)
}

// server is the far end of a piped client connection. Messages from the
// client after Hello arrive on msgs.
type server struct {
	conn  *transport.StreamConn
	hello *types.Hello
	msgs  chan types.Message
}

func connectPiped(t *testing.T, c *Client) *server {
	t.Helper()
	cc, sc := net.Pipe()
	srv := &server{conn: transport.NewStreamConn(sc), msgs: make(chan types.Message, 64)}
	t.Cleanup(func() { _ = srv.conn.Close() })

	helloc := make(chan types.Message, 1)
	go func() {
		msg, err := srv.conn.ReadMessage(t.Context())
		if err != nil {
			close(helloc)
			return
		}
		helloc <- msg
		for {
			msg, err := srv.conn.ReadMessage(t.Context())
			if err != nil {
				close(srv.msgs)
				return
			}
			srv.msgs <- msg
		}
	}()

	if err := c.Connect(t.Context(), transport.NewStreamConn(cc)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	hello, ok := (<-helloc).(*types.Hello)
	if !ok {
		t.Fatal("server did not receive hello")
	}
	srv.hello = hello
	return srv
}

func (s *server) next(t *testing.T) types.Message {
	t.Helper()
	select {
	case msg, ok := <-s.msgs:
		if !ok {
			t.Fatal("client connection closed")
		}
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for client message")
		return nil
	}
}

// collectUpload reads one client upload and reassembles it.
func (s *server) collectUpload(t *testing.T) ([]byte, bool) {
	t.Helper()
	var payload []byte
	var slim bool
	key := uuid.New()
	asm := transfer.NewAssembler(transfer.AssemblerConfig{}, func(_ uuid.UUID, p []byte, s bool) {
		payload, slim = p, s
	})
	for {
		msg := s.next(t)
		if err := asm.Handle(key, msg); err != nil {
			t.Fatalf("assemble %s: %v", msg.MessageType(), err)
		}
		if _, ok := msg.(*types.TransferEnd); ok {
			return payload, slim
		}
	}
}

func (s *server) push(t *testing.T, owner uuid.UUID, payload []byte, slim bool) {
	t.Helper()
	seq, err := transfer.Frame(owner, payload, slim, 700)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	for _, m := range seq.Messages() {
		if err := s.conn.WriteMessage(t.Context(), m); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
}

func newTestClient(t *testing.T, cfg Config) (*Client, *engine.MemoryRegistry) {
	t.Helper()
	reg := engine.NewMemoryRegistry()
	cfg.Registry = reg
	c := New(cfg)
	t.Cleanup(func() { _ = c.Close() })
	return c, reg
}

func TestClient_HelloCarriesIdentity(t *testing.T) {
	id := uuid.New()
	c, _ := newTestClient(t, Config{Participant: id, Name: "alex"})
	srv := connectPiped(t, c)

	if srv.hello.Participant != id.String() || srv.hello.Name != "alex" || srv.hello.Protocol != types.ProtocolVersion {
		t.Errorf("hello = %+v", srv.hello)
	}
}

func TestClient_AppliesPushedSkin(t *testing.T) {
	c, reg := newTestClient(t, Config{})
	srv := connectPiped(t, c)

	other := uuid.New()
	srv.push(t, other, encodePNG(t, gradient(64)), true)

	waitFor(t, "override", func() bool {
		_, ok := c.Table().LookupOverride(other)
		return ok
	})
	o, _ := c.Table().LookupOverride(other)
	if !o.Slim {
		t.Error("slim flag lost")
	}
	img, ok := reg.Texture(o.Handle)
	if !ok || img.Bounds().Dx() != 64 {
		t.Errorf("texture = %v, %v", img, ok)
	}

	// A second skin for the same owner replaces the first texture.
	srv.push(t, other, encodePNG(t, gradient(128)), false)
	waitFor(t, "replacement", func() bool {
		o2, ok := c.Table().LookupOverride(other)
		return ok && o2.Handle != o.Handle
	})
	if reg.Live() != 1 {
		t.Errorf("live textures = %d, want 1", reg.Live())
	}

	if err := srv.conn.WriteMessage(t.Context(), &types.ResetOwner{Owner: other.String()}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	waitFor(t, "removal", func() bool { return c.Table().Len() == 0 })
	if reg.Live() != 0 {
		t.Errorf("live textures = %d after reset", reg.Live())
	}
}

func TestClient_QueueExecutorDefersApply(t *testing.T) {
	q := engine.NewQueueExecutor()
	c, _ := newTestClient(t, Config{Executor: q})
	srv := connectPiped(t, c)

	other := uuid.New()
	srv.push(t, other, encodePNG(t, gradient(64)), false)

	waitFor(t, "queued apply", func() bool { return q.Len() == 1 })
	if c.Table().Len() != 0 {
		t.Fatal("skin applied before the executor drained")
	}
	q.Drain()
	if _, ok := c.Table().LookupOverride(other); !ok {
		t.Error("skin not applied after drain")
	}
}

func TestClient_DiscardsUndecodableSkin(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	srv := connectPiped(t, c)

	bad := uuid.New()
	srv.push(t, bad, bytes.Repeat([]byte{1}, 3000), false)
	good := uuid.New()
	srv.push(t, good, encodePNG(t, gradient(64)), false)

	waitFor(t, "good skin", func() bool {
		_, ok := c.Table().LookupOverride(good)
		return ok
	})
	if _, ok := c.Table().LookupOverride(bad); ok {
		t.Error("undecodable skin was applied")
	}
}

func TestClient_ApplyUploadsAndRecords(t *testing.T) {
	hist := &fakeHistory{}
	c, _ := newTestClient(t, Config{MaxDimension: 64, History: hist})
	srv := connectPiped(t, c)

	if err := c.Apply(t.Context(), gradient(256), true, "skins/knight.png"); err != nil {
		t.Fatalf("apply: %v", err)
	}

	payload, slim := srv.collectUpload(t)
	if !slim {
		t.Error("slim flag lost in upload")
	}
	img, err := png.Decode(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("decode upload: %v", err)
	}
	if img.Bounds().Dx() != 64 {
		t.Errorf("uploaded side = %d, want 64", img.Bounds().Dx())
	}

	if _, ok := c.Table().LookupOverride(c.ID()); !ok {
		t.Error("local skin not applied")
	}
	if got := hist.recorded(); len(got) != 1 || got[0] != "skins/knight.png" {
		t.Errorf("history = %v", got)
	}
}

func TestClient_ApplyRejectsInvalidImage(t *testing.T) {
	hist := &fakeHistory{}
	c, _ := newTestClient(t, Config{History: hist})

	err := c.Apply(t.Context(), gradient(100), false, "bad.png")
	if !errors.Is(err, imaging.ErrInvalidDimensions) {
		t.Fatalf("err = %v, want ErrInvalidDimensions", err)
	}
	if c.Table().Len() != 0 || len(hist.recorded()) != 0 {
		t.Error("failed apply must leave no state")
	}
}

func TestClient_ApplyOffline(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	if err := c.Apply(t.Context(), gradient(64), false, ""); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, ok := c.Table().LookupOverride(c.ID()); !ok {
		t.Error("offline apply should still swap the local skin")
	}
	if err := c.Push(t.Context(), []byte{1}, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Push err = %v, want ErrNotConnected", err)
	}
}

func TestClient_ResetSkin(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	srv := connectPiped(t, c)

	if err := c.Apply(t.Context(), gradient(64), false, ""); err != nil {
		t.Fatalf("apply: %v", err)
	}
	srv.collectUpload(t)

	if err := c.ResetSkin(t.Context()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	msg := srv.next(t)
	if reset, ok := msg.(*types.ResetOwner); !ok || reset.Owner != "" {
		t.Errorf("message = %#v, want ResetOwner without owner", msg)
	}
	if _, ok := c.Table().LookupOverride(c.ID()); ok {
		t.Error("local override should be removed")
	}
}

func TestClient_ConnectReappliesLastSkin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last.png")
	if err := os.WriteFile(path, encodePNG(t, gradient(64)), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	hist := &fakeHistory{last: path, slim: true}
	c, _ := newTestClient(t, Config{History: hist})
	srv := connectPiped(t, c)

	_, slim := srv.collectUpload(t)
	if !slim {
		t.Error("model preference not applied on re-apply")
	}
	if _, ok := c.Table().LookupOverride(c.ID()); !ok {
		t.Error("last skin not applied locally")
	}
}

func TestClient_CloseEndsLoop(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	connectPiped(t, c)
	done := c.Done()

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("receive loop did not exit")
	}
	if err := c.Err(); err != nil {
		t.Errorf("Err = %v", err)
	}
}

func TestClient_JanitorFollowsIdleTimeout(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	c, _ := newTestClient(t, Config{IdleTimeout: 8 * time.Second, Scheduler: clock})
	connectPiped(t, c)

	if err := c.Assembler().OnStart(uuid.New(), 2, 2, false); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	for i := 0; i < 6; i++ {
		if err := clock.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("janitor tick %d not scheduled: %v", i, err)
		}
		clock.Advance(2 * time.Second)
	}
	waitFor(t, "idle transfer eviction", func() bool { return c.Assembler().Stats().InFlight == 0 })
}
