package session

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/KendoTarakate/skin/metrics"
	"github.com/KendoTarakate/skin/transfer"
	"github.com/KendoTarakate/skin/transport"
	"github.com/KendoTarakate/skin/types"
)

// shutdownGrace bounds the HTTP server shutdown.
const shutdownGrace = 5 * time.Second

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Version      string                  `json:"version"`
	Protocol     int                     `json:"protocol"`
	Participants []ParticipantInfo       `json:"participants"`
	Records      int                     `json:"records"`
	Transfers    transfer.AssemblerStats `json:"transfers"`
	Metrics      metrics.Snapshot        `json:"metrics"`
}

// Handler returns the hub's HTTP routes:
//
//	GET /ws                  websocket session endpoint (?participant=<uuid>)
//	GET /stats               StatsResponse
//	GET /skins               stored record metadata
//	GET /skins/{owner}.png   stored payload
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.serveWS)
	mux.HandleFunc("GET /stats", h.serveStats)
	mux.HandleFunc("GET /skins", h.serveSkins)
	mux.HandleFunc("GET /skins/{file}", h.serveSkin)
	return mux
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	expect := uuid.Nil
	if q := r.URL.Query().Get("participant"); q != "" {
		id, err := uuid.Parse(q)
		if err != nil {
			http.Error(w, "invalid participant", http.StatusBadRequest)
			return
		}
		expect = id
	}

	conn, err := transport.Accept(w, r)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", map[string]any{
			"remote": r.RemoteAddr,
			"error":  err.Error(),
		})
		return
	}
	if err := h.HandleConn(conn, expect); err != nil {
		h.logger.Debug("connection ended with error", map[string]any{
			"remote": r.RemoteAddr,
			"error":  err.Error(),
		})
	}
}

func (h *Hub) serveStats(w http.ResponseWriter, r *http.Request) {
	records, err := h.config.Store.All(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, StatsResponse{
		Version:      types.Version,
		Protocol:     types.ProtocolVersion,
		Participants: h.roster.Names(),
		Records:      len(records),
		Transfers:    h.assembler.Stats(),
		Metrics:      h.metrics.Snapshot(),
	})
}

func (h *Hub) serveSkins(w http.ResponseWriter, r *http.Request) {
	records, err := h.config.Store.All(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metas := make([]types.RecordMeta, 0, len(records))
	for _, rec := range records {
		metas = append(metas, rec.Meta())
	}
	writeJSON(w, metas)
}

func (h *Hub) serveSkin(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	id, err := uuid.Parse(strings.TrimSuffix(file, ".png"))
	if err != nil || !strings.HasSuffix(file, ".png") {
		http.NotFound(w, r)
		return
	}
	rec, ok, err := h.config.Store.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(rec.Payload)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// Serve runs the HTTP endpoint on ln until ctx is done, then shuts the
// server down, disconnects participants and waits for handlers to finish.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.logger.Info("session server listening", map[string]any{"addr": ln.Addr().String()})
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		err := srv.Shutdown(sctx)
		// Hijacked websocket connections are not tracked by Shutdown.
		h.Close()
		return err
	})
	return g.Wait()
}
