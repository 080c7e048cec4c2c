package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/tsweb"

	"github.com/banshee-data/wearables.relay/internal/catalog"
	"github.com/banshee-data/wearables.relay/internal/httputil"
	"github.com/banshee-data/wearables.relay/internal/monitoring"
	"github.com/banshee-data/wearables.relay/internal/version"
)

//go:embed static/index.html
var staticFiles embed.FS

// DefaultKeepalive is the idle interval between SSE comments and websocket
// pings.
const DefaultKeepalive = 10 * time.Second

const (
	wsWriteWait = 10 * time.Second
	wsReadWait  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebServerConfig configures the dashboard HTTP server.
type WebServerConfig struct {
	// Address is the listen address, for example "0.0.0.0:8765".
	Address string
	State   *State
	// Catalog backs /api/streams and the SQL console. Optional.
	Catalog *catalog.Catalog
	// Gatherer backs /metrics. Optional.
	Gatherer prometheus.Gatherer
	// Keepalive defaults to DefaultKeepalive.
	Keepalive time.Duration
}

// WebServer serves the live dashboard.
type WebServer struct {
	address   string
	state     *State
	catalog   *catalog.Catalog
	gatherer  prometheus.Gatherer
	keepalive time.Duration
	handler   http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// NewWebServer builds the route table. It fails when the SQL console cannot
// be created.
func NewWebServer(cfg WebServerConfig) (*WebServer, error) {
	if cfg.State == nil {
		return nil, errors.New("dashboard state is required")
	}
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = DefaultKeepalive
	}
	ws := &WebServer{
		address:   cfg.Address,
		state:     cfg.State,
		catalog:   cfg.Catalog,
		gatherer:  cfg.Gatherer,
		keepalive: cfg.Keepalive,
	}
	mux, err := ws.setupRoutes()
	if err != nil {
		return nil, err
	}
	ws.handler = mux
	return ws, nil
}

// Handler returns the route table.
func (ws *WebServer) Handler() http.Handler { return ws.handler }

// Listen binds the listen address. It is separate from Serve so callers can
// report bind failures before anything else starts.
func (ws *WebServer) Listen() (net.Addr, error) {
	ln, err := net.Listen("tcp", ws.address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", ws.address, err)
	}
	ws.mu.Lock()
	ws.listener = ln
	ws.server = &http.Server{
		Handler:           ws.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ws.mu.Unlock()
	return ln.Addr(), nil
}

// Serve runs until ctx is cancelled, then shuts the server down. Listen must
// have succeeded first.
func (ws *WebServer) Serve(ctx context.Context) error {
	ws.mu.Lock()
	ln, server := ws.listener, ws.server
	ws.mu.Unlock()
	if ln == nil {
		return errors.New("dashboard server is not listening")
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	return nil
}

func (ws *WebServer) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", ws.handleIndex)
	mux.HandleFunc("/index.html", ws.handleIndex)
	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/events", ws.handleEvents)
	mux.HandleFunc("/ws", ws.handleWebsocket)
	mux.HandleFunc("/api/snapshot", ws.handleSnapshot)
	mux.HandleFunc("/api/streams", ws.handleStreams)
	mux.HandleFunc("/chart", ws.handleChart)
	if ws.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(ws.gatherer, promhttp.HandlerOpts{}))
	}

	debug := tsweb.Debugger(mux)
	debug.KVFunc("Dashboard clients", func() any { return ws.state.Subscribers() })
	debug.KVFunc("Packets received", func() any { return ws.state.PacketsReceived() })
	debug.HandleFunc("dashboard-state", "Current dashboard snapshot (JSON)", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, ws.state.Snapshot())
	})
	if ws.catalog != nil {
		if err := ws.catalog.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

func (ws *WebServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodHead)
		return
	}
	body, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		httputil.InternalServerError(w, "dashboard page missing")
		return
	}
	httputil.NoCache(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(body)
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.NoCache(w)
	httputil.WriteJSONOK(w, map[string]any{
		"status":                "ok",
		"packets_received":      ws.state.PacketsReceived(),
		"last_packet_wall_time": ws.state.LastPacketWallTime(),
		"version":               version.String(),
	})
}

func (ws *WebServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	httputil.NoCache(w)
	httputil.WriteJSONOK(w, ws.state.Snapshot())
}

func (ws *WebServer) handleStreams(w http.ResponseWriter, r *http.Request) {
	if ws.catalog == nil {
		httputil.NotFound(w, "stream catalog disabled")
		return
	}
	if id := r.URL.Query().Get("source_id"); id != "" {
		stream, err := ws.catalog.Stream(id)
		if errors.Is(err, catalog.ErrNotFound) {
			httputil.NotFound(w, "unknown source_id")
			return
		}
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, stream)
		return
	}
	streams, err := ws.catalog.Streams()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, streams)
}

// handleEvents streams the snapshot followed by every sample event.
func (ws *WebServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := ws.state.Subscribe()
	defer ws.state.Unsubscribe(sub.ID)

	if err := writeSSE(w, Event{Name: "snapshot", Data: ws.state.Snapshot()}); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(ws.keepalive)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, ev Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
	return err
}

// handleWebsocket sends the same events as /events, framed as
// {"event": ..., "data": ...} JSON messages.
func (ws *WebServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := ws.state.Subscribe()
	defer ws.state.Unsubscribe(sub.ID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(wsReadWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsReadWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					monitoring.Logf("websocket read error: %v", err)
				}
				return
			}
		}
	}()

	send := func(ev Event) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(ev)
	}
	if err := send(Event{Name: "snapshot", Data: ws.state.Snapshot()}); err != nil {
		return
	}

	ticker := time.NewTicker(ws.keepalive)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "client too slow"))
				return
			}
			if err := send(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
