package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"tailscale.com/tsweb"

	"github.com/banshee-data/smartbin/internal/config"
	"github.com/banshee-data/smartbin/internal/httputil"
	"github.com/banshee-data/smartbin/internal/metrics"
	"github.com/banshee-data/smartbin/internal/monitoring"
	"github.com/banshee-data/smartbin/internal/ranging"
	"github.com/banshee-data/smartbin/internal/smartbin"
	"github.com/banshee-data/smartbin/internal/telemetry"
	"github.com/banshee-data/smartbin/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// TriggerSource labels runs started through POST /api/trigger.
const TriggerSource = "api"

const (
	sseKeepAlive   = 15 * time.Second
	wsWriteTimeout = 5 * time.Second
)

// Controller is the part of *smartbin.System the API drives.
type Controller interface {
	Snapshot() smartbin.Snapshot
	Submit(source string) smartbin.Admission
}

// AdminRouter registers extra handlers on the shared /debug/ page.
// Serial rangers implement it.
type AdminRouter interface {
	AttachAdminRoutes(*tsweb.DebugHandler)
}

type Server struct {
	sys      Controller
	hub      *telemetry.Hub
	gatherer prometheus.Gatherer
	cfg      *config.Config
	admin    []AdminRouter
	upgrader websocket.Upgrader
}

// NewServer returns a server for sys. hub and cfg may be nil, in which case
// the streaming and config routes report 503. /metrics is only served when
// gatherer is set.
func NewServer(sys Controller, hub *telemetry.Hub, gatherer prometheus.Gatherer, cfg *config.Config, admin ...AdminRouter) *Server {
	return &Server{
		sys:      sys,
		hub:      hub,
		gatherer: gatherer,
		cfg:      cfg,
		admin:    admin,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/bins", s.showBins)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/trigger", s.triggerHandler)
	mux.HandleFunc("/api/events", s.streamEvents)
	mux.HandleFunc("/api/ws", s.streamWebSocket)
	if s.gatherer != nil {
		mux.Handle("/metrics", metrics.Handler(s.gatherer))
	}

	debug := tsweb.Debugger(mux)
	debug.KV("Version", version.String())
	debug.KVFunc("State", func() any { return s.sys.Snapshot().State })
	if s.hub != nil {
		debug.KVFunc("Stream subscribers", func() any { return s.hub.Subscribers() })
		debug.KVFunc("Dropped stream events", func() any { return s.hub.Drops() })
	}
	for _, a := range s.admin {
		a.AttachAdminRoutes(debug)
	}
	return mux
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, s.sys.Snapshot())
}

// binsResponse is the body of GET /api/bins.
type binsResponse struct {
	Levels []ranging.FillLevel `json:"levels"`
	Full   []string            `json:"full"`
}

func (s *Server) showBins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	snap := s.sys.Snapshot()
	resp := binsResponse{Levels: snap.Levels, Full: snap.FullBins}
	if resp.Levels == nil {
		resp.Levels = []ranging.FillLevel{}
	}
	if resp.Full == nil {
		resp.Full = []string{}
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.cfg == nil {
		httputil.ServiceUnavailable(w, "configuration not available")
		return
	}
	httputil.WriteJSONOK(w, s.cfg)
}

// triggerHandler starts a processing run as if the sensor had fired. The
// debouncer is bypassed; the processing gate is not.
func (s *Server) triggerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	a := s.sys.Submit(TriggerSource)
	metrics.RecordTriggerSignal(TriggerSource, a == smartbin.Admitted)
	switch a {
	case smartbin.Admitted:
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"result": a.String()})
	case smartbin.Busy:
		httputil.Conflict(w, "already processing an object")
	default:
		httputil.ServiceUnavailable(w, "system is not running")
	}
}

// subscribe returns the replayed latest events followed by a live feed.
func (s *Server) subscribe() ([]telemetry.Event, <-chan telemetry.Event, func()) {
	ch, unsubscribe := s.hub.Subscribe()
	return s.hub.Last(), ch, unsubscribe
}

// streamEvents serves telemetry as server-sent events. Each event is named
// by its kind and carries the JSON-encoded telemetry.Event.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.hub == nil {
		httputil.ServiceUnavailable(w, "event stream not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	replay, ch, unsubscribe := s.subscribe()
	defer unsubscribe()

	w.Write([]byte(": ping\n\n"))
	for _, ev := range replay {
		if err := writeSSE(w, ev); err != nil {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, ev telemetry.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}

// streamWebSocket serves the same feed as streamEvents over a websocket,
// one JSON text message per event. Client messages are read and discarded
// so that close frames are noticed.
func (s *Server) streamWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		httputil.ServiceUnavailable(w, "event stream not available")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Debugf("api: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	replay, ch, unsubscribe := s.subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(ev telemetry.Event) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(ev)
	}
	for _, ev := range replay {
		if err := send(ev); err != nil {
			return
		}
	}
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if err := send(ev); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
