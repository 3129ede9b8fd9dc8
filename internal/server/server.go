// Package server exposes the MTConnect HTTP surface: probe, current,
// sample, and asset requests, single-document responses with an MD5
// trailer, and multipart streaming for interval requests.
package server

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/mtcforge/mtcagent/internal/agent"
	"github.com/mtcforge/mtcagent/internal/assemble"
	"github.com/mtcforge/mtcagent/internal/schema"
)

// Server wraps the agent with HTTP endpoints.
type Server struct {
	agent      *agent.Agent
	log        *zap.Logger
	httpServer *http.Server
	listener   net.Listener
	addr       string
	mu         sync.RWMutex
}

// NewServer creates an HTTP server for the agent.
func NewServer(a *agent.Agent, addr string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{agent: a, addr: addr, log: log}
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.route)

	s.httpServer = &http.Server{
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: interval requests stream multipart documents
		// indefinitely.
		IdleTimeout: 120 * time.Second,
	}

	var err error
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Handler returns the route handler, for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.route)
	return mux
}

// route dispatches MTConnect request paths:
//
//	/probe, /current, /sample, /assets, /asset/<id>[;<id>...]
//	/<device>[;<device>...][/probe|/current|/sample]
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	defer func() {
		s.log.Debug("request",
			zap.String("path", r.URL.Path),
			zap.String("query", r.URL.RawQuery),
			zap.Duration("elapsed", time.Since(start)))
	}()

	segments := splitPath(r.URL.Path)
	switch {
	case len(segments) == 0, len(segments) == 1 && segments[0] == "probe":
		s.handleProbe(w, r, nil)
	case segments[0] == "current" && len(segments) == 1:
		s.handleCurrent(w, r, nil)
	case segments[0] == "sample" && len(segments) == 1:
		s.handleSample(w, r, nil)
	case segments[0] == "assets" || segments[0] == "asset":
		s.handleAssets(w, r, segments[1:])
	case len(segments) == 1:
		s.handleProbe(w, r, parseDeviceList(segments[0]))
	case len(segments) == 2:
		devices := parseDeviceList(segments[0])
		switch segments[1] {
		case "probe":
			s.handleProbe(w, r, devices)
		case "current":
			s.handleCurrent(w, r, devices)
		case "sample":
			s.handleSample(w, r, devices)
		default:
			s.writeErrors(w, assemble.Errorf(assemble.CodeInvalidRequest,
				"unknown request: %s", r.URL.Path))
		}
	default:
		s.writeErrors(w, assemble.Errorf(assemble.CodeInvalidRequest,
			"unknown request: %s", r.URL.Path))
	}
}

func splitPath(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// parseDeviceList splits a multi-device path segment: "VMC-3;HMC-5".
func parseDeviceList(segment string) []string {
	return strings.Split(segment, ";")
}

// resolveScope maps requested device names/uuids to devices. nil names
// means all registered devices. A miss is the single-error NO_DEVICE
// case.
func (s *Server) resolveScope(names []string) ([]*schema.Device, *assemble.AgentError) {
	if names == nil {
		return s.agent.Registry.Devices(), nil
	}
	devices := make([]*schema.Device, 0, len(names))
	for _, name := range names {
		d, ok := s.agent.Registry.Resolve(name)
		if !ok {
			return nil, assemble.Errorf(assemble.CodeNoDevice,
				"could not find device %s", name)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// writeDoc serializes a document as a single text/xml response with the
// Content-MD5 trailer.
func (s *Server) writeDoc(w http.ResponseWriter, doc *etree.Document) {
	doc.Indent(2)
	body, err := doc.WriteToBytes()
	if err != nil {
		s.log.Error("serialize response", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.Header().Set("Trailer", "Content-MD5")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
	sum := md5.Sum(body)
	w.Header().Set("Content-MD5", base64.StdEncoding.EncodeToString(sum[:]))
}

// writeErrors emits an MTConnectError document. Per MTConnect
// convention the HTTP status is still 200.
func (s *Server) writeErrors(w http.ResponseWriter, errs ...*assemble.AgentError) {
	s.writeDoc(w, s.agent.Assembler.ErrorDoc(errs...))
}
