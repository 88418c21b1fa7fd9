// Package control implements the Control Channel (§4.9): a WebSocket
// server speaking a small JSON request/response + push protocol, backed by
// gorilla/websocket. Grounded on the teacher's HTTP command pattern
// generalized from one-shot CLI invocations to a long-lived, many-client
// connection.
package control

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/folder-mcp/folder-mcp-daemon/internal/config"
	"github.com/folder-mcp/folder-mcp-daemon/internal/fmdm"
	"github.com/folder-mcp/folder-mcp-daemon/internal/orchestrator"
	"github.com/folder-mcp/folder-mcp-daemon/internal/outcome"
	"github.com/folder-mcp/folder-mcp-daemon/internal/sysinfo"
)

// Version is the daemon's self-reported protocol/release version, surfaced
// in get_server_info. Overridden at build time in a real release; fixed
// here since this module has no build-time ldflags wiring.
var Version = "dev"

// RequestTimeout bounds how long a single request handler may run before
// the server replies with a timeout error (§4.9, §5). A timeout never
// rolls back effects the handler already committed.
const RequestTimeout = 5 * time.Second

type envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Server is the control-channel WebSocket endpoint.
type Server struct {
	fm           *fmdm.Service
	orch         *orchestrator.Orchestrator
	pid          int
	startedAt    time.Time
	upgrader     websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*clientConn
}

type clientConn struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex // guards WriteJSON; gorilla connections are not safe for concurrent writers
}

func (c *clientConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// New constructs a control-channel server. pid/startedAt feed
// get_server_info's daemonPid/daemonUptimeSec fields.
func New(fm *fmdm.Service, orch *orchestrator.Orchestrator, pid int, startedAt time.Time) *Server {
	s := &Server{
		fm:        fm,
		orch:      orch,
		pid:       pid,
		startedAt: startedAt,
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clients:   make(map[string]*clientConn),
	}
	fm.Subscribe(s.broadcastFMDM)
	return s
}

// ServeHTTP upgrades the connection and serves one client for its lifetime.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("control: upgrade failed")
		return
	}

	client := &clientConn{id: uuid.NewString(), conn: conn}
	s.mu.Lock()
	s.clients[client.id] = client
	s.mu.Unlock()
	s.fm.AddClient(client.id)

	defer func() {
		s.mu.Lock()
		delete(s.clients, client.id)
		s.mu.Unlock()
		s.fm.RemoveClient(client.id)
		_ = conn.Close()
	}()

	_ = client.writeJSON(map[string]any{"type": "fmdm.update", "fmdm": s.fm.Get()})

	for {
		var req envelope
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logrus.WithError(err).WithField("client", client.id).Debug("control: read error, closing")
			}
			return
		}
		if req.ID == "" {
			s.replyError(client, "", outcome.Protocol("client message missing id"))
			continue
		}
		go s.dispatch(client, req)
	}
}

// broadcastFMDM is the fmdm.Service subscriber callback: it pushes the new
// snapshot to every connected client, in no particular cross-client order
// (§4.9's "across clients, no global ordering is required").
func (s *Server) broadcastFMDM(snap fmdm.Snapshot) {
	s.mu.Lock()
	targets := make([]*clientConn, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.writeJSON(map[string]any{"type": "fmdm.update", "fmdm": snap}); err != nil {
			logrus.WithError(err).WithField("client", c.id).Debug("control: fmdm push failed")
		}
	}
}

func (s *Server) dispatch(client *clientConn, req envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), RequestTimeout)
	defer cancel()

	done := make(chan struct{})
	var fields map[string]any
	var herr error

	go func() {
		fields, herr = s.handle(ctx, req)
		close(done)
	}()

	select {
	case <-done:
		if herr != nil {
			s.replyError(client, req.ID, herr)
			return
		}
		s.reply(client, req.ID, req.Type+"Response", fields)
	case <-ctx.Done():
		s.replyError(client, req.ID, outcome.Protocol("timeout"))
	}
}

func (s *Server) handle(ctx context.Context, req envelope) (map[string]any, error) {
	switch req.Type {
	case "folder.add":
		var p struct {
			Path  string `json:"path"`
			Model string `json:"model"`
		}
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, outcome.Protocol("invalid folder.add payload: %s", err)
		}
		if err := s.orch.AddFolder(p.Path, p.Model); err != nil {
			return nil, err
		}
		_ = config.UpsertFolder(config.FolderEntry{Path: p.Path, Model: p.Model, Enabled: true})
		return map[string]any{"ok": true}, nil

	case "folder.remove":
		var p struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, outcome.Protocol("invalid folder.remove payload: %s", err)
		}
		if err := s.orch.RemoveFolder(p.Path); err != nil {
			return nil, err
		}
		_ = config.RemoveFolder(p.Path)
		return map[string]any{"ok": true}, nil

	case "getFoldersConfig":
		cfg, err := config.LoadFolders()
		if err != nil {
			return nil, err
		}
		return map[string]any{"folders": cfg.Folders}, nil

	case "get_server_info":
		uptime := time.Since(s.startedAt).Seconds()
		return map[string]any{
			"version":         Version,
			"platform":        runtime.GOOS,
			"nodeRuntime":     runtime.Version(),
			"daemonPid":       s.pid,
			"daemonUptimeSec": int64(uptime),
			"hardware":        sysinfo.Collect(),
		}, nil

	case "get_folder_info":
		var p struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, outcome.Protocol("invalid get_folder_info payload: %s", err)
		}
		snap := s.fm.Get()
		for _, f := range snap.Folders {
			if f.Path == p.Path {
				return map[string]any{"folder": f}, nil
			}
		}
		return nil, outcome.Validation("Folder not found")

	case "folder.search":
		var p struct {
			Path  string `json:"path"`
			Query string `json:"query"`
			K     int    `json:"k"`
		}
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, outcome.Protocol("invalid folder.search payload: %s", err)
		}
		svc, ok := s.orch.Get(p.Path)
		if !ok {
			return nil, outcome.Validation("Folder not found")
		}
		k := p.K
		if k <= 0 {
			k = 10
		}
		results, err := svc.Search(ctx, p.Query, k)
		if err != nil {
			return nil, err
		}
		return map[string]any{"results": results}, nil

	default:
		return nil, outcome.Protocol("unknown request type %q", req.Type)
	}
}

func (s *Server) reply(client *clientConn, id, typ string, fields map[string]any) {
	out := map[string]any{"id": id, "type": typ}
	for k, v := range fields {
		out[k] = v
	}
	if err := client.writeJSON(out); err != nil {
		logrus.WithError(err).WithField("client", client.id).Debug("control: reply failed")
	}
}

func (s *Server) replyError(client *clientConn, id string, err error) {
	msg := err.Error()
	if err := client.writeJSON(map[string]any{"id": id, "type": "error", "error": msg}); err != nil {
		logrus.WithError(err).WithField("client", client.id).Debug("control: error reply failed")
	}
}
