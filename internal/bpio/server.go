package bpio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// DefaultServerName is announced in ServerInfo when ServerOptions.Name is
// empty.
const DefaultServerName = "estim-connector"

// ServerOptions configures a Server.
type ServerOptions struct {
	Name string
	// AllowedOrigins lists the browser origins allowed to connect. Empty
	// allows every origin. Requests without an Origin header are always
	// allowed.
	AllowedOrigins []string
	// StopAll handles StopAllDevices. Nil answers Ok without doing anything.
	StopAll func(ctx context.Context) error
}

// Server publishes the devices of a Directory to Buttplug clients. Each
// websocket connection is an independent session.
type Server struct {
	dir      *Directory
	opts     ServerOptions
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	clients atomic.Int32
}

// NewServer creates a Server for dir.
func NewServer(dir *Directory, opts ServerOptions) *Server {
	if opts.Name == "" {
		opts.Name = DefaultServerName
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{dir: dir, opts: opts, ctx: ctx, cancel: cancel}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.opts.AllowedOrigins, origin)
}

// Clients returns the number of connected sessions.
func (s *Server) Clients() int {
	return int(s.clients.Load())
}

// Close ends every session. The Server accepts no new sessions afterwards.
func (s *Server) Close() {
	s.cancel()
}

// ServeHTTP upgrades the request and runs a session until the client
// disconnects or the Server is closed.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[BPIO] websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	n := s.clients.Add(1)
	defer s.clients.Add(-1)
	slog.Info("[BPIO] client connected", "remote", r.RemoteAddr, "clients", n)

	err = newSession(s, ws).run(s.ctx)
	if err != nil && !isClosed(err) {
		slog.Warn("[BPIO] session ended", "remote", r.RemoteAddr, "error", err)
		return
	}
	slog.Info("[BPIO] client disconnected", "remote", r.RemoteAddr)
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bpio: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes the
// Server.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		s.Close()
		srv.Close()
	})
	defer stop()

	slog.Info("[BPIO] server listening", "addr", ln.Addr().String())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// conn serializes writes to a websocket, which allows one writer at a time.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	data, err := Encode(msgs...)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func isClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled)
}

// session is one connected client. The read loop, the device list
// streamer and any device work started through a Handle share one
// errgroup; the first failure ends the session.
type session struct {
	srv  *Server
	conn *conn

	group *errgroup.Group
	ctx   context.Context

	mu        sync.Mutex
	streaming bool
	known     map[uint32]bool
	once      map[uint32]bool
}

func newSession(srv *Server, ws *websocket.Conn) *session {
	return &session{
		srv:   srv,
		conn:  &conn{ws: ws},
		known: make(map[uint32]bool),
		once:  make(map[uint32]bool),
	}
}

func (s *session) run(ctx context.Context) error {
	s.group, s.ctx = errgroup.WithContext(ctx)
	stop := context.AfterFunc(s.ctx, func() { s.conn.ws.Close() })
	defer stop()

	s.group.Go(func() error {
		defer s.conn.ws.Close()
		return s.readLoop()
	})
	return s.group.Wait()
}

func (s *session) send(msgs ...Message) error {
	return s.conn.send(msgs...)
}

func (s *session) readLoop() error {
	for {
		kind, data, err := s.conn.ws.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}
		msgs, err := Decode(data)
		if err != nil {
			slog.Warn("[BPIO] undecodable frame", "error", err)
			if err := s.send(errorReply(0, ErrorMessage, err)); err != nil {
				return err
			}
			continue
		}
		for _, msg := range msgs {
			if err := s.handle(msg); err != nil {
				return err
			}
		}
	}
}

// handle answers one client message. Only a failed write is returned;
// protocol errors are reported to the client.
func (s *session) handle(msg Message) error {
	id := msg.MessageID()
	switch m := msg.(type) {
	case *RequestServerInfo:
		slog.Info("[BPIO] client identified", "client", m.ClientName, "version", m.MessageVersion)
		return s.send(&ServerInfo{
			Header:         Header{ID: id},
			ServerName:     s.srv.opts.Name,
			MajorVersion:   1,
			MessageVersion: MessageVersion,
		})

	case *Ping, *StopScanning:
		return s.send(&Ok{Header{ID: id}})

	case *StartScanning:
		return s.startScanning(id)

	case *RequestDeviceList:
		return s.requestDeviceList(id)

	case *StopAllDevices:
		slog.Info("[BPIO] stopping all devices")
		if s.srv.opts.StopAll != nil {
			if err := s.srv.opts.StopAll(s.ctx); err != nil {
				return s.send(errorReply(id, ErrorDevice, err))
			}
		}
		return s.send(&Ok{Header{ID: id}})

	case DeviceMessage:
		return s.deviceCommand(m)

	default:
		slog.Warn("[BPIO] unexpected message", "type", TypeName(msg))
		return s.send(errorReply(id, ErrorMessage, fmt.Errorf("unexpected message %s", TypeName(msg))))
	}
}

func (s *session) startScanning(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reply := []Message{&Ok{Header{ID: id}}}
	if !s.streaming {
		devs := s.srv.dir.Snapshot()
		for _, info := range deviceInfos(devs) {
			reply = append(reply, deviceAdded(info))
		}
		s.markKnown(devs)
	}
	reply = append(reply, &ScanningFinished{})
	if err := s.send(reply...); err != nil {
		return err
	}
	s.stream()
	return nil
}

func (s *session) requestDeviceList(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	devs := s.srv.dir.Snapshot()
	s.markKnown(devs)
	if err := s.send(&DeviceList{Header: Header{ID: id}, Devices: deviceInfos(devs)}); err != nil {
		return err
	}
	s.stream()
	return nil
}

// markKnown records devs as the devices the client has been told about.
// s.mu must be held.
func (s *session) markKnown(devs map[uint32]Device) {
	clear(s.known)
	for index := range devs {
		s.known[index] = true
	}
}

// stream starts sending DeviceAdded and DeviceRemoved as the directory
// changes. s.mu must be held.
func (s *session) stream() {
	if s.streaming {
		return
	}
	s.streaming = true
	changes, cancel := s.srv.dir.watch()
	s.group.Go(func() error {
		defer cancel()
		for {
			// A change between the initial snapshot and watch is picked up
			// by this first diff.
			if err := s.sendChanges(); err != nil {
				return err
			}
			select {
			case <-s.ctx.Done():
				return nil
			case <-changes:
			}
		}
	})
}

// sendChanges tells the client how the directory differs from what it
// last saw: removals first, then additions, each in index order.
func (s *session) sendChanges() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	devs := s.srv.dir.Snapshot()
	var msgs []Message
	for _, index := range slices.Sorted(maps.Keys(s.known)) {
		if _, ok := devs[index]; !ok {
			removed := &DeviceRemoved{}
			removed.DeviceIndex = index
			msgs = append(msgs, removed)
		}
	}
	for _, info := range deviceInfos(devs) {
		if !s.known[info.DeviceIndex] {
			msgs = append(msgs, deviceAdded(info))
		}
	}
	s.markKnown(devs)
	return s.send(msgs...)
}

func (s *session) deviceCommand(cmd DeviceMessage) error {
	id, index := cmd.MessageID(), cmd.Device()
	dev, ok := s.srv.dir.Lookup(index)
	if !ok {
		slog.Warn("[BPIO] command for unknown device", "index", index, "type", TypeName(cmd))
		return s.send(errorReply(id, ErrorDevice, fmt.Errorf("no device with index %d", index)))
	}
	name := TypeName(cmd)
	if _, stop := cmd.(*StopDeviceCmd); !stop && !dev.Features().Accepts(name) {
		return s.send(errorReply(id, ErrorDevice, fmt.Errorf("device %d does not accept %s", index, name)))
	}

	h := &Handle{s: s, index: index}
	if err := dev.Handle(s.ctx, cmd, h); err != nil {
		slog.Warn("[BPIO] device command failed", "index", index, "type", name, "error", err)
		return s.send(errorReply(id, ErrorDevice, err))
	}
	return nil
}

func deviceAdded(info DeviceInfo) *DeviceAdded {
	added := &DeviceAdded{
		DeviceName:             info.DeviceName,
		DeviceMessageTimingGap: info.DeviceMessageTimingGap,
		DeviceDisplayName:      info.DeviceDisplayName,
		DeviceMessages:         info.DeviceMessages,
	}
	added.DeviceIndex = info.DeviceIndex
	return added
}

// Handle lets a Device reply to the session a command arrived on.
type Handle struct {
	s     *session
	index uint32
}

// Ok acknowledges the command with message ID id.
func (h *Handle) Ok(id uint32) error {
	return h.s.send(&Ok{Header{ID: id}})
}

// Send sends msg on behalf of the device, addressed with the device's
// server index.
func (h *Handle) Send(msg DeviceMessage) error {
	msg.SetDevice(h.index)
	return h.s.send(msg)
}

// Go runs fn for as long as the session lasts. ctx is cancelled when the
// client disconnects.
func (h *Handle) Go(fn func(ctx context.Context)) {
	h.s.group.Go(func() error {
		fn(h.s.ctx)
		return nil
	})
}

// GoOnce is Go, but runs fn only the first time it is called for this
// device in this session. It reports whether fn was started.
func (h *Handle) GoOnce(fn func(ctx context.Context)) bool {
	h.s.mu.Lock()
	started := h.s.once[h.index]
	h.s.once[h.index] = true
	h.s.mu.Unlock()
	if started {
		return false
	}
	h.Go(fn)
	return true
}
