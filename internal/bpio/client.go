package bpio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClientClosed is returned by requests on a Client whose connection is
// gone.
var ErrClientClosed = errors.New("bpio: client closed")

// Client is a connection to an upstream Buttplug server. Its devices can be
// published again through a Directory.
type Client struct {
	conn *conn
	name string
	next atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]chan Message
	devices map[uint32]*ClientDevice
	closed  bool
	err     error
	info    *ServerInfo

	done chan struct{}
}

// Dial connects to the Buttplug server at url, identifies as clientName and
// fetches the initial device list.
func Dial(ctx context.Context, url, clientName string) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bpio: dial %s: %w", url, err)
	}
	c := newClient(ws, clientName)
	go c.readLoop()

	if err := c.handshake(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func newClient(ws *websocket.Conn, name string) *Client {
	return &Client{
		conn:    &conn{ws: ws},
		name:    name,
		pending: make(map[uint32]chan Message),
		devices: make(map[uint32]*ClientDevice),
		done:    make(chan struct{}),
	}
}

func (c *Client) handshake(ctx context.Context) error {
	info, err := roundTrip[*ServerInfo](ctx, c, &RequestServerInfo{ClientName: c.name, MessageVersion: MessageVersion})
	if err != nil {
		return fmt.Errorf("bpio: request server info: %w", err)
	}
	if info.MessageVersion < MessageVersion {
		slog.Warn("[BPIO] upstream speaks an older message version", "server", info.ServerName, "version", info.MessageVersion)
	}
	c.mu.Lock()
	c.info = info
	c.mu.Unlock()

	list, err := roundTrip[*DeviceList](ctx, c, &RequestDeviceList{})
	if err != nil {
		return fmt.Errorf("bpio: request device list: %w", err)
	}
	c.addDevices(list.Devices)
	slog.Info("[BPIO] connected upstream", "server", info.ServerName, "devices", len(list.Devices))
	return nil
}

// ServerName returns the name the upstream server announced.
func (c *Client) ServerName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info == nil {
		return ""
	}
	return c.info.ServerName
}

// Devices returns the upstream devices in index order. It is empty once the
// connection is gone.
func (c *Client) Devices() []Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Device, 0, len(c.devices))
	for _, index := range slices.Sorted(maps.Keys(c.devices)) {
		out = append(out, c.devices[index])
	}
	return out
}

// StopAll asks the upstream server to stop every device.
func (c *Client) StopAll(ctx context.Context) error {
	_, err := roundTrip[*Ok](ctx, c, &StopAllDevices{})
	return err
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is up.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the connection and waits for the reader to stop.
func (c *Client) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := c.conn.ws.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	err := c.read()

	c.mu.Lock()
	c.closed = true
	if isClosed(err) {
		err = ErrClientClosed
	}
	c.err = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	devices := slices.Collect(maps.Values(c.devices))
	clear(c.devices)
	c.mu.Unlock()

	for _, d := range devices {
		d.closeReaders()
	}
	slog.Info("[BPIO] upstream disconnected", "error", err)
	close(c.done)
}

func (c *Client) read() error {
	for {
		kind, data, err := c.conn.ws.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}
		msgs, err := Decode(data)
		if err != nil {
			slog.Warn("[BPIO] undecodable frame from upstream", "error", err)
			continue
		}
		for _, msg := range msgs {
			c.dispatch(msg)
		}
	}
}

func (c *Client) dispatch(msg Message) {
	if id := msg.MessageID(); id != 0 {
		c.mu.Lock()
		ch, ok := c.pending[id]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
				slog.Warn("[BPIO] duplicate reply from upstream", "id", id, "type", TypeName(msg))
			}
			return
		}
	}

	switch m := msg.(type) {
	case *DeviceAdded:
		c.addDevices([]DeviceInfo{{
			DeviceName:             m.DeviceName,
			DeviceIndex:            m.DeviceIndex,
			DeviceMessageTimingGap: m.DeviceMessageTimingGap,
			DeviceDisplayName:      m.DeviceDisplayName,
			DeviceMessages:         m.DeviceMessages,
		}})
	case *DeviceRemoved:
		c.mu.Lock()
		d, ok := c.devices[m.DeviceIndex]
		delete(c.devices, m.DeviceIndex)
		c.mu.Unlock()
		if ok {
			slog.Info("[BPIO] upstream device removed", "index", m.DeviceIndex, "name", d.info.DeviceName)
			d.closeReaders()
		}
	case *SensorReading:
		c.mu.Lock()
		d, ok := c.devices[m.DeviceIndex]
		c.mu.Unlock()
		if ok {
			d.publish(m)
		}
	case *ScanningFinished:
	default:
		slog.Warn("[BPIO] unexpected message from upstream", "type", TypeName(msg), "id", msg.MessageID())
	}
}

// addDevices adds the devices not already known. A known index keeps its
// existing ClientDevice.
func (c *Client) addDevices(infos []DeviceInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for _, info := range infos {
		if _, ok := c.devices[info.DeviceIndex]; ok {
			continue
		}
		slog.Info("[BPIO] upstream device added", "index", info.DeviceIndex, "name", info.DeviceName)
		c.devices[info.DeviceIndex] = &ClientDevice{c: c, info: info}
	}
}

// roundTrip sends msg with a fresh message ID and waits for the reply. An
// Error reply is returned as a *RemoteError.
func roundTrip[M Message](ctx context.Context, c *Client, msg Message) (M, error) {
	var zero M
	id := c.next.Add(1)
	msg.SetMessageID(id)
	ch := make(chan Message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, ErrClientClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.conn.send(msg); err != nil {
		return zero, fmt.Errorf("bpio: send %s: %w", TypeName(msg), err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return zero, ErrClientClosed
		}
		if e, isErr := reply.(*Error); isErr {
			return zero, &RemoteError{Code: e.ErrorCode, Message: e.ErrorMessage}
		}
		m, ok := reply.(M)
		if !ok {
			return zero, fmt.Errorf("bpio: %s answered with %s", TypeName(msg), TypeName(reply))
		}
		return m, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// ClientDevice is a device of an upstream server. Commands sent to it are
// forwarded upstream and the replies are relayed back.
type ClientDevice struct {
	c    *Client
	info DeviceInfo

	mu      sync.Mutex
	readers map[chan *SensorReading]struct{}
}

// Index returns the device's index on the upstream server.
func (d *ClientDevice) Index() uint32 { return d.info.DeviceIndex }

func (d *ClientDevice) Name() string { return d.info.DeviceName }

func (d *ClientDevice) Features() Features { return d.info.DeviceMessages }

func (d *ClientDevice) Handle(ctx context.Context, cmd DeviceMessage, h *Handle) error {
	id := cmd.MessageID()
	switch m := cmd.(type) {
	case *SensorReadCmd:
		reading, err := forward[*SensorReading](ctx, d, m)
		if err != nil {
			return err
		}
		reading.SetMessageID(id)
		return h.Send(reading)

	case *SensorSubscribeCmd:
		readings, cancel := d.subscribe()
		relay := func(ctx context.Context) {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case r, ok := <-readings:
					if !ok {
						return
					}
					out := *r
					out.SetMessageID(0)
					if err := h.Send(&out); err != nil {
						return
					}
				}
			}
		}
		if !h.GoOnce(relay) {
			cancel()
		}
		if _, err := forward[*Ok](ctx, d, m); err != nil {
			return err
		}
		return h.Ok(id)

	case *StopDeviceCmd, *ScalarCmd, *VibrateCmd, *LinearCmd, *RotateCmd, *SensorUnsubscribeCmd, *RawWriteCmd:
		if _, err := forward[*Ok](ctx, d, cmd); err != nil {
			return err
		}
		return h.Ok(id)

	default:
		return fmt.Errorf("%s is not supported", TypeName(cmd))
	}
}

// forward sends cmd to the device's upstream index and waits for the reply.
func forward[M Message](ctx context.Context, d *ClientDevice, cmd DeviceMessage) (M, error) {
	cmd.SetDevice(d.info.DeviceIndex)
	return roundTrip[M](ctx, d.c, cmd)
}

func (d *ClientDevice) subscribe() (<-chan *SensorReading, func()) {
	ch := make(chan *SensorReading, 16)
	d.mu.Lock()
	if d.readers == nil {
		d.readers = make(map[chan *SensorReading]struct{})
	}
	d.readers[ch] = struct{}{}
	d.mu.Unlock()
	return ch, func() {
		d.mu.Lock()
		delete(d.readers, ch)
		d.mu.Unlock()
	}
}

// publish hands r to every subscriber that has room for it.
func (d *ClientDevice) publish(r *SensorReading) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ch := range d.readers {
		select {
		case ch <- r:
		default:
			slog.Debug("[BPIO] sensor reading dropped", "index", d.info.DeviceIndex)
		}
	}
}

// closeReaders ends every subscription.
func (d *ClientDevice) closeReaders() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ch := range d.readers {
		close(ch)
		delete(d.readers, ch)
	}
}
