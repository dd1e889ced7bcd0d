package xbee

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"
)

// Transport is the byte stream to the radio, e.g. a serial port or a tcp socket
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

const (
	defaultBaud        = 9600
	defaultFrameBuffer = 16
	readBufferSize     = 256
)

// Device connects to a local XBee radio in API mode. Received frames are delivered
// on Frames, requests are sent with Send.
type Device struct {
	lock  sync.Mutex
	wlock sync.Mutex

	conn      Transport
	link      string
	connected bool
	done      chan struct{}
	stop      func()

	baud     int
	dataBits byte
	parity   serial.Parity
	stopBits serial.StopBits
	limiter *rate.Limiter
	metrics *Metrics
	frames  chan Frame
}

// DeviceOption configures a Device
type DeviceOption func(*Device)

// WithBaud sets the baud rate used for serial links
func WithBaud(baud int) DeviceOption {
	return func(o *Device) {
		if baud > 0 {
			o.baud = baud
		}
	}
}

// WithFraming sets data bits, parity and stop bits of serial links, default is 8N1
func WithFraming(dataBits byte, parity serial.Parity, stopBits serial.StopBits) DeviceOption {
	return func(o *Device) {
		o.dataBits = dataBits
		o.parity = parity
		o.stopBits = stopBits
	}
}

// ParseFraming converts framing settings as written in config files, e.g. 8, "N", "1"
func ParseFraming(dataBits int, parity, stopBits string) (DeviceOption, error) {
	if dataBits < 5 || dataBits > 8 {
		return nil, fmt.Errorf("Invalid data bits %v, expected 5 to 8", dataBits)
	}

	var p serial.Parity
	switch strings.ToUpper(strings.TrimSpace(parity)) {
	case "N", "NONE":
		p = serial.ParityNone
	case "O", "ODD":
		p = serial.ParityOdd
	case "E", "EVEN":
		p = serial.ParityEven
	case "M", "MARK":
		p = serial.ParityMark
	case "S", "SPACE":
		p = serial.ParitySpace
	default:
		return nil, fmt.Errorf("Invalid parity %q", parity)
	}

	var sb serial.StopBits
	switch strings.TrimSpace(stopBits) {
	case "1":
		sb = serial.Stop1
	case "1.5":
		sb = serial.Stop1Half
	case "2":
		sb = serial.Stop2
	default:
		return nil, fmt.Errorf("Invalid stop bits %q", stopBits)
	}

	return WithFraming(byte(dataBits), p, sb), nil
}

// WithRateLimit paces outgoing frames
func WithRateLimit(r rate.Limit, burst int) DeviceOption {
	return func(o *Device) {
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(r, burst)
	}
}

// WithMetrics counts traffic and parser diagnostics
func WithMetrics(m *Metrics) DeviceOption {
	return func(o *Device) { o.metrics = m }
}

// WithFrameBuffer sets the capacity of the Frames channel
func WithFrameBuffer(n int) DeviceOption {
	return func(o *Device) {
		if n >= 0 {
			o.frames = make(chan Frame, n)
		}
	}
}

// NewDevice is the factory method to create a new Device
func NewDevice(opts ...DeviceOption) *Device {
	o := &Device{
		baud:     defaultBaud,
		dataBits: 8,
		parity:   serial.ParityNone,
		stopBits: serial.Stop1,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		frames:   make(chan Frame, defaultFrameBuffer),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Frames delivers validated frames in the order they were received. The channel stays
// open across reconnects.
func (o *Device) Frames() <-chan Frame {
	return o.frames
}

// Done is closed when the current connection is closed or broke down
func (o *Device) Done() <-chan struct{} {
	o.lock.Lock()
	defer o.lock.Unlock()
	if o.done == nil {
		c := make(chan struct{})
		close(c)
		return c
	}
	return o.done
}

// Connected reports whether a transport is attached
func (o *Device) Connected() bool {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.connected
}

// Connect attaches to the radio via serial device or a tcp socket.
// Use socket://[host]:[port] or tcp://[host]:[port] for TCP, anything else is taken as serial device path.
func (o *Device) Connect(link string) error {
	u, err := url.Parse(link)
	if err != nil {
		return err
	}

	var conn Transport
	switch u.Scheme {
	case "socket", "tcp":
		c, err := net.Dial("tcp", u.Host)
		if err != nil {
			return err
		}
		if tc, ok := c.(*net.TCPConn); ok {
			tc.SetKeepAlive(true)
			tc.SetKeepAlivePeriod(30 * time.Second)
		}
		conn = c
	case "file", "":
		if u.Path == "" {
			return fmt.Errorf("Can not find a serial device in \"%v\"", link)
		}
		conn, err = serial.OpenPort(o.serialConfig(u.Path))
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("Can not find a valid connection string in \"%v\"", link)
	}

	o.lock.Lock()
	o.link = link
	o.lock.Unlock()

	o.Attach(conn)
	log.Infof("Connected to %v", link)
	return nil
}

func (o *Device) serialConfig(name string) *serial.Config {
	return &serial.Config{Name: name, Baud: o.baud, Size: o.dataBits, Parity: o.parity, StopBits: o.stopBits}
}

// Attach uses an already opened transport. A previously attached transport is closed.
// Every transport gets a fresh Parser, so partially received frames are never carried over.
func (o *Device) Attach(t Transport) {
	o.Close()

	o.lock.Lock()
	defer o.lock.Unlock()

	done := make(chan struct{})
	o.conn = t
	o.done = done
	o.stop = sync.OnceFunc(func() { close(done) })
	o.connected = true

	var opts []ParserOption
	if o.metrics != nil {
		opts = append(opts, WithObserver(o.metrics))
	}
	go o.readLoop(t, NewParser(opts...), done, o.stop)
}

// Reconnect closes the device and connects again to the last link
func (o *Device) Reconnect() error {
	o.lock.Lock()
	link := o.link
	o.lock.Unlock()
	if link == "" {
		return fmt.Errorf("Reconnect failed: never connected")
	}

	o.Close()
	if err := o.Connect(link); err != nil {
		return err
	}
	if o.metrics != nil {
		o.metrics.Reconnects.Inc()
	}
	return nil
}

// Close closes the underlying connection via serial or network
func (o *Device) Close() error {
	o.lock.Lock()
	defer o.lock.Unlock()

	if !o.connected {
		return io.ErrClosedPipe
	}
	o.connected = false
	o.stop()
	return o.conn.Close()
}

func (o *Device) Write(b []byte) (int, error) {
	o.wlock.Lock()
	defer o.wlock.Unlock()

	o.lock.Lock()
	conn, connected := o.conn, o.connected
	o.lock.Unlock()
	if !connected {
		return 0, io.EOF
	}

	n, err := conn.Write(b)
	log.Debugf("Write b='%# x', n=%v, err=%v", b, n, err)
	return n, err
}

// Send writes a remote AT command request, waiting for the rate limiter first
func (o *Device) Send(ctx context.Context, r RemoteATCommandRequest) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}

	b, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	log.WithFields(requestFields(r)).Debug("Sending remote AT command request")

	n, err := o.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return io.ErrShortWrite
	}
	if o.metrics != nil {
		o.metrics.FramesSent.Inc()
	}
	return nil
}

func (o *Device) readLoop(t Transport, p *Parser, done chan struct{}, stop func()) {
	defer stop()

	b := make([]byte, readBufferSize)
	for {
		n, err := t.Read(b)
		if n > 0 {
			log.Debugf("Read b='%# x', n=%v", b[:n], n)
			if o.metrics != nil {
				o.metrics.BytesReceived.Add(float64(n))
			}
			for _, payload := range p.Feed(b[:n]) {
				select {
				case o.frames <- newFrame(payload):
				case <-done:
					return
				}
			}
		}
		if err != nil {
			select {
			case <-done:
				log.Debugf("Closing, returning from reading loop goroutine")
			default:
				log.Errorf("Read failed: %v", err)
				o.lock.Lock()
				if o.done == done {
					o.connected = false
					t.Close()
				}
				o.lock.Unlock()
			}
			return
		}
	}
}

func requestFields(r RemoteATCommandRequest) log.Fields {
	return log.Fields{
		"frame_id":        fmt.Sprintf("0x%02x", r.FrameID),
		"address":         fmt.Sprintf("0x%016x", r.Address),
		"network_address": fmt.Sprintf("0x%04x", r.NetworkAddress),
		"options":         r.Options.String(),
		"command":         r.CommandName(),
		"parameter":       fmt.Sprintf("0x%02x", r.Parameter),
		"checksum":        fmt.Sprintf("0x%02x", r.Checksum),
	}
}
