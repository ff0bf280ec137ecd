package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/samofly/serial"

	"github.com/robodone/reprap-engine/internal/logging"
)

var log = logging.For("transport")

// candidateDevs lists the tty paths probed when dev is left empty, in
// the order a reasonably stable workshop setup tends to expose them.
var candidateDevs = []string{
	"/dev/ttyACM0", "/dev/ttyACM1", "/dev/ttyACM2",
	"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2",
}

func findTTYDev() (string, error) {
	for _, dev := range candidateDevs {
		if _, err := os.Stat(dev); err == nil {
			return dev, nil
		}
	}
	return "", fmt.Errorf("transport: no serial device found among %v", candidateDevs)
}

// Serial is a real serial-port transport over github.com/samofly/serial.
// Connect opens the device once and returns an error if that fails;
// after a successful open it starts a background loop that reopens
// the port whenever the connection is lost, retrying every 5 seconds.
type Serial struct {
	dev      string
	baudRate int

	mu       sync.Mutex
	conn     io.ReadWriteCloser
	listener Listener
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSerial creates a Serial transport. If dev is empty, Connect
// probes the usual ttyACM/ttyUSB paths.
func NewSerial(dev string, baudRate int) *Serial {
	return &Serial{dev: dev, baudRate: baudRate}
}

func (s *Serial) SetListener(fn Listener) {
	s.mu.Lock()
	s.listener = fn
	s.mu.Unlock()
}

func (s *Serial) MessageIntegrity() bool { return false }

func (s *Serial) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Serial) getConn() io.ReadWriteCloser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Serial) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	dev := s.dev
	var err error
	if dev == "" {
		dev, err = findTTYDev()
		if err != nil {
			cancel()
			return err
		}
	}
	conn, err := serial.Open(dev, s.baudRate)
	if err != nil {
		cancel()
		return fmt.Errorf("transport: opening %s at %d bps: %v", dev, s.baudRate, err)
	}
	log.WithField("dev", dev).WithField("baud", s.baudRate).Info("serial port opened")
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop(ctx, conn)
	go s.reconnectLoop(ctx, dev)
	return nil
}

// reconnectLoop watches for the current connection dying and reopens
// the port, mirroring the teacher's RealDownlink.Run retry cadence.
func (s *Serial) reconnectLoop(ctx context.Context, dev string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
		}
		if ctx.Err() != nil {
			return
		}
		conn, err := serial.Open(dev, s.baudRate)
		if err != nil {
			log.WithError(err).Warn("reconnect attempt failed")
			time.Sleep(5 * time.Second)
			s.done = make(chan struct{})
			close(s.done)
			continue
		}
		s.mu.Lock()
		s.conn = conn
		s.done = make(chan struct{})
		s.mu.Unlock()
		go s.readLoop(ctx, conn)
	}
}

func (s *Serial) readLoop(ctx context.Context, conn io.ReadWriteCloser) {
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		done := s.done
		s.mu.Unlock()
		if done != nil {
			close(done)
		}
	}()
	in := bufio.NewScanner(conn)
	for in.Scan() {
		line := strings.TrimRight(in.Text(), "\r\n")
		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()
		if listener != nil {
			listener(line)
		}
	}
	if err := in.Err(); err != nil {
		log.WithError(err).Warn("serial read loop ended with error")
	}
}

func (s *Serial) Write(data []byte) (int, error) {
	conn := s.getConn()
	if conn == nil {
		return 0, fmt.Errorf("transport: no open serial connection")
	}
	return conn.Write(data)
}

func (s *Serial) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	cancel := s.cancel
	s.conn = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}
	return conn.Close()
}
