package cec

import (
	"fmt"
	"log"
	"sync"

	"github.com/sweeney/presence-cec/internal/logic"
	"github.com/sweeney/presence-cec/internal/metrics"
)

// Session owns the single live bus connection and re-establishes it once if
// it drops. It satisfies logic.Bus.
//
// Commands and reconnects are serialized on an internal mutex, so a command
// never runs against a half-replaced connection.
type Session struct {
	dial    Dialer
	onFatal func(error)

	mu         sync.Mutex
	address    string
	conn       Conn
	closed     bool
	fatal      bool
	reconnects int
}

// NewSession creates a disconnected session. onFatal, if non-nil, is called
// once from the connection watcher goroutine when a reconnect fails.
func NewSession(dial Dialer, onFatal func(error)) *Session {
	return &Session{
		dial:    dial,
		onFatal: onFatal,
	}
}

// Open connects to the adapter at address, closing any previous connection.
func (s *Session) Open(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fatal {
		return ErrFatal
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}

	conn, err := s.dial(address)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrConnection, address, err)
	}

	s.address = address
	s.conn = conn
	s.closed = false
	go s.watch(conn)
	return nil
}

// Close releases the connection. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// watch waits for conn to report a loss and hands it to the reconnect logic.
func (s *Session) watch(conn Conn) {
	err, ok := <-conn.Lost()
	if !ok {
		return
	}
	s.reconnect(conn, err)
}

// HandleConnectionLost runs one reconnect cycle for the current connection.
func (s *Session) HandleConnectionLost(cause error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	s.reconnect(conn, cause)
}

// reconnect closes stale and reopens the last address exactly once. A failed
// reopen leaves the session Fatal.
func (s *Session) reconnect(stale Conn, cause error) {
	s.mu.Lock()
	if s.fatal || s.closed || s.address == "" || s.conn != stale {
		s.mu.Unlock()
		return
	}

	log.Printf("cec: connection to %s lost: %v, reconnecting", s.address, cause)
	if stale != nil {
		stale.Close()
	}
	s.conn = nil

	conn, err := s.dial(s.address)
	if err != nil {
		s.fatal = true
		address := s.address
		s.mu.Unlock()

		metrics.ReconnectFailures.Inc()
		fatalErr := fmt.Errorf("%w: reopen %s: %w", ErrFatal, address, err)
		log.Printf("%v", fatalErr)
		if s.onFatal != nil {
			s.onFatal(fatalErr)
		}
		return
	}

	s.conn = conn
	s.reconnects++
	address := s.address
	s.mu.Unlock()

	metrics.Reconnects.Inc()
	log.Printf("cec: reconnected to %s", address)
	go s.watch(conn)
}

// PowerOn implements logic.Bus.
func (s *Session) PowerOn(target logic.LogicalAddress) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return false
	}
	if !s.conn.PowerOn(target) {
		metrics.CommandFailures.Inc()
		log.Printf("cec: power on %d not acknowledged", target)
		return false
	}
	return true
}

// Standby implements logic.Bus. Failures are logged only.
func (s *Session) Standby(target logic.LogicalAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return
	}
	if !s.conn.Standby(target) {
		metrics.CommandFailures.Inc()
		log.Printf("cec: standby %d not acknowledged", target)
	}
}

// SetActiveSource implements logic.Bus. Failures are logged only.
func (s *Session) SetActiveSource(deviceType logic.DeviceType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return
	}
	if !s.conn.SetActiveSource(deviceType) {
		metrics.CommandFailures.Inc()
		log.Printf("cec: active source (%s) not acknowledged", deviceType)
	}
}

// GetPowerStatus implements logic.Bus. Returns PowerStatusUnknown while
// disconnected.
func (s *Session) GetPowerStatus(target logic.LogicalAddress) logic.PowerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return logic.PowerStatusUnknown
	}
	return s.conn.PowerStatus(target)
}

// Address returns the last address passed to Open.
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// Connected reports whether a live connection is held.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Fatal reports whether a reconnect has failed.
func (s *Session) Fatal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Reconnects returns the number of successful reconnects.
func (s *Session) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}
