package cec

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/shlex"

	"github.com/sweeney/presence-cec/internal/logic"
)

// DefaultCommand is the cec-client invocation used when none is configured.
// The adapter address is appended as the last argument. Log level 13 is
// ERROR|NOTICE|TRAFFIC: transmit failures are only logged at ERROR and NOTICE.
const DefaultCommand = "cec-client -d 13"

var (
	reReady       = regexp.MustCompile(`(?i)waiting for input`)
	reFailed      = regexp.MustCompile(`(?i)not acked|transmit failed|TRANSMIT_FAILED|could not|failed to`)
	rePowerStatus = regexp.MustCompile(`(?i)power status:\s*(.+?)\s*$`)
	reComPort     = regexp.MustCompile(`(?i)^\s*com port:\s*(\S+)`)
)

// transmitted matches the traffic trace cec-client logs when it sends opcode.
func transmitted(opcode byte) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`<<\s+[0-9a-fA-F]{2}:%02x\b`, opcode))
}

var (
	reSentImageViewOn = transmitted(0x04)
	reSentStandby     = transmitted(0x36)
	reSentActiveSrc   = transmitted(0x82)
)

// ClientConfig configures the cec-client transport.
type ClientConfig struct {
	// Command is the cec-client argv without the adapter address.
	Command []string
	// DeviceType is registered with -t unless Command already sets it.
	DeviceType logic.DeviceType
	// OpenTimeout bounds how long to wait for cec-client to become ready.
	OpenTimeout time.Duration
	// AckTimeout bounds how long a command waits for its reply.
	AckTimeout time.Duration
	// Verbose passes cec-client output through to the log.
	Verbose bool
}

// ParseCommand splits a shell-style command line into argv.
func ParseCommand(s string) ([]string, error) {
	args, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("parse cec command %q: %w", s, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("parse cec command %q: empty", s)
	}
	return args, nil
}

// NewClientDialer returns a Dialer that starts one cec-client per connection.
func NewClientDialer(cfg ClientConfig) Dialer {
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 15 * time.Second
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = time.Second
	}
	if len(cfg.Command) == 0 {
		cfg.Command, _ = ParseCommand(DefaultCommand)
	}
	return func(address string) (Conn, error) {
		return dialClient(cfg, address)
	}
}

// DetectAdapters runs "cec-client -l" and returns the com ports it lists.
func DetectAdapters(ctx context.Context, binary string) ([]string, error) {
	out, err := exec.CommandContext(ctx, binary, "-l").Output()
	if err != nil {
		return nil, fmt.Errorf("list adapters: %w", err)
	}
	ports := ParseAdapterList(out)
	if len(ports) == 0 {
		return nil, ErrNoAdapter
	}
	return ports, nil
}

// ParseAdapterList extracts com ports from "cec-client -l" output.
func ParseAdapterList(out []byte) []string {
	var ports []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if m := reComPort.FindStringSubmatch(scanner.Text()); m != nil {
			ports = append(ports, m[1])
		}
	}
	return ports
}

// buildArgs returns the argv for an adapter address, adding -t if missing.
func buildArgs(cfg ClientConfig, address string) []string {
	args := append([]string(nil), cfg.Command[1:]...)
	hasType := false
	for _, a := range args {
		if a == "-t" || a == "--type" {
			hasType = true
		}
	}
	if !hasType {
		args = append(args, "-t", TypeFlag(cfg.DeviceType))
	}
	return append(args, address)
}

type reply int

const (
	replyMatched reply = iota
	replyFailed
	replyTimeout
)

// clientConn is a Conn backed by an interactive cec-client process.
type clientConn struct {
	cfg   ClientConfig
	cmd   *exec.Cmd
	stdin io.WriteCloser

	lines   chan string
	lost    chan error
	exited  chan struct{}
	exitErr error

	closing   atomic.Bool
	closeOnce sync.Once
	mu        sync.Mutex // serializes commands
}

func dialClient(cfg ClientConfig, address string) (Conn, error) {
	cmd := exec.Command(cfg.Command[0], buildArgs(cfg, address)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Command[0], err)
	}

	c := &clientConn{
		cfg:    cfg,
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan string, 64),
		lost:   make(chan error, 1),
		exited: make(chan struct{}),
	}

	ready := make(chan struct{})
	go c.readLoop(stdout, ready)

	timer := time.NewTimer(cfg.OpenTimeout)
	defer timer.Stop()

	select {
	case <-ready:
		return c, nil
	case <-c.exited:
		c.closing.Store(true)
		if c.exitErr != nil {
			return nil, fmt.Errorf("cec-client exited before ready: %w", c.exitErr)
		}
		return nil, errors.New("cec-client exited before ready")
	case <-timer.C:
		c.Close()
		return nil, fmt.Errorf("cec-client not ready after %v", cfg.OpenTimeout)
	}
}

// readLoop forwards cec-client output to lines until the process exits,
// then reports the loss unless Close was called.
func (c *clientConn) readLoop(stdout io.Reader, ready chan struct{}) {
	isReady := false
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if c.cfg.Verbose {
			log.Printf("cec-client: %s", line)
		}
		if !isReady && reReady.MatchString(line) {
			isReady = true
			close(ready)
			continue
		}
		select {
		case c.lines <- line:
		default:
			// Nobody is waiting on a reply; drop.
		}
	}

	err := c.cmd.Wait()
	c.exitErr = err
	close(c.exited)

	if isReady && !c.closing.Load() {
		if err == nil {
			err = errors.New("cec-client exited")
		}
		c.lost <- err
	}
	close(c.lost)
}

// send writes command and waits for a line matching want, a failure line,
// the process exiting, or AckTimeout.
func (c *clientConn) send(command string, want *regexp.Regexp) ([]string, reply) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Discard replies to earlier commands.
	for drained := false; !drained; {
		select {
		case <-c.lines:
		default:
			drained = true
		}
	}

	if _, err := io.WriteString(c.stdin, command+"\n"); err != nil {
		return nil, replyFailed
	}

	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()

	for {
		select {
		case line := <-c.lines:
			if reFailed.MatchString(line) {
				return nil, replyFailed
			}
			if m := want.FindStringSubmatch(line); m != nil {
				return m, replyMatched
			}
		case <-c.exited:
			return nil, replyFailed
		case <-timer.C:
			return nil, replyTimeout
		}
	}
}

// PowerOn treats a timeout without a failure line as acknowledged; cec-client
// only logs traffic traces at high debug levels.
func (c *clientConn) PowerOn(target logic.LogicalAddress) bool {
	_, r := c.send(fmt.Sprintf("on %x", uint8(target)), reSentImageViewOn)
	return r != replyFailed
}

func (c *clientConn) Standby(target logic.LogicalAddress) bool {
	_, r := c.send(fmt.Sprintf("standby %x", uint8(target)), reSentStandby)
	return r != replyFailed
}

func (c *clientConn) SetActiveSource(deviceType logic.DeviceType) bool {
	_, r := c.send("as", reSentActiveSrc)
	return r != replyFailed
}

func (c *clientConn) PowerStatus(target logic.LogicalAddress) logic.PowerStatus {
	m, r := c.send(fmt.Sprintf("pow %x", uint8(target)), rePowerStatus)
	if r != replyMatched {
		return logic.PowerStatusUnknown
	}
	return ParsePowerStatus(m[1])
}

func (c *clientConn) Lost() <-chan error {
	return c.lost
}

// Close asks cec-client to quit and kills it if it does not exit in time.
func (c *clientConn) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		io.WriteString(c.stdin, "q\n")
		c.stdin.Close()

		select {
		case <-c.exited:
		case <-time.After(3 * time.Second):
			if c.cmd.Process != nil {
				c.cmd.Process.Kill()
			}
			<-c.exited
		}
	})
	return nil
}
