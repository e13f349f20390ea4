package cec

import (
	"fmt"
	"sync"

	"github.com/sweeney/presence-cec/internal/logic"
)

// FakeConn is a test double that records commands and returns scripted replies.
type FakeConn struct {
	mu sync.Mutex

	// Address is the address the conn was dialed with.
	Address string

	// Status is returned by PowerStatus.
	Status logic.PowerStatus

	// PowerOnAck, StandbyAck and SourceAck are returned by the matching commands.
	PowerOnAck bool
	StandbyAck bool
	SourceAck  bool

	commands []string
	closed   bool

	lost     chan error
	lostOnce sync.Once
}

// NewFakeConn creates a FakeConn that acknowledges everything and reports
// an unknown power status.
func NewFakeConn(address string) *FakeConn {
	return &FakeConn{
		Address:    address,
		Status:     logic.PowerStatusUnknown,
		PowerOnAck: true,
		StandbyAck: true,
		SourceAck:  true,
		lost:       make(chan error, 1),
	}
}

func (f *FakeConn) record(cmd string) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()
}

// PowerOn records "on <target>".
func (f *FakeConn) PowerOn(target logic.LogicalAddress) bool {
	f.record(fmt.Sprintf("on %x", uint8(target)))
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PowerOnAck
}

// Standby records "standby <target>".
func (f *FakeConn) Standby(target logic.LogicalAddress) bool {
	f.record(fmt.Sprintf("standby %x", uint8(target)))
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.StandbyAck
}

// SetActiveSource records "as".
func (f *FakeConn) SetActiveSource(deviceType logic.DeviceType) bool {
	f.record("as")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SourceAck
}

// PowerStatus records "pow <target>" and returns Status.
func (f *FakeConn) PowerStatus(target logic.LogicalAddress) logic.PowerStatus {
	f.record(fmt.Sprintf("pow %x", uint8(target)))
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Status
}

// SetStatus changes the scripted power status.
func (f *FakeConn) SetStatus(s logic.PowerStatus) {
	f.mu.Lock()
	f.Status = s
	f.mu.Unlock()
}

// Lost returns the loss notification channel.
func (f *FakeConn) Lost() <-chan error {
	return f.lost
}

// Drop simulates the adapter going away.
func (f *FakeConn) Drop(err error) {
	f.lostOnce.Do(func() {
		f.lost <- err
		close(f.lost)
	})
}

// Close marks the conn as closed.
func (f *FakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.lostOnce.Do(func() {
		close(f.lost)
	})
	return nil
}

// Closed reports whether Close was called.
func (f *FakeConn) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Commands returns a copy of the recorded commands.
func (f *FakeConn) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// FakeDialer hands out FakeConns and can script dial failures.
type FakeDialer struct {
	mu sync.Mutex

	// Errs[i], if non-nil, is returned by the i-th Dial call.
	Errs []error

	addresses []string
	conns     []*FakeConn
}

// NewFakeDialer creates a FakeDialer whose dials fail with errs in order.
func NewFakeDialer(errs ...error) *FakeDialer {
	return &FakeDialer{Errs: errs}
}

// Dial implements Dialer.
func (d *FakeDialer) Dial(address string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := len(d.addresses)
	d.addresses = append(d.addresses, address)
	if i < len(d.Errs) && d.Errs[i] != nil {
		return nil, d.Errs[i]
	}
	c := NewFakeConn(address)
	d.conns = append(d.conns, c)
	return c, nil
}

// Dials returns the number of Dial calls.
func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.addresses)
}

// Addresses returns the dialed addresses in order.
func (d *FakeDialer) Addresses() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.addresses...)
}

// Last returns the most recently created conn, or nil.
func (d *FakeDialer) Last() *FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Conns returns the number of conns created successfully.
func (d *FakeDialer) Conns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}
