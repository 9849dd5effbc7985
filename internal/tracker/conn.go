package tracker

import (
	"errors"
	"sync"

	"github.com/harvest-downloader/harvest/internal/engine/events"
)

// ErrDisconnected is returned when sending on a closed channel pair.
var ErrDisconnected = errors.New("port disconnected")

// Conn is the tracker's end of a consumer connection.
type Conn interface {
	Commands() <-chan events.Command
	Send(events.Notification) error
	Closed() <-chan struct{}
}

// Port is the consumer's end of a tracker connection.
type Port interface {
	Post(events.Command) error
	Notifications() <-chan events.Notification
	Closed() <-chan struct{}
	Disconnect()
}

const (
	commandBuffer      = 16
	notificationBuffer = 64
)

type pipe struct {
	commands      chan events.Command
	notifications chan events.Notification
	closed        chan struct{}
	once          sync.Once
}

// NewPipe returns a connected in-process pair. Either side may disconnect
// by calling Port.Disconnect; it is safe to call more than once.
func NewPipe() (Conn, Port) {
	p := &pipe{
		commands:      make(chan events.Command, commandBuffer),
		notifications: make(chan events.Notification, notificationBuffer),
		closed:        make(chan struct{}),
	}
	return pipeConn{p}, pipePort{p}
}

func (p *pipe) disconnect() {
	p.once.Do(func() { close(p.closed) })
}

func (p *pipe) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

type pipeConn struct{ p *pipe }

func (c pipeConn) Commands() <-chan events.Command { return c.p.commands }
func (c pipeConn) Closed() <-chan struct{}         { return c.p.closed }

func (c pipeConn) Send(n events.Notification) error {
	if c.p.isClosed() {
		return ErrDisconnected
	}
	select {
	case c.p.notifications <- n:
		return nil
	case <-c.p.closed:
		return ErrDisconnected
	}
}

type pipePort struct{ p *pipe }

func (c pipePort) Notifications() <-chan events.Notification { return c.p.notifications }
func (c pipePort) Closed() <-chan struct{}                   { return c.p.closed }
func (c pipePort) Disconnect()                               { c.p.disconnect() }

func (c pipePort) Post(cmd events.Command) error {
	if c.p.isClosed() {
		return ErrDisconnected
	}
	select {
	case c.p.commands <- cmd:
		return nil
	case <-c.p.closed:
		return ErrDisconnected
	}
}
