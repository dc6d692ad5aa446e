package server

import (
	"net"
	"time"
)

// ConnInfo identifies a connection in lifecycle events.
type ConnInfo struct {
	HostID     uint32
	RemoteAddr net.Addr
	OpenedAt   time.Time
}

// Observer receives lifecycle events so session-scoped state can be cleaned up.
// Calls come from the connection's own goroutine and must not block for long.
// OnClose is delivered exactly once per OnOpen.
type Observer interface {
	OnOpen(info ConnInfo)
	OnClose(info ConnInfo, reason CloseReason)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Open  func(ConnInfo)
	Close func(ConnInfo, CloseReason)
}

func (o ObserverFuncs) OnOpen(info ConnInfo) {
	if o.Open != nil {
		o.Open(info)
	}
}

func (o ObserverFuncs) OnClose(info ConnInfo, reason CloseReason) {
	if o.Close != nil {
		o.Close(info, reason)
	}
}
