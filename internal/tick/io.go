package tick

import "github.com/l1jgo/simcore/internal/entity"

// InboundKind tags the three NetIn message shapes named in spec.md §6.
type InboundKind byte

const (
	InNewConnection InboundKind = iota
	InPlayerInput
	InDisconnected
)

// Inbound is one NetIn message. Line is only meaningful for InPlayerInput.
type Inbound struct {
	Kind      InboundKind
	SessionID uint64
	Line      string
}

// Inbox is implemented by the transport collaborator (internal/netio):
// Drain pops every message buffered since the last call, non-blocking.
type Inbox interface {
	Drain() []Inbound
}

// Outbound is one NetOut message, per spec.md §6: setting Disconnect
// instructs the transport to close the connection after delivery.
type Outbound struct {
	SessionID  uint64
	Text       string
	Disconnect bool
}

// Outbox is implemented by the transport collaborator to receive NetOut
// messages the tick loop produces.
type Outbox interface {
	Enqueue(Outbound)
}

// outputAdapter makes an Outbox satisfy scripting.OutputSink, so the same
// sink reaches both the AOI/broadcast phase and script-driven output (the
// "output" Lua proxy) without the tick loop maintaining two notions of
// "send text to a session".
type outputAdapter struct {
	out      Outbox
	occupant occupantLookup
}

// occupantLookup resolves which sessions currently occupy a room, so
// BroadcastRoom can fan a message out without the scripting package needing
// to know about rooms or the spatial model.
type occupantLookup interface {
	SessionsInRoom(room entity.ID) []uint64
}

func (a *outputAdapter) Send(sessionID uint64, text string) {
	a.out.Enqueue(Outbound{SessionID: sessionID, Text: text})
}

func (a *outputAdapter) BroadcastRoom(room entity.ID, text string, exclude uint64, hasExclude bool) {
	for _, sid := range a.occupant.SessionsInRoom(room) {
		if hasExclude && sid == exclude {
			continue
		}
		a.out.Enqueue(Outbound{SessionID: sid, Text: text})
	}
}
