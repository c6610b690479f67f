/*
Package relay implements the event dispatcher: the per-connection protocol
state machine that interprets inbound events, drives the registry and the
catalog, and describes the outbound fan-out without performing it.

The dispatcher is deliberately transport-free.  Each inbound event yields a
list of deliveries; the transport layer resolves their scopes into live
connections and writes the frames.  This keeps the whole state machine
testable without a single WebSocket.
*/
package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BelikovArtem/relay/internal/catalog"
	"github.com/BelikovArtem/relay/internal/registry"
	"github.com/BelikovArtem/relay/pkg/event"

	"github.com/google/uuid"
)

// Scope selects the set of connections a delivery targets.
type Scope int

const (
	// ScopeConn targets the single connection named by ConnID.
	ScopeConn Scope = iota
	// ScopeRoom targets the current members of RoomID.
	ScopeRoom
	// ScopeAll targets the entire server population.
	ScopeAll
)

/*
Delivery pairs an outbound event with its target.  Exclude names a
connection skipped during ScopeRoom and ScopeAll fan-out; empty means
nobody is skipped.
*/
type Delivery struct {
	Event   event.ServerEvent
	ConnID  string
	RoomID  string
	Exclude string
	Scope   Scope
}

// Timestamps mirror the millisecond ISO 8601 strings of the original
// protocol, so existing clients keep parsing them.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

const errNotAllowed = "not allowed to delete this message"

/*
Dispatcher holds the shared registry and catalog.  It must only be driven
from the transport run loop; see the registry ownership rules.
*/
type Dispatcher struct {
	reg *registry.Registry
	cat *catalog.Catalog
	// Injected for tests.
	now   func() time.Time
	newID func() string
}

func NewDispatcher(reg *registry.Registry, cat *catalog.Catalog) *Dispatcher {
	return &Dispatcher{
		reg:   reg,
		cat:   cat,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

/*
Dispatch interprets a single inbound event and returns the deliveries it
produces, in emission order.  Malformed payloads and unknown actions
degrade to no-ops: the registry never faults on illegal input.
*/
func (d *Dispatcher) Dispatch(e event.ClientEvent) []Delivery {
	switch e.Action {
	case event.ActionEnter:
		return d.handleEnter(e)
	case event.ActionExit:
		return d.handleExit(e)
	case event.ActionPublish:
		return d.handlePublish(e)
	case event.ActionJoinRoom:
		return d.handleJoinRoom(e)
	case event.ActionLeaveRoom:
		return d.handleLeaveRoom(e)
	case event.ActionStrategyUpdate:
		return d.handleStrategyUpdate(e)
	case event.ActionDeleteMessage:
		return d.handleDeleteMessage(e)
	case event.ActionRequestNewRoom:
		return d.handleRequestNewRoom(e)
	case event.ActionFetchRooms:
		return d.handleFetchRooms()
	default:
		return nil
	}
}

/*
Disconnect purges all state owned by a dead connection as one unit: it
leaves the current room, revokes every ledgered message, and produces the
farewell deliveries.  The transport must call it exactly once per
connection, after the final read.
*/
func (d *Dispatcher) Disconnect(connID string) []Delivery {
	// The transport never learns display names, so disconnect notices carry
	// a placeholder.
	ds := d.leaveCurrent(connID, "Unknown User")

	d.reg.RevokeAllOwnedBy(connID)

	return append(ds, Delivery{
		Scope:   ScopeAll,
		Exclude: connID,
		Event: event.ServerEvent{
			Action:  event.ActionExit,
			Payload: event.EncodeOrPanic(event.Exit{UserName: "Unknown User"}),
		},
	})
}

// handleEnter rebroadcasts the announcement verbatim to everybody else.
// It touches no state: entering is distinct from joining a room.
func (d *Dispatcher) handleEnter(e event.ClientEvent) []Delivery {
	return []Delivery{{
		Scope:   ScopeAll,
		Exclude: e.ConnID,
		Event:   event.ServerEvent{Action: event.ActionEnter, Payload: e.Payload},
	}}
}

func (d *Dispatcher) handleExit(e event.ClientEvent) []Delivery {
	var p event.Exit
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil
	}

	ds := d.leaveCurrent(e.ConnID, p.UserName)

	return append(ds, Delivery{
		Scope:   ScopeAll,
		Exclude: e.ConnID,
		Event:   event.ServerEvent{Action: event.ActionExit, Payload: e.Payload},
	})
}

/*
handlePublish stamps the message with a generated id, the sender's current
room and a timestamp, records its ownership, and delivers one copy to every
other room member plus exactly one echo to the sender.  Publishing while
not bound to a room is a silent no-op.  Unrecognized payload fields pass
through untouched.
*/
func (d *Dispatcher) handlePublish(e event.ClientEvent) []Delivery {
	var fields map[string]any
	if err := json.Unmarshal(e.Payload, &fields); err != nil {
		return nil
	}

	roomID, ok := d.reg.CurrentRoom(e.ConnID)
	if !ok {
		return nil
	}

	userName, _ := fields["userName"].(string)
	messageID := d.newID()

	d.reg.Record(messageID, registry.Ownership{
		ConnID:   e.ConnID,
		UserName: userName,
		RoomID:   roomID,
	})

	fields["id"] = messageID
	fields["roomId"] = roomID
	fields["timestamp"] = d.now().UTC().Format(timestampLayout)

	se := event.ServerEvent{
		Action:  event.ActionPublish,
		Payload: event.EncodeOrPanic(fields),
	}

	return []Delivery{
		{Scope: ScopeRoom, RoomID: roomID, Exclude: e.ConnID, Event: se},
		{Scope: ScopeConn, ConnID: e.ConnID, Event: se},
	}
}

/*
handleJoinRoom moves the connection into the requested room.  Switching is
modeled as leave-then-join; when the connection is already in the requested
room the leave is skipped, so the members never see a spurious departure.
*/
func (d *Dispatcher) handleJoinRoom(e event.ClientEvent) []Delivery {
	var p event.JoinRoom
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil
	}

	var ds []Delivery
	if prev, ok := d.reg.CurrentRoom(e.ConnID); ok && prev != p.RoomID {
		ds = d.leaveCurrent(e.ConnID, p.UserName)
	}

	d.reg.Join(p.RoomID, e.ConnID)

	ds = append(ds, Delivery{
		Scope:   ScopeRoom,
		RoomID:  p.RoomID,
		Exclude: e.ConnID,
		Event: event.ServerEvent{
			Action: event.ActionUserJoinedRoom,
			Payload: event.EncodeOrPanic(event.UserJoinedRoom{
				UserName: p.UserName,
				RoomID:   p.RoomID,
				Message:  fmt.Sprintf("%s joined the %s room", p.UserName, p.RoomID),
			}),
		},
	})

	return append(ds, Delivery{
		Scope:  ScopeConn,
		ConnID: e.ConnID,
		Event: event.ServerEvent{
			Action: event.ActionJoinedRoom,
			Payload: event.EncodeOrPanic(event.JoinedRoom{
				RoomID:      p.RoomID,
				Message:     fmt.Sprintf("joined the %s room", p.RoomID),
				MemberCount: d.reg.MemberCount(p.RoomID),
			}),
		},
	})
}

// handleLeaveRoom leaves the named room.  Leaving a room the connection is
// not bound to is silently ignored.
func (d *Dispatcher) handleLeaveRoom(e event.ClientEvent) []Delivery {
	var p event.JoinRoom
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil
	}

	if cur, ok := d.reg.CurrentRoom(e.ConnID); !ok || cur != p.RoomID {
		return nil
	}

	return d.leaveCurrent(e.ConnID, p.UserName)
}

/*
leaveCurrent removes the connection from its bound room and notifies the
remaining members.  Returns nil when the connection is not bound.
*/
func (d *Dispatcher) leaveCurrent(connID, userName string) []Delivery {
	roomID, ok := d.reg.CurrentRoom(connID)
	if !ok {
		return nil
	}

	d.reg.Leave(roomID, connID)

	return []Delivery{{
		Scope:  ScopeRoom,
		RoomID: roomID,
		Event: event.ServerEvent{
			Action: event.ActionUserLeftRoom,
			Payload: event.EncodeOrPanic(event.UserLeftRoom{
				UserName: userName,
				RoomID:   roomID,
				Message:  fmt.Sprintf("%s left the %s room", userName, roomID),
			}),
		},
	}}
}

// handleStrategyUpdate forwards the update to the other members of the
// named room.  No membership check, matching the protocol's leniency.
func (d *Dispatcher) handleStrategyUpdate(e event.ClientEvent) []Delivery {
	var p event.StrategyUpdate
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil
	}

	return []Delivery{{
		Scope:   ScopeRoom,
		RoomID:  p.RoomID,
		Exclude: e.ConnID,
		Event: event.ServerEvent{
			Action:  event.ActionStrategyUpdate,
			Payload: event.EncodeOrPanic(p),
		},
	}}
}

/*
handleDeleteMessage authorizes a delete against the ownership ledger.  Both
the connection id and the claimed display name must match the record; a
single mismatch leaves the record intact and yields an error event to the
requester only.
*/
func (d *Dispatcher) handleDeleteMessage(e event.ClientEvent) []Delivery {
	var p event.DeleteMessage
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil
	}

	o, ok := d.reg.OwnerOf(p.MessageID)
	if !ok || o.ConnID != e.ConnID || o.UserName != p.UserName {
		return []Delivery{{
			Scope:  ScopeConn,
			ConnID: e.ConnID,
			Event: event.ServerEvent{
				Action: event.ActionDeleteMessageError,
				Payload: event.EncodeOrPanic(event.DeleteMessageError{
					MessageID: p.MessageID,
					Error:     errNotAllowed,
				}),
			},
		}}
	}

	d.reg.Revoke(p.MessageID)

	// The notice goes to the room named by the request, sender included.
	return []Delivery{{
		Scope:  ScopeRoom,
		RoomID: p.RoomID,
		Event: event.ServerEvent{
			Action: event.ActionDeleteMessage,
			Payload: event.EncodeOrPanic(event.DeleteMessageNotice{
				RoomID:    p.RoomID,
				MessageID: p.MessageID,
			}),
		},
	}}
}

/*
handleRequestNewRoom answers an empty name with a catalog snapshot for the
requester; a non-empty name declares a new room under the catalog root and
broadcasts the grown tree to everybody.
*/
func (d *Dispatcher) handleRequestNewRoom(e event.ClientEvent) []Delivery {
	var p event.NewRoomRequest
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil
	}

	if p.Name == "" {
		return []Delivery{{
			Scope:  ScopeConn,
			ConnID: e.ConnID,
			Event:  d.snapshotEvent(),
		}}
	}

	d.cat.Create(p.Name)

	return []Delivery{{Scope: ScopeAll, Event: d.snapshotEvent()}}
}

// handleFetchRooms broadcasts the catalog to the whole population,
// requester included.
func (d *Dispatcher) handleFetchRooms() []Delivery {
	return []Delivery{{Scope: ScopeAll, Event: d.snapshotEvent()}}
}

func (d *Dispatcher) snapshotEvent() event.ServerEvent {
	return event.ServerEvent{
		Action:  event.ActionCatalogSnapshot,
		Payload: event.EncodeOrPanic(d.cat.Snapshot()),
	}
}
