/*
Package event declares the wire-level protocol: the envelope exchanged over
WebSocket connections, the domain of event actions, and the payload types
attached to each of them.
*/
package event

import (
	"encoding/json"
	"log"
)

/*
Action is a domain of possible event actions.  Actions are carried on the
wire by name so that clients can subscribe to them directly.
*/
type Action string

const (
	// Actions that can be sent by the clients.
	ActionEnter          Action = "enter"
	ActionExit           Action = "exit"
	ActionPublish        Action = "publish"
	ActionJoinRoom       Action = "joinRoom"
	ActionLeaveRoom      Action = "leaveRoom"
	ActionStrategyUpdate Action = "strategyUpdate"
	ActionDeleteMessage  Action = "deleteMessage"
	ActionRequestNewRoom Action = "requestNewRoom"
	ActionFetchRooms     Action = "fetchRooms"

	// Actions that can be sent only by the server.
	ActionUserJoinedRoom     Action = "userJoinedRoom"
	ActionJoinedRoom         Action = "joinedRoom"
	ActionUserLeftRoom       Action = "userLeftRoom"
	ActionDeleteMessageError Action = "deleteMessageError"
	ActionCatalogSnapshot    Action = "catalogSnapshot"
)

/*
ExternalEvent represents an event exchanged between the server and WebSocket
clients.
*/
type ExternalEvent struct {
	Payload json.RawMessage `json:"p"`
	Action  Action          `json:"a"`
}

/*
ClientEvent represents an event emitted by a client.  It carries the
server-assigned connection id so the dispatcher can resolve the sender's
room binding and message ownership.  The id is never read from the wire.
*/
type ClientEvent struct {
	Payload json.RawMessage `json:"p"`
	ConnID  string          `json:"cid"`
	Action  Action          `json:"a"`
}

/*
ServerEvent represents an event emitted by the server.  The transport layer
encodes it once and fans the raw bytes out to every targeted connection.
*/
type ServerEvent struct {
	Payload json.RawMessage `json:"p"`
	Action  Action          `json:"a"`
}

// Exit is the payload of the exit event.
type Exit struct {
	UserName string `json:"userName"`
}

// JoinRoom is the payload of the joinRoom and leaveRoom events.
type JoinRoom struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

// StrategyUpdate is forwarded to the other members of the named room.
type StrategyUpdate struct {
	Strategy  json.RawMessage `json:"strategy"`
	RoomID    string          `json:"roomId"`
	Timestamp string          `json:"timestamp"`
}

// DeleteMessage is the payload of the deleteMessage request.
type DeleteMessage struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	UserName  string `json:"userName"`
}

// NewRoomRequest asks for the catalog (empty name) or creates a room.
type NewRoomRequest struct {
	Name string `json:"name"`
}

// UserJoinedRoom notifies the members of a room about a new arrival.
type UserJoinedRoom struct {
	UserName string `json:"userName"`
	RoomID   string `json:"roomId"`
	Message  string `json:"message"`
}

// JoinedRoom confirms a join to the joiner itself.
type JoinedRoom struct {
	RoomID      string `json:"roomId"`
	Message     string `json:"message"`
	MemberCount int    `json:"memberCount"`
}

// UserLeftRoom notifies the remaining members of a room about a departure.
type UserLeftRoom struct {
	UserName string `json:"userName"`
	RoomID   string `json:"roomId"`
	Message  string `json:"message"`
}

// DeleteMessageNotice is broadcast to the whole room on an authorized delete.
type DeleteMessageNotice struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
}

// DeleteMessageError is sent only to the requester of an unauthorized delete.
type DeleteMessageError struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

/*
EncodeOrPanic is a helper function to encode a JSON payload on the fly
skipping the error check.  If the error occurs, the panic will be arised.
*/
func EncodeOrPanic(v any) []byte {
	p, err := json.Marshal(v)
	if err != nil {
		log.Panicf("cannot encode payload %v: %s", v, err)
	}
	return p
}
