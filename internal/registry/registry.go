/*
Package registry stores the in-memory state behind the relay: which room
each connection is bound to, which connections are members of each room,
and who owns each published message.

By maintaining both membership mappings, this requirements are statisfied:
 1. Fast addition and removal of connections and rooms;
 2. Efficient lookup of all members for a given room id;
 3. Efficient lookup of the room a connection is bound to by connection id.

The registry is not safe for concurrent use.  It is owned by the transport
run loop, which is the only goroutine allowed to call its methods, so the
cross-map invariants are never observed half-updated.
*/
package registry

import "github.com/samber/lo"

/*
Ownership records who published a message: the connection it came from, the
display name it claimed at publish time, and the room it was bound to.  The
room does not change even if the connection later moves rooms.
*/
type Ownership struct {
	ConnID   string
	UserName string
	RoomID   string
}

type Registry struct {
	// roomId -> set of member connection ids.  Entries are created lazily
	// on first join and deleted when the set becomes empty; the map never
	// holds empty sets.
	members map[string]map[string]struct{}
	// connId -> roomId.  A connection is bound to at most one room.
	current map[string]string
	// messageId -> ownership record.
	owners map[string]Ownership
	// Ledger insertion order, used for capacity eviction.  Revoked ids stay
	// in the queue as tombstones until compaction removes them.
	order []string
	// Number of tombstones currently sitting in the order queue.  Once they
	// outnumber the live records the queue is compacted, so a
	// publish-then-delete workload cannot grow it without bound.
	revoked int
	// Maximum number of live ledger records.  0 disables eviction.
	ledgerCap int
}

func New(ledgerCap int) *Registry {
	return &Registry{
		members:   make(map[string]map[string]struct{}),
		current:   make(map[string]string),
		owners:    make(map[string]Ownership),
		ledgerCap: ledgerCap,
	}
}

/*
Bind sets or overwrites the connection's current room.  No validation of
room existence is performed; any string is accepted.
*/
func (r *Registry) Bind(connID, roomID string) {
	r.current[connID] = roomID
}

// Unbind removes the binding.  Unbinding an unbound connection is a no-op.
func (r *Registry) Unbind(connID string) {
	delete(r.current, connID)
}

// CurrentRoom reports the room the connection is bound to, if any.
func (r *Registry) CurrentRoom(connID string) (string, bool) {
	roomID, ok := r.current[connID]
	return roomID, ok
}

/*
Join adds the connection to the room's member set, creating the set on
first join, and binds the connection to the room.  Both maps are updated in
one operation so the membership always mirrors the binding.
*/
func (r *Registry) Join(roomID, connID string) {
	set, ok := r.members[roomID]
	if !ok {
		set = make(map[string]struct{})
		r.members[roomID] = set
	}
	set[connID] = struct{}{}
	r.current[connID] = roomID
}

/*
Leave removes the connection from the room's member set and clears its
binding.  If the connection is not bound to roomId, Leave does nothing: an
unconditional unbind could strand the connection inside the member set of
the room it is actually in.  The room's table entry is deleted once the
last member leaves.
*/
func (r *Registry) Leave(roomID, connID string) {
	if r.current[connID] != roomID {
		return
	}

	delete(r.current, connID)

	set, ok := r.members[roomID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.members, roomID)
	}
}

// MemberCount reports the number of members in a room, 0 if absent.
func (r *Registry) MemberCount(roomID string) int {
	return len(r.members[roomID])
}

// Members lists the connection ids currently joined to a room.
func (r *Registry) Members(roomID string) []string {
	return lo.Keys(r.members[roomID])
}

// Rooms lists the rooms that currently have at least one member.
func (r *Registry) Rooms() []string {
	return lo.Keys(r.members)
}

/*
Record inserts an ownership record.  A colliding message id silently
overwrites the previous record.  When the ledger capacity is exceeded, the
oldest live records are evicted in insertion order.
*/
func (r *Registry) Record(messageID string, o Ownership) {
	if _, exists := r.owners[messageID]; !exists {
		r.order = append(r.order, messageID)
	}
	r.owners[messageID] = o

	if r.ledgerCap <= 0 {
		return
	}
	for len(r.owners) > r.ledgerCap && len(r.order) > 0 {
		oldest := r.order[0]
		r.order = r.order[1:]
		if _, live := r.owners[oldest]; live {
			delete(r.owners, oldest)
		} else if r.revoked > 0 {
			r.revoked--
		}
	}
}

// OwnerOf reports the ownership record of a message, if it is still live.
func (r *Registry) OwnerOf(messageID string) (Ownership, bool) {
	o, ok := r.owners[messageID]
	return o, ok
}

// Revoke deletes an ownership record.  Revoking an absent id is a no-op.
func (r *Registry) Revoke(messageID string) {
	if _, live := r.owners[messageID]; !live {
		return
	}
	delete(r.owners, messageID)
	r.revoked++
	r.compact()
}

/*
RevokeAllOwnedBy removes every record owned by the connection.  Invoked
once per disconnect; the full scan is acceptable because the ledger is
bounded to recent traffic.
*/
func (r *Registry) RevokeAllOwnedBy(connID string) {
	for id, o := range r.owners {
		if o.ConnID == connID {
			delete(r.owners, id)
			r.revoked++
		}
	}
	r.compact()
}

/*
compact rebuilds the eviction queue once tombstones outnumber the live
records, keeping revocation amortized constant-time.  Without it the queue
would keep every revoked id forever: capacity eviction only walks the
queue while the live count exceeds the cap.
*/
func (r *Registry) compact() {
	if r.revoked <= len(r.owners) {
		return
	}

	live := r.order[:0]
	for _, id := range r.order {
		if _, ok := r.owners[id]; ok {
			live = append(live, id)
		}
	}
	r.order = live
	r.revoked = 0
}
