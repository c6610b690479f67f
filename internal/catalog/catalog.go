/*
Package catalog owns the tree of declared rooms and their display metadata.
It is an append-only side store: the relay consults it only to answer
catalog snapshots and to create new rooms, and rooms can be joined without
ever being declared here.
*/
package catalog

import "crypto/rand"

/*
Node describes a single room in the tree.  Parent is authoritative for the
tree shape; Children is display metadata carried from the seed and is not
maintained by Create.
*/
type Node struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Icon     string   `json:"icon"`
	Parent   string   `json:"parent,omitempty"`
	Children []string `json:"children,omitempty"`
	Members  []string `json:"members,omitempty"`
	Expanded bool     `json:"expanded,omitempty"`
}

type Catalog struct {
	nodes map[string]Node
	// Newly created rooms are attached under this node.
	root string
}

// New builds a catalog from a seed tree rooted at the node with id root.
func New(root string, seed map[string]Node) *Catalog {
	nodes := make(map[string]Node, len(seed))
	for id, n := range seed {
		nodes[id] = n
	}
	return &Catalog{nodes: nodes, root: root}
}

/*
DefaultSeed returns the club tree the relay ships with: a public root, three
teams and their match rooms.
*/
func DefaultSeed() (string, map[string]Node) {
	return "soccer-club", map[string]Node{
		"soccer-club": {
			Name:    "Soccer Club",
			Type:    "public",
			Icon:    "🏆",
			Members: []string{"all"},
		},
		"team-a": {
			Name:     "Team A",
			Type:     "team",
			Icon:     "📁",
			Parent:   "soccer-club",
			Children: []string{"team-a-match-a", "team-a-match-b"},
			Expanded: true,
		},
		"team-a-match-a": {
			Name:   "Match A",
			Type:   "match",
			Icon:   "🥅",
			Parent: "team-a",
		},
		"team-a-match-b": {
			Name:   "Match B",
			Type:   "match",
			Icon:   "🥅",
			Parent: "team-a",
		},
		"team-b": {
			Name:     "Team B",
			Type:     "team",
			Icon:     "📁",
			Parent:   "soccer-club",
			Children: []string{"team-b-match-c"},
		},
		"team-b-match-c": {
			Name:   "Match C",
			Type:   "match",
			Icon:   "🥅",
			Parent: "team-b",
		},
		"team-c": {
			Name:     "Team C",
			Type:     "team",
			Icon:     "📁",
			Parent:   "soccer-club",
			Children: []string{"team-c-match-d"},
		},
		"team-c-match-d": {
			Name:   "Match D",
			Type:   "match",
			Icon:   "🥅",
			Parent: "team-c",
		},
	}
}

/*
Create declares a new team room under the catalog root and returns its
generated id.
*/
func (c *Catalog) Create(name string) string {
	id := "room-" + rand.Text()
	c.nodes[id] = Node{
		Name:   name,
		Type:   "team",
		Icon:   "📁",
		Parent: c.root,
	}
	return id
}

// Get reports the node declared under the given room id, if any.
func (c *Catalog) Get(id string) (Node, bool) {
	n, ok := c.nodes[id]
	return n, ok
}

// Len reports the number of declared rooms.
func (c *Catalog) Len() int {
	return len(c.nodes)
}

/*
Snapshot returns a copy of the whole tree, safe to hand to the encoder
while the catalog keeps growing.
*/
func (c *Catalog) Snapshot() map[string]Node {
	snap := make(map[string]Node, len(c.nodes))
	for id, n := range c.nodes {
		snap[id] = n
	}
	return snap
}
