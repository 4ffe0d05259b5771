// Package followergraph is the directed follower-to-followee relation over
// lazily-created user records.
package followergraph

// Connection is the capability a connected client grants: a place to write
// notification lines. It is deliberately minimal so the graph package never
// needs to know about sockets.
type Connection interface {
	Send(payload string)
}

// User is a lazily-created graph record. Its Connection is a transient
// capability cleared on disconnect; the follower set never references it
// and graph mutations never touch it.
type User struct {
	ID         string
	followers  map[string]struct{}
	Connection Connection
}

func newUser(id string) *User {
	return &User{ID: id, followers: make(map[string]struct{})}
}

// AddFollower is a set insertion; repeated follows are idempotent.
func (u *User) AddFollower(followerID string) {
	u.followers[followerID] = struct{}{}
}

// RemoveFollower is idempotent; removing a non-follower is a no-op.
func (u *User) RemoveFollower(followerID string) {
	delete(u.followers, followerID)
}

// Graph is a registry of User records keyed by user id, not a source of
// truth about connectivity: a record's existence only means some event has
// referenced that id, not that a client is attached.
type Graph struct {
	users map[string]*User
}

// New constructs an empty Graph.
func New() *Graph {
	return &Graph{users: make(map[string]*User)}
}

// User returns the record for id, creating an empty one on demand.
func (g *Graph) User(id string) *User {
	u, ok := g.users[id]
	if !ok {
		u = newUser(id)
		g.users[id] = u
	}
	return u
}

// Register ensures a record exists for id and sets its connection,
// preserving any pre-existing follower set.
func (g *Graph) Register(id string, conn Connection) *User {
	u := g.User(id)
	u.Connection = conn
	return u
}

// Unregister clears a user's connection without touching its follower set
// or removing the record; subsequent sends to it are silently dropped.
func (g *Graph) Unregister(id string) {
	if u, ok := g.users[id]; ok {
		u.Connection = nil
	}
}

// FollowersOf returns the set of User records that follow id, creating the
// target record if absent.
func (g *Graph) FollowersOf(id string) []*User {
	target := g.User(id)
	followers := make([]*User, 0, len(target.followers))
	for followerID := range target.followers {
		followers = append(followers, g.User(followerID))
	}
	return followers
}

// AllUsers returns every known user record, in no particular order.
func (g *Graph) AllUsers() []*User {
	all := make([]*User, 0, len(g.users))
	for _, u := range g.users {
		all = append(all, u)
	}
	return all
}

// AddFollower adds followerID to target's follower set, creating target's
// record if absent.
func (g *Graph) AddFollower(target, followerID string) {
	g.User(target).AddFollower(followerID)
}

// RemoveFollower removes followerID from target's follower set, creating
// target's record if absent. No follower set changes if followerID isn't
// currently following target.
func (g *Graph) RemoveFollower(target, followerID string) {
	g.User(target).RemoveFollower(followerID)
}
