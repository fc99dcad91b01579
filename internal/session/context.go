// Package session holds the signed-in shopper for a browser session.
package session

import (
	"sync"

	"github.com/hanko-field/storefront/internal/domain"
)

// User is the cached profile of the signed-in principal.
type User struct {
	UID   string      `json:"uid"`
	Email string      `json:"email,omitempty"`
	Name  string      `json:"name,omitempty"`
	Role  domain.Role `json:"role"`
}

// Context is the explicit session object handlers read the current user from.
// Subscribers are told whenever the user changes.
type Context struct {
	id string

	mu          sync.RWMutex
	user        *User
	nextSub     int
	subscribers map[int]func(*User)
}

// NewContext constructs a Context for session id with an optional signed-in user.
func NewContext(id string, user *User) *Context {
	return &Context{
		id:          id,
		user:        cloneUser(user),
		subscribers: make(map[int]func(*User)),
	}
}

// ID returns the session identifier carts are keyed by.
func (c *Context) ID() string {
	return c.id
}

// User returns a copy of the signed-in user, or nil.
func (c *Context) User() *User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneUser(c.user)
}

// Subscribe registers fn for user changes and returns its cancel function.
func (c *Context) Subscribe(fn func(*User)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}

// SetUser replaces the signed-in user and notifies subscribers.
func (c *Context) SetUser(user *User) {
	c.mu.Lock()
	c.user = cloneUser(user)
	subs := c.snapshotLocked()
	c.mu.Unlock()
	for _, fn := range subs {
		fn(cloneUser(user))
	}
}

// Clear signs the user out and notifies subscribers with nil.
func (c *Context) Clear() {
	c.SetUser(nil)
}

func (c *Context) snapshotLocked() []func(*User) {
	subs := make([]func(*User), 0, len(c.subscribers))
	for i := 0; i < c.nextSub; i++ {
		if fn, ok := c.subscribers[i]; ok {
			subs = append(subs, fn)
		}
	}
	return subs
}

func cloneUser(user *User) *User {
	if user == nil {
		return nil
	}
	copied := *user
	return &copied
}
