package runtime

import (
	"context"

	"github.com/objectql-dev/objectql/driver"
)

// Context is the immutable per-request value: user identity,
// tenant scoping, and an optional active transaction handle. The only
// legitimate way to touch objects is through Object(name), per the
// GLOSSARY's "Context" entry.
type Context struct {
	std context.Context
	rt  *Runtime

	UserID   string
	UserName string
	Roles    []string
	SpaceID  string
	IsSystem bool

	tx driver.Tx
}

// NewContext builds a per-request Context bound to rt.
func NewContext(std context.Context, rt *Runtime, userID, userName string, roles []string, spaceID string, isSystem bool) *Context {
	return &Context{
		std:      std,
		rt:       rt,
		UserID:   userID,
		UserName: userName,
		Roles:    roles,
		SpaceID:  spaceID,
		IsSystem: isSystem,
	}
}

// Std returns the underlying standard-library context.Context carrying
// deadline/cancellation, propagated to every driver call and hook
// invocation
func (c *Context) Std() context.Context { return c.std }

// HasRole reports whether role is present in c.Roles.
func (c *Context) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// withTx returns a child Context sharing everything but the transaction
// handle, transactional-scoping note: ctx.transaction(fn)
// installs the handle on a child Context rather than mutating the
// original in place.
func (c *Context) withTx(tx driver.Tx) *Context {
	child := *c
	child.tx = tx
	return &child
}

// Object returns the Repository handle for the named object.
func (c *Context) Object(name string) *Repository {
	return &Repository{ctx: c, objectName: name}
}
