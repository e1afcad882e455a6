package core

import (
	"fmt"
	"strings"
	"time"
)

// ServableStatus represents the lifecycle state of a servable.
type ServableStatus string

const (
	ServableStatusReady    ServableStatus = "READY"
	ServableStatusBuilding ServableStatus = "BUILDING"
	ServableStatusDeleted  ServableStatus = "DELETED"
)

// Servable is a registered, invocable compute artifact. A namespace+name
// pair may map to several rows (one per published version); resolution
// always picks the most recently created one. Deletion is a status flip,
// rows are never removed.
type Servable struct {
	UUID      string
	Namespace string
	Name      string
	Status    ServableStatus
	Protected bool
	Site      string // routing target of the site that hosts this servable
	OwnerID   int64
	CreatedAt time.Time
}

// Shorthand returns the namespace/name composite key.
func (s *Servable) Shorthand() string {
	return s.Namespace + "/" + s.Name
}

// ServableRef is a namespace/name pair as supplied by a caller.
type ServableRef struct {
	Namespace string
	Name      string
}

func (r ServableRef) String() string {
	return r.Namespace + "/" + r.Name
}

// ParseServableRef parses a "namespace/name" string.
func ParseServableRef(s string) (ServableRef, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ServableRef{}, ErrMalformedInput(fmt.Sprintf("invalid servable reference %q, want namespace/name", s))
	}
	return ServableRef{Namespace: parts[0], Name: parts[1]}, nil
}

// AccessGrant is a whitelist row allowing a user to invoke a protected
// servable.
type AccessGrant struct {
	UserID       int64
	ServableUUID string
	CreatedAt    time.Time
}

// User is a registered caller. The namespace handle is derived from the
// username on first sight and owns the user's published servables.
type User struct {
	ID        int64
	Username  string
	Namespace string
	CreatedAt time.Time
}

// Identity is the authenticated caller attached to a request context.
// The zero value is anonymous.
type Identity struct {
	UserID    int64
	Username  string
	Namespace string
}

// Authenticated reports whether the identity belongs to a known user.
func (id Identity) Authenticated() bool {
	return id.Username != ""
}

// NamespaceFor derives the namespace handle for a username, following
// the user@org.tld convention ("name_org"). Usernames without a domain
// are used as-is.
func NamespaceFor(username string) string {
	at := strings.IndexByte(username, '@')
	if at < 0 {
		return username
	}
	local := username[:at]
	org := username[at+1:]
	if dot := strings.IndexByte(org, '.'); dot >= 0 {
		org = org[:dot]
	}
	return local + "_" + org
}
