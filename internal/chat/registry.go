package chat

import (
	"regexp"
	"strings"
	"time"
)

// Display name validation: letters, digits, underscore, hyphen, space, 2-20 chars.
var nameRegex = regexp.MustCompile(`^[A-Za-z0-9_\- ]{2,20}$`)

// validateName trims the raw name and checks shape. Client-side validation
// is not trusted; this runs on every join.
func validateName(raw string) (string, bool) {
	name := strings.TrimSpace(raw)
	if !nameRegex.MatchString(name) {
		return "", false
	}
	return name, true
}

// participant is a connected session. Owned exclusively by the registry and
// destroyed on disconnect or idle eviction.
type participant struct {
	id           string
	name         string
	joinedAt     time.Time
	lastActivity time.Time
	session      Session
	idleTimer    *time.Timer
}

// registry tracks connected participants and enforces case-insensitive
// display-name uniqueness among them.
type registry struct {
	byID   map[string]*participant
	byName map[string]string // lowercased name -> participant id
}

func newRegistry() *registry {
	return &registry{
		byID:   make(map[string]*participant),
		byName: make(map[string]string),
	}
}

func (r *registry) add(p *participant) {
	r.byID[p.id] = p
	r.byName[strings.ToLower(p.name)] = p.id
}

func (r *registry) remove(id string) *participant {
	p, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	delete(r.byName, strings.ToLower(p.name))
	return p
}

func (r *registry) get(id string) *participant {
	return r.byID[id]
}

func (r *registry) nameTaken(name string) bool {
	_, ok := r.byName[strings.ToLower(name)]
	return ok
}

func (r *registry) count() int {
	return len(r.byID)
}

func (r *registry) each(fn func(*participant)) {
	for _, p := range r.byID {
		fn(p)
	}
}
