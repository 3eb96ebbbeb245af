// Package locks implements the per-file edit lock table. A lock is claimed by
// the first user to edit an unlocked file and survives until the file is
// deleted; there is no automatic expiry.
package locks

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"pkt.systems/coedit/api"
)

// Outcome classifies the result of an acquire attempt.
type Outcome int

const (
	// Granted means the caller now holds the lock (first writer wins).
	Granted Outcome = iota
	// AlreadyOwned means the caller already held the lock, or holds admin
	// override; the recorded holder is unchanged.
	AlreadyOwned
	// DeniedAccess means the path sits in the reserved namespace and the
	// caller lacks the admin role.
	DeniedAccess
	// DeniedLocked means another user holds the lock.
	DeniedLocked
)

// Decision is the result of a single Acquire call.
type Decision struct {
	Outcome Outcome
	// Reason is a user-facing denial message, set only on denied outcomes.
	Reason string
	// Holder is the user recorded as lock holder after the call.
	Holder string
}

// Table arbitrates edit locks keyed by logical path. All operations are safe
// for concurrent use; the check-then-claim sequence in Acquire is atomic per
// table, so two concurrent first edits of the same path can never both be
// granted first-writer status.
type Table struct {
	reserved string

	mu      sync.Mutex
	holders map[string]string
}

// NewTable returns an empty lock table. reserved names the administrative
// top-level segment ("admin"); paths under it are only editable by RoleAdmin.
func NewTable(reserved string) *Table {
	return &Table{
		reserved: reserved,
		holders:  make(map[string]string),
	}
}

// ReservedPath reports whether path is the administrative namespace or sits
// under it. Paths must be canonical; the table never normalizes.
func (t *Table) ReservedPath(path string) bool {
	return path == t.reserved || strings.HasPrefix(path, t.reserved+"/")
}

// Acquire evaluates an edit attempt against the table. Rules, in order:
// reserved-namespace paths are denied for non-admin roles regardless of lock
// state; a path held by another user is denied for non-admin roles; an
// unheld path is claimed for user; otherwise the caller already owns the lock
// or is admin. The whole sequence runs under one critical section. path must
// already be canonical (normalized slashes, no dot segments) so that two
// spellings of the same file cannot claim independent locks.
func (t *Table) Acquire(path, user, role string) Decision {
	admin := strings.EqualFold(role, api.RoleAdmin)
	if t.ReservedPath(path) && !admin {
		return Decision{Outcome: DeniedAccess, Reason: "Access Denied."}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	holder, held := t.holders[path]
	switch {
	case held && holder != user && !admin:
		return Decision{Outcome: DeniedLocked, Reason: fmt.Sprintf("Locked by %s", holder), Holder: holder}
	case !held:
		t.holders[path] = user
		return Decision{Outcome: Granted, Holder: user}
	default:
		// Caller owns the lock, or admin bypasses the denial without
		// transferring the lock.
		return Decision{Outcome: AlreadyOwned, Holder: holder}
	}
}

// Holder returns the current lock holder for path, if any.
func (t *Table) Holder(path string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	holder, ok := t.holders[path]
	return holder, ok
}

// Release removes any recorded holder for path. It is called only when the
// file is deleted.
func (t *Table) Release(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.holders, path)
}

// Snapshot returns the current path -> holder mapping, sorted by path for
// stable iteration in logs and diagnostics.
func (t *Table) Snapshot() []Entry {
	t.mu.Lock()
	entries := make([]Entry, 0, len(t.holders))
	for path, holder := range t.holders {
		entries = append(entries, Entry{Path: path, Holder: holder})
	}
	t.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

// Entry is one row of a Snapshot.
type Entry struct {
	Path   string
	Holder string
}
