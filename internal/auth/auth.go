// Copyright 2024 Canonical Ltd.

// Package auth implements the Authenticators registry described in
// spec.md §3/§4.4: a mapping from credential type to a predicate that
// decides whether a set of credentials grants access. The registry is
// populated once at server-protocol startup and is read-only
// thereafter, so it is safely shared across sessions without locking
// (SPEC_FULL.md §5).
package auth

// AnonymousType is the credential type under which an unconditional
// "always grant" authenticator is conventionally registered, per
// spec.md §4.4: "by convention an authenticator registered under type
// "" unconditionally grants access".
const AnonymousType = ""

// Credentials is the decoded second element of an authenticate params
// array: an opaque, authenticator-specific object.
type Credentials map[string]interface{}

// A Predicate decides whether creds are sufficient to authenticate.
// userData is the opaque value supplied at Register time.
type Predicate func(creds Credentials, userData interface{}) bool

type entry struct {
	predicate Predicate
	userData  interface{}
}

// A Registry holds one predicate per credential type.
type Registry struct {
	entries map[string]entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register installs predicate under credType, with userData passed to
// it on every call. The predicate registered under AnonymousType is
// the one consulted for anonymous authentication on ESTABLISHED
// (spec.md §4.7); registering Allow() there grants access
// unconditionally.
func (r *Registry) Register(credType string, predicate Predicate, userData interface{}) {
	r.entries[credType] = entry{predicate: predicate, userData: userData}
}

// Authenticate reports whether credType/creds are accepted. An unknown
// credType is always rejected. Passing AnonymousType with nil creds is
// the anonymous-authentication path used on session establishment.
func (r *Registry) Authenticate(credType string, creds Credentials) bool {
	e, ok := r.entries[credType]
	if !ok {
		return false
	}
	return e.predicate(creds, e.userData)
}

// HasAnonymous reports whether any authenticator is registered under
// AnonymousType; it does not evaluate that authenticator's predicate.
func (r *Registry) HasAnonymous() bool {
	_, ok := r.entries[AnonymousType]
	return ok
}

// Allow returns a Predicate that grants access unconditionally,
// ignoring both creds and userData. It is the usual choice for
// Register(AnonymousType, ...).
func Allow() Predicate {
	return func(Credentials, interface{}) bool { return true }
}
