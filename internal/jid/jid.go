// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

// Package jid provides a small value type for chat addresses of the form
// local@domain/resource. Addresses are validated at construction so the
// rest of the codebase never splits strings on '@' ad hoc.
package jid

import (
	"fmt"
	"strings"
)

// JID is a validated chat address. The zero value is not a valid JID;
// use Parse or New to construct one.
type JID struct {
	local    string
	domain   string
	resource string
}

// New constructs a JID from its parts. The resource may be empty.
func New(local, domain, resource string) (JID, error) {
	if local == "" {
		return JID{}, fmt.Errorf("jid: empty local part")
	}
	if domain == "" {
		return JID{}, fmt.Errorf("jid: empty domain part")
	}
	if strings.ContainsAny(local, "@/") || strings.ContainsAny(domain, "@/") {
		return JID{}, fmt.Errorf("jid: reserved character in %q@%q", local, domain)
	}
	return JID{local: local, domain: domain, resource: resource}, nil
}

// Parse parses an address of the form local@domain or local@domain/resource.
func Parse(s string) (JID, error) {
	at := strings.IndexByte(s, '@')
	if at < 0 {
		return JID{}, fmt.Errorf("jid: missing '@' in %q", s)
	}
	rest := s[at+1:]
	var resource string
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		resource = rest[slash+1:]
		rest = rest[:slash]
	}
	return New(s[:at], rest, resource)
}

// MustParse parses an address and panics on error. Intended for tests and
// compile-time constants only.
func MustParse(s string) JID {
	j, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return j
}

// Local returns the local (user) part of the address.
func (j JID) Local() string { return j.local }

// Domain returns the domain part of the address.
func (j JID) Domain() string { return j.domain }

// Resource returns the resource part, or "" if absent.
func (j JID) Resource() string { return j.resource }

// Bare returns local@domain without the resource.
func (j JID) Bare() string { return j.local + "@" + j.domain }

// String returns the full address including the resource if present.
func (j JID) String() string {
	if j.resource == "" {
		return j.Bare()
	}
	return j.Bare() + "/" + j.resource
}

// IsZero reports whether the JID is the zero value.
func (j JID) IsZero() bool { return j.local == "" && j.domain == "" }
