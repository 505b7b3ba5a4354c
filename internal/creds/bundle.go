// Package creds defines the credential bundle recovered from an
// authenticated browser session and its on-disk cache.
package creds

import (
	"fmt"
	"strings"
	"time"
)

// Platform tags a bundle with the portal it was captured from.
type Platform string

const (
	PlatformUberEats Platform = "ubereats"
	PlatformDoorDash Platform = "doordash"
)

// Well-known token names within a bundle.
const (
	TokenCSRF   = "csrf_token"  // UberEats x-csrf-token value
	TokenAttKey = "dd_att_key"  // DoorDash anti-bot attestation key
	TokenStore  = "store_id"    // DoorDash store identifier
	TokenBiz    = "business_id" // DoorDash business identifier
)

// Bundle is the normalized set of session material needed to make
// authenticated API calls outside the browser. It is created once after a
// fresh login and never mutated afterward; expiry discards it wholesale.
type Bundle struct {
	Platform Platform `json:"platform"`

	// Tokens holds named opaque values (CSRF token, attestation key,
	// recovered identifiers).
	Tokens map[string]string `json:"tokens,omitempty"`

	// Cookies is the name to value cookie collection; RawCookie preserves
	// the original wire ordering for endpoints that care.
	Cookies   map[string]string `json:"cookies,omitempty"`
	RawCookie string            `json:"raw_cookie,omitempty"`

	// Headers is the captured request header set, when a live request was
	// observed on the wire.
	Headers map[string]string `json:"headers,omitempty"`

	// IssuedAt is stamped by the cache on save. Zero on a freshly captured
	// or freshly loaded bundle.
	IssuedAt time.Time `json:"-"`
}

// Token returns a named token, or "" when absent.
func (b *Bundle) Token(name string) string {
	if b == nil || b.Tokens == nil {
		return ""
	}
	return b.Tokens[name]
}

// CookieHeader renders the cookie collection as a single Cookie header value,
// preferring the captured raw string when present.
func (b *Bundle) CookieHeader() string {
	if b.RawCookie != "" {
		return b.RawCookie
	}
	pairs := make([]string, 0, len(b.Cookies))
	for name, value := range b.Cookies {
		pairs = append(pairs, name+"="+value)
	}
	return strings.Join(pairs, "; ")
}

// Validate checks that the bundle has the shape its platform requires.
// Malformed upstream captures fail here, at the API boundary, rather than
// producing undefined request material downstream.
func (b *Bundle) Validate() error {
	switch b.Platform {
	case PlatformUberEats:
		if len(b.Cookies) == 0 && b.RawCookie == "" {
			return fmt.Errorf("ubereats bundle has no cookies")
		}
		if b.Cookies["sid"] == "" && b.RawCookie == "" {
			return fmt.Errorf("ubereats bundle is missing the sid session cookie")
		}
	case PlatformDoorDash:
		if len(b.Cookies) == 0 && b.RawCookie == "" {
			return fmt.Errorf("doordash bundle has no cookies")
		}
		if b.Token(TokenStore) == "" {
			return fmt.Errorf("doordash bundle is missing the store id")
		}
	default:
		return fmt.Errorf("unknown platform %q", b.Platform)
	}
	return nil
}
