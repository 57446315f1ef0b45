// Package ipfs maps content-addressed locators to HTTP gateway URLs.
package ipfs

import "strings"

// DefaultGateway is used when no gateway is configured.
const DefaultGateway = "https://ipfs.io/ipfs/"

const scheme = "ipfs://"

// Resolver rewrites ipfs:// locators and bare CIDs onto a gateway. It does
// no I/O and never fails.
type Resolver struct {
	gateway string
}

// NewResolver creates a Resolver for the given gateway base URL.
func NewResolver(gateway string) *Resolver {
	gateway = strings.TrimSpace(gateway)
	if gateway == "" {
		gateway = DefaultGateway
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	return &Resolver{gateway: gateway}
}

// Gateway returns the normalized gateway base URL.
func (r *Resolver) Gateway() string { return r.gateway }

// Resolve returns a fetchable URL for locator. Empty input yields empty
// output; conventional URLs pass through unchanged.
func (r *Resolver) Resolve(locator string) string {
	if locator == "" {
		return ""
	}
	if cid, ok := strings.CutPrefix(locator, scheme); ok {
		cid = strings.TrimPrefix(cid, "/")
		cid = strings.TrimPrefix(cid, "ipfs/")
		return r.gateway + cid
	}
	if IsCID(locator) {
		return r.gateway + locator
	}
	return locator
}

// IsCID reports whether s looks like a bare CIDv0 (Qm...) or base32 CIDv1
// (bafy...).
func IsCID(s string) bool {
	return strings.HasPrefix(s, "Qm") || strings.HasPrefix(s, "bafy")
}
