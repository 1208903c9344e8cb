package contentstore

import (
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
)

const ipfsScheme = "ipfs://"

// Resolver turns content addresses into fetchable gateway URLs. Resolution
// is pure and synchronous and needs no session: reads stay available even
// when uploads do not.
type Resolver struct {
	gatewayHost string
}

func NewResolver(gatewayHost string) *Resolver {
	return &Resolver{gatewayHost: gatewayHost}
}

// ResolveAddress normalizes a content address, optionally carrying an
// ipfs:// scheme marker, into a subdomain-style gateway URL.
func (r *Resolver) ResolveAddress(address string) (string, error) {
	raw := strings.TrimPrefix(address, ipfsScheme)
	if raw == "" {
		return "", fmt.Errorf("empty content address")
	}
	if _, err := cid.Decode(raw); err != nil {
		return "", fmt.Errorf("invalid content address %q: %w", address, err)
	}
	return fmt.Sprintf("https://%s.%s", raw, r.gatewayHost), nil
}
