package transport

import (
	"context"
	"net"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
)

const (
	resolverCacheSize = 1000
	resolverCacheTTL  = 5 * time.Minute
)

// Resolver maps host names onto IP addresses, caching lookups for a short while.
type Resolver struct {
	cache  *expirable.LRU[string, string]
	lookup func(ctx context.Context, host string) ([]string, error)
}

func NewResolver() *Resolver {
	return &Resolver{
		cache:  expirable.NewLRU[string, string](resolverCacheSize, nil, resolverCacheTTL),
		lookup: net.DefaultResolver.LookupHost,
	}
}

// Resolve returns host verbatim should it already be an IP address, and otherwise its first resolved address.
func (r *Resolver) Resolve(ctx context.Context, host string) (string, error) {
	if host == "" || net.ParseIP(host) != nil {
		return host, nil
	}

	if ip, ok := r.cache.Get(host); ok {
		return ip, nil
	}

	addresses, err := r.lookup(ctx, host)
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve %q", host)
	}

	if len(addresses) == 0 {
		return "", errors.Errorf("no available addresses for %q", host)
	}

	ip := addresses[0]

	// Prefer IPv4 loopback so that addresses advertised as 127.0.0.1 match.
	if ip == "::1" {
		ip = "127.0.0.1"
	}

	r.cache.Add(host, ip)
	return ip, nil
}
