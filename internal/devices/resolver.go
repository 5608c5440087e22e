package devices

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"kidfun/internal/core"
	"kidfun/internal/metrics"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = time.Minute
)

// Lookup finds a device by the code it presents
type Lookup interface {
	GetDeviceByCode(ctx context.Context, code string) (*core.Device, error)
}

// Resolver maps presented device codes to device records. Entries expire
// after the TTL so a binding changed on another instance is picked up.
type Resolver struct {
	lookup Lookup
	cache  *expirable.LRU[string, core.Device]
	logger *slog.Logger
}

// NewResolver creates a resolver caching up to size devices for ttl
func NewResolver(lookup Lookup, size int, ttl time.Duration, logger *slog.Logger) *Resolver {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{
		lookup: lookup,
		cache:  expirable.NewLRU[string, core.Device](size, nil, ttl),
		logger: logger.With("component", "device-resolver"),
	}
}

// NormalizeCode canonicalizes a presented code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Resolve returns a copy of the device presenting code
func (r *Resolver) Resolve(ctx context.Context, code string) (*core.Device, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, core.ErrInvalidDeviceCode
	}

	if device, ok := r.cache.Get(code); ok {
		metrics.ResolverCacheHits.Inc()
		return &device, nil
	}
	metrics.ResolverCacheMisses.Inc()

	device, err := r.lookup.GetDeviceByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	r.cache.Add(code, *device)
	r.logger.Debug("Device resolved", "device_id", device.ID, "profile_id", device.ProfileID)

	copied := *device
	return &copied, nil
}

// Invalidate drops the cached entry for a device's code
func (r *Resolver) Invalidate(device *core.Device) {
	if device == nil {
		return
	}
	r.cache.Remove(NormalizeCode(device.Code))
}

// Purge empties the cache
func (r *Resolver) Purge() {
	r.cache.Purge()
}

// Len returns the number of cached devices
func (r *Resolver) Len() int {
	return r.cache.Len()
}
