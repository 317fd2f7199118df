package xref

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/order-intake/internal/model"
)

// Stats counts resolver activity since construction or the last Reset.
type Stats struct {
	Lookups      int64 `json:"lookups"`
	CacheHits    int64 `json:"cache_hits"`
	Misses       int64 `json:"misses"`
	SourceErrors int64 `json:"source_errors"`
}

// Resolver memoizes code resolution over a Source. One Resolver may be
// shared by every document of a batch; it is safe for concurrent use.
type Resolver struct {
	source Source
	cache  *ttlcache.Cache[string, model.CrossReferenceResult]
	group  singleflight.Group

	lookups atomic.Int64
	hits    atomic.Int64
	misses  atomic.Int64
	errs    atomic.Int64

	mu     sync.Mutex
	missed map[string]struct{}
}

// NewResolver creates a Resolver with an empty, never-expiring memo.
func NewResolver(src Source) *Resolver {
	return &Resolver{
		source: src,
		cache: ttlcache.New[string, model.CrossReferenceResult](
			ttlcache.WithTTL[string, model.CrossReferenceResult](ttlcache.NoTTL),
		),
		missed: make(map[string]struct{}),
	}
}

func memoKey(vendorCode, customerTaxID string) string {
	return vendorCode + "|" + model.DigitsOnly(customerTaxID)
}

// Resolve maps a vendor code to the internal catalog. A customer-specific
// entry wins over the generic one, and the zero-stripped code is tried
// before the code as written. Failures of the source are reported as
// misses and are not memoized, so a later call may still succeed.
func (r *Resolver) Resolve(ctx context.Context, vendorCode, customerTaxID string) model.CrossReferenceResult {
	code := strings.TrimSpace(vendorCode)
	if code == "" {
		return model.CrossReferenceResult{}
	}
	r.lookups.Add(1)

	key := memoKey(code, customerTaxID)
	if item := r.cache.Get(key); item != nil {
		r.hits.Add(1)
		return r.account(code, item.Value())
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if item := r.cache.Get(key); item != nil {
			return item.Value(), nil
		}
		res, err := r.lookup(ctx, code, model.DigitsOnly(customerTaxID))
		if err != nil {
			return model.CrossReferenceResult{}, err
		}
		r.cache.Set(key, res, ttlcache.DefaultTTL)
		return res, nil
	})
	if err != nil {
		r.errs.Add(1)
		zap.L().Warn("xref: lookup failed, treating as miss",
			zap.String("vendor_code", code),
			zap.String("customer_tax_id", customerTaxID),
			zap.Error(err),
		)
		return r.account(code, model.CrossReferenceResult{})
	}
	return r.account(code, v.(model.CrossReferenceResult))
}

func (r *Resolver) account(code string, res model.CrossReferenceResult) model.CrossReferenceResult {
	if res.Found() {
		return res
	}
	r.misses.Add(1)
	r.mu.Lock()
	r.missed[code] = struct{}{}
	r.mu.Unlock()
	return res
}

func (r *Resolver) lookup(ctx context.Context, code, taxID string) (model.CrossReferenceResult, error) {
	codes := []string{NormalizeCode(code)}
	if codes[0] != code {
		codes = append(codes, code)
	}
	for _, c := range codes {
		owners := []string{""}
		if taxID != "" {
			owners = []string{taxID, ""}
		}
		for _, owner := range owners {
			entry, err := r.source.Lookup(ctx, c, owner)
			if err != nil {
				return model.CrossReferenceResult{}, err
			}
			if entry != nil && entry.InternalCode != "" {
				return entry.Result(), nil
			}
		}
	}
	return model.CrossReferenceResult{}, nil
}

// Misses returns the distinct vendor codes that did not resolve, sorted.
func (r *Resolver) Misses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.missed))
	for c := range r.missed {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Stats returns a snapshot of the counters.
func (r *Resolver) Stats() Stats {
	return Stats{
		Lookups:      r.lookups.Load(),
		CacheHits:    r.hits.Load(),
		Misses:       r.misses.Load(),
		SourceErrors: r.errs.Load(),
	}
}

// Len returns the number of memoized resolutions.
func (r *Resolver) Len() int {
	return r.cache.Len()
}

// Reset drops the memo and the miss list after the catalog changed and
// returns the number of memoized resolutions dropped. Counters keep counting
// so snapshot deltas stay non-negative.
func (r *Resolver) Reset() int {
	n := r.cache.Len()
	r.cache.DeleteAll()
	r.mu.Lock()
	r.missed = make(map[string]struct{})
	r.mu.Unlock()
	zap.L().Info("xref: resolver memo reset", zap.Int("dropped", n))
	return n
}
