package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/order-intake/internal/model"
	"github.com/sells-group/order-intake/internal/store"
	"github.com/sells-group/order-intake/internal/xref"
)

// MetricsSnapshot holds a point-in-time view of intake health.
type MetricsSnapshot struct {
	// Documents stored within the lookback window.
	DocumentsTotal   int     `json:"documents_total"`
	DocumentsDone    int     `json:"documents_summarized"`
	DocumentsFailed  int     `json:"documents_failed"`
	DocumentFailRate float64 `json:"document_fail_rate"`

	// Cross-reference activity since the previous snapshot.
	CodeLookups     int64   `json:"code_lookups"`
	CodeMisses      int64   `json:"code_misses"`
	CodeMissRate    float64 `json:"code_miss_rate"`
	XRefErrors      int64   `json:"xref_source_errors"`
	UnresolvedCodes int     `json:"unresolved_codes"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// DocumentLister is the part of store.Store the collector reads.
type DocumentLister interface {
	ListDocuments(ctx context.Context, filter store.DocumentFilter) ([]model.DocumentRecord, error)
}

// ResolverStats reports cumulative cross-reference counters.
type ResolverStats interface {
	Stats() xref.Stats
	Misses() []string
}

// scanLimit caps the documents read per snapshot.
const scanLimit = 10000

// Collector gathers metrics from the store and the shared resolver.
type Collector struct {
	docs     DocumentLister
	resolver ResolverStats
	now      func() time.Time

	mu   sync.Mutex
	last xref.Stats
}

// NewCollector creates a new metrics collector. resolver may be nil.
func NewCollector(docs DocumentLister, resolver ResolverStats) *Collector {
	return &Collector{docs: docs, resolver: resolver, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window. Resolver
// counters are reported as deltas since the previous Collect.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	recs, err := c.docs.ListDocuments(ctx, store.DocumentFilter{Limit: scanLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list documents")
	}
	// Newest first, so stop at the first record outside the window.
	for _, r := range recs {
		if r.CreatedAt.Before(cutoff) {
			break
		}
		snap.DocumentsTotal++
		switch r.Status {
		case model.StateSummarized:
			snap.DocumentsDone++
		case model.StateFailed:
			snap.DocumentsFailed++
		}
	}
	if finished := snap.DocumentsDone + snap.DocumentsFailed; finished > 0 {
		snap.DocumentFailRate = float64(snap.DocumentsFailed) / float64(finished)
	}

	if c.resolver != nil {
		cur := c.resolver.Stats()
		c.mu.Lock()
		prev := c.last
		c.last = cur
		c.mu.Unlock()

		snap.CodeLookups = cur.Lookups - prev.Lookups
		snap.CodeMisses = cur.Misses - prev.Misses
		snap.XRefErrors = cur.SourceErrors - prev.SourceErrors
		if snap.CodeLookups > 0 {
			snap.CodeMissRate = float64(snap.CodeMisses) / float64(snap.CodeLookups)
		}
		snap.UnresolvedCodes = len(c.resolver.Misses())
	}

	return snap, nil
}
