// Package xref resolves vendor product codes to internal catalog codes.
package xref

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/order-intake/internal/model"
	"github.com/sells-group/order-intake/internal/resilience"
	"github.com/sells-group/order-intake/pkg/xrefapi"
)

// Source is a cross-reference catalog. An empty customerTaxID selects the
// generic entry. A missing entry is (nil, nil).
type Source interface {
	Lookup(ctx context.Context, vendorCode, customerTaxID string) (*model.CrossReferenceEntry, error)
}

// NormalizeCode strips leading zeros. A code made only of zeros keeps one.
func NormalizeCode(code string) string {
	code = strings.TrimSpace(code)
	stripped := strings.TrimLeft(code, "0")
	if stripped == "" && code != "" {
		return "0"
	}
	return stripped
}

type memKey struct {
	code  string
	taxID string
}

// MemorySource is an in-memory catalog, safe for concurrent use.
type MemorySource struct {
	mu      sync.RWMutex
	entries map[memKey]model.CrossReferenceEntry
}

// NewMemorySource builds a catalog from entries. Later duplicates win.
func NewMemorySource(entries ...model.CrossReferenceEntry) *MemorySource {
	m := &MemorySource{entries: make(map[memKey]model.CrossReferenceEntry, len(entries))}
	m.Add(entries...)
	return m
}

// Add inserts or replaces entries.
func (m *MemorySource) Add(entries ...model.CrossReferenceEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		k := memKey{code: strings.TrimSpace(e.VendorCode), taxID: model.DigitsOnly(e.CustomerTaxID)}
		m.entries[k] = e
	}
}

// Len returns the number of entries.
func (m *MemorySource) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Lookup implements Source.
func (m *MemorySource) Lookup(_ context.Context, vendorCode, customerTaxID string) (*model.CrossReferenceEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[memKey{code: vendorCode, taxID: model.DigitsOnly(customerTaxID)}]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// CrossRefStore is the persistence method StoreSource needs.
type CrossRefStore interface {
	LookupCrossRef(ctx context.Context, vendorCode, customerTaxID string) (*model.CrossReferenceEntry, error)
}

// StoreSource reads the catalog from the document store.
type StoreSource struct {
	store CrossRefStore
}

// NewStoreSource wraps a store.
func NewStoreSource(st CrossRefStore) *StoreSource {
	return &StoreSource{store: st}
}

// Lookup implements Source.
func (s *StoreSource) Lookup(ctx context.Context, vendorCode, customerTaxID string) (*model.CrossReferenceEntry, error) {
	e, err := s.store.LookupCrossRef(ctx, vendorCode, model.DigitsOnly(customerTaxID))
	if err != nil {
		return nil, eris.Wrapf(err, "xref: store lookup %s", vendorCode)
	}
	return e, nil
}

// ServiceSource reads the catalog from the cross-reference API, retrying
// transient failures behind a circuit breaker.
type ServiceSource struct {
	client  xrefapi.Client
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewServiceSource wraps an API client.
func NewServiceSource(client xrefapi.Client, retry resilience.RetryConfig, breaker resilience.CircuitBreakerConfig) *ServiceSource {
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("xrefapi", "lookup")
	}
	if breaker.ShouldTrip == nil {
		breaker.ShouldTrip = resilience.IsTransient
	}
	return &ServiceSource{
		client:  client,
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(breaker),
	}
}

// Lookup implements Source.
func (s *ServiceSource) Lookup(ctx context.Context, vendorCode, customerTaxID string) (*model.CrossReferenceEntry, error) {
	entry, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (*xrefapi.Entry, error) {
		return resilience.DoVal(ctx, s.retry, func(ctx context.Context) (*xrefapi.Entry, error) {
			return s.client.Lookup(ctx, vendorCode, model.DigitsOnly(customerTaxID))
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "xref: service lookup %s", vendorCode)
	}
	if entry == nil {
		return nil, nil
	}

	factor := decimal.NewFromInt(1)
	if entry.ConversionFactor != "" {
		factor, err = decimal.NewFromString(entry.ConversionFactor)
		if err != nil {
			return nil, eris.Wrapf(err, "xref: conversion factor for %s", vendorCode)
		}
	}
	return &model.CrossReferenceEntry{
		VendorCode:          entry.VendorCode,
		CustomerTaxID:       entry.CustomerTaxID,
		InternalCode:        entry.InternalCode,
		InternalDescription: entry.InternalDescription,
		ConversionFactor:    factor,
	}, nil
}
