// Package customer looks up enrichment data for delivery branches by tax id.
package customer

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/order-intake/internal/model"
	"github.com/sells-group/order-intake/pkg/salesforce"
)

// Directory returns the customer registered under a tax id. A nil customer
// with a nil error is a miss.
type Directory interface {
	LookupByTaxID(ctx context.Context, taxID string) (*model.Customer, error)
}

// Nop never finds a customer.
type Nop struct{}

// LookupByTaxID implements Directory.
func (Nop) LookupByTaxID(context.Context, string) (*model.Customer, error) { return nil, nil }

// CustomerStore is the persistence method StoreDirectory needs.
type CustomerStore interface {
	GetCustomer(ctx context.Context, taxID string) (*model.Customer, error)
}

// StoreDirectory reads customers imported into the document store.
type StoreDirectory struct {
	store CustomerStore
}

// NewStoreDirectory wraps a store.
func NewStoreDirectory(st CustomerStore) *StoreDirectory {
	return &StoreDirectory{store: st}
}

// LookupByTaxID implements Directory.
func (d *StoreDirectory) LookupByTaxID(ctx context.Context, taxID string) (*model.Customer, error) {
	c, err := d.store.GetCustomer(ctx, model.DigitsOnly(taxID))
	if err != nil {
		return nil, eris.Wrap(err, "customer: store lookup")
	}
	return c, nil
}

// SalesforceDirectory reads customers from Salesforce Accounts.
type SalesforceDirectory struct {
	client   salesforce.Client
	taxField string
}

// NewSalesforceDirectory queries Accounts on taxField (DefaultTaxIDField when empty).
func NewSalesforceDirectory(client salesforce.Client, taxField string) *SalesforceDirectory {
	return &SalesforceDirectory{client: client, taxField: taxField}
}

// LookupByTaxID implements Directory.
func (d *SalesforceDirectory) LookupByTaxID(ctx context.Context, taxID string) (*model.Customer, error) {
	digits := model.DigitsOnly(taxID)
	acct, err := salesforce.FindAccountByTaxID(ctx, d.client, d.taxField, digits)
	if err != nil {
		return nil, eris.Wrap(err, "customer: salesforce lookup")
	}
	if acct == nil {
		return nil, nil
	}
	return &model.Customer{
		TaxID:        digits,
		Name:         acct.Name,
		Municipality: acct.BillingCity,
		State:        acct.BillingState,
	}, nil
}

// Cached memoizes another Directory for ttl. Misses are cached too, so a
// batch with many sections for one branch queries the backend once.
type Cached struct {
	next  Directory
	cache *ttlcache.Cache[string, *model.Customer]
}

// NewCached wraps next.
func NewCached(next Directory, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: ttlcache.New[string, *model.Customer](ttlcache.WithTTL[string, *model.Customer](ttl)),
	}
}

// LookupByTaxID implements Directory.
func (c *Cached) LookupByTaxID(ctx context.Context, taxID string) (*model.Customer, error) {
	key := model.DigitsOnly(taxID)
	if item := c.cache.Get(key); item != nil {
		return item.Value(), nil
	}
	cust, err := c.next.LookupByTaxID(ctx, key)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, cust, ttlcache.DefaultTTL)
	return cust, nil
}

// Enrich copies customer data into each header that carries a tax id.
// Lookup failures are logged and skipped; enrichment never fails a document.
func Enrich(ctx context.Context, dir Directory, headers []model.BranchHeader) int {
	if dir == nil {
		return 0
	}
	found := 0
	for i := range headers {
		if headers[i].TaxID == "" {
			continue
		}
		c, err := dir.LookupByTaxID(ctx, headers[i].TaxID)
		if err != nil {
			zap.L().Warn("customer: lookup failed",
				zap.String("tax_id", headers[i].TaxID),
				zap.Error(err),
			)
			continue
		}
		if c == nil {
			continue
		}
		headers[i].ApplyCustomer(c)
		found++
	}
	return found
}
