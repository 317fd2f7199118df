package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultTaxIDField is the custom Account field holding the CNPJ.
const DefaultTaxIDField = "CNPJ__c"

// Account is the subset of a Salesforce Account used for enrichment.
type Account struct {
	ID           string
	Name         string
	TaxID        string
	BillingCity  string
	BillingState string
}

// FindAccountByTaxID queries Salesforce for the Account whose taxField equals
// taxID. Returns nil if no account is found.
func FindAccountByTaxID(ctx context.Context, c Client, taxField, taxID string) (*Account, error) {
	if taxField == "" {
		taxField = DefaultTaxIDField
	}
	if !validFieldName(taxField) {
		return nil, eris.Errorf("sf: invalid field name %q", taxField)
	}
	soql := fmt.Sprintf(
		"SELECT Id, Name, %s, BillingCity, BillingState FROM Account WHERE %s = '%s' LIMIT 1",
		taxField, taxField, escapeSoql(taxID),
	)

	// Records are decoded generically because the tax field name is configurable.
	var records []map[string]any
	if err := c.Query(ctx, soql, &records); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find account by tax id %s", taxID))
	}
	if len(records) == 0 {
		return nil, nil
	}
	r := records[0]
	return &Account{
		ID:           str(r["Id"]),
		Name:         str(r["Name"]),
		TaxID:        str(r[taxField]),
		BillingCity:  str(r["BillingCity"]),
		BillingState: str(r["BillingState"]),
	}, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func validFieldName(s string) bool {
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return s != ""
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
