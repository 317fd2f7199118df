package model

// FreightMode is who pays the freight for a delivery.
type FreightMode string

const (
	FreightUnknown FreightMode = "unknown"
	FreightPrepaid FreightMode = "prepaid" // CIF
	FreightCollect FreightMode = "collect" // FOB
)

// BranchHeader is the metadata extracted from one branch section.
// Empty strings and nil pointers mean the field was not found.
type BranchHeader struct {
	TaxID           string      `json:"tax_id,omitempty"`
	FormattedTaxID  string      `json:"formatted_tax_id,omitempty"`
	BranchName      string      `json:"delivery_branch_name,omitempty"`
	City            string      `json:"city,omitempty"`
	StateCode       string      `json:"state_code,omitempty"`
	PostalCode      string      `json:"postal_code,omitempty"`
	OrderNumber     string      `json:"order_number,omitempty"`
	ProposalNumber  string      `json:"proposal_number,omitempty"`
	DocumentDate    string      `json:"document_date,omitempty"`
	PaymentTermDays *int        `json:"payment_term_days,omitempty"`
	Freight         FreightMode `json:"freight_mode"`

	// Populated by the customer enrichment lookup keyed on TaxID.
	CustomerName string `json:"customer_name,omitempty"`
	Municipality string `json:"municipality,omitempty"`
	State        string `json:"state,omitempty"`
}

// Number returns the order number, falling back to the proposal number.
func (h BranchHeader) Number() string {
	if h.OrderNumber != "" {
		return h.OrderNumber
	}
	return h.ProposalNumber
}

// FieldCount returns how many extracted (non-enrichment) fields are set.
func (h BranchHeader) FieldCount() int {
	n := 0
	for _, s := range []string{
		h.TaxID, h.BranchName, h.City, h.StateCode, h.PostalCode,
		h.OrderNumber, h.ProposalNumber, h.DocumentDate,
	} {
		if s != "" {
			n++
		}
	}
	if h.PaymentTermDays != nil {
		n++
	}
	if h.Freight != "" && h.Freight != FreightUnknown {
		n++
	}
	return n
}

// ApplyCustomer copies enrichment fields from a customer record.
func (h *BranchHeader) ApplyCustomer(c *Customer) {
	if c == nil {
		return
	}
	h.CustomerName = c.Name
	h.Municipality = c.Municipality
	h.State = c.State
}

// Customer is the enrichment record returned by a customer directory.
type Customer struct {
	TaxID        string `json:"tax_id"`
	Name         string `json:"name"`
	Municipality string `json:"municipality,omitempty"`
	State        string `json:"state,omitempty"`
}
