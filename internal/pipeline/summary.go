package pipeline

import (
	"github.com/shopspring/decimal"

	"github.com/sells-group/order-intake/internal/model"
)

// Summarize aggregates accepted items. Branch buckets are keyed by the
// digits of the branch tax id in first-seen order; sections without a tax
// id share the empty bucket.
func Summarize(branches []model.BranchHeader, itemsByBranch [][]model.LineItem) model.DocumentSummary {
	sum := model.DocumentSummary{
		TotalBranches: len(branches),
		TotalValue:    decimal.Zero,
		Branches:      []model.BranchSummary{},
	}

	bucketOf := make(map[string]int)
	products := make(map[string]struct{})

	for bi, items := range itemsByBranch {
		var hdr model.BranchHeader
		if bi < len(branches) {
			hdr = branches[bi]
		}
		key := model.DigitsOnly(hdr.TaxID)

		idx, ok := bucketOf[key]
		if !ok {
			idx = len(sum.Branches)
			bucketOf[key] = idx
			sum.Branches = append(sum.Branches, model.BranchSummary{
				TaxID:          key,
				FormattedTaxID: hdr.FormattedTaxID,
				BranchName:     hdr.BranchName,
				OrderNumber:    hdr.Number(),
				Value:          decimal.Zero,
			})
		}
		b := &sum.Branches[idx]
		if b.OrderNumber == "" {
			b.OrderNumber = hdr.Number()
		}
		if b.BranchName == "" {
			b.BranchName = hdr.BranchName
		}

		for _, item := range items {
			b.ItemCount++
			b.Quantity += item.Quantity
			b.Value = b.Value.Add(item.LineTotal)
			if !item.Resolved() {
				b.Unresolved++
			}

			sum.TotalItems++
			sum.TotalQuantity += item.Quantity
			sum.TotalValue = sum.TotalValue.Add(item.LineTotal)
			if !item.Resolved() {
				sum.ItemsWithoutCrossReference++
			}
			code := item.VendorCodeNormalized
			if code == "" {
				code = item.VendorCode
			}
			products[code] = struct{}{}
		}
	}
	sum.DistinctProducts = len(products)
	return sum
}
