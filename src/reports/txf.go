// Package reports renders persisted ledger records for export.
package reports

import (
	"fmt"
	"strings"
	"time"

	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/registry"
)

// Status1099B selects the Form 8949 box set: whether the broker reported
// cost basis to the IRS on a 1099-B, reported the sale without basis, or
// issued no 1099-B at all (the usual case for crypto).
type Status1099B string

const (
	StatusReported   Status1099B = "reported"
	StatusUnreported Status1099B = "unreported"
	StatusNone       Status1099B = "none"
)

// TXF reference numbers for Form 8949, per
// https://taxdataexchange.org/docs/txf/v042/form-1099-b.html:
//
//	| Holding period | Box A/D | Box B/E | Box C/F |
//	| short-term     | N321    | N711    | N712    |
//	| long-term      | N323    | N713    | N714    |
var referenceNumbers1099B = map[Status1099B]map[models.CapitalGainsTreatment]string{
	StatusReported:   {models.ShortTerm: "N321", models.LongTerm: "N323"},
	StatusUnreported: {models.ShortTerm: "N711", models.LongTerm: "N713"},
	StatusNone:       {models.ShortTerm: "N712", models.LongTerm: "N714"},
}

const txfDateLayout = "01/02/2006"

// Form8949TXF renders disposals as a TurboTax TXF (V042) Form 8949 document.
func Form8949TXF(disposals []models.Disposal, reg *registry.Registry, name string, date time.Time, status Status1099B) (string, error) {
	refs, ok := referenceNumbers1099B[status]
	if !ok {
		return "", fmt.Errorf("unknown 1099-B status %q", status)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "V042\nA%s\nD%s\n^\n", name, date.Format(txfDateLayout))

	for _, d := range disposals {
		currency, ok := reg.CurrencyByID(d.CurrencyID)
		if !ok {
			return "", fmt.Errorf("disposal %d references unknown currency %d", d.ID, d.CurrencyID)
		}

		b.WriteString("TD\n")
		b.WriteString(refs[d.CapitalGainsTreatment] + "\n")
		b.WriteString("C1\n")
		b.WriteString("L1\n")
		fmt.Fprintf(&b, "P%s %s\n", d.Amount.String(), currency.Symbol)
		fmt.Fprintf(&b, "D%s\n", d.AcquiredAt.Format(txfDateLayout))
		fmt.Fprintf(&b, "D%s\n", d.DisposedAt.Format(txfDateLayout))
		fmt.Fprintf(&b, "$%s\n", d.CostAmount.Round(2).String())
		fmt.Fprintf(&b, "$%s\n", d.SoldAmount.Round(2).String())
		b.WriteString("^\n")
	}
	return b.String(), nil
}
