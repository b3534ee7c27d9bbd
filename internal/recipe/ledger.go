package recipe

import (
	"math"
	"strconv"
	"strings"
)

// Freshness thresholds used by the dashboard ledger.
const (
	FreshThreshold    = 70
	ExpiringThreshold = 40
)

// Ledger summarizes the current inventory and the economics of the journal.
type Ledger struct {
	FreshCount        int     `json:"freshCount"`
	ExpiringCount     int     `json:"expiringCount"`
	TotalSaved        float64 `json:"totalSaved"`
	WasteReductionPct int     `json:"wasteReductionPct"`
}

// ComputeLedger aggregates inventory freshness and archived savings.
func ComputeLedger(inventory []Ingredient, journal []Recipe) Ledger {
	var l Ledger
	for _, i := range inventory {
		if i.Freshness > FreshThreshold {
			l.FreshCount++
		}
		if i.Freshness < ExpiringThreshold {
			l.ExpiringCount++
		}
	}

	if len(journal) == 0 {
		return l
	}

	var reduction float64
	for _, r := range journal {
		if r.EconomicImpact == nil {
			continue
		}
		l.TotalSaved += parseAmount(r.EconomicImpact.SavingsValue, "$")
		reduction += parseAmount(r.EconomicImpact.WasteReduction, "%")
	}
	l.WasteReductionPct = int(math.Round(reduction / float64(len(journal))))
	return l
}

// parseAmount reads the leading number of a display string such as "$4.20"
// or "35%". Unparsable input counts as zero.
func parseAmount(s, symbol string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, symbol, ""))
	end := 0
	for end < len(s) && (s[end] == '.' || s[end] == '-' || (s[end] >= '0' && s[end] <= '9')) {
		end++
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return v
}
