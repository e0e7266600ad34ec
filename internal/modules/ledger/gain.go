package ledger

// ResolveGain computes a trade's realized P/L from its gain fields and the
// balance that existed immediately before the trade. A percentage gain is a
// fraction of that opening balance; an absolute gain is taken as-is; a trade
// with neither is a zero-gain trade. Fees always reduce the result, so a
// percentage trade against a zero opening balance resolves to -fees.
//
// The result is also the trade's effect on the running balance. This function
// is pure; all ordering concerns live in the engine that supplies
// openingBalance.
func ResolveGain(amountGain, percentageGain *float64, openingBalance, fees float64) float64 {
	if percentageGain != nil {
		return *percentageGain*openingBalance - fees
	}
	var gain float64
	if amountGain != nil {
		gain = *amountGain
	}
	return gain - fees
}
