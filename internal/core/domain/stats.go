package domain

// EscrowStats backs the admin dashboard.
type EscrowStats struct {
	ActiveEscrows   int64 `json:"active_escrows"`
	HeldEscrows     int64 `json:"held_escrows"`
	DisputedEscrows int64 `json:"disputed_escrows"`
	DisputesOpen    int64 `json:"disputes_open"`
	CreditsInFlight int64 `json:"credits_in_flight"`
	// CreditsInAccounts plus CreditsInFlight is the total credit in the system;
	// it only changes when an account is opened.
	CreditsInAccounts int64 `json:"credits_in_accounts"`
}

// TotalCredits returns all credit known to the ledger.
func (s *EscrowStats) TotalCredits() int64 {
	return s.CreditsInFlight + s.CreditsInAccounts
}
