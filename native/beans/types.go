package beans

// GlobalState is the singleton configuration record for the program. The
// authority and fee accounts are set at initialization and referenced
// unchanged by every later operation.
type GlobalState struct {
	Initialized      bool
	Authority        [20]byte
	Vault            [20]byte
	DevAccount       [20]byte
	MarketingAccount [20]byte
	GiveawayAccount  [20]byte
	CeoAccount       [20]byte
	TotalBakers      uint64
}

// UserState tracks one participant. Timestamps are unix seconds with zero
// meaning unset. Beans is the accruing balance, bounded by the wallet cap.
type UserState struct {
	User [20]byte

	TotalDeposit uint64
	TotalPayout  uint64

	FirstDepositTime uint64
	AteAt            uint64
	BakedAt          uint64

	Beans uint64

	Upline      [20]byte
	HasReferred bool

	Referrals              [][20]byte
	BonusEligibleReferrals [][20]byte
}

// HasBonusReferral reports whether addr is already recorded in the
// bonus-eligible referral set.
func (u *UserState) HasBonusReferral(addr [20]byte) bool {
	if u == nil {
		return false
	}
	for _, referral := range u.BonusEligibleReferrals {
		if referral == addr {
			return true
		}
	}
	return false
}
