package beans

// Seed strings used to derive the program's storage addresses.
const (
	GlobalStateSeed = "GLOBAL_STATE_SEED"
	UserStateSeed   = "USER_STATE_SEED"
	VaultSeed       = "VAULT_SEED"
)

const (
	// LamportsPerBean fixes the conversion rate between the pooled currency
	// and the internal bean balance.
	LamportsPerBean uint64 = 1000
	SecondsPerDay   uint64 = 86400

	// Fee percentages. Deposit and withdrawal fees are taken off the moved
	// amount; the dev/marketing/ceo splits are taken off the fee itself.
	DepositFeePercent   uint64 = 1
	AirdropFeePercent   uint64 = 1
	WithdrawFeePercent  uint64 = 5
	DevFeePercent       uint64 = 10
	MarketingFeePercent uint64 = 19
	CeoFeePercent       uint64 = 66

	RefBonusPercent             uint64 = 5
	FirstDepositRefBonusPercent uint64 = 5

	MinDeposit uint64 = 10_000_000 // 0.01 SOL
	MinBake    uint64 = 10_000_000 // 0.01 SOL

	MaxWalletTVL    uint64 = 200_000_000_000 // 200 SOL
	MaxDailyRewards uint64 = 5_000_000_000   // 5 SOL

	MinReferralDepositForBonus uint64 = 500_000_000 // 0.5 SOL
)
