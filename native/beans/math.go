package beans

// The formula library. Every function is pure and deterministic given a
// user state snapshot and the current unix timestamp. All arithmetic is
// integer with floor division, matching the on-chain u64 math.

// PercentFrom returns amount * pct / 100, flooring the division. It is used
// for every fee, tax and reward-rate split.
func PercentFrom(amount, pct uint64) uint64 {
	return amount * pct / 100
}

// LamportsToBeans converts a lamport amount into beans, discarding the
// sub-bean remainder.
func LamportsToBeans(lamports uint64) uint64 {
	return lamports / LamportsPerBean
}

// BeansToLamports converts a bean balance back into lamports.
func BeansToLamports(amount uint64) uint64 {
	return amount * LamportsPerBean
}

// AddBeans returns the user's bean balance after adding delta, saturating at
// the per-wallet cap. Excess accrual above the cap is silently discarded.
func AddBeans(u *UserState, delta uint64) uint64 {
	total := u.Beans + delta
	max := LamportsToBeans(MaxWalletTVL)
	if total > max {
		return max
	}
	return total
}

// MaxTVLReached reports whether the bean balance already sits at the wallet cap.
func MaxTVLReached(u *UserState) bool {
	return u.Beans >= LamportsToBeans(MaxWalletTVL)
}

// MaxPayout is the lifetime payout ceiling: three times the money put in.
func MaxPayout(u *UserState) uint64 {
	return u.TotalDeposit * 3
}

// MaxPayoutReached reports whether the lifetime ceiling has been met.
func MaxPayoutReached(u *UserState) bool {
	return u.TotalPayout >= MaxPayout(u)
}

// SecondsSinceLastEat measures elapsed time since the last withdrawal, or
// since the first deposit when the user never withdrew.
func SecondsSinceLastEat(u *UserState, now uint64) (uint64, error) {
	reference := u.AteAt
	if reference == 0 {
		reference = u.FirstDepositTime
	}
	if now < reference {
		return 0, ErrTimestampUnderflow
	}
	return now - reference, nil
}

// DaysSinceLastEat floors the elapsed withdrawal interval to whole days.
func DaysSinceLastEat(u *UserState, now uint64) (uint64, error) {
	seconds, err := SecondsSinceLastEat(u, now)
	if err != nil {
		return 0, err
	}
	return seconds / SecondsPerDay, nil
}

// TaxPercent returns the decaying withdrawal tax. The rate starts at 90% on
// the day of the last withdrawal and drops 10 points per day, reaching zero
// on day nine before the cycle repeats.
func TaxPercent(u *UserState, now uint64) (uint64, error) {
	days, err := DaysSinceLastEat(u, now)
	if err != nil {
		return 0, err
	}
	switch days % 10 {
	case 0:
		return 90, nil
	case 1:
		return 80, nil
	case 2:
		return 70, nil
	case 3:
		return 60, nil
	case 4:
		return 50, nil
	case 5:
		return 40, nil
	case 6:
		return 30, nil
	case 7:
		return 20, nil
	case 8:
		return 10, nil
	default:
		return 0, nil
	}
}

// SecondsSinceLastAction measures elapsed time since the most recent of
// bake, eat or first deposit.
func SecondsSinceLastAction(u *UserState, now uint64) (uint64, error) {
	reference := u.BakedAt
	if reference == 0 {
		reference = u.AteAt
	}
	if reference == 0 {
		reference = u.FirstDepositTime
	}
	if now < reference {
		return 0, ErrTimestampUnderflow
	}
	return now - reference, nil
}

// DailyRewardRate returns the nominal daily reward factor for the user's
// referral tier, stepped on the count of bonus-eligible referrals.
func DailyRewardRate(u *UserState) uint64 {
	count := len(u.BonusEligibleReferrals)
	switch {
	case count < 10:
		return 30000
	case count < 25:
		return 35000
	case count < 50:
		return 40000
	case count < 100:
		return 45000
	case count < 150:
		return 50000
	case count < 250:
		return 55000
	default:
		return 60000
	}
}

// RewardedBeans computes the reward accrued since the last action: simple
// interest on the bean balance at the referral-tier rate, prorated per
// second and capped at the daily reward ceiling.
func RewardedBeans(u *UserState, now uint64) (uint64, error) {
	seconds, err := SecondsSinceLastAction(u, now)
	if err != nil {
		return 0, err
	}
	rewardPerDay := PercentFrom(u.Beans, DailyRewardRate(u))
	rewardsPerSecond := rewardPerDay * 1000 / SecondsPerDay
	rewarded := rewardsPerSecond * seconds / 10_000_000
	if max := LamportsToBeans(MaxDailyRewards); rewarded >= max {
		return max, nil
	}
	return rewarded, nil
}

// AfterTax applies the decaying withdrawal tax to a lamport amount.
func AfterTax(u *UserState, lamports, now uint64) (uint64, error) {
	tax, err := TaxPercent(u, now)
	if err != nil {
		return 0, err
	}
	return PercentFrom(lamports, 100-tax), nil
}

// GiveawayAmount earmarks half the tax-equivalent share of a withdrawal for
// the giveaway pool. It is computed on the post-fee withdrawal amount, not
// the pre-fee value.
func GiveawayAmount(u *UserState, withdrawal, now uint64) (uint64, error) {
	tax, err := TaxPercent(u, now)
	if err != nil {
		return 0, err
	}
	return PercentFrom(withdrawal, tax) / 2, nil
}
