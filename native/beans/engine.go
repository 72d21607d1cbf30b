package beans

import (
	"time"

	"bakedbeans/core/events"
)

// engineState describes the functionality the engine needs from the
// surrounding ledger state. Implementations must guarantee that
// Snapshot/RevertToSnapshot undo every mutation made in between, so an
// aborted operation leaves no partial writes behind.
type engineState interface {
	GlobalState() (*GlobalState, error)
	SetGlobalState(*GlobalState) error
	UserState(addr [20]byte) (*UserState, error)
	PutUserState(*UserState) error
	BalanceOf(addr [20]byte) (uint64, error)
	Transfer(from, to [20]byte, amount uint64) error
	MinimumBalance() uint64
	VaultAddress() [20]byte
	Snapshot() int
	RevertToSnapshot(int)
}

// Engine implements the five program operations against external state. It
// holds no state of its own beyond wiring.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() uint64
}

// NewEngine creates an engine with a no-op emitter. Callers can override the
// emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return e.nowFn()
}

// run executes fn inside a state snapshot, reverting every write on error.
func (e *Engine) run(fn func() error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	snap := e.state.Snapshot()
	if err := fn(); err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}
	return nil
}

func (e *Engine) loadGlobalState() (*GlobalState, error) {
	gs, err := e.state.GlobalState()
	if err != nil {
		return nil, err
	}
	if gs == nil || !gs.Initialized {
		return nil, ErrNotInitialized
	}
	return gs, nil
}

func (e *Engine) loadUserState(addr [20]byte) (*UserState, error) {
	us, err := e.state.UserState(addr)
	if err != nil {
		return nil, err
	}
	if us == nil {
		return nil, ErrUserNotFound
	}
	return us, nil
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

// rentFloor is the minimum balance the vault must keep to stay alive under
// the host's storage-rent rules, never less than one lamport.
func (e *Engine) rentFloor() uint64 {
	floor := e.state.MinimumBalance()
	if floor < 1 {
		floor = 1
	}
	return floor
}

// Initialize sets up the global registry. The first call wins; later calls
// must come from the stored authority. The vault is topped up from the
// caller so it stays above the rent floor.
func (e *Engine) Initialize(caller, newAuthority, dev, marketing, ceo, giveaway [20]byte) error {
	return e.run(func() error {
		gs, err := e.state.GlobalState()
		if err != nil {
			return err
		}
		if gs != nil && gs.Initialized {
			if gs.Authority != caller {
				return ErrNotAllowedAuthority
			}
		}
		if gs == nil {
			gs = &GlobalState{}
		}
		gs.Initialized = true
		gs.Authority = newAuthority
		gs.Vault = e.state.VaultAddress()
		gs.DevAccount = dev
		gs.MarketingAccount = marketing
		gs.CeoAccount = ceo
		gs.GiveawayAccount = giveaway
		if err := e.state.SetGlobalState(gs); err != nil {
			return err
		}

		vaultBalance, err := e.state.BalanceOf(gs.Vault)
		if err != nil {
			return err
		}
		topUp := saturatingSub(e.rentFloor(), vaultBalance)
		return e.state.Transfer(caller, gs.Vault, topUp)
	})
}

// InitUserState creates the per-participant record. Creating it twice fails.
func (e *Engine) InitUserState(userKey [20]byte) error {
	return e.run(func() error {
		if userKey == ([20]byte{}) {
			return ErrZeroAddress
		}
		existing, err := e.state.UserState(userKey)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrUserExists
		}
		return e.state.PutUserState(&UserState{User: userKey})
	})
}

// BuyBeans deposits lamports, credits beans net of the deposit fee, records
// the referral relationship on the first linked deposit and distributes the
// fee to the dev/marketing/ceo accounts with the remainder going to the vault.
func (e *Engine) BuyBeans(user, refUser [20]byte, amount uint64) error {
	return e.run(func() error {
		gs, err := e.loadGlobalState()
		if err != nil {
			return err
		}
		if user == refUser {
			return ErrSelfReferral
		}
		us, err := e.loadUserState(user)
		if err != nil {
			return err
		}
		rs, err := e.loadUserState(refUser)
		if err != nil {
			return err
		}

		if amount < MinDeposit {
			return ErrInsufficientDeposit
		}
		// The cap compares the pre-deposit total, so one deposit may push
		// the total strictly over it before the next is rejected.
		if us.TotalDeposit > MaxWalletTVL {
			return ErrTotalDepositReached
		}
		if refUser != gs.Authority && rs.TotalDeposit == 0 {
			return ErrReferrerShouldInvest
		}

		now := e.now()
		beansFrom := us.Beans
		totalFee := PercentFrom(amount, DepositFeePercent)
		value := amount - totalFee
		us.Beans = AddBeans(us, LamportsToBeans(value))

		if !us.HasReferred {
			us.HasReferred = true
			us.Upline = refUser
			rs.Referrals = append(rs.Referrals, user)
			if us.TotalDeposit == 0 {
				refBonus := PercentFrom(LamportsToBeans(amount), FirstDepositRefBonusPercent)
				rs.Beans = AddBeans(rs, refBonus)
			}
		}

		if us.TotalDeposit == 0 {
			us.FirstDepositTime = now
			gs.TotalBakers++
		}

		us.TotalDeposit += amount

		if us.HasReferred &&
			us.TotalDeposit >= MinReferralDepositForBonus &&
			!rs.HasBonusReferral(user) {
			rs.BonusEligibleReferrals = append(rs.BonusEligibleReferrals, user)
		}

		if err := e.state.PutUserState(us); err != nil {
			return err
		}
		if err := e.state.PutUserState(rs); err != nil {
			return err
		}
		if err := e.state.SetGlobalState(gs); err != nil {
			return err
		}

		devFee := PercentFrom(totalFee, DevFeePercent)
		marketFee := PercentFrom(totalFee, MarketingFeePercent)
		ceoFee := PercentFrom(totalFee, CeoFeePercent)
		remainder := totalFee - devFee - marketFee - ceoFee

		if err := e.state.Transfer(user, gs.DevAccount, devFee); err != nil {
			return err
		}
		if err := e.state.Transfer(user, gs.MarketingAccount, marketFee); err != nil {
			return err
		}
		if err := e.state.Transfer(user, gs.CeoAccount, ceoFee); err != nil {
			return err
		}
		if err := e.state.Transfer(user, gs.Vault, value+remainder); err != nil {
			return err
		}

		e.emit(BoughtBeans{
			User:      user,
			Referrer:  refUser,
			Lamports:  amount,
			BeansFrom: beansFrom,
			BeansTo:   us.Beans,
		})
		return nil
	})
}

// BakeBeans compounds the accrued reward into the bean balance. With
// onlyRebaking set, the accrued reward must exceed the minimum bake amount.
// No funds move.
func (e *Engine) BakeBeans(user [20]byte, onlyRebaking bool) error {
	return e.run(func() error {
		if _, err := e.loadGlobalState(); err != nil {
			return err
		}
		us, err := e.loadUserState(user)
		if err != nil {
			return err
		}
		if MaxTVLReached(us) {
			return ErrWalletTVLReached
		}
		if us.TotalDeposit == 0 {
			return ErrInvalidAction
		}
		now := e.now()
		rewarded, err := RewardedBeans(us, now)
		if err != nil {
			return err
		}
		if onlyRebaking && BeansToLamports(rewarded) <= MinBake {
			return ErrUnderMinBake
		}

		beansFrom := us.Beans
		us.Beans = AddBeans(us, rewarded)
		us.BakedAt = now
		if err := e.state.PutUserState(us); err != nil {
			return err
		}

		e.emit(Baked{
			User:      user,
			Referrer:  us.Upline,
			BeansFrom: beansFrom,
			BeansTo:   us.Beans,
		})
		return nil
	})
}

// EatBeans withdraws the accrued reward: the withdrawal fee is split to the
// fee accounts, half the tax-equivalent share goes to the giveaway account,
// the decaying tax reduces the payout and the lifetime 3x ceiling clamps it.
// The running payout total is tracked on the pre-fee amount while the actual
// transfer uses the fee-reduced one; both computations are kept as-is.
func (e *Engine) EatBeans(user [20]byte) error {
	return e.run(func() error {
		gs, err := e.loadGlobalState()
		if err != nil {
			return err
		}
		us, err := e.loadUserState(user)
		if err != nil {
			return err
		}
		if us.TotalDeposit == 0 {
			return ErrInvalidAction
		}
		if MaxPayoutReached(us) {
			return ErrMaxPayoutReached
		}

		now := e.now()
		beansBeforeFee, err := RewardedBeans(us, now)
		if err != nil {
			return err
		}
		lamportsBeforeFee := BeansToLamports(beansBeforeFee)
		totalFee := PercentFrom(lamportsBeforeFee, WithdrawFeePercent)

		toEat := lamportsBeforeFee - totalFee
		forGiveaway, err := GiveawayAmount(us, toEat, now)
		if err != nil {
			return err
		}
		toEat, err = AfterTax(us, toEat, now)
		if err != nil {
			return err
		}

		if lamportsBeforeFee+us.TotalPayout >= MaxPayout(us) {
			toEat = MaxPayout(us) - us.TotalPayout
			us.TotalPayout = MaxPayout(us)
		} else {
			afterTax, err := AfterTax(us, lamportsBeforeFee, now)
			if err != nil {
				return err
			}
			us.TotalPayout += afterTax
		}

		us.AteAt = now
		us.BakedAt = now
		if err := e.state.PutUserState(us); err != nil {
			return err
		}

		if err := e.state.Transfer(gs.Vault, gs.GiveawayAccount, forGiveaway); err != nil {
			return err
		}
		devFee := PercentFrom(totalFee, DevFeePercent)
		marketFee := PercentFrom(totalFee, MarketingFeePercent)
		ceoFee := PercentFrom(totalFee, CeoFeePercent)
		if err := e.state.Transfer(gs.Vault, gs.DevAccount, devFee); err != nil {
			return err
		}
		if err := e.state.Transfer(gs.Vault, gs.MarketingAccount, marketFee); err != nil {
			return err
		}
		if err := e.state.Transfer(gs.Vault, gs.CeoAccount, ceoFee); err != nil {
			return err
		}
		if err := e.state.Transfer(gs.Vault, user, toEat); err != nil {
			return err
		}

		// The vault must stay alive under the rent rules after paying out.
		vaultBalance, err := e.state.BalanceOf(gs.Vault)
		if err != nil {
			return err
		}
		required := saturatingSub(e.rentFloor(), vaultBalance)
		if vaultBalance <= required {
			return ErrInsufficientAmount
		}

		e.emit(Ate{
			User:           user,
			Lamports:       toEat,
			BeansBeforeFee: beansBeforeFee,
		})
		return nil
	})
}
