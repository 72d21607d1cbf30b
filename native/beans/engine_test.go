package beans

import (
	"errors"
	"testing"

	"bakedbeans/core/events"
)

const testRentFloor uint64 = 890_880

func addr(index byte) [20]byte {
	var out [20]byte
	out[19] = index
	return out
}

type stubSnapshot struct {
	global   *GlobalState
	users    map[[20]byte]*UserState
	balances map[[20]byte]uint64
}

// stubState is an in-memory engineState with copy-on-read records and
// whole-state snapshots, mimicking the rollback behaviour of the real
// state manager.
type stubState struct {
	global    *GlobalState
	users     map[[20]byte]*UserState
	balances  map[[20]byte]uint64
	vault     [20]byte
	snapshots []stubSnapshot
}

func newStubState() *stubState {
	return &stubState{
		users:    make(map[[20]byte]*UserState),
		balances: make(map[[20]byte]uint64),
		vault:    addr(0xAA),
	}
}

func cloneUserState(u *UserState) *UserState {
	if u == nil {
		return nil
	}
	out := *u
	out.Referrals = append([][20]byte(nil), u.Referrals...)
	out.BonusEligibleReferrals = append([][20]byte(nil), u.BonusEligibleReferrals...)
	return &out
}

func cloneGlobalState(gs *GlobalState) *GlobalState {
	if gs == nil {
		return nil
	}
	out := *gs
	return &out
}

func (s *stubState) GlobalState() (*GlobalState, error) { return cloneGlobalState(s.global), nil }

func (s *stubState) SetGlobalState(gs *GlobalState) error {
	s.global = cloneGlobalState(gs)
	return nil
}

func (s *stubState) UserState(a [20]byte) (*UserState, error) { return cloneUserState(s.users[a]), nil }

func (s *stubState) PutUserState(u *UserState) error {
	s.users[u.User] = cloneUserState(u)
	return nil
}

func (s *stubState) BalanceOf(a [20]byte) (uint64, error) { return s.balances[a], nil }

func (s *stubState) Transfer(from, to [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if s.balances[from] < amount {
		return errors.New("stub: insufficient funds")
	}
	if from == to {
		return nil
	}
	s.balances[from] -= amount
	s.balances[to] += amount
	return nil
}

func (s *stubState) MinimumBalance() uint64 { return testRentFloor }

func (s *stubState) VaultAddress() [20]byte { return s.vault }

func (s *stubState) Snapshot() int {
	snap := stubSnapshot{
		global:   cloneGlobalState(s.global),
		users:    make(map[[20]byte]*UserState, len(s.users)),
		balances: make(map[[20]byte]uint64, len(s.balances)),
	}
	for k, v := range s.users {
		snap.users[k] = cloneUserState(v)
	}
	for k, v := range s.balances {
		snap.balances[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1
}

func (s *stubState) RevertToSnapshot(rev int) {
	if rev < 0 || rev >= len(s.snapshots) {
		return
	}
	snap := s.snapshots[rev]
	s.global = snap.global
	s.users = snap.users
	s.balances = snap.balances
	s.snapshots = s.snapshots[:rev]
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) { r.events = append(r.events, evt) }

func newTestEngine(t *testing.T) (*Engine, *stubState, *recordingEmitter) {
	t.Helper()
	st := newStubState()
	emitter := &recordingEmitter{}
	engine := NewEngine()
	engine.SetState(st)
	engine.SetEmitter(emitter)
	return engine, st, emitter
}

func initializedEngine(t *testing.T) (*Engine, *stubState, *recordingEmitter, [20]byte) {
	t.Helper()
	engine, st, emitter := newTestEngine(t)
	authority := addr(1)
	st.balances[authority] = 2_000_000_000
	if err := engine.Initialize(authority, authority, addr(2), addr(3), addr(4), addr(5)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.InitUserState(authority); err != nil {
		t.Fatalf("init authority user state: %v", err)
	}
	return engine, st, emitter, authority
}

func TestInitializeFirstCallWins(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	caller := addr(1)
	st.balances[caller] = 1_000_000_000
	if err := engine.Initialize(caller, caller, addr(2), addr(3), addr(4), addr(5)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if st.global == nil || !st.global.Initialized {
		t.Fatal("global state not initialized")
	}
	if st.global.Vault != st.vault {
		t.Fatal("vault address not recorded")
	}
	if st.balances[st.vault] != testRentFloor {
		t.Fatalf("vault must be topped up to the rent floor, got %d", st.balances[st.vault])
	}

	// Re-initialization by a stranger is rejected.
	if err := engine.Initialize(addr(9), addr(9), addr(2), addr(3), addr(4), addr(5)); !errors.Is(err, ErrNotAllowedAuthority) {
		t.Fatalf("expected ErrNotAllowedAuthority, got %v", err)
	}
	// The stored authority may re-run it and rotate accounts.
	if err := engine.Initialize(caller, addr(7), addr(6), addr(3), addr(4), addr(5)); err != nil {
		t.Fatalf("re-initialize by authority: %v", err)
	}
	if st.global.Authority != addr(7) || st.global.DevAccount != addr(6) {
		t.Fatal("re-initialization did not update the registry")
	}
}

func TestInitializeRollsBackWhenTopUpFails(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	caller := addr(1)
	// Caller cannot cover the rent floor top-up.
	st.balances[caller] = 100
	if err := engine.Initialize(caller, caller, addr(2), addr(3), addr(4), addr(5)); err == nil {
		t.Fatal("expected top-up failure")
	}
	if st.global != nil {
		t.Fatal("global state must be rolled back")
	}
}

func TestInitUserState(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	if err := engine.InitUserState([20]byte{}); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
	user := addr(2)
	if err := engine.InitUserState(user); err != nil {
		t.Fatalf("init user state: %v", err)
	}
	if st.users[user] == nil || st.users[user].User != user {
		t.Fatal("user state not created")
	}
	if err := engine.InitUserState(user); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestBuyBeansMinimumDepositWithAuthorityReferrer(t *testing.T) {
	engine, st, emitter, authority := initializedEngine(t)
	user := addr(10)
	if err := engine.InitUserState(user); err != nil {
		t.Fatal(err)
	}
	st.balances[user] = MinDeposit

	if err := engine.BuyBeans(user, authority, MinDeposit); err != nil {
		t.Fatalf("buy: %v", err)
	}

	us := st.users[user]
	if us.Beans != 9900 {
		t.Fatalf("expected 9900 beans, got %d", us.Beans)
	}
	if us.TotalDeposit != MinDeposit {
		t.Fatalf("expected total deposit %d, got %d", MinDeposit, us.TotalDeposit)
	}
	if !us.HasReferred || us.Upline != authority {
		t.Fatal("referral link not recorded")
	}
	if us.FirstDepositTime == 0 {
		t.Fatal("first deposit time not set")
	}
	if st.global.TotalBakers != 1 {
		t.Fatalf("expected 1 baker, got %d", st.global.TotalBakers)
	}

	// The authority referrer still earns the first-deposit bonus:
	// 5% of 10000 beans.
	rs := st.users[authority]
	if rs.Beans != 500 {
		t.Fatalf("expected referrer bonus of 500 beans, got %d", rs.Beans)
	}
	if len(rs.Referrals) != 1 || rs.Referrals[0] != user {
		t.Fatal("referral list not updated")
	}
	// 0.01 SOL is below the bonus-eligibility threshold.
	if len(rs.BonusEligibleReferrals) != 0 {
		t.Fatal("bonus eligibility must require the deposit threshold")
	}

	// Fee split: 1% fee of 100000, split 10/19/66 with the remainder
	// riding along to the vault.
	if st.balances[addr(2)] != 10_000 {
		t.Fatalf("dev fee: got %d", st.balances[addr(2)])
	}
	if st.balances[addr(3)] != 19_000 {
		t.Fatalf("marketing fee: got %d", st.balances[addr(3)])
	}
	if st.balances[addr(4)] != 66_000 {
		t.Fatalf("ceo fee: got %d", st.balances[addr(4)])
	}
	if st.balances[st.vault] != testRentFloor+9_905_000 {
		t.Fatalf("vault balance: got %d", st.balances[st.vault])
	}
	if st.balances[user] != 0 {
		t.Fatalf("user should have spent the full amount, got %d", st.balances[user])
	}

	if len(emitter.events) != 1 {
		t.Fatalf("expected one event, got %d", len(emitter.events))
	}
	bought, ok := emitter.events[0].(BoughtBeans)
	if !ok {
		t.Fatalf("unexpected event %T", emitter.events[0])
	}
	if bought.BeansFrom != 0 || bought.BeansTo != 9900 || bought.Lamports != MinDeposit {
		t.Fatalf("unexpected event payload: %+v", bought)
	}
}

func TestBuyBeansPreconditions(t *testing.T) {
	engine, st, _, authority := initializedEngine(t)
	user := addr(10)
	other := addr(11)
	if err := engine.InitUserState(user); err != nil {
		t.Fatal(err)
	}
	if err := engine.InitUserState(other); err != nil {
		t.Fatal(err)
	}
	st.balances[user] = 10 * MinDeposit

	if err := engine.BuyBeans(user, authority, MinDeposit-1); !errors.Is(err, ErrInsufficientDeposit) {
		t.Fatalf("expected ErrInsufficientDeposit, got %v", err)
	}
	if err := engine.BuyBeans(user, user, MinDeposit); !errors.Is(err, ErrSelfReferral) {
		t.Fatalf("expected ErrSelfReferral, got %v", err)
	}
	// A referrer that never deposited and is not the authority is refused.
	if err := engine.BuyBeans(user, other, MinDeposit); !errors.Is(err, ErrReferrerShouldInvest) {
		t.Fatalf("expected ErrReferrerShouldInvest, got %v", err)
	}
	if err := engine.BuyBeans(user, addr(12), MinDeposit); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestBuyBeansDepositCapChecksPreDepositTotal(t *testing.T) {
	engine, st, _, authority := initializedEngine(t)
	user := addr(10)
	if err := engine.InitUserState(user); err != nil {
		t.Fatal(err)
	}
	st.balances[user] = 2 * MinDeposit
	st.users[user].TotalDeposit = MaxWalletTVL // at the cap, not over it

	// The check runs against the pre-deposit total, so this deposit pushes
	// the total strictly over the cap.
	if err := engine.BuyBeans(user, authority, MinDeposit); err != nil {
		t.Fatalf("deposit at the cap boundary must pass: %v", err)
	}
	if st.users[user].TotalDeposit != MaxWalletTVL+MinDeposit {
		t.Fatal("overshoot not recorded")
	}
	if err := engine.BuyBeans(user, authority, MinDeposit); !errors.Is(err, ErrTotalDepositReached) {
		t.Fatalf("expected ErrTotalDepositReached, got %v", err)
	}
}

func TestBuyBeansFirstDepositBonusGrantedOnce(t *testing.T) {
	engine, st, _, authority := initializedEngine(t)
	referrer := addr(10)
	user := addr(11)
	for _, a := range [][20]byte{referrer, user} {
		if err := engine.InitUserState(a); err != nil {
			t.Fatal(err)
		}
	}
	st.balances[referrer] = MinDeposit
	st.balances[user] = 2 * MinReferralDepositForBonus
	if err := engine.BuyBeans(referrer, authority, MinDeposit); err != nil {
		t.Fatal(err)
	}

	beansBefore := st.users[referrer].Beans
	if err := engine.BuyBeans(user, referrer, MinReferralDepositForBonus); err != nil {
		t.Fatal(err)
	}
	bonus := PercentFrom(LamportsToBeans(MinReferralDepositForBonus), FirstDepositRefBonusPercent)
	if got := st.users[referrer].Beans - beansBefore; got != bonus {
		t.Fatalf("expected bonus %d, got %d", bonus, got)
	}
	if len(st.users[referrer].BonusEligibleReferrals) != 1 {
		t.Fatal("deposit at the threshold must be bonus eligible")
	}

	// The second deposit must not grant another first-deposit bonus nor
	// duplicate the referral bookkeeping.
	beansBefore = st.users[referrer].Beans
	if err := engine.BuyBeans(user, referrer, MinReferralDepositForBonus); err != nil {
		t.Fatal(err)
	}
	if st.users[referrer].Beans != beansBefore {
		t.Fatal("first-deposit bonus granted twice")
	}
	if len(st.users[referrer].Referrals) != 1 {
		t.Fatal("referral recorded twice")
	}
	if len(st.users[referrer].BonusEligibleReferrals) != 1 {
		t.Fatal("bonus eligibility duplicated")
	}
}

func TestBakeBeans(t *testing.T) {
	engine, st, emitter, authority := initializedEngine(t)
	user := addr(10)
	if err := engine.InitUserState(user); err != nil {
		t.Fatal(err)
	}

	if err := engine.BakeBeans(user, false); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}

	start := uint64(1_000_000)
	engine.SetNowFunc(func() uint64 { return start })
	st.balances[user] = 100_000_000
	if err := engine.BuyBeans(user, authority, 100_000_000); err != nil {
		t.Fatal(err)
	}
	emitter.events = nil

	// 99000 beans accrue 2970 beans in one day at the base tier.
	now := start + SecondsPerDay
	engine.SetNowFunc(func() uint64 { return now })
	if err := engine.BakeBeans(user, false); err != nil {
		t.Fatalf("bake: %v", err)
	}
	us := st.users[user]
	if us.Beans != 99_000+2_970 {
		t.Fatalf("expected 101970 beans, got %d", us.Beans)
	}
	if us.BakedAt != now {
		t.Fatal("baked timestamp not set")
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected one event, got %d", len(emitter.events))
	}
	baked, ok := emitter.events[0].(Baked)
	if !ok || baked.BeansFrom != 99_000 || baked.BeansTo != 101_970 {
		t.Fatalf("unexpected baked event: %+v", emitter.events[0])
	}
}

func TestBakeBeansOnlyRebakingThreshold(t *testing.T) {
	engine, st, _, authority := initializedEngine(t)
	user := addr(10)
	if err := engine.InitUserState(user); err != nil {
		t.Fatal(err)
	}
	start := uint64(1_000_000)
	engine.SetNowFunc(func() uint64 { return start })
	st.balances[user] = 100_000_000
	if err := engine.BuyBeans(user, authority, 100_000_000); err != nil {
		t.Fatal(err)
	}

	// One day of accrual on 99000 beans is 2970 beans = 2970000 lamports,
	// below the 0.01 SOL rebake minimum.
	engine.SetNowFunc(func() uint64 { return start + SecondsPerDay })
	if err := engine.BakeBeans(user, true); !errors.Is(err, ErrUnderMinBake) {
		t.Fatalf("expected ErrUnderMinBake, got %v", err)
	}
	// Four days of accrual clears the threshold.
	engine.SetNowFunc(func() uint64 { return start + 4*SecondsPerDay })
	if err := engine.BakeBeans(user, true); err != nil {
		t.Fatalf("bake: %v", err)
	}
}

func TestBakeBeansAtWalletCap(t *testing.T) {
	engine, st, _, _ := initializedEngine(t)
	user := addr(10)
	if err := engine.InitUserState(user); err != nil {
		t.Fatal(err)
	}
	st.users[user].TotalDeposit = MinDeposit
	st.users[user].Beans = LamportsToBeans(MaxWalletTVL)
	if err := engine.BakeBeans(user, false); !errors.Is(err, ErrWalletTVLReached) {
		t.Fatalf("expected ErrWalletTVLReached, got %v", err)
	}
}

func TestEatBeansPayoutAndBookkeepingAsymmetry(t *testing.T) {
	engine, st, emitter, _ := initializedEngine(t)
	user := addr(10)
	if err := engine.InitUserState(user); err != nil {
		t.Fatal(err)
	}
	t0 := uint64(1_000_000)
	st.users[user].TotalDeposit = 1_000_000_000
	st.users[user].FirstDepositTime = t0
	st.users[user].BakedAt = t0 + SecondsPerDay
	st.users[user].Beans = 1_019_700
	st.balances[st.vault] = 1_000_000_000

	now := t0 + 2*SecondsPerDay
	engine.SetNowFunc(func() uint64 { return now })
	if err := engine.EatBeans(user); err != nil {
		t.Fatalf("eat: %v", err)
	}

	// One day since the last bake accrues 30591 beans; 5% fee leaves
	// 29061450 lamports, taxed at 70% (day two since first deposit).
	if st.balances[user] != 8_718_435 {
		t.Fatalf("payout: got %d", st.balances[user])
	}
	if st.balances[addr(5)] != 10_171_507 {
		t.Fatalf("giveaway: got %d", st.balances[addr(5)])
	}
	if st.balances[addr(2)] != 152_955 {
		t.Fatalf("dev fee: got %d", st.balances[addr(2)])
	}
	if st.balances[addr(3)] != 290_614 {
		t.Fatalf("marketing fee: got %d", st.balances[addr(3)])
	}
	if st.balances[addr(4)] != 1_009_503 {
		t.Fatalf("ceo fee: got %d", st.balances[addr(4)])
	}

	us := st.users[user]
	// The running total is tracked on the pre-fee amount, so it exceeds
	// what was actually transferred. Kept as-is from the source.
	if us.TotalPayout != 9_177_300 {
		t.Fatalf("total payout: got %d", us.TotalPayout)
	}
	if us.AteAt != now || us.BakedAt != now {
		t.Fatal("timestamps not advanced")
	}

	if len(emitter.events) != 1 {
		t.Fatalf("expected one event, got %d", len(emitter.events))
	}
	ate, ok := emitter.events[0].(Ate)
	if !ok || ate.Lamports != 8_718_435 || ate.BeansBeforeFee != 30_591 {
		t.Fatalf("unexpected ate event: %+v", emitter.events[0])
	}
}

func TestEatBeansClampsAtLifetimeCeiling(t *testing.T) {
	engine, st, _, _ := initializedEngine(t)
	user := addr(10)
	if err := engine.InitUserState(user); err != nil {
		t.Fatal(err)
	}
	t0 := uint64(1_000_000)
	st.users[user].TotalDeposit = MinDeposit // ceiling is 30000000
	st.users[user].TotalPayout = 29_000_000
	st.users[user].FirstDepositTime = t0
	st.users[user].Beans = 100_000_000 // large balance so accrual clears the gap
	st.balances[st.vault] = 10_000_000_000

	engine.SetNowFunc(func() uint64 { return t0 + SecondsPerDay })
	if err := engine.EatBeans(user); err != nil {
		t.Fatalf("eat: %v", err)
	}
	us := st.users[user]
	if us.TotalPayout != MaxPayout(us) {
		t.Fatalf("total payout must be clamped to the ceiling, got %d", us.TotalPayout)
	}
	if st.balances[user] != 1_000_000 {
		t.Fatalf("clamped payout must be ceiling minus prior payouts, got %d", st.balances[user])
	}

	if err := engine.EatBeans(user); !errors.Is(err, ErrMaxPayoutReached) {
		t.Fatalf("expected ErrMaxPayoutReached, got %v", err)
	}
}

func TestEatBeansRentFloorAbortsAndRollsBack(t *testing.T) {
	engine, st, _, _ := initializedEngine(t)
	user := addr(10)
	if err := engine.InitUserState(user); err != nil {
		t.Fatal(err)
	}
	t0 := uint64(1_000_000)
	st.users[user].TotalDeposit = 1_000_000_000
	st.users[user].FirstDepositTime = t0
	st.users[user].BakedAt = t0 + SecondsPerDay
	st.users[user].Beans = 1_019_700
	// Enough to fund all transfers but leaving the vault under the rent
	// floor afterwards.
	vaultBefore := uint64(20_343_014 + 400_000)
	st.balances[st.vault] = vaultBefore

	engine.SetNowFunc(func() uint64 { return t0 + 2*SecondsPerDay })
	if err := engine.EatBeans(user); !errors.Is(err, ErrInsufficientAmount) {
		t.Fatalf("expected ErrInsufficientAmount, got %v", err)
	}

	// Every transfer and record write must be rolled back.
	if st.balances[st.vault] != vaultBefore {
		t.Fatalf("vault balance must be restored, got %d", st.balances[st.vault])
	}
	if st.balances[user] != 0 {
		t.Fatalf("user payout must be rolled back, got %d", st.balances[user])
	}
	us := st.users[user]
	if us.AteAt != 0 || us.TotalPayout != 0 {
		t.Fatal("user state must be rolled back")
	}
}

func TestEatBeansRequiresDeposit(t *testing.T) {
	engine, _, _, _ := initializedEngine(t)
	user := addr(10)
	if err := engine.InitUserState(user); err != nil {
		t.Fatal(err)
	}
	if err := engine.EatBeans(user); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}

func TestOperationsFailClosedOnClockSkew(t *testing.T) {
	engine, st, _, _ := initializedEngine(t)
	user := addr(10)
	if err := engine.InitUserState(user); err != nil {
		t.Fatal(err)
	}
	st.users[user].TotalDeposit = MinDeposit
	st.users[user].FirstDepositTime = 2_000_000
	st.users[user].Beans = 1000
	engine.SetNowFunc(func() uint64 { return 1_999_999 })
	if err := engine.BakeBeans(user, false); !errors.Is(err, ErrTimestampUnderflow) {
		t.Fatalf("expected ErrTimestampUnderflow, got %v", err)
	}
	if err := engine.EatBeans(user); !errors.Is(err, ErrTimestampUnderflow) {
		t.Fatalf("expected ErrTimestampUnderflow, got %v", err)
	}
}
