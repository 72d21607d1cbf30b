package beans

import "errors"

var (
	ErrNotAllowedAuthority  = errors.New("beans: not allowed authority")
	ErrInsufficientAmount   = errors.New("beans: should be over minimum amount")
	ErrIncorrectUserState   = errors.New("beans: incorrect user state")
	ErrIncorrectReferral    = errors.New("beans: incorrect referral address")
	ErrInsufficientDeposit  = errors.New("beans: deposit doesn't meet the minimum requirements")
	ErrTotalDepositReached  = errors.New("beans: max total deposit reached")
	ErrZeroAddress          = errors.New("beans: invalid address to initialise")
	ErrReferrerShouldInvest = errors.New("beans: referrer should have invested")
	ErrWalletTVLReached     = errors.New("beans: total wallet tvl reached")
	ErrInvalidAction        = errors.New("beans: invalid action")
	ErrUnderMinBake         = errors.New("beans: rewards must be equal or higher than 0.01 SOL to bake")
	ErrMaxPayoutReached     = errors.New("beans: you have reached max payout")

	// ErrTimestampUnderflow surfaces a clock reading earlier than a stored
	// timestamp. The host runtime would abort on the unsigned subtraction;
	// here it is an explicit failure.
	ErrTimestampUnderflow = errors.New("beans: stored timestamp is in the future")

	ErrNotInitialized = errors.New("beans: global state not initialised")
	ErrUserExists     = errors.New("beans: user state already exists")
	ErrUserNotFound   = errors.New("beans: user state not found")
	ErrSelfReferral   = errors.New("beans: referrer must differ from user")

	errNilState = errors.New("beans: engine state not configured")
)
