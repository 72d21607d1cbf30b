package beans

import (
	"encoding/hex"
	"strconv"

	"bakedbeans/core/types"
)

const (
	// TypeBoughtBeans is emitted after a successful deposit.
	TypeBoughtBeans = "beans.bought"
	// TypeBaked is emitted after accrued rewards are compounded.
	TypeBaked = "beans.baked"
	// TypeAte is emitted after a withdrawal pays out.
	TypeAte = "beans.ate"
)

// BoughtBeans carries the before/after balances of a deposit.
type BoughtBeans struct {
	User      [20]byte
	Referrer  [20]byte
	Lamports  uint64
	BeansFrom uint64
	BeansTo   uint64
}

func (BoughtBeans) EventType() string { return TypeBoughtBeans }

func (e BoughtBeans) Event() *types.Event {
	return &types.Event{
		Type: TypeBoughtBeans,
		Attributes: map[string]string{
			"user":      hex.EncodeToString(e.User[:]),
			"referrer":  hex.EncodeToString(e.Referrer[:]),
			"lamports":  strconv.FormatUint(e.Lamports, 10),
			"beansFrom": strconv.FormatUint(e.BeansFrom, 10),
			"beansTo":   strconv.FormatUint(e.BeansTo, 10),
		},
	}
}

// Baked carries the before/after balances of a compound.
type Baked struct {
	User      [20]byte
	Referrer  [20]byte
	BeansFrom uint64
	BeansTo   uint64
}

func (Baked) EventType() string { return TypeBaked }

func (e Baked) Event() *types.Event {
	return &types.Event{
		Type: TypeBaked,
		Attributes: map[string]string{
			"user":      hex.EncodeToString(e.User[:]),
			"referrer":  hex.EncodeToString(e.Referrer[:]),
			"beansFrom": strconv.FormatUint(e.BeansFrom, 10),
			"beansTo":   strconv.FormatUint(e.BeansTo, 10),
		},
	}
}

// Ate carries the amount paid out and the pre-fee bean value of a withdrawal.
type Ate struct {
	User           [20]byte
	Lamports       uint64
	BeansBeforeFee uint64
}

func (Ate) EventType() string { return TypeAte }

func (e Ate) Event() *types.Event {
	return &types.Event{
		Type: TypeAte,
		Attributes: map[string]string{
			"user":           hex.EncodeToString(e.User[:]),
			"lamports":       strconv.FormatUint(e.Lamports, 10),
			"beansBeforeFee": strconv.FormatUint(e.BeansBeforeFee, 10),
		},
	}
}
