package giftcard

import "github.com/holiman/uint256"

var hundred = uint256.NewInt(percentDenominator)

func narrow(v *uint256.Int) (uint64, error) {
	if !v.IsUint64() {
		return 0, ErrArithmetic
	}
	return v.Uint64(), nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow {
		return 0, ErrArithmetic
	}
	return narrow(sum)
}

func checkedSub(a, b uint64) (uint64, error) {
	diff, underflow := new(uint256.Int).SubOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if underflow {
		return 0, ErrArithmetic
	}
	return narrow(diff)
}

// percentOf returns floor(amount * pct / 100).
func percentOf(amount uint64, pct uint8) (uint64, error) {
	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(amount), uint256.NewInt(uint64(pct)))
	if overflow {
		return 0, ErrArithmetic
	}
	return narrow(new(uint256.Int).Div(product, hundred))
}

// ComputeSplit divides amount into commission, bonus and the store share.
func ComputeSplit(amount uint64, cfg Config) (Split, error) {
	commission, err := percentOf(amount, cfg.CommissionPercentage)
	if err != nil {
		return Split{}, err
	}
	bonus, err := percentOf(amount, cfg.BonusPercentage)
	if err != nil {
		return Split{}, err
	}
	remainder, err := checkedSub(amount, commission)
	if err != nil {
		return Split{}, err
	}
	share, err := checkedSub(remainder, bonus)
	if err != nil {
		return Split{}, err
	}
	return Split{Amount: amount, Commission: commission, Bonus: bonus, StoreShare: share}, nil
}

// BuyerDebit is the total moved out of the buyer's balance for the split.
func (s Split) BuyerDebit(bonusPaidOut bool) (uint64, error) {
	debit, err := checkedAdd(s.Commission, s.StoreShare)
	if err != nil {
		return 0, err
	}
	if bonusPaidOut {
		return checkedAdd(debit, s.Bonus)
	}
	return debit, nil
}
