package program

import "math"

// Transfer moves amount lamports from one program-controlled account to another.
// Neither balance changes on failure.
func Transfer(from, to *AccountRef, amount uint64) error {
	if from.Lamports < amount {
		return Errorf(ErrInsufficientBalance, "%s holds %d, need %d", from.Address, from.Lamports, amount)
	}
	if to.Lamports > math.MaxUint64-amount {
		return Errorf(ErrOverflow, "crediting %d to %s", amount, to.Address)
	}
	from.Lamports -= amount
	to.Lamports += amount
	return nil
}

// Drain moves the whole balance of from into to and returns the amount moved.
func Drain(from, to *AccountRef) (uint64, error) {
	amount := from.Lamports
	if err := Transfer(from, to, amount); err != nil {
		return 0, err
	}
	return amount, nil
}

// Close zeroes the data of an emptied account. The host reclaims zero-lamport
// accounts when the transaction commits.
func Close(ref *AccountRef) {
	clear(ref.Data)
}
