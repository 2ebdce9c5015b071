package vault

import (
	"fmt"
	"sort"
	"strings"
)

// Flaws selects checks the processor leaves out. Each flaw reproduces one lab.
type Flaws uint8

const (
	// FlawUncheckedDepositOwner skips owner(vault) in Deposit and
	// DepositToOpponent.
	FlawUncheckedDepositOwner Flaws = 1 << iota

	// FlawWrappingCounter lets vault counters wrap instead of failing.
	FlawWrappingCounter

	// FlawMissingWithdrawSigner skips signer(user) in Withdraw.
	FlawMissingWithdrawSigner

	// FlawUncheckedConfigOwner trusts any config record in SetState and
	// CloseContract.
	FlawUncheckedConfigOwner

	// FlawUncheckedConfigAddress keeps owner(config) but never re-derives the
	// config address, so any program-owned record of the right size passes.
	FlawUncheckedConfigAddress
)

var flawNames = map[Flaws]string{
	FlawUncheckedDepositOwner:  "unchecked-deposit-owner",
	FlawWrappingCounter:        "wrapping-counter",
	FlawMissingWithdrawSigner:  "missing-withdraw-signer",
	FlawUncheckedConfigOwner:   "unchecked-config-owner",
	FlawUncheckedConfigAddress: "unchecked-config-address",
}

// Has reports whether every flaw in f is set.
func (fl Flaws) Has(f Flaws) bool {
	return fl&f == f
}

func (fl Flaws) String() string {
	if fl == 0 {
		return "none"
	}
	var names []string
	for f, name := range flawNames {
		if fl.Has(f) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// Profile is a named deployment: the flaws it ships with and how it lays out
// vault records.
type Profile struct {
	Name   string
	Flaws  Flaws
	Layout VaultLayout
}

var (
	ProfileSecure = Profile{Name: "secure"}
	ProfileLab1   = Profile{Name: "lab1", Flaws: FlawUncheckedDepositOwner | FlawWrappingCounter}
	ProfileLab3   = Profile{Name: "lab3", Flaws: FlawUncheckedConfigAddress, Layout: NativeVault}
	ProfileLab9   = Profile{Name: "lab9", Flaws: FlawUncheckedConfigOwner, Layout: NativeVault}
	ProfileAll    = Profile{
		Name: "all",
		Flaws: FlawUncheckedDepositOwner | FlawWrappingCounter | FlawMissingWithdrawSigner |
			FlawUncheckedConfigOwner | FlawUncheckedConfigAddress,
		Layout: NativeVault,
	}
)

// Profiles lists every built-in profile.
func Profiles() []Profile {
	return []Profile{ProfileSecure, ProfileLab1, ProfileLab3, ProfileLab9, ProfileAll}
}

// ParseProfile looks up a profile by name.
func ParseProfile(name string) (Profile, error) {
	for _, p := range Profiles() {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("unknown profile %q", name)
}
