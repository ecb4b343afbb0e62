package api

import (
	"strings"

	"cosmossdk.io/math"
	"github.com/pkg/errors"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
)

// ckbDecimals is the number of shannon digits in one CKB.
const ckbDecimals = 8

// ParseCapacity parses a CKB amount such as "102.43" into shannons.
func ParseCapacity(s string) (uint64, error) {
	dec, err := math.LegacyNewDecFromStr(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid capacity %q", s)
	}
	if dec.IsNegative() {
		return 0, errors.Errorf("invalid capacity %q: negative", s)
	}
	shannons := dec.MulInt64(int64(ckb.ShannonsPerCKB))
	if !shannons.IsInteger() {
		return 0, errors.Errorf("invalid capacity %q: more than %d decimal places", s, ckbDecimals)
	}
	n := shannons.TruncateInt()
	if !n.IsUint64() {
		return 0, errors.Errorf("invalid capacity %q: too large", s)
	}
	return n.Uint64(), nil
}

// FormatCapacity renders shannons as a CKB amount without trailing zeros.
func FormatCapacity(shannons uint64) string {
	s := math.LegacyNewDecFromBigIntWithPrec(math.NewIntFromUint64(shannons).BigInt(), ckbDecimals).String()
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
