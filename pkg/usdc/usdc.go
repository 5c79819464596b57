package usdc

import (
	"crypto/ed25519"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	Mint          = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	QuarksPerUsdc = 1000000
	Decimals      = 6
)

var (
	TokenMint = ed25519.PublicKey{198, 250, 122, 243, 190, 219, 173, 58, 61, 101, 243, 106, 171, 201, 116, 49, 177, 187, 228, 194, 210, 246, 224, 228, 124, 166, 2, 3, 69, 47, 93, 97}
)

// FromQuarks renders a quark amount as a fixed point decimal string with
// trailing zeros trimmed down to two places.
func FromQuarks(quarks uint64) string {
	s := fmt.Sprintf("%d.%06d", quarks/QuarksPerUsdc, quarks%QuarksPerUsdc)
	for strings.HasSuffix(s, "0") && !strings.HasSuffix(s, ".00") {
		s = s[:len(s)-1]
	}
	return s
}

// ToQuarks parses a positive fixed point decimal string into quarks. No
// floating point is involved at any step; amounts with more than six decimal
// places are rejected rather than rounded.
func ToQuarks(amount string) (uint64, error) {
	amount = strings.TrimSpace(amount)
	if len(amount) == 0 {
		return 0, errors.New("amount is required")
	}

	whole := amount
	var frac string
	if i := strings.IndexByte(amount, '.'); i >= 0 {
		whole, frac = amount[:i], amount[i+1:]
	}
	if len(whole) == 0 && len(frac) == 0 {
		return 0, errors.New("invalid amount")
	}
	if len(frac) > Decimals {
		return 0, errors.Errorf("amount has more than %d decimal places", Decimals)
	}

	var quarks uint64
	if len(whole) > 0 {
		parsed, err := strconv.ParseUint(whole, 10, 64)
		if err != nil {
			return 0, errors.New("invalid amount")
		}
		if parsed > (1<<64-1)/QuarksPerUsdc {
			return 0, errors.New("amount overflows")
		}
		quarks = parsed * QuarksPerUsdc
	}

	if len(frac) > 0 {
		padded := frac + strings.Repeat("0", Decimals-len(frac))
		parsed, err := strconv.ParseUint(padded, 10, 64)
		if err != nil {
			return 0, errors.New("invalid amount")
		}
		if quarks > (1<<64-1)-parsed {
			return 0, errors.New("amount overflows")
		}
		quarks += parsed
	}

	if quarks == 0 {
		return 0, errors.New("amount must be positive")
	}
	return quarks, nil
}
