package address

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

const (
	// Size is the length of an address in bytes.
	Size = 32

	// MaxSeeds is the maximum number of seed components per derivation.
	MaxSeeds = 16

	// MaxSeedLen is the maximum length of a single seed component.
	MaxSeedLen = 32
)

// derivationMarker is appended to every derivation input so derived
// addresses never collide with plain blake3 digests of the same bytes.
var derivationMarker = []byte("TallyDerivedAddress")

var (
	// ErrOnCurve is returned when a candidate address is a valid ed25519 point.
	ErrOnCurve = errors.New("derived address lies on the ed25519 curve")

	// ErrNoValidNonce is returned when no nonce in [0, 255] yields an off-curve address.
	ErrNoValidNonce = errors.New("no valid derivation nonce")

	// ErrTooManySeeds is returned when more than MaxSeeds components are given.
	ErrTooManySeeds = errors.New("too many seeds")

	// ErrSeedTooLong is returned when a seed component exceeds MaxSeedLen.
	ErrSeedTooLong = errors.New("seed too long")
)

// Address is a 32-byte identity or derived record location.
type Address [Size]byte

// Zero is the all-zero address.
var Zero Address

// String returns the base58 form of the address.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// Short returns the hex of the first four bytes for log lines.
func (a Address) Short() string {
	return fmt.Sprintf("%x", a[:4])
}

// IsZero reports whether the address is all zeros.
func (a Address) IsZero() bool {
	return a == Zero
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*a = parsed

	return nil
}

// Parse decodes a base58 address.
func Parse(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("decode base58:\n%w", err)
	}

	return FromBytes(raw)
}

// FromBytes copies a 32-byte slice into an Address.
func FromBytes(b []byte) (Address, error) {
	if len(b) != Size {
		return Address{}, fmt.Errorf("invalid address size: got %d, want %d", len(b), Size)
	}

	var a Address
	copy(a[:], b)

	return a, nil
}

// Create derives the address for the given seeds and nonce.
// Returns ErrOnCurve if the digest is a valid ed25519 point, since such an
// address could have a private key and must not be owned by the program.
func Create(program Address, nonce uint8, seeds ...[]byte) (Address, error) {
	if err := checkSeeds(seeds); err != nil {
		return Address{}, err
	}

	h := blake3.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write([]byte{nonce})
	h.Write(program[:])
	h.Write(derivationMarker)

	var addr Address
	h.Sum(addr[:0])

	if onCurve(addr) {
		return Address{}, ErrOnCurve
	}

	return addr, nil
}

// Find searches nonces from 255 downward and returns the first off-curve
// address together with its nonce. The result is a pure function of the
// program and seeds.
func Find(program Address, seeds ...[]byte) (Address, uint8, error) {
	if err := checkSeeds(seeds); err != nil {
		return Address{}, 0, err
	}

	for n := 255; n >= 0; n-- {
		addr, err := Create(program, uint8(n), seeds...)
		if errors.Is(err, ErrOnCurve) {
			continue
		}
		if err != nil {
			return Address{}, 0, err
		}

		return addr, uint8(n), nil
	}

	return Address{}, 0, ErrNoValidNonce
}

// Verify reports whether addr re-derives from the seeds with the stored nonce.
func Verify(addr, program Address, nonce uint8, seeds ...[]byte) bool {
	derived, err := Create(program, nonce, seeds...)
	if err != nil {
		return false
	}

	return derived == addr
}

// checkSeeds enforces the seed count and length limits.
func checkSeeds(seeds [][]byte) error {
	if len(seeds) > MaxSeeds {
		return fmt.Errorf("%w: %d (max %d)", ErrTooManySeeds, len(seeds), MaxSeeds)
	}

	for i, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return fmt.Errorf("%w: seed %d has %d bytes (max %d)", ErrSeedTooLong, i, len(seed), MaxSeedLen)
		}
	}

	return nil
}

// onCurve reports whether the bytes decode as a compressed edwards25519 point.
func onCurve(a Address) bool {
	_, err := new(edwards25519.Point).SetBytes(a[:])
	return err == nil
}
