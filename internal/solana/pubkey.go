package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Well-known program addresses.
const (
	SystemProgramID          = "11111111111111111111111111111111"
	TokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	AssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	ComputeBudgetProgramID   = "ComputeBudget111111111111111111111111111111"
)

// PublicKeyLength is the size of an ed25519 public key.
const PublicKeyLength = 32

const maxSeedLength = 32

// ErrNoViableBump is returned when every bump seed yields an on-curve point.
var ErrNoViableBump = errors.New("no viable bump seed")

// PublicKey is a 32-byte Solana account address.
type PublicKey [PublicKeyLength]byte

// ParsePublicKey decodes a base58 address.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("decode public key %q: %w", s, err)
	}
	if len(raw) != PublicKeyLength {
		return pk, fmt.Errorf("public key %q: expected %d bytes, got %d", s, PublicKeyLength, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// MustPublicKey parses a known-good address and panics otherwise.
func MustPublicKey(s string) PublicKey {
	pk, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// String returns the base58 form.
func (p PublicKey) String() string {
	return base58.Encode(p[:])
}

// IsZero reports whether the key is all zeros.
func (p PublicKey) IsZero() bool {
	return p == PublicKey{}
}

// IsOnCurve reports whether the key is a valid ed25519 point.
// Program derived addresses are off the curve by construction.
func (p PublicKey) IsOnCurve() bool {
	_, err := new(edwards25519.Point).SetBytes(p[:])
	return err == nil
}

// CreateProgramAddress hashes seeds with the program id and fails when the
// result lands on the curve.
func CreateProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, error) {
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > maxSeedLength {
			return PublicKey{}, fmt.Errorf("seed length %d exceeds %d", len(seed), maxSeedLength)
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte("ProgramDerivedAddress"))

	var pk PublicKey
	copy(pk[:], h.Sum(nil))
	if pk.IsOnCurve() {
		return PublicKey{}, fmt.Errorf("derived address is on curve")
	}
	return pk, nil
}

// FindProgramAddress searches bump seeds from 255 down for an off-curve address.
func FindProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		withBump := append(append([][]byte{}, seeds...), []byte{byte(bump)})
		pk, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return pk, uint8(bump), nil
		}
	}
	return PublicKey{}, 0, ErrNoViableBump
}

// FindAssociatedTokenAddress derives the associated token account of wallet for mint.
func FindAssociatedTokenAddress(wallet, mint PublicKey) (PublicKey, error) {
	tokenProgram := MustPublicKey(TokenProgramID)
	pk, _, err := FindProgramAddress(
		[][]byte{wallet[:], tokenProgram[:], mint[:]},
		MustPublicKey(AssociatedTokenProgramID),
	)
	return pk, err
}
