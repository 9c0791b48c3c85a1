package solana

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mr-tron/base58"
)

// Keypair holds an ed25519 signing key.
type Keypair struct {
	private ed25519.PrivateKey
}

// NewKeypairFromSeed builds a keypair from a 32-byte seed.
func NewKeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed: expected %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Keypair{private: ed25519.NewKeyFromSeed(seed)}, nil
}

// ParseKeypair accepts either a base58 secret key or the JSON byte array
// written by solana-keygen. The embedded public half must match the seed.
func ParseKeypair(s string) (*Keypair, error) {
	s = strings.TrimSpace(s)
	var raw []byte
	if strings.HasPrefix(s, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(s), &ints); err != nil {
			return nil, fmt.Errorf("decode keypair json: %w", err)
		}
		raw = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("keypair json: byte %d out of range", i)
			}
			raw[i] = byte(v)
		}
	} else {
		var err error
		raw, err = base58.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("decode keypair base58: %w", err)
		}
	}

	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair: expected %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}

	kp, err := NewKeypairFromSeed(raw[:ed25519.SeedSize])
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(kp.private[ed25519.SeedSize:], raw[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("keypair: public key does not match secret")
	}
	return kp, nil
}

// LoadKeypairFile reads a keypair file in either supported format.
func LoadKeypairFile(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair: %w", err)
	}
	return ParseKeypair(string(data))
}

// PublicKey returns the public half.
func (k *Keypair) PublicKey() PublicKey {
	var pk PublicKey
	copy(pk[:], k.private[ed25519.SeedSize:])
	return pk
}

// Sign signs message.
func (k *Keypair) Sign(message []byte) [64]byte {
	var sig [64]byte
	copy(sig[:], ed25519.Sign(k.private, message))
	return sig
}

// Verify checks sig against pk.
func Verify(pk PublicKey, message []byte, sig [64]byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pk[:]), message, sig[:])
}
