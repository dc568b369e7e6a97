package wallet

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aeither/AptosDeFiHub/internal/dex"
	"github.com/aeither/AptosDeFiHub/internal/logger"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidConfig  = errors.New("invalid wallet configuration")
	ErrKeyNotFound    = errors.New("signing key not found")
	ErrKeyInvalid     = errors.New("signing key is invalid")
	ErrAddressInvalid = errors.New("address is invalid")
	ErrSignFailed     = errors.New("payload signing failed")
)

var walletLogger = logger.GetForComponent("wallet_signer")

// LocalSigner signs transaction payloads with an ed25519 key held in memory.
// The key is loaded once at startup from the environment and never logged.
type LocalSigner struct {
	priv    ed25519.PrivateKey
	address string
}

// NewLocalSignerFromEnv loads the signing key from the PRIVATE_KEY environment
// variable (hex-encoded 32-byte seed, optional 0x prefix) and validates it
// against the given account address.
func NewLocalSignerFromEnv(address string) (*LocalSigner, error) {
	raw, exists := os.LookupEnv("PRIVATE_KEY")
	if !exists || raw == "" {
		return nil, ErrKeyNotFound
	}
	return NewLocalSigner(raw, address)
}

// NewLocalSigner creates a signer from a hex-encoded ed25519 seed.
func NewLocalSigner(hexSeed, address string) (*LocalSigner, error) {
	if address == "" || !strings.HasPrefix(address, "0x") {
		return nil, errors.Join(ErrAddressInvalid, fmt.Errorf("account address %q must be 0x-prefixed", address))
	}

	seed, err := hex.DecodeString(strings.TrimPrefix(hexSeed, "0x"))
	if err != nil {
		return nil, errors.Join(ErrKeyInvalid, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errors.Join(ErrKeyInvalid, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed)))
	}

	signer := &LocalSigner{
		priv:    ed25519.NewKeyFromSeed(seed),
		address: address,
	}
	walletLogger.Info().Str("address", address).Msg("Signing key loaded")
	return signer, nil
}

// Address returns the account address this signer controls.
func (s *LocalSigner) Address() string {
	return s.address
}

// txSignature is the ed25519 authenticator attached to a submitted
// transaction.
type txSignature struct {
	Type      string `json:"type"`
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

// signedTransaction is the wire form POSTed to the node: the entry-function
// payload to execute plus the authenticator proving the sender approved it.
type signedTransaction struct {
	dex.TxPayload
	Signature txSignature `json:"signature"`
}

// Sign produces the submittable transaction blob: the payload with an ed25519
// signature over its canonical JSON encoding. Field order in TxPayload is
// fixed, so the encoding is deterministic.
func (s *LocalSigner) Sign(payload dex.TxPayload) ([]byte, error) {
	msg, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Join(ErrSignFailed, err)
	}
	sig := ed25519.Sign(s.priv, msg)
	pub := s.priv.Public().(ed25519.PublicKey)

	return json.Marshal(signedTransaction{
		TxPayload: payload,
		Signature: txSignature{
			Type:      "ed25519_signature",
			PublicKey: "0x" + hex.EncodeToString(pub),
			Signature: "0x" + hex.EncodeToString(sig),
		},
	})
}
