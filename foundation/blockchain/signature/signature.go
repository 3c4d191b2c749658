// Package signature provides helper functions for handling the blockchain
// signature and identity needs.
package signature

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"strconv"

	"github.com/ethereum/go-ethereum/crypto"
)

// Sizes of the signing material carried in blocks.
const (
	SignatureLength = crypto.SignatureLength
	PublicKeyLength = 33
)

// ZeroHash represents a hash of zeros.
var ZeroHash [32]byte

// =============================================================================

// Hash returns the sha256 digest of the concatenated data.
func Hash(data ...[]byte) [32]byte {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}

	var sum [32]byte
	copy(sum[:], h.Sum(nil))

	return sum
}

// ToID converts a digest into an identity by reading the first 8 bytes as a
// little endian integer.
func ToID(hash [32]byte) int64 {
	return int64(binary.LittleEndian.Uint64(hash[:8]))
}

// StringID renders an identity as an unsigned decimal string.
func StringID(id int64) string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseStringID converts an unsigned decimal string back into an identity.
func ParseStringID(s string) (int64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}

	return int64(v), nil
}

// PublicKey returns the compressed public key for the private key.
func PublicKey(privateKey *ecdsa.PrivateKey) []byte {
	return crypto.CompressPubkey(&privateKey.PublicKey)
}

// AccountID derives the account identity for a public key.
func AccountID(publicKey []byte) int64 {
	return ToID(Hash(publicKey))
}

// Sign uses the specified private key to sign the data. The signature is
// returned in the 65 byte [R || S || V] format.
func Sign(data []byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	digest := stamp(data)

	sig, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return nil, err
	}

	// Check the public key extracted from the data and signature.
	publicKey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return nil, err
	}

	if !bytes.Equal(crypto.CompressPubkey(publicKey), PublicKey(privateKey)) {
		return nil, errors.New("invalid signature")
	}

	return sig, nil
}

// Verify checks the signature over the data was produced by the private key
// behind the compressed public key.
func Verify(data []byte, sig []byte, publicKey []byte) bool {
	if len(sig) != SignatureLength || len(publicKey) != PublicKeyLength {
		return false
	}

	return crypto.VerifySignature(publicKey, stamp(data), sig[:crypto.RecoveryIDOffset])
}

// =============================================================================

// stamp returns a hash of 32 bytes that represents this data with the
// hybrid chain stamp embedded into the final hash.
func stamp(data []byte) []byte {

	// Hash the data into a 32 byte array. This will provide a data length
	// consistency with all data.
	dataHash := crypto.Keccak256(data)

	// This stamp is used so signatures we produce when signing data are
	// always unique to this blockchain.
	stamp := []byte("\x19Hybrid Signed Block:\n32")

	return crypto.Keccak256(stamp, dataHash)
}
