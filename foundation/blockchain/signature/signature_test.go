package signature_test

import (
	"testing"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

const pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"

// =============================================================================

func Test_Signing(t *testing.T) {
	t.Log("Given the need to sign and verify block bytes.")
	{
		pk, err := crypto.HexToECDSA(pkHexKey)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to load the private key: %s", failed, err)
		}
		t.Logf("\t%s\tShould be able to load the private key.", success)

		data := []byte("block bytes to be signed")
		publicKey := signature.PublicKey(pk)

		if len(publicKey) != signature.PublicKeyLength {
			t.Fatalf("\t%s\tShould get a compressed public key, got %d bytes.", failed, len(publicKey))
		}
		t.Logf("\t%s\tShould get a compressed public key.", success)

		sig, err := signature.Sign(data, pk)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to sign data: %s", failed, err)
		}
		t.Logf("\t%s\tShould be able to sign data.", success)

		if len(sig) != signature.SignatureLength {
			t.Fatalf("\t%s\tShould get a %d byte signature, got %d.", failed, signature.SignatureLength, len(sig))
		}
		t.Logf("\t%s\tShould get a fixed size signature.", success)

		if !signature.Verify(data, sig, publicKey) {
			t.Fatalf("\t%s\tShould be able to verify the signature.", failed)
		}
		t.Logf("\t%s\tShould be able to verify the signature.", success)

		tampered := append([]byte{}, data...)
		tampered[0] ^= 0xff
		if signature.Verify(tampered, sig, publicKey) {
			t.Fatalf("\t%s\tShould reject a signature over different data.", failed)
		}
		t.Logf("\t%s\tShould reject a signature over different data.", success)

		other, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to generate a key: %s", failed, err)
		}
		if signature.Verify(data, sig, signature.PublicKey(other)) {
			t.Fatalf("\t%s\tShould reject a signature for another key.", failed)
		}
		t.Logf("\t%s\tShould reject a signature for another key.", success)
	}
}

func Test_Identity(t *testing.T) {
	t.Log("Given the need to derive identities from hashes.")
	{
		pk, err := crypto.HexToECDSA(pkHexKey)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to load the private key: %s", failed, err)
		}

		publicKey := signature.PublicKey(pk)
		if signature.AccountID(publicKey) != signature.AccountID(publicKey) {
			t.Fatalf("\t%s\tShould derive the same account id every time.", failed)
		}
		t.Logf("\t%s\tShould derive the same account id every time.", success)

		var hash [32]byte
		for i := range hash {
			hash[i] = 0xff
		}
		id := signature.ToID(hash)
		if id != -1 {
			t.Fatalf("\t%s\tShould read the hash as a signed integer, got %d.", failed, id)
		}
		t.Logf("\t%s\tShould read the hash as a signed integer.", success)

		str := signature.StringID(id)
		if str != "18446744073709551615" {
			t.Fatalf("\t%s\tShould render the id unsigned, got %s.", failed, str)
		}
		t.Logf("\t%s\tShould render the id unsigned.", success)

		back, err := signature.ParseStringID(str)
		if err != nil || back != id {
			t.Fatalf("\t%s\tShould parse the string id back: %d %v", failed, back, err)
		}
		t.Logf("\t%s\tShould parse the string id back.", success)
	}
}
