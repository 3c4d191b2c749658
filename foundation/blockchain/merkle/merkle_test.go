package merkle_test

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/merkle"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

type data string

func (d data) Hash() ([]byte, error) {
	h := sha256.Sum256([]byte(d))
	return h[:], nil
}

func (d data) Equals(other data) bool {
	return d == other
}

func pair(a, b []byte) []byte {
	h := sha256.New()
	h.Write(a)
	h.Write(b)
	return h.Sum(nil)
}

// =============================================================================

func Test_Root(t *testing.T) {
	t.Log("Given the need to commit to a set of values.")
	{
		t.Logf("\tTest 0:\tWhen handling no values.")
		{
			root, err := merkle.Root[data](nil)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to compute the root: %s", failed, err)
			}
			if root != [32]byte{} {
				t.Fatalf("\t%s\tTest 0:\tShould get the zero hash, got %x", failed, root)
			}
			t.Logf("\t%s\tTest 0:\tShould get the zero hash.", success)
		}

		t.Logf("\tTest 1:\tWhen handling three values.")
		{
			values := []data{"a", "b", "c"}

			ha, _ := values[0].Hash()
			hb, _ := values[1].Hash()
			hc, _ := values[2].Hash()
			exp := pair(pair(ha, hb), pair(hc, hc))

			root, err := merkle.Root(values)
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to compute the root: %s", failed, err)
			}
			if !bytes.Equal(root[:], exp) {
				t.Fatalf("\t%s\tTest 1:\tShould duplicate the odd leaf, got %x exp %x", failed, root, exp)
			}
			t.Logf("\t%s\tTest 1:\tShould duplicate the odd leaf.", success)
		}
	}
}

func Test_Proof(t *testing.T) {
	t.Log("Given the need to prove a value is in the tree.")
	{
		values := []data{"a", "b", "c", "d", "e"}

		tree, err := merkle.NewTree(values)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to build the tree: %s", failed, err)
		}
		t.Logf("\t%s\tShould be able to build the tree.", success)

		if got := tree.Values(); len(got) != len(values) {
			t.Fatalf("\t%s\tShould get the unique values back, got %d.", failed, len(got))
		}
		t.Logf("\t%s\tShould get the unique values back.", success)

		for i, v := range values {
			if err := tree.VerifyData(v); err != nil {
				t.Fatalf("\t%s\tShould verify value %d: %s", failed, i, err)
			}

			proof, order, err := tree.Proof(v)
			if err != nil {
				t.Fatalf("\t%s\tShould get a proof for value %d: %s", failed, i, err)
			}

			hash, _ := v.Hash()
			for j := range proof {
				switch order[j] {
				case 0:
					hash = pair(proof[j], hash)
				default:
					hash = pair(hash, proof[j])
				}
			}

			if !bytes.Equal(hash, tree.MerkleRoot) {
				t.Fatalf("\t%s\tShould rebuild the root from the proof of value %d.", failed, i)
			}
		}
		t.Logf("\t%s\tShould verify and prove every value.", success)

		if err := tree.VerifyData("z"); err == nil {
			t.Fatalf("\t%s\tShould not verify a missing value.", failed)
		}
		t.Logf("\t%s\tShould not verify a missing value.", success)
	}
}
