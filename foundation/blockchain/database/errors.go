package database

import (
	"errors"
	"fmt"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
)

// Set of error kinds the chain reports. Use errors.Is to check the kind of
// a returned error.
var (
	// ErrBlockOutOfOrder means the predecessor is not known yet. The block
	// can be retried once the missing block arrives.
	ErrBlockOutOfOrder = errors.New("block out of order")

	// ErrBlockNotValid means the block can never be accepted.
	ErrBlockNotValid = errors.New("block not valid")

	// ErrBlockNotCurrentlyValid means the block does not fit the current
	// chain state but may after further blocks.
	ErrBlockNotCurrentlyValid = errors.New("block not currently valid")

	// ErrTxRejected means a payload transaction was refused.
	ErrTxRejected = errors.New("transaction rejected")

	// ErrNotFound means the requested block does not exist in the store.
	ErrNotFound = errors.New("not found")
)

// =============================================================================

// BlockError describes why a block was refused.
type BlockError struct {
	Kind    error
	BlockID int64
	Reason  string
}

// NewBlockError constructs a block error of the specified kind.
func NewBlockError(kind error, blockID int64, format string, args ...any) *BlockError {
	return &BlockError{
		Kind:    kind,
		BlockID: blockID,
		Reason:  fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (be *BlockError) Error() string {
	return fmt.Sprintf("%s: blk[%s]: %s", be.Kind, signature.StringID(be.BlockID), be.Reason)
}

// Unwrap provides support for errors.Is against the kind.
func (be *BlockError) Unwrap() error {
	return be.Kind
}

// =============================================================================

// TxRejectedError is returned when a payload transaction can't be applied.
// It reports as both a rejected transaction and a block that is not
// currently valid.
type TxRejectedError struct {
	Tx     BlockTx
	Reason string
}

// Error implements the error interface.
func (te *TxRejectedError) Error() string {
	return fmt.Sprintf("%s: tx[%s]: %s", ErrTxRejected, signature.StringID(te.Tx.ID()), te.Reason)
}

// Unwrap provides support for errors.Is against both kinds.
func (te *TxRejectedError) Unwrap() []error {
	return []error{ErrTxRejected, ErrBlockNotCurrentlyValid}
}
