package errs_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/ardanlabs/hybridchain/business/web/errs"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
	"github.com/stretchr/testify/require"
)

func TestFromChain(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"out of order", database.NewBlockError(database.ErrBlockOutOfOrder, 1, "missing prev"), http.StatusConflict},
		{"not valid", database.NewBlockError(database.ErrBlockNotValid, 1, "bad signature"), http.StatusBadRequest},
		{"not currently valid", database.NewBlockError(database.ErrBlockNotCurrentlyValid, 1, "no stake"), http.StatusUnprocessableEntity},
		{"not found", fmt.Errorf("block: %w", database.ErrNotFound), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := errs.FromChain(tt.err)
			require.True(t, errs.IsTrusted(err))
			require.Equal(t, tt.status, errs.GetTrusted(err).Status)
			require.ErrorIs(t, err, tt.err)
		})
	}

	other := errors.New("disk full")
	require.Equal(t, other, errs.FromChain(other))
}
