package postgres

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ex-remover/internal/domain"
)

func TestGetExecutor(t *testing.T) {
	t.Run("should refuse autocommit without a pool", func(t *testing.T) {
		_, err := getExecutor(nil, nil)
		require.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("should refuse an unknown handle", func(t *testing.T) {
		_, err := getExecutor(nil, "counters")
		require.ErrorIs(t, err, domain.ErrInvalidExecContext)
	})
}
