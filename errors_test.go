package taxfolio

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCategories(t *testing.T) {
	tests := []struct {
		err      error
		category error
	}{
		{ErrInsufficientQuantity, ErrDataInconsistency},
		{ErrValueConservation, ErrDataInconsistency},
		{ErrOutOfOrder, ErrDataInconsistency},
		{ErrMissingSettlement, ErrDataInconsistency},
		{ErrAmbiguousMatch, ErrConfigurationMissing},
		{ErrRateNotAvailable, ErrExternalUnavailable},
	}
	categories := []error{ErrDataInconsistency, ErrConfigurationMissing, ErrExternalUnavailable}
	for _, tt := range tests {
		wrapped := &Error{Op: "close", Err: fmt.Errorf("detail: %w", tt.err)}
		for _, c := range categories {
			assert.Equal(t, c == tt.category, errors.Is(wrapped, c), "%v in %v", tt.err, c)
		}
		assert.True(t, errors.Is(wrapped, tt.err))
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Op: "split", Portfolio: "main", Symbol: "X", Date: day("2024-01-02"), Seq: 7, Lots: []string{"a", "b"}, Err: ErrOutOfOrder}
	assert.Equal(t, "split portfolio=main symbol=X date=2024-01-02 seq=7 lots=a,b: data inconsistency: out of order", err.Error())
}
