package node

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eigerco/montana/internal/finality"
	"github.com/eigerco/montana/internal/ledger"
	"github.com/eigerco/montana/internal/slice"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"slice grinding", fmt.Errorf("verify: %w", slice.ErrGrindingAttempt), KindGrindingAttempt},
		{"reorg depth", finality.ErrReorgTooDeep, KindReorgTooDeep},
		{"below final", fmt.Errorf("x: %w", finality.ErrReorgBelowFinal), KindReorgTooDeep},
		{"clock", ErrClockDivergence, KindClockDivergence},
		{"fork", classified(KindForkDivergence, errors.New("parent")), KindForkDivergence},
		{"validation", classified(KindValidation, ledger.ErrStaleProof), KindValidation},
		{"other", errors.New("disk full"), KindInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestClassifiedKeepsCause(t *testing.T) {
	err := classified(KindValidation, ledger.ErrUnknownBranch)
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, ledger.ErrUnknownBranch)

	// already classified errors are not wrapped twice
	assert.Same(t, err, classified(KindValidation, err))
	assert.Equal(t, ledger.ErrStaleProof, classified(KindInternal, ledger.ErrStaleProof))
	assert.NoError(t, classified(KindValidation, nil))
}
