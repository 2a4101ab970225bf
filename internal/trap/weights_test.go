package trap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joungwonlim/aegis-v3/internal/domain"
)

func TestAdjustWeightStaysWithinBounds(t *testing.T) {
	w := domain.TrapPatternWeight{Pattern: "wash-trading", Weight: MaxWeight}
	for i := 0; i < 20; i++ {
		w = AdjustWeight(w, true)
		assert.LessOrEqual(t, w.Weight, MaxWeight)
	}

	w = domain.TrapPatternWeight{Pattern: "wash-trading", Weight: MinWeight}
	for i := 0; i < 20; i++ {
		w = AdjustWeight(w, false)
		assert.GreaterOrEqual(t, w.Weight, MinWeight)
	}
}

func TestAdjustWeightTracksObservations(t *testing.T) {
	w := domain.TrapPatternWeight{Pattern: "spoofing", Weight: 0.5}
	w = AdjustWeight(w, true)
	assert.Equal(t, 1, w.TotalObservations)
	assert.Equal(t, 1, w.CorrectObservations)
	assert.InDelta(t, 0.51, w.Weight, 1e-9)

	w = AdjustWeight(w, false)
	assert.Equal(t, 2, w.TotalObservations)
	assert.Equal(t, 1, w.CorrectObservations)
	assert.InDelta(t, 0.49, w.Weight, 1e-9)
}
