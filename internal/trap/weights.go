package trap

import "github.com/joungwonlim/aegis-v3/internal/domain"

// MinWeight and MaxWeight bound every pattern's learned confidence
// every pattern's learned weight can drift to.
const (
	MinWeight = 0.30
	MaxWeight = 0.99
)

// AdjustWeight applies one correct/wrong observation to w and returns the
// updated TrapPatternWeight, clipped to [MinWeight, MaxWeight]. +0.01 on
// correct, -0.02 on wrong.
func AdjustWeight(w domain.TrapPatternWeight, correct bool) domain.TrapPatternWeight {
	if correct {
		w.Weight += 0.01
		w.CorrectObservations++
	} else {
		w.Weight -= 0.02
	}
	w.TotalObservations++
	w.Weight = domain.Clip(w.Weight, MinWeight, MaxWeight)
	return w
}
