package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/joungwonlim/aegis-v3/internal/commander"
)

func TestClassifyDefaultsToNormalWhenStale(t *testing.T) {
	now := time.Now()
	snap := Snapshot{
		Indicators: map[string]float64{"kospi_breadth_pct": -5, "usdkrw_intraday_vol_pct": 2},
		AsOf:       now.Add(-time.Hour),
	}
	assert.Equal(t, commander.RegimeNormal, Classify(snap, now))
}

func TestClassifyDefaultsToNormalWhenEmpty(t *testing.T) {
	assert.Equal(t, commander.RegimeNormal, Classify(Snapshot{}, time.Now()))
}

func TestClassifyIronShieldOnBreadthCollapseAndVolSpike(t *testing.T) {
	now := time.Now()
	snap := Snapshot{
		Indicators: map[string]float64{"kospi_breadth_pct": -4, "usdkrw_intraday_vol_pct": 1.5},
		AsOf:       now,
	}
	assert.Equal(t, commander.RegimeIronShield, Classify(snap, now))
}

func TestClassifyRiskOnWhenBreadthStrong(t *testing.T) {
	now := time.Now()
	snap := Snapshot{
		Indicators: map[string]float64{"kospi_breadth_pct": 3, "usdkrw_intraday_vol_pct": 0.3},
		AsOf:       now,
	}
	assert.Equal(t, commander.RegimeRiskOn, Classify(snap, now))
}

func TestClassifyNormalInBetween(t *testing.T) {
	now := time.Now()
	snap := Snapshot{
		Indicators: map[string]float64{"kospi_breadth_pct": 0, "usdkrw_intraday_vol_pct": 0.5},
		AsOf:       now,
	}
	assert.Equal(t, commander.RegimeNormal, Classify(snap, now))
}
