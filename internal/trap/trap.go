// Package trap implements the ten pattern checks a symbol is screened
// against before a signal is trusted. Each
// check inspects a Bundle and either finds nothing or emits a TrapEntry
// whose confidence is the pattern's current learned weight (§4.11).
package trap

import (
	"sort"

	talib "github.com/markcheno/go-talib"

	"github.com/joungwonlim/aegis-v3/internal/domain"
)

// Pattern name constants, used both as TrapEntry.Pattern values and as the
// key into the learned weight table.
const (
	PatternFakeRise       = "fake-rise"
	PatternGapOverheat    = "gap-overheat"
	PatternProgramDump    = "program-dump"
	PatternSellOnNews     = "sell-on-news"
	PatternHollowRise     = "hollow-rise"
	PatternSellWall       = "sell-wall"
	PatternSectorDecouple = "sector-decouple"
	PatternFXShock        = "fx-shock"
	PatternMAResistance   = "ma-resistance"
	PatternDilutionDay    = "dilution-day"
)

// AllPatterns lists every pattern kind, used to seed the weight table with
// its default starting weight.
var AllPatterns = []string{
	PatternFakeRise, PatternGapOverheat, PatternProgramDump, PatternSellOnNews,
	PatternHollowRise, PatternSellWall, PatternSectorDecouple, PatternFXShock,
	PatternMAResistance, PatternDilutionDay,
}

// DefaultWeight is the starting confidence for a pattern with no history.
const DefaultWeight = 0.60

// Bundle is the (symbol, quote, order book, tape) input to detection.
type Bundle struct {
	Symbol string

	DayChangePct   float64 // e.g. 1.2 == +1.2%
	OpenVsPrevPct  float64
	CurrentPrice   int64
	OpenPrice      int64
	VolumeRatio    float64 // today volume / average volume
	AverageVolume  int64

	ForeignNetSell     bool
	InstitutionalNetSell bool
	ProgramNetSell       bool
	ProgramSellRateSlope float64 // negative == accelerating sell pressure

	PositiveNewsFlag bool

	AskSize1 int64
	AskSize2 int64

	SymbolPct float64
	SectorPct float64

	USDKRWChangePct float64

	PriceHistory []float64 // closing prices, oldest first, for MA checks

	IsDilutionDay bool
}

// WeightLookup resolves the current learned weight for a pattern kind.
type WeightLookup func(pattern string) float64

// Detect runs all ten checks and returns the findings sorted by
// confidence, descending.
func Detect(b Bundle, weight WeightLookup) domain.TrapReport {
	var entries []domain.TrapEntry
	checks := []func(Bundle, WeightLookup) (domain.TrapEntry, bool){
		checkFakeRise, checkGapOverheat, checkProgramDump, checkSellOnNews,
		checkHollowRise, checkSellWall, checkSectorDecouple, checkFXShock,
		checkMAResistance, checkDilutionDay,
	}
	for _, check := range checks {
		if e, ok := check(b, weight); ok {
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Confidence > entries[j].Confidence
	})
	return domain.TrapReport{Entries: entries}
}

func checkFakeRise(b Bundle, w WeightLookup) (domain.TrapEntry, bool) {
	if b.DayChangePct >= 1.0 && b.ForeignNetSell && b.InstitutionalNetSell {
		return entry(PatternFakeRise, domain.SeverityCritical, w,
			"price rising while both foreign and institutional tape are net sellers")
	}
	return domain.TrapEntry{}, false
}

func checkGapOverheat(b Bundle, w WeightLookup) (domain.TrapEntry, bool) {
	if b.OpenVsPrevPct >= 3.5 {
		return entry(PatternGapOverheat, domain.SeverityHigh, w,
			"open gapped up 3.5% or more versus prior close")
	}
	return domain.TrapEntry{}, false
}

func checkProgramDump(b Bundle, w WeightLookup) (domain.TrapEntry, bool) {
	if b.ProgramNetSell && b.ProgramSellRateSlope < 0 {
		return entry(PatternProgramDump, domain.SeverityHigh, w,
			"program tape net-selling with accelerating sell rate")
	}
	return domain.TrapEntry{}, false
}

func checkSellOnNews(b Bundle, w WeightLookup) (domain.TrapEntry, bool) {
	if b.PositiveNewsFlag && b.VolumeRatio > 2.0 && b.CurrentPrice < b.OpenPrice {
		return entry(PatternSellOnNews, domain.SeverityMedium, w,
			"positive news with elevated volume but price below open")
	}
	return domain.TrapEntry{}, false
}

func checkHollowRise(b Bundle, w WeightLookup) (domain.TrapEntry, bool) {
	if b.DayChangePct >= 3.0 && b.VolumeRatio < 0.5 {
		return entry(PatternHollowRise, domain.SeverityMedium, w,
			"3%+ rise on less than half average volume")
	}
	return domain.TrapEntry{}, false
}

func checkSellWall(b Bundle, w WeightLookup) (domain.TrapEntry, bool) {
	if b.AverageVolume > 0 && float64(b.AskSize1+b.AskSize2) > 5*float64(b.AverageVolume) {
		return entry(PatternSellWall, domain.SeverityMedium, w,
			"top-two ask sizes exceed 5x average volume")
	}
	return domain.TrapEntry{}, false
}

func checkSectorDecouple(b Bundle, w WeightLookup) (domain.TrapEntry, bool) {
	if (b.SymbolPct-b.SectorPct) >= 2.0 && b.SymbolPct > 2.0 {
		return entry(PatternSectorDecouple, domain.SeverityMedium, w,
			"symbol outperforming sector by 2pp or more while up over 2%")
	}
	return domain.TrapEntry{}, false
}

func checkFXShock(b Bundle, w WeightLookup) (domain.TrapEntry, bool) {
	if b.USDKRWChangePct >= 0.5 {
		return entry(PatternFXShock, domain.SeverityMedium, w,
			"USD/KRW moved 0.5% or more intraday")
	}
	return domain.TrapEntry{}, false
}

// maResistanceBand is how close (in percent) price must be to a moving
// average to count as resistance.
const maResistanceBand = 1.0

func checkMAResistance(b Bundle, w WeightLookup) (domain.TrapEntry, bool) {
	if len(b.PriceHistory) < 120 || b.CurrentPrice == 0 {
		return domain.TrapEntry{}, false
	}
	for _, period := range []int{120, 200} {
		if len(b.PriceHistory) < period {
			continue
		}
		ma := talib.Sma(b.PriceHistory, period)
		last := ma[len(ma)-1]
		if last == 0 || isNaN(last) {
			continue
		}
		distPct := (float64(b.CurrentPrice) - last) / last * 100
		if distPct < 0 {
			distPct = -distPct
		}
		if distPct <= maResistanceBand {
			return entry(PatternMAResistance, domain.SeverityLow, w,
				"price within 1% of a long-period moving average")
		}
	}
	return domain.TrapEntry{}, false
}

func checkDilutionDay(b Bundle, w WeightLookup) (domain.TrapEntry, bool) {
	if b.IsDilutionDay {
		return entry(PatternDilutionDay, domain.SeverityCritical, w,
			"convertible or warrant listing day per disclosure feed")
	}
	return domain.TrapEntry{}, false
}

func entry(pattern string, sev domain.TrapSeverity, w WeightLookup, reason string) (domain.TrapEntry, bool) {
	conf := DefaultWeight
	if w != nil {
		conf = w(pattern)
	}
	rec := domain.RecommendReduceSize
	if sev == domain.SeverityCritical {
		rec = domain.RecommendAvoid
	} else if sev == domain.SeverityHigh {
		rec = domain.RecommendWait
	}
	return domain.TrapEntry{
		Pattern: pattern, Severity: sev, Confidence: conf, Recommendation: rec, Reason: reason,
	}, true
}

func isNaN(f float64) bool { return f != f }

// ApplyToAIScore implements the pipeline consumer rule:
// any critical report forces the ai score to zero; otherwise the
// confidence-weighted penalty (sum(confidence*20)) is subtracted.
func ApplyToAIScore(report domain.TrapReport, aiScore float64) float64 {
	if report.HasCritical() {
		return 0
	}
	adjusted := aiScore - report.ConfidenceSum()*20
	return domain.Clip(adjusted, 0, 100)
}
