// Package commander implements the final LLM-backed approval gate: given
// the analyzer score, the scenario validator's verdict, and the current
// market regime, it decides buy/hold/sell, honoring two auto-reject rules
// without ever calling the reasoner when they apply.
package commander

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"

	"github.com/joungwonlim/aegis-v3/internal/domain"
)

// Regime is the coarse market-state tag that influences veto behavior.
type Regime string

const (
	RegimeNormal     Regime = "normal"
	RegimeRiskOn     Regime = "risk-on"
	RegimeIronShield Regime = "iron-shield"
)

const (
	ironShieldVetoThreshold = 80.0
	uncertaintyThreshold    = 30.0
)

// Input is everything the commander needs to reach a decision.
type Input struct {
	Symbol     string
	QuantScore float64
	AIScore    float64
	FinalScore float64
	Verdict    domain.ValidationVerdict
	Regime     Regime
}

// rawDecision is the JSON shape the external reasoner returns.
type rawDecision struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Risk       string  `json:"risk"`
	Veto       string  `json:"veto,omitempty"`
}

// Reasoner is the external LLM call. Implementations should return the
// raw model text; Decide handles tolerant JSON extraction.
type Reasoner interface {
	Decide(ctx context.Context, prompt string) (rawJSON string, err error)
}

// Commander wires a Reasoner behind the auto-reject rules.
type Commander struct {
	reasoner Reasoner
}

func New(reasoner Reasoner) *Commander {
	return &Commander{reasoner: reasoner}
}

// Decide applies the two code-level auto-rejects first; only when neither
// fires does it consult the external reasoner.
func (c *Commander) Decide(ctx context.Context, in Input) domain.Decision {
	if in.FinalScore > ironShieldVetoThreshold && in.Regime == RegimeIronShield {
		return domain.Decision{
			Action: domain.ActionHold, Risk: domain.RiskHigh,
			VetoReason: "regime is iron-shield and final score exceeds the iron-shield ceiling",
		}
	}
	if math.Abs(in.AIScore-in.QuantScore) > uncertaintyThreshold {
		return domain.Decision{
			Action: domain.ActionHold, Risk: domain.RiskMedium,
			VetoReason: "ai and quant scores disagree beyond the uncertainty band",
		}
	}

	if c.reasoner == nil {
		return domain.Decision{Action: domain.ActionHold, Risk: domain.RiskMedium,
			VetoReason: "no reasoner configured"}
	}

	raw, err := c.reasoner.Decide(ctx, buildPrompt(in))
	if err != nil {
		return domain.Decision{Action: domain.ActionHold, Risk: domain.RiskMedium,
			VetoReason: "reasoner call failed", Reasoning: err.Error()}
	}

	parsed, ok := parseDecision(raw)
	if !ok {
		return domain.Decision{Action: domain.ActionHold, Risk: domain.RiskMedium,
			VetoReason: "reasoner response did not parse"}
	}

	action := domain.ActionHold
	if parsed.Decision == "buy" {
		action = domain.ActionBuy
	} else if parsed.Decision == "sell" {
		action = domain.ActionSell
	}

	risk := domain.RiskMedium
	switch parsed.Risk {
	case "low":
		risk = domain.RiskLow
	case "high":
		risk = domain.RiskHigh
	}

	return domain.Decision{
		Action: action, Confidence: parsed.Confidence, Risk: risk,
		VetoReason: parsed.Veto, Reasoning: parsed.Reasoning,
	}
}

func buildPrompt(in Input) string {
	return fmt.Sprintf(
		"symbol=%s quant=%.1f ai=%.1f final=%.1f regime=%s validator_final=%.1f validator_approved=%v\n"+
			"Respond with JSON: {\"decision\":\"buy|hold|sell\",\"confidence\":0-100,\"reasoning\":\"...\",\"risk\":\"low|medium|high\",\"veto\":\"...\"}",
		in.Symbol, in.QuantScore, in.AIScore, in.FinalScore, in.Regime,
		in.Verdict.WeightedFinal, in.Verdict.Approved,
	)
}

// jsonObjectPattern extracts everything from the first '{' to the last
// '}', tolerating prose the model may wrap the JSON in.
var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

func parseDecision(raw string) (rawDecision, bool) {
	match := jsonObjectPattern.FindString(raw)
	if match == "" {
		return rawDecision{}, false
	}
	var d rawDecision
	if err := json.Unmarshal([]byte(match), &d); err != nil {
		return rawDecision{}, false
	}
	switch d.Decision {
	case "buy", "hold", "sell":
	default:
		d.Decision = "hold"
	}
	return d, true
}
