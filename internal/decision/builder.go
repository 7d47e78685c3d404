package decision

import (
	"errors"

	"mm-replay-lab/internal/sensitivity"
	"mm-replay-lab/internal/verification"
)

// ErrEmptySweep is returned when the sweep carries no reports.
var ErrEmptySweep = errors.New("sweep has no reports")

// Build creates DecisionInput from a latency sweep and an optional
// determinism check (nil when the check was not run).
func Build(sweep *sensitivity.Sweep, determinism *verification.VerificationResult) (*DecisionInput, error) {
	if sweep == nil || len(sweep.Reports) == 0 {
		return nil, ErrEmptySweep
	}

	input := &DecisionInput{
		Points:              make([]Point, 0, len(sweep.Latencies)),
		HeadlinePnLPer100ns: sweep.PnLPer100ns,
	}

	for _, latency := range sweep.Latencies {
		r, ok := sweep.Reports[latency]
		if !ok {
			continue
		}
		if input.RunID == "" {
			input.RunID = r.RunID
		}
		p := Point{
			LatencyNs:    latency,
			TotalPnL:     r.TotalPnL,
			SharpeRatio:  r.SharpeRatio,
			FillRate:     r.FillRate,
			OrdersFilled: r.OrdersFilled,
		}
		if res, ok := sweep.Results[latency]; ok && res != nil {
			p.KillSwitch = res.KillSwitch
		}
		input.Points = append(input.Points, p)
	}

	for _, step := range sweep.Degradation {
		if drop := -step.PnLPer100ns; drop > input.WorstPnLPer100ns {
			input.WorstPnLPer100ns = drop
		}
	}

	if determinism != nil {
		input.DeterminismChecked = true
		input.DeterminismMatch = determinism.Match
	}

	// Validate before returning (fail fast)
	if err := input.Validate(); err != nil {
		return nil, err
	}
	return input, nil
}
