package domain

// LatencyScenario is a named simulated execution latency.
type LatencyScenario struct {
	ScenarioID string // "colocated" | "realistic" | "pessimistic" | "degraded"
	LatencyNs  int64  // order round-trip latency in nanoseconds
}

// Scenario ID constants
const (
	ScenarioColocated   = "colocated"
	ScenarioRealistic   = "realistic"
	ScenarioPessimistic = "pessimistic"
	ScenarioDegraded    = "degraded"
)

// Predefined latency scenarios.
var (
	ScenarioConfigColocated = LatencyScenario{
		ScenarioID: ScenarioColocated,
		LatencyNs:  100,
	}

	ScenarioConfigRealistic = LatencyScenario{
		ScenarioID: ScenarioRealistic,
		LatencyNs:  500,
	}

	ScenarioConfigPessimistic = LatencyScenario{
		ScenarioID: ScenarioPessimistic,
		LatencyNs:  2000,
	}

	ScenarioConfigDegraded = LatencyScenario{
		ScenarioID: ScenarioDegraded,
		LatencyNs:  5000,
	}
)

// LookupScenario returns the predefined scenario by id.
func LookupScenario(id string) (LatencyScenario, bool) {
	switch id {
	case ScenarioColocated:
		return ScenarioConfigColocated, true
	case ScenarioRealistic:
		return ScenarioConfigRealistic, true
	case ScenarioPessimistic:
		return ScenarioConfigPessimistic, true
	case ScenarioDegraded:
		return ScenarioConfigDegraded, true
	default:
		return LatencyScenario{}, false
	}
}
