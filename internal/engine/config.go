package engine

import "time"

// Config is the Task Engine's policy knob set, populated by the caller
// from the resolved orchestrator configuration (§4.1/§4.3/§5's
// recommended defaults).
type Config struct {
	HeartbeatInterval time.Duration // T_beat
	AgentTimeout      time.Duration // T_agent, per iteration
	PhaseTimeout      time.Duration // T_phase

	MaxIterations int // I_max
	MaxFixRetries int // R_fix
	MaxFixDepth   int // D_max

	AutoApproveConfidence float64 // τ_auto
	ReviewConfidence      float64 // τ_review

	DefaultClient string // provider name looked up in the agent.Registry
	Temperature   float64
}
