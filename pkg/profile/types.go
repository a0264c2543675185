package profile

// Profile is the node's operational tuning, supplied by the deployment
// rather than baked into the core. Intervals are milliseconds in YAML.
type Profile struct {
	CloseGroupSize   int     `yaml:"closeGroupSize" json:"closeGroupSize"`
	QuorumFraction   float64 `yaml:"quorumFraction" json:"quorumFraction"`
	FailureThreshold int     `yaml:"failureThreshold" json:"failureThreshold"`
	Capacity         int     `yaml:"capacity" json:"capacity"`

	SweepIntervalMs  int `yaml:"sweepIntervalMs" json:"sweepIntervalMs"`
	GraceMs          int `yaml:"graceMs" json:"graceMs"`
	ProbeIntervalMs  int `yaml:"probeIntervalMs" json:"probeIntervalMs"`
	ProbeBatch       int `yaml:"probeBatch" json:"probeBatch"`
	CallTimeoutMs    int `yaml:"callTimeoutMs" json:"callTimeoutMs"`
	AntiEntropyEvery int `yaml:"antiEntropyEvery" json:"antiEntropyEvery"`
}

// Default mirrors the settings a small test network runs with.
func Default() Profile {
	return Profile{
		CloseGroupSize:   8,
		QuorumFraction:   0.6,
		FailureThreshold: 3,
		Capacity:         65536,
		SweepIntervalMs:  30000,
		GraceMs:          60000,
		ProbeIntervalMs:  15000,
		ProbeBatch:       4,
		CallTimeoutMs:    5000,
		AntiEntropyEvery: 4,
	}
}
