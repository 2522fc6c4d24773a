package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be safely hot-reloaded without re-opening shards or reconnecting to
// storage are tracked — provider selection and storage DSN/dimension
// changes require a process restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	RetrievalChanged bool
	NewRetrieval     RetrievalConfig

	AgentChanged bool
	NewAgent     AgentConfig
}

// Diff compares old and new configs and returns what changed. Only tracks
// changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Retrieval != new.Retrieval {
		d.RetrievalChanged = true
		d.NewRetrieval = new.Retrieval
	}
	if old.Agent != new.Agent {
		d.AgentChanged = true
		d.NewAgent = new.Agent
	}

	return d
}
