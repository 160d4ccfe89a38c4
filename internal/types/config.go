package types

type Config struct {
	Servers     []Server          `json:"servers"`
	Maintenance MaintenanceConfig `json:"maintenance"`
}

type Server struct {
	Host      string   `json:"host"`
	Username  string   `json:"username"`
	KeyPath   string   `json:"key_path"`
	SQLPort   int      `json:"sql_port"`
	Databases []string `json:"databases"`
}

type MaintenanceConfig struct {
	ArtifactPath       string `json:"artifact_path"`
	HelperMinVersion   string `json:"helper_min_version"`
	MinShellMajor      int    `json:"min_shell_major"`
	SchedulerService   string `json:"scheduler_service"`
	IngestionLogin     string `json:"ingestion_login"`
	BatchSize          int    `json:"batch_size"`
	SQLUser            string `json:"sql_user"`
	MonitorIntervalSec int    `json:"monitor_interval_sec"`
}

// ApplyDefaults fills the values a config file is allowed to omit. The
// monitor interval is clamped to the 10-60s window the progress loop expects.
func (c *MaintenanceConfig) ApplyDefaults() {
	if c.MinShellMajor == 0 {
		c.MinShellMajor = 5
	}
	if c.SchedulerService == "" {
		c.SchedulerService = "dbagent"
	}
	if c.IngestionLogin == "" {
		c.IngestionLogin = "ingest_loader"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 15
	}
	if c.SQLUser == "" {
		c.SQLUser = "maintenance"
	}
	if c.MonitorIntervalSec == 0 {
		c.MonitorIntervalSec = 30
	}
	if c.MonitorIntervalSec < 10 {
		c.MonitorIntervalSec = 10
	}
	if c.MonitorIntervalSec > 60 {
		c.MonitorIntervalSec = 60
	}
}
