package config

const (
	defaultDataDir           = "~/.local/share/distill/data"
	defaultLogDir            = "~/.local/share/distill/logs"
	defaultIngestDir         = "~/.local/share/distill/ingest"
	defaultOutputDir         = "~/.local/share/distill/outputs"
	defaultReportDir         = "~/.local/share/distill/reports"
	defaultStoreBind         = "127.0.0.1:7601"
	defaultAPIBind           = "127.0.0.1:7600"
	defaultStoreTimeout      = 10
	defaultStage1Timeout     = 600
	defaultStage2Timeout     = 600
	defaultStuckResetMinutes = 60
	defaultStartupTimeout    = 30
	defaultShutdownGrace     = 10
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultAnalysisModel     = "standard"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			IngestDir: defaultIngestDir,
			OutputDir: defaultOutputDir,
			ReportDir: defaultReportDir,
		},
		Store: Store{
			Bind:           defaultStoreBind,
			RequestTimeout: defaultStoreTimeout,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Pipeline: Pipeline{
			Stage1Timeout:     defaultStage1Timeout,
			Stage2Timeout:     defaultStage2Timeout,
			StuckResetMinutes: defaultStuckResetMinutes,
		},
		Analysis: Analysis{
			DefaultModel: defaultAnalysisModel,
		},
		Supervisor: Supervisor{
			StartupTimeout: defaultStartupTimeout,
			ShutdownGrace:  defaultShutdownGrace,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
