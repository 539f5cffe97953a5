package config

// Default returns the baseline configuration the sample file is built from.
// Required sections still need real values before Validate passes; the
// defaults only fill tunables with safe operating points.
func Default() Config {
	return Config{
		Version: "2.1",
		Vision: Vision{
			Device:       "/dev/video0",
			FrameWidth:   640,
			FrameHeight:  480,
			WarmupFrames: 5,
		},
		Classifier: Classifier{
			MinConfidence:   0.5,
			UnknownCategory: "other",
		},
		Belt: Belt{
			DefaultSpeedPercent:  75,
			ActivationDurationMS: 750,
			MaxDiversionDelayS:   30,
		},
		Sensors: Sensors{
			TriggerDebounceMS:       50,
			BinFullThresholdPct:     80,
			BinCriticalThresholdPct: 95,
		},
		Monitoring: Monitoring{
			SampleIntervalS:    10,
			HistorySize:        1000,
			CPUThresholdPct:    80,
			MemoryThresholdPct: 85,
			TemperatureMaxC:    70,
			TemperatureResumeC: 65,
		},
		Safety: Safety{
			EmergencyStopEnabled: true,
			MaxFailedAttempts:    5,
			LockoutWindowMin:     30,
		},
		Workflow: Workflow{
			TickIntervalMS:        10,
			ObjectQueueCapacity:   100,
			DiversionBatchSize:    5,
			MaxConsecutiveFaults:  10,
			CaptureRetries:        3,
			ConfigCheckIntervalS:  30,
			BinCheckIntervalS:     30,
			MetricsIntervalS:      5,
			ShutdownDrainTimeoutS: 10,
		},
		API: API{
			Bind: "127.0.0.1:8710",
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
	}
}
