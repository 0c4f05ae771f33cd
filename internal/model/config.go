package model

import "time"

// Config holds the application configuration
type Config struct {
	// APIBaseURL is the root of the provider REST API
	APIBaseURL string

	// APITimeout bounds every outbound request
	APITimeout time.Duration

	// Debounce is the quiet period before toggled events are sent
	Debounce time.Duration

	// PushStateFile stores the simulated device permission and token
	PushStateFile string

	// WidgetDir is the shared storage area read by home-screen widgets
	WidgetDir string

	// WatchSchedule is the cron spec used by the watch loop
	WatchSchedule string

	// MetricsAddr is the listen address for the metrics endpoint, empty disables it
	MetricsAddr string
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		APIBaseURL:    "https://api.vercel.com",
		APITimeout:    30 * time.Second,
		Debounce:      time.Second,
		PushStateFile: "push.json",
		WidgetDir:     "widget",
		WatchSchedule: "@every 1m",
	}
}
