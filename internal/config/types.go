package config

import "fmt"

// Config is the daemon's full configuration.
//
// All durations are Go duration strings (e.g. "30s", "2h").
type Config struct {
	Logging LoggingConfig   `json:"logging"`
	Storage *StorageConfig  `json:"storage,omitempty"`
	Filter  FilterConfig    `json:"filter,omitempty"`
	Queue   QueueConfig     `json:"queue,omitempty"`
	Worker  WorkerConfig    `json:"worker,omitempty"`
	Sink    *SinkConfig     `json:"sink,omitempty"`
	Users   map[string]User `json:"users,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console,omitempty"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig selects the durable store. Driver "" or "none" disables it.
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// FilterConfig tunes the context filter's windows and app categories.
// Zero hour pairs fall back to the built-in defaults (sleep 22..7, work 9..17).
type FilterConfig struct {
	SleepStartHour int               `json:"sleep_start_hour,omitempty"`
	SleepEndHour   int               `json:"sleep_end_hour,omitempty"`
	WorkStartHour  int               `json:"work_start_hour,omitempty"`
	WorkEndHour    int               `json:"work_end_hour,omitempty"`
	FocusDefer     string            `json:"focus_defer,omitempty"`
	AppCategories  map[string]string `json:"app_categories,omitempty"`
}

// QueueConfig tunes SMART_TIMING delivery.
type QueueConfig struct {
	PreferredHours []int  `json:"preferred_hours,omitempty"`
	SmartFallback  string `json:"smart_fallback,omitempty"`
}

// WorkerConfig controls the delivery worker. RetryMax is the number of
// redeliveries after a failed send; negative disables retries.
type WorkerConfig struct {
	Enabled       bool   `json:"enabled"`
	Cadence       string `json:"cadence,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// SinkConfig selects the delivery transport. Kind "log" (default) or
// "telegram".
type SinkConfig struct {
	Kind        string           `json:"kind,omitempty"`
	Token       string           `json:"token,omitempty"`
	Recipients  map[string]int64 `json:"recipients,omitempty"`
	PollTimeout string           `json:"poll_timeout,omitempty"`
}

// User carries static per-user collaborator data the core treats as
// external lookups (favorites for DND exceptions, known senders for the
// spam policy).
type User struct {
	Favorites []string `json:"favorites,omitempty"`
	Contacts  []string `json:"contacts,omitempty"`
}

// Validate rejects configurations the services could not start with.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	for _, h := range c.Queue.PreferredHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("queue.preferred_hours: hour %d out of range", h)
		}
	}
	for _, h := range []int{c.Filter.SleepStartHour, c.Filter.SleepEndHour, c.Filter.WorkStartHour, c.Filter.WorkEndHour} {
		if h < 0 || h > 23 {
			return fmt.Errorf("filter: hour %d out of range", h)
		}
	}
	if _, err := ParseDurationField("filter.focus_defer", c.Filter.FocusDefer); err != nil {
		return err
	}
	if _, err := ParseDurationField("queue.smart_fallback", c.Queue.SmartFallback); err != nil {
		return err
	}
	if _, err := ParseDurationField("worker.retry_base", c.Worker.RetryBase); err != nil {
		return err
	}
	if _, err := ParseDurationField("worker.retry_max_delay", c.Worker.RetryMaxDelay); err != nil {
		return err
	}
	if c.Sink != nil && c.Sink.Kind == "telegram" && c.Sink.Token == "" {
		return fmt.Errorf("sink.token is required for the telegram sink")
	}
	return nil
}
