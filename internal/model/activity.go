package model

import "time"

// LogLevel tags an activity entry.
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelTrade LogLevel = "trade"
	LevelError LogLevel = "error"
)

// LogEntry is one recent action shown on the dashboard.
type LogEntry struct {
	ID        string    `json:"id"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
