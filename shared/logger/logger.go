// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

// Logger provides structured logging scoped to one component
type Logger struct {
	Component  string
	InstanceID string
	Container  string
}

// LogEntry is the wire shape of one structured log line. SubjectID and
// CorrelationID tie entries to a single orchestration pass; raw submission
// text never belongs in here.
type LogEntry struct {
	Timestamp     string                 `json:"timestamp"`
	Level         LogLevel               `json:"level"`
	Component     string                 `json:"component"`
	InstanceID    string                 `json:"instance_id"`
	Container     string                 `json:"container"`
	SubjectID     string                 `json:"subject_id,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Message       string                 `json:"message"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
}

// New creates a new Logger for the specified component
func New(component string) *Logger {
	// Instance ID is set during deployment
	instanceID := os.Getenv("MODVET_INSTANCE_ID")
	if instanceID == "" {
		instanceID = "unknown"
	}

	container, err := os.Hostname()
	if err != nil {
		container = "unknown"
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		Container:  container,
	}
}

// Log creates a structured log entry and writes it to stdout
func (l *Logger) Log(level LogLevel, subjectID, correlationID, message string, fields map[string]interface{}) {
	entry := LogEntry{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Level:         level,
		Component:     l.Component,
		InstanceID:    l.InstanceID,
		Container:     l.Container,
		SubjectID:     subjectID,
		CorrelationID: correlationID,
		Message:       message,
		Fields:        fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		log.Printf("ERROR: Failed to marshal log entry: %v", err)
		return
	}

	log.Println(string(jsonBytes))
}

// Info logs an informational message
func (l *Logger) Info(subjectID, correlationID, message string, fields map[string]interface{}) {
	l.Log(INFO, subjectID, correlationID, message, fields)
}

// Error logs an error message
func (l *Logger) Error(subjectID, correlationID, message string, fields map[string]interface{}) {
	l.Log(ERROR, subjectID, correlationID, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(subjectID, correlationID, message string, fields map[string]interface{}) {
	l.Log(WARN, subjectID, correlationID, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(subjectID, correlationID, message string, fields map[string]interface{}) {
	l.Log(DEBUG, subjectID, correlationID, message, fields)
}

// InfoWithDuration logs an info message with a duration field
func (l *Logger) InfoWithDuration(subjectID, correlationID, message string, durationMS float64, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["duration_ms"] = durationMS
	l.Info(subjectID, correlationID, message, fields)
}

// ErrorWithCode logs an error with a status code
func (l *Logger) ErrorWithCode(subjectID, correlationID, message string, statusCode int, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["status_code"] = statusCode
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error(subjectID, correlationID, message, fields)
}
