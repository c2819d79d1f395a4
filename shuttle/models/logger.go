package models

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WorkflowLogger writes one JSONL file per workflow run. Data lines
// carry step output, control lines mark step transitions.
type WorkflowLogger struct {
	file    *os.File
	encoder *json.Encoder
}

type LogLine struct {
	Kind string `json:"kind"` // "data" or "control"
	Step int    `json:"step"`

	// data lines
	Stream string `json:"stream,omitempty"`
	Data   string `json:"data,omitempty"`

	// control lines
	StepName   string     `json:"step_name,omitempty"`
	StepStatus StatusKind `json:"step_status,omitempty"`

	Time string `json:"time"`
}

func NewDataLogLine(idx int, line, stream string) LogLine {
	return LogLine{
		Kind:   "data",
		Step:   idx,
		Stream: stream,
		Data:   line,
		Time:   time.Now().Format(time.RFC3339),
	}
}

func NewControlLogLine(idx int, step Step, status StatusKind) LogLine {
	return LogLine{
		Kind:       "control",
		Step:       idx,
		StepName:   step.Name(),
		StepStatus: status,
		Time:       time.Now().Format(time.RFC3339),
	}
}

func NewWorkflowLogger(baseDir string, wid WorkflowId) (*WorkflowLogger, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}

	path := LogFilePath(baseDir, wid)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}

	return &WorkflowLogger{
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

func LogFilePath(baseDir string, wid WorkflowId) string {
	return filepath.Join(baseDir, fmt.Sprintf("%s.log", wid.String()))
}

func (l *WorkflowLogger) Close() error {
	return l.file.Close()
}

func (l *WorkflowLogger) DataWriter(idx int, stream string) io.Writer {
	return &dataWriter{
		logger: l,
		idx:    idx,
		stream: stream,
	}
}

func (l *WorkflowLogger) Control(idx int, step Step, status StatusKind) error {
	return l.encoder.Encode(NewControlLogLine(idx, step, status))
}

type dataWriter struct {
	logger *WorkflowLogger
	idx    int
	stream string
}

func (w *dataWriter) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\r\n")
	entry := NewDataLogLine(w.idx, line, w.stream)
	if err := w.logger.encoder.Encode(entry); err != nil {
		return 0, err
	}
	return len(p), nil
}
