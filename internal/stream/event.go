// Package stream defines the progress/result/error/checkpoint events emitted
// while a request runs, the newline-delimited JSON encoding used on the wire,
// and the producer-side guard that keeps every stream well formed:
//
//	progress* (result | error | select-modules)
//
// Exactly one terminal event is emitted and nothing follows it.
package stream

import "repoanalyzer/internal/analysis"

// Type tags an Event.
type Type string

const (
	TypeProgress      Type = "progress"
	TypeResult        Type = "result"
	TypeError         Type = "error"
	TypeSelectModules Type = "select-modules"
)

// Event is one record of the stream.
type Event struct {
	Type      Type             `json:"type"`
	Message   string           `json:"message,omitempty"`
	SessionID string           `json:"sessionId,omitempty"`
	Modules   []string         `json:"modules,omitempty"`
	RootPath  string           `json:"rootPath,omitempty"`
	Data      *analysis.Report `json:"data,omitempty"`
}

// Terminal reports whether the event ends its stream.
func (e Event) Terminal() bool {
	switch e.Type {
	case TypeResult, TypeError, TypeSelectModules:
		return true
	}
	return false
}

func Progress(message, sessionID string) Event {
	return Event{Type: TypeProgress, Message: message, SessionID: sessionID}
}

func Result(report analysis.Report) Event {
	if report.Results == nil {
		report.Results = []analysis.ModuleResult{}
	}
	return Event{Type: TypeResult, Data: &report}
}

func Error(message string) Event {
	return Event{Type: TypeError, Message: message}
}

// SelectModules is the checkpoint event. The caller answers it with a resume
// request carrying the same session id and root path.
func SelectModules(modules []string, sessionID, rootPath string) Event {
	if modules == nil {
		modules = []string{}
	}
	return Event{Type: TypeSelectModules, Modules: modules, SessionID: sessionID, RootPath: rootPath}
}
