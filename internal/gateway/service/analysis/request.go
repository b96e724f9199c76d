package analysis

import (
	"strings"

	"repoanalyzer/internal/acquire"
)

// Request is one analyze submission as decoded by a transport. A request that
// carries SelectedModules resumes a session parked at the module checkpoint.
type Request struct {
	Repo             string `json:"repo,omitempty"`
	RootPath         string `json:"rootPath,omitempty"`
	RemoteArchiveURL string `json:"remoteArchiveUrl,omitempty"`
	UploadKey        string `json:"uploadKey,omitempty"`
	Archive          []byte `json:"archive,omitempty"`
	Filename         string `json:"filename,omitempty"`
	SessionID        string `json:"sessionId,omitempty"`
	// SelectedModules is nil when absent; an empty list selects nothing.
	SelectedModules []string          `json:"selectedModules,omitempty"`
	EnvVars         map[string]string `json:"envVars,omitempty"`
	// AnalyzeAll skips the module checkpoint.
	AnalyzeAll bool `json:"analyzeAll,omitempty"`
}

// Resume reports whether the request answers a module checkpoint.
func (r Request) Resume() bool { return r.SelectedModules != nil }

func (r Request) source() acquire.Source {
	return acquire.Source{
		Path:             strings.TrimSpace(r.RootPath),
		Archive:          r.Archive,
		Filename:         r.Filename,
		RemoteArchiveURL: strings.TrimSpace(r.RemoteArchiveURL),
		RepoURL:          strings.TrimSpace(r.Repo),
	}
}
