package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"repoanalyzer/internal/gateway/service/analysis"
	"repoanalyzer/internal/stream"
)

// SessionHeader carries the session id of a streamed response.
const SessionHeader = "X-Session-Id"

// Analyzer starts an analysis and hands back its event stream.
type Analyzer interface {
	Start(ctx context.Context, req analysis.Request) (*stream.Stream, string)
}

type AnalyzeHandler struct {
	svc       Analyzer
	maxUpload int64
	logger    *zap.Logger
}

func NewAnalyzeHandler(svc Analyzer, maxUpload int64, logger *zap.Logger) *AnalyzeHandler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUpload
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyzeHandler{svc: svc, maxUpload: maxUpload, logger: logger}
}

// DefaultMaxUpload bounds inline archive uploads.
const DefaultMaxUpload int64 = 256 << 20

// HandleAnalyze streams the events of one analyze request as NDJSON.
func (h *AnalyzeHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, err := decodeAnalyzeRequest(w, r, h.maxUpload)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	st, sid := h.svc.Start(r.Context(), req)
	w.Header().Set("Content-Type", stream.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set(SessionHeader, sid)
	w.WriteHeader(http.StatusOK)

	enc := stream.NewEncoder(w)
	if err := stream.Drain(r.Context(), st, enc.Encode); err != nil {
		h.logger.Info("analyze stream abandoned", zap.String("session_id", sid), zap.Error(err))
	}
}

var errBodyTooLarge = errors.New("request body too large")

func statusFor(err error) int {
	if errors.Is(err, errBodyTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// decodeAnalyzeRequest accepts a JSON body or a multipart form whose "file"
// part is the archive and whose other fields mirror the JSON keys.
func decodeAnalyzeRequest(w http.ResponseWriter, r *http.Request, maxBytes int64) (analysis.Request, error) {
	var req analysis.Request
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return decodeMultipart(r, maxBytes)
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return req, bodyError(err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("invalid json body: %w", err)
	}
	return req, nil
}

func decodeMultipart(r *http.Request, maxBytes int64) (analysis.Request, error) {
	var req analysis.Request
	if err := r.ParseMultipartForm(min(maxBytes, 32<<20)); err != nil {
		return req, bodyError(err)
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	req.Repo = strings.TrimSpace(r.FormValue("repo"))
	req.RootPath = strings.TrimSpace(r.FormValue("rootPath"))
	req.RemoteArchiveURL = strings.TrimSpace(r.FormValue("remoteArchiveUrl"))
	req.UploadKey = strings.TrimSpace(r.FormValue("uploadKey"))
	req.SessionID = strings.TrimSpace(r.FormValue("sessionId"))
	if v := strings.TrimSpace(r.FormValue("analyzeAll")); v != "" {
		all, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("invalid analyzeAll: %w", err)
		}
		req.AnalyzeAll = all
	}
	if v, ok := r.MultipartForm.Value["selectedModules"]; ok {
		mods, err := decodeModules(v)
		if err != nil {
			return req, err
		}
		req.SelectedModules = mods
	}
	if v := strings.TrimSpace(r.FormValue("envVars")); v != "" {
		if err := json.Unmarshal([]byte(v), &req.EnvVars); err != nil {
			return req, fmt.Errorf("invalid envVars: %w", err)
		}
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil
	}
	if err != nil {
		return req, bodyError(err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return req, bodyError(err)
	}
	req.Archive = data
	req.Filename = header.Filename
	return req, nil
}

// decodeModules accepts either one JSON array or repeated plain values.
func decodeModules(values []string) ([]string, error) {
	if len(values) == 1 && strings.HasPrefix(strings.TrimSpace(values[0]), "[") {
		var mods []string
		if err := json.Unmarshal([]byte(values[0]), &mods); err != nil {
			return nil, fmt.Errorf("invalid selectedModules: %w", err)
		}
		if mods == nil {
			mods = []string{}
		}
		return mods, nil
	}
	mods := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			mods = append(mods, v)
		}
	}
	return mods, nil
}

func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("%w: limit %d bytes", errBodyTooLarge, maxErr.Limit)
	}
	return fmt.Errorf("read body: %w", err)
}
