package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"repoanalyzer/internal/gateway/repository/upload"
)

// UploadHandler relays archives too large to send inline with an analyze
// request.
type UploadHandler struct {
	store    upload.Store
	maxBytes int64
	ttl      time.Duration
	logger   *zap.Logger
}

func NewUploadHandler(store upload.Store, maxBytes int64, ttl time.Duration, logger *zap.Logger) *UploadHandler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUpload
	}
	if ttl <= 0 {
		ttl = upload.DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadHandler{store: store, maxBytes: maxBytes, ttl: ttl, logger: logger}
}

type uploadResponse struct {
	Key       string    `json:"key"`
	URL       string    `json:"url,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// HandleUpload stores a multipart "file" part, or the raw body named by the
// filename query parameter, and returns its key.
func (h *UploadHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	data, filename, err := readUpload(r, h.maxBytes)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	if len(data) == 0 {
		http.Error(w, "upload is empty", http.StatusBadRequest)
		return
	}

	key := upload.NewKey(filename)
	expiresAt, err := h.store.Put(r.Context(), key, data, h.ttl)
	if err != nil {
		h.logger.Warn("upload store put failed", zap.String("key", key), zap.Error(err))
		http.Error(w, "failed to store upload", http.StatusInternalServerError)
		return
	}
	h.logger.Info("upload stored", zap.String("key", key), zap.Int("bytes", len(data)))
	writeJSON(w, http.StatusCreated, uploadResponse{Key: key, ExpiresAt: expiresAt})
}

func readUpload(r *http.Request, maxBytes int64) ([]byte, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, "", bodyError(err)
		}
		return data, r.URL.Query().Get("filename"), nil
	}

	if err := r.ParseMultipartForm(min(maxBytes, 32<<20)); err != nil {
		return nil, "", bodyError(err)
	}
	defer r.MultipartForm.RemoveAll()
	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, "", errors.New("file is required")
		}
		return nil, "", bodyError(err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", bodyError(err)
	}
	return data, header.Filename, nil
}

// HandlePresign returns a key and a URL the client can PUT the archive to
// directly, when the store supports it.
func (h *UploadHandler) HandlePresign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var in struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	key := upload.NewKey(strings.TrimSpace(in.Filename))
	url, err := h.store.PresignPut(r.Context(), key, h.ttl)
	if errors.Is(err, upload.ErrPresignUnsupported) {
		http.Error(w, err.Error(), http.StatusNotImplemented)
		return
	}
	if err != nil {
		h.logger.Warn("presign failed", zap.String("key", key), zap.Error(err))
		http.Error(w, "failed to presign upload", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Key: key, URL: url, ExpiresAt: time.Now().Add(h.ttl).UTC()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
