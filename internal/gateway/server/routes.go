package server

import (
	"net/http"

	"repoanalyzer/internal/gateway/handler"
	"repoanalyzer/internal/gateway/handler/rpc"
	"repoanalyzer/internal/gateway/middleware"
)

func NewMux(
	analyzeHandler *handler.AnalyzeHandler,
	uploadHandler *handler.UploadHandler,
	traceHandler *handler.TraceHandler,
	rpcHandler *rpc.AnalyzerHandler,
) http.Handler {
	mux := http.NewServeMux()

	// Streaming analysis
	mux.HandleFunc("/api/analyze", analyzeHandler.HandleAnalyze)
	mux.HandleFunc("/api/analyze/ws", analyzeHandler.HandleAnalyzeWS)
	mux.Handle(rpcHandler.Handler())

	// Upload relay
	mux.HandleFunc("/api/uploads", uploadHandler.HandleUpload)
	mux.HandleFunc("/api/uploads/presign", uploadHandler.HandlePresign)

	// Debug
	mux.HandleFunc("/debug/session-logs", traceHandler.HandleSessionLogs)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return middleware.CORS(mux)
}
