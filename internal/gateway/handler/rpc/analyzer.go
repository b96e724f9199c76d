// Package rpc exposes the analyze stream as a Connect server-streaming
// procedure.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"go.uber.org/zap"

	"repoanalyzer/internal/gateway/service/analysis"
	"repoanalyzer/internal/stream"
)

const (
	ServiceName = "analyzer.v1.AnalyzerService"
	// AnalyzeProcedure is the full procedure path of Analyze.
	AnalyzeProcedure = "/" + ServiceName + "/Analyze"
)

type Analyzer interface {
	Start(ctx context.Context, req analysis.Request) (*stream.Stream, string)
}

type AnalyzerHandler struct {
	svc    Analyzer
	logger *zap.Logger
}

func NewAnalyzerHandler(svc Analyzer, logger *zap.Logger) *AnalyzerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyzerHandler{svc: svc, logger: logger}
}

// Handler returns the mount path and handler for the service.
func (h *AnalyzerHandler) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	return AnalyzeProcedure, connect.NewServerStreamHandler(AnalyzeProcedure, h.Analyze, opts...)
}

func (h *AnalyzerHandler) Analyze(ctx context.Context, req *connect.Request[analysis.Request], out *connect.ServerStream[stream.Event]) error {
	if req.Msg == nil {
		return connect.NewError(connect.CodeInvalidArgument, errors.New("request is required"))
	}
	st, sid := h.svc.Start(ctx, *req.Msg)
	out.ResponseHeader().Set("X-Session-Id", sid)

	err := stream.Drain(ctx, st, func(ev stream.Event) error { return out.Send(&ev) })
	if err == nil || ctx.Err() != nil {
		return nil
	}
	h.logger.Info("analyze rpc stream abandoned", zap.String("session_id", sid), zap.Error(err))
	return connect.NewError(connect.CodeUnavailable, fmt.Errorf("send event: %w", err))
}

// NewClient returns a Connect client for the Analyze procedure.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *connect.Client[analysis.Request, stream.Event] {
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return connect.NewClient[analysis.Request, stream.Event](httpClient, baseURL+AnalyzeProcedure, opts...)
}
