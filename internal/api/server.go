package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	xerrors "github.com/Shreshtthh/ChainInsight/internal/errors"
	"github.com/Shreshtthh/ChainInsight/internal/observability/metrics"
	"github.com/Shreshtthh/ChainInsight/internal/orchestrator"
	"github.com/Shreshtthh/ChainInsight/internal/session"
	"github.com/Shreshtthh/ChainInsight/internal/stage"
	"github.com/Shreshtthh/ChainInsight/internal/web3"
	"github.com/Shreshtthh/ChainInsight/pkg/logger"
)

// Server 负责暴露 REST 接口，供前端驱动会话流水线与审批闸门。
type Server struct {
	addr string
	orch *orchestrator.Orchestrator
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, orch *orchestrator.Orchestrator) *Server {
	return &Server{addr: addr, orch: orch}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/query", s.instrument("query", s.handleQuery))
	mux.HandleFunc("/api/v1/approve", s.instrument("approve", s.handleApprove))
	mux.HandleFunc("/api/v1/report", s.instrument("report", s.handleReport))
	mux.HandleFunc("/health", s.instrument("health", s.handleHealth))
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type queryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"sessionId,omitempty"`
}

type queryMetadata struct {
	DurationMs       int64 `json:"durationMs"`
	TransactionCount int   `json:"transactionCount"`
}

type queryResponse struct {
	Response         string            `json:"response"`
	SessionID        string            `json:"sessionId"`
	RequiresApproval bool              `json:"requiresApproval"`
	Transactions     []web3.Descriptor `json:"transactions,omitempty"`
	Metadata         queryMetadata     `json:"metadata"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 POST")
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "请求体解析失败")
		return
	}

	result, err := s.orch.Query(r.Context(), orchestrator.QueryRequest{
		Query:     req.Query,
		SessionID: req.SessionID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Response:         result.Reply,
		SessionID:        result.SessionID,
		RequiresApproval: result.RequiresApproval,
		Transactions:     result.Descriptors,
		Metadata: queryMetadata{
			DurationMs:       result.DurationMs,
			TransactionCount: result.TransactionCount,
		},
	})
}

type approveRequest struct {
	SessionID string `json:"sessionId"`
	Approved  bool   `json:"approved"`
}

type approveResponse struct {
	Approved     bool              `json:"approved,omitempty"`
	Cancelled    bool              `json:"cancelled,omitempty"`
	Transactions []web3.Descriptor `json:"transactions,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 POST")
		return
	}

	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "请求体解析失败")
		return
	}

	result, err := s.orch.Approve(r.Context(), req.SessionID, req.Approved)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, approveResponse{
		Approved:     result.Approved,
		Cancelled:    result.Cancelled,
		Transactions: result.Descriptors,
	})
}

type reportRequest struct {
	SessionID string   `json:"sessionId"`
	Success   bool     `json:"success"`
	TxHashes  []string `json:"txHashes,omitempty"`
	Notes     string   `json:"notes,omitempty"`
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 POST")
		return
	}

	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "请求体解析失败")
		return
	}

	err := s.orch.Report(r.Context(), req.SessionID, session.ExecutionReport{
		Success:  req.Success,
		TxHashes: req.TxHashes,
		Notes:    req.Notes,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"recorded": true})
}

type healthResponse struct {
	Status       string `json:"status"`
	Ready        bool   `json:"ready"`
	SessionCount int64  `json:"sessionCount"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET")
		return
	}

	health, err := s.orch.CheckHealth(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := "ok"
	if !health.Ready {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       status,
		Ready:        health.Ready,
		SessionCount: health.SessionCount,
	})
}

// instrument 记录每个接口的请求计数与时延。
func (s *Server) instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(started))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// writeDomainError 将统一错误码映射为 HTTP 状态。
// 对外只暴露错误码与可读信息，不透出内部堆栈。
func writeDomainError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError

	switch code {
	case orchestrator.CodeMissingQuery, session.CodeMissingSessionID, web3.CodeInvalidIntent, xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case session.CodeSessionNotFound:
		status = http.StatusNotFound
	case session.CodeAlreadyResolved:
		status = http.StatusConflict
	case orchestrator.CodeNotReady:
		status = http.StatusServiceUnavailable
	case stage.CodeStageFailure:
		status = http.StatusBadGateway
	}

	message := err.Error()
	if unified, ok := xerrors.From(err); ok {
		message = unified.Message()
	}

	if status >= http.StatusInternalServerError {
		logger.L().Error("请求处理失败", "code", string(code), "error", err)
	}
	writeError(w, status, string(code), message)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
