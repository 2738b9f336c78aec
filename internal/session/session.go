// Package session 维护会话状态机与多种持久化后端。
package session

import (
	"time"

	"github.com/google/uuid"

	xerrors "github.com/Shreshtthh/ChainInsight/internal/errors"
	"github.com/Shreshtthh/ChainInsight/internal/web3"
)

// Status 表示会话在流水线中的状态。
type Status string

const (
	StatusNew              Status = "NEW"
	StatusResearching      Status = "RESEARCHING"
	StatusStrategizing     Status = "STRATEGIZING"
	StatusAwaitingApproval Status = "AWAITING_APPROVAL"
	StatusApproved         Status = "APPROVED"
	StatusRejected         Status = "REJECTED"
	StatusCompleted        Status = "COMPLETED"
)

// Resolution 表示审批的三态结果。
type Resolution string

const (
	ResolutionPending  Resolution = "pending"
	ResolutionApproved Resolution = "approved"
	ResolutionRejected Resolution = "rejected"
)

// Finding 保存单个推理阶段的结构化产出，仅归属于产生它的会话。
type Finding struct {
	Stage     string `json:"stage"`
	Thought   string `json:"thought,omitempty"`
	Summary   string `json:"summary"`
	Data      string `json:"data,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// ExecutionReport 记录外部执行器回报的链上结果。
// 编排核心不会依据它重放或重试任何交易。
type ExecutionReport struct {
	Success    bool     `json:"success"`
	TxHashes   []string `json:"tx_hashes,omitempty"`
	Notes      string   `json:"notes,omitempty"`
	ReportedAt int64    `json:"reported_at"`
}

// Session 描述一次对话会话的完整流水线产物。
type Session struct {
	ID               string            `json:"id"`
	Query            string            `json:"query"`
	Status           Status            `json:"status"`
	Findings         []Finding         `json:"findings,omitempty"`
	Reply            string            `json:"reply,omitempty"`
	Descriptors      []web3.Descriptor `json:"descriptors,omitempty"`
	RequiresApproval bool              `json:"requires_approval"`
	Resolution       Resolution        `json:"resolution"`
	Report           *ExecutionReport  `json:"report,omitempty"`
	Version          int64             `json:"version"`
	DurationMs       int64             `json:"duration_ms"`
	CreatedAt        int64             `json:"created_at"`
	UpdatedAt        int64             `json:"updated_at"`
}

// New 创建一个处于初始状态的会话。
func New(query string) *Session {
	now := time.Now().Unix()
	return &Session{
		ID:         uuid.NewString(),
		Query:      query,
		Status:     StatusNew,
		Resolution: ResolutionPending,
		Version:    0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Touch 推进版本号并刷新更新时间。每次持久化前调用。
func (s *Session) Touch() {
	s.Version++
	s.UpdatedAt = time.Now().Unix()
}

// Resolved 判断审批是否已经终结。
func (s *Session) Resolved() bool {
	return s.Resolution != ResolutionPending
}

// Clone 返回会话的深拷贝，避免调用方持有内部切片。
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cloned := *s
	if s.Findings != nil {
		cloned.Findings = make([]Finding, len(s.Findings))
		copy(cloned.Findings, s.Findings)
	}
	if s.Descriptors != nil {
		cloned.Descriptors = make([]web3.Descriptor, len(s.Descriptors))
		copy(cloned.Descriptors, s.Descriptors)
	}
	if s.Report != nil {
		report := *s.Report
		if s.Report.TxHashes != nil {
			report.TxHashes = make([]string, len(s.Report.TxHashes))
			copy(report.TxHashes, s.Report.TxHashes)
		}
		cloned.Report = &report
	}
	return &cloned
}

const (
	CodeSessionNotFound  xerrors.Code = "SESSION_NOT_FOUND"
	CodeAlreadyResolved  xerrors.Code = "ALREADY_RESOLVED"
	CodeMissingSessionID xerrors.Code = "MISSING_SESSION_ID"
)

var (
	// ErrSessionNotFound 表示指定的会话不存在。
	ErrSessionNotFound = xerrors.New(CodeSessionNotFound, "session not found")
	// ErrAlreadyResolved 表示审批已终结，不允许再次审批。
	ErrAlreadyResolved = xerrors.New(CodeAlreadyResolved, "session approval already resolved", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrMissingSessionID 表示调用方未提供会话 ID。
	ErrMissingSessionID = xerrors.New(CodeMissingSessionID, "session id is required")
)

func init() {
	xerrors.Register(CodeSessionNotFound, xerrors.Attributes{
		Message:   "session not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeAlreadyResolved, xerrors.Attributes{
		Message:   "session approval already resolved",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeMissingSessionID, xerrors.Attributes{
		Message:   "session id is required",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}
