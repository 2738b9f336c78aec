package session

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "github.com/Shreshtthh/ChainInsight/internal/errors"
	"github.com/Shreshtthh/ChainInsight/internal/web3"
)

// MySQLStore 使用 MySQL 持久化会话状态，进程重启后审批记录不丢失。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS chat_sessions (
        id VARCHAR(64) PRIMARY KEY,
        query TEXT NOT NULL,
        status VARCHAR(32) NOT NULL,
        reply TEXT,
        findings TEXT,
        descriptors TEXT,
        requires_approval TINYINT(1) NOT NULL DEFAULT 0,
        resolution VARCHAR(16) NOT NULL DEFAULT 'pending',
        report TEXT,
        version BIGINT NOT NULL DEFAULT 0,
        duration_ms BIGINT NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_session_status (status),
        INDEX idx_session_updated (updated_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 chat_sessions 表失败")
	}
	return nil
}

// Put 以 last-writer-wins 语义写入会话。
func (s *MySQLStore) Put(ctx context.Context, sess *Session) error {
	if sess == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "session 不能为空")
	}
	if strings.TrimSpace(sess.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}

	findings, err := marshalNullable(sess.Findings)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 findings 失败")
	}
	descriptors, err := marshalNullable(sess.Descriptors)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 descriptors 失败")
	}
	report, err := marshalNullable(sess.Report)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 report 失败")
	}

	const stmt = `INSERT INTO chat_sessions
        (id, query, status, reply, findings, descriptors, requires_approval, resolution, report, version, duration_ms, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        query = VALUES(query), status = VALUES(status), reply = VALUES(reply),
        findings = VALUES(findings), descriptors = VALUES(descriptors),
        requires_approval = VALUES(requires_approval), resolution = VALUES(resolution),
        report = VALUES(report), version = VALUES(version), duration_ms = VALUES(duration_ms),
        updated_at = VALUES(updated_at)`

	_, err = s.db.ExecContext(ctx, stmt,
		sess.ID,
		sess.Query,
		string(sess.Status),
		sess.Reply,
		findings,
		descriptors,
		sess.RequiresApproval,
		string(sess.Resolution),
		report,
		sess.Version,
		sess.DurationMs,
		sess.CreatedAt,
		sess.UpdatedAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话失败")
	}
	return nil
}

// Get 查询指定会话。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Session, error) {
	const stmt = `SELECT id, query, status, reply, findings, descriptors, requires_approval, resolution, report,
        version, duration_ms, created_at, updated_at FROM chat_sessions WHERE id = ?`

	row := s.db.QueryRowContext(ctx, stmt, id)

	var sess Session
	var status, resolution string
	var reply, findings, descriptors, report sql.NullString

	if err := row.Scan(
		&sess.ID,
		&sess.Query,
		&status,
		&reply,
		&findings,
		&descriptors,
		&sess.RequiresApproval,
		&resolution,
		&report,
		&sess.Version,
		&sess.DurationMs,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话失败")
	}

	sess.Status = Status(status)
	sess.Resolution = Resolution(resolution)
	sess.Reply = reply.String

	if err := unmarshalNullable(findings, &sess.Findings); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 findings 失败")
	}
	if err := unmarshalNullable(descriptors, &sess.Descriptors); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 descriptors 失败")
	}
	if report.Valid && strings.TrimSpace(report.String) != "" {
		var decoded ExecutionReport
		if err := json.Unmarshal([]byte(report.String), &decoded); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 report 失败")
		}
		sess.Report = &decoded
	}
	return &sess, nil
}

// Delete 删除指定会话。
func (s *MySQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除会话失败")
	}
	return nil
}

// Count 返回当前会话总数。
func (s *MySQLStore) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_sessions`).Scan(&total); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计会话失败")
	}
	return total, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func marshalNullable(value any) (sql.NullString, error) {
	switch v := value.(type) {
	case []Finding:
		if len(v) == 0 {
			return sql.NullString{}, nil
		}
	case []web3.Descriptor:
		if len(v) == 0 {
			return sql.NullString{}, nil
		}
	case *ExecutionReport:
		if v == nil {
			return sql.NullString{}, nil
		}
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

func unmarshalNullable(raw sql.NullString, target any) error {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), target)
}

var _ Store = (*MySQLStore)(nil)
