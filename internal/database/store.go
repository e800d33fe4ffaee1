package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/yanfeng98/fork-gemini-deepresearch/internal/migration"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrReportNotFound 报告不存在
var ErrReportNotFound = errors.New("report not found")

// QueryObserver 接收每次查询的耗时，由 prometheus Collector 实现
type QueryObserver interface {
	RecordDBQuery(operation string, duration time.Duration)
}

// reportModel research_reports 表
type reportModel struct {
	ID          string    `gorm:"primaryKey;size:36"`
	RunID       string    `gorm:"size:64;not null;index:idx_research_reports_run_id"`
	Brief       string    `gorm:"type:text;not null"`
	Report      string    `gorm:"type:text;not null"`
	Termination string    `gorm:"size:32;not null;index:idx_research_reports_termination"`
	Iterations  int       `gorm:"not null;default:0"`
	Degraded    bool      `gorm:"not null;default:false"`
	NotesCount  int       `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"not null;index:idx_research_reports_created_at"`
}

func (reportModel) TableName() string { return "research_reports" }

func toModel(r types.ReportRecord) reportModel {
	return reportModel{
		ID:          r.ID,
		RunID:       r.RunID,
		Brief:       r.Brief,
		Report:      r.Report,
		Termination: r.Termination,
		Iterations:  r.Iterations,
		Degraded:    r.Degraded,
		NotesCount:  r.NotesCount,
		CreatedAt:   r.CreatedAt,
	}
}

func (m reportModel) record() types.ReportRecord {
	return types.ReportRecord{
		ID:          m.ID,
		RunID:       m.RunID,
		Brief:       m.Brief,
		Report:      m.Report,
		Termination: m.Termination,
		Iterations:  m.Iterations,
		Degraded:    m.Degraded,
		NotesCount:  m.NotesCount,
		CreatedAt:   m.CreatedAt,
	}
}

// ReportStore 研究报告归档
type ReportStore struct {
	pool       *PoolManager
	observer   QueryObserver
	logger     *zap.Logger
	maxRetries int
}

// NewReportStore 创建报告存储，observer 可为 nil
func NewReportStore(pool *PoolManager, observer QueryObserver, logger *zap.Logger) *ReportStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportStore{
		pool:       pool,
		observer:   observer,
		logger:     logger.With(zap.String("component", "report_store")),
		maxRetries: 3,
	}
}

// Migrate 建表：postgres / mysql 走 golang-migrate 版本化迁移，sqlite 走 AutoMigrate
func (s *ReportStore) Migrate(ctx context.Context) error {
	dbType, err := migration.ParseDatabaseType(s.pool.Driver())
	if err != nil {
		return err
	}
	if !dbType.Versioned() {
		return s.pool.DB().WithContext(ctx).AutoMigrate(&reportModel{})
	}

	m, err := migration.NewMigrator(migration.Config{DatabaseType: dbType, DSN: s.pool.DSN()}, s.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			s.logger.Warn("failed to close migrator", zap.Error(cerr))
		}
	}()
	return m.Up(ctx)
}

// Ping 检查底层连接，供健康检查使用
func (s *ReportStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Stats 返回底层连接池统计
func (s *ReportStore) Stats() PoolStats {
	return s.pool.GetStats()
}

func (s *ReportStore) observe(op string, start time.Time) {
	if s.observer != nil {
		s.observer.RecordDBQuery(op, time.Since(start))
	}
}

// SaveReport 归档一份报告，ID 与创建时间为空时自动填充
func (s *ReportStore) SaveReport(ctx context.Context, r types.ReportRecord) (string, error) {
	defer s.observe("create", time.Now())

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	model := toModel(r)

	err := s.pool.WithTransactionRetry(ctx, s.maxRetries, func(tx *gorm.DB) error {
		return tx.Create(&model).Error
	})
	if err != nil {
		s.logger.Error("failed to archive report", zap.String("run_id", r.RunID), zap.Error(err))
		return "", types.WrapError(err, types.ErrReportStoreFailure, "failed to archive report")
	}

	s.logger.Info("report archived",
		zap.String("id", r.ID),
		zap.String("run_id", r.RunID),
		zap.Int("report_len", len(r.Report)))
	return r.ID, nil
}

// GetReport 按 ID 读取报告
func (s *ReportStore) GetReport(ctx context.Context, id string) (*types.ReportRecord, error) {
	defer s.observe("get", time.Now())

	var m reportModel
	err := s.pool.DB().WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrReportNotFound, id)
	}
	if err != nil {
		return nil, types.WrapError(err, types.ErrReportStoreFailure, "failed to load report")
	}
	rec := m.record()
	return &rec, nil
}

// ListReports 按创建时间倒序列出最近的报告
func (s *ReportStore) ListReports(ctx context.Context, limit int) ([]types.ReportRecord, error) {
	defer s.observe("list", time.Now())

	if limit <= 0 {
		limit = 20
	}
	var models []reportModel
	err := s.pool.DB().WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, types.WrapError(err, types.ErrReportStoreFailure, "failed to list reports")
	}

	out := make([]types.ReportRecord, len(models))
	for i, m := range models {
		out[i] = m.record()
	}
	return out, nil
}
