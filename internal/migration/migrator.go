package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// =============================================================================
// 嵌入的迁移文件
// =============================================================================

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql
var migrationsFS embed.FS

// ErrUnsupported sqlite 不走版本化迁移，由 gorm AutoMigrate 建表
var ErrUnsupported = errors.New("versioned migrations are not supported for this database")

// DatabaseType 数据库类型
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// ParseDatabaseType parses a driver name from configuration.
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}

// Versioned 该类型是否有嵌入的迁移文件
func (t DatabaseType) Versioned() bool {
	return t == DatabaseTypePostgres || t == DatabaseTypeMySQL
}

func (t DatabaseType) migrationsDir() string {
	return "migrations/" + string(t)
}

// sqlDriverName 与 golang-migrate 导入的驱动注册名一致
func (t DatabaseType) sqlDriverName() string {
	if t == DatabaseTypePostgres {
		return "postgres" // lib/pq
	}
	return "mysql"
}

// MigrationStatus 单个迁移的状态
type MigrationStatus struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// MigrationInfo 当前迁移状态汇总
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Config 迁移配置
type Config struct {
	DatabaseType DatabaseType
	// DSN 与 gorm 使用的连接串相同
	DSN string
	// 默认 schema_migrations
	TableName string
	// 获取迁移锁的超时
	LockTimeout time.Duration
}

// Migrator 报告库的 schema 迁移
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	Steps(ctx context.Context, n int) error
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// DefaultMigrator golang-migrate 实现
type DefaultMigrator struct {
	config  Config
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// NewMigrator 打开独立连接并创建迁移器。
// 连接归迁移器所有，Close 时一并关闭，不影响报告库的连接池。
func NewMigrator(cfg Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.DatabaseType.Versioned() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, cfg.DatabaseType)
	}
	if cfg.DSN == "" {
		return nil, errors.New("database DSN is required")
	}
	if cfg.TableName == "" {
		cfg.TableName = "schema_migrations"
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = 15 * time.Second
	}

	db, err := sql.Open(cfg.DatabaseType.sqlDriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	dbDriver, err := newDatabaseDriver(cfg, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	srcDriver, err := newSourceDriver(cfg.DatabaseType)
	if err != nil {
		_ = dbDriver.Close()
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, string(cfg.DatabaseType), dbDriver)
	if err != nil {
		_ = dbDriver.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.LockTimeout = cfg.LockTimeout

	return &DefaultMigrator{
		config:  cfg,
		migrate: m,
		logger:  logger.With(zap.String("component", "migration")),
	}, nil
}

func newDatabaseDriver(cfg Config, db *sql.DB) (database.Driver, error) {
	switch cfg.DatabaseType {
	case DatabaseTypePostgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: cfg.TableName})
	case DatabaseTypeMySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: cfg.TableName})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, cfg.DatabaseType)
	}
}

func newSourceDriver(t DatabaseType) (source.Driver, error) {
	return iofs.New(migrationsFS, t.migrationsDir())
}

// Up applies all pending migrations.
func (m *DefaultMigrator) Up(ctx context.Context) error {
	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	v, _, _ := m.Version(ctx)
	m.logger.Info("migrations applied", zap.Uint("version", v))
	return nil
}

// Down rolls back the last migration.
func (m *DefaultMigrator) Down(ctx context.Context) error {
	return m.Steps(ctx, -1)
}

// Steps applies (n > 0) or rolls back (n < 0) n migrations.
func (m *DefaultMigrator) Steps(_ context.Context, n int) error {
	if err := m.migrate.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration steps failed: %w", err)
	}
	return nil
}

// Version returns the current version; 0 when nothing is applied.
func (m *DefaultMigrator) Version(_ context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// Status lists every embedded migration with its applied state.
func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := AvailableMigrations(m.config.DatabaseType)
	if err != nil {
		return nil, err
	}
	return buildStatus(files, current, dirty), nil
}

// Info summarizes Status.
func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := AvailableMigrations(m.config.DatabaseType)
	if err != nil {
		return nil, err
	}
	return buildInfo(files, current, dirty), nil
}

// Close releases the source and the database connection.
func (m *DefaultMigrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	return errors.Join(srcErr, dbErr)
}

// MigrationFile 嵌入的迁移文件
type MigrationFile struct {
	Version uint
	Name    string
}

// AvailableMigrations returns the embedded migrations for t, sorted by version.
func AvailableMigrations(t DatabaseType) ([]MigrationFile, error) {
	if !t.Versioned() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, t)
	}
	entries, err := fs.ReadDir(migrationsFS, t.migrationsDir())
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	seen := make(map[uint]bool)
	var files []MigrationFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		// 000001_create_research_reports.up.sql
		versionPart, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(versionPart, 10, 32)
		if err != nil || seen[uint(v)] {
			continue
		}
		seen[uint(v)] = true
		files = append(files, MigrationFile{Version: uint(v), Name: strings.TrimSuffix(rest, ".up.sql")})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

func buildStatus(files []MigrationFile, current uint, dirty bool) []MigrationStatus {
	statuses := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		statuses = append(statuses, MigrationStatus{
			Version: f.Version,
			Name:    f.Name,
			Applied: f.Version <= current,
			Dirty:   dirty && f.Version == current,
		})
	}
	return statuses
}

func buildInfo(files []MigrationFile, current uint, dirty bool) *MigrationInfo {
	applied := 0
	for _, f := range files {
		if f.Version <= current {
			applied++
		}
	}
	return &MigrationInfo{
		CurrentVersion:    current,
		Dirty:             dirty,
		TotalMigrations:   len(files),
		AppliedMigrations: applied,
		PendingMigrations: len(files) - applied,
	}
}
