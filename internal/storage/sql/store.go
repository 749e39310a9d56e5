package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"  // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib"  // PostgreSQL driver (pgx)
	_ "github.com/lib/pq"               // PostgreSQL driver (pq)
	_ "github.com/mattn/go-sqlite3"     // SQLite driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailalias/backend/internal/domain"
	"mailalias/backend/internal/storage"
)

// 支持的驱动
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverSQLite   = "sqlite3"
)

// aliasRow 别名表结构
type aliasRow struct {
	ID          string `gorm:"primaryKey;type:varchar(64)"`
	Seq         int64  `gorm:"not null;index"`
	Pattern     string `gorm:"type:varchar(512);not null;index"`
	IsRegex     bool   `gorm:"not null;default:false"`
	Destination string `gorm:"type:text;not null"`
	Description string `gorm:"type:text;not null"`
	Blocked     bool   `gorm:"not null;default:false;index"`
	Reason      string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName 表名
func (aliasRow) TableName() string {
	return "mail_aliases"
}

func toRow(record domain.AliasRecord, seq int64) aliasRow {
	return aliasRow{
		ID:          record.ID,
		Seq:         seq,
		Pattern:     record.Pattern,
		IsRegex:     record.IsRegex,
		Destination: record.Destination,
		Description: record.Description,
		Blocked:     record.Blocked,
		Reason:      record.Reason,
	}
}

func (r aliasRow) record() domain.AliasRecord {
	return domain.AliasRecord{
		ID:          r.ID,
		Pattern:     r.Pattern,
		IsRegex:     r.IsRegex,
		Destination: r.Destination,
		Description: r.Description,
		Blocked:     r.Blocked,
		Reason:      r.Reason,
	}
}

// Options 连接池配置
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store SQL 数据库存储实现（MySQL 5.7+、PostgreSQL、SQLite）
type Store struct {
	db         *sql.DB
	gormDB     *gorm.DB
	driverName string
	writeMu    sync.Mutex // 单写者，保证 seq 分配不冲突
}

// NewStore 创建SQL数据库存储
func NewStore(driverName, dsn string, opts Options) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	// 打开数据库连接
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	if driverName == DriverSQLite {
		// :memory: 数据库每个连接独立，必须限制为单连接
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	dialector, err := dialectorFor(driverName, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	store := &Store{
		db:         db,
		gormDB:     gormDB,
		driverName: driverName,
	}

	// 自动执行数据库迁移
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// dialectorFor 根据驱动类型复用已打开的连接创建 GORM 方言
func dialectorFor(driverName string, db *sql.DB) (gorm.Dialector, error) {
	switch driverName {
	case DriverMySQL:
		return mysql.New(mysql.Config{Conn: db}), nil
	case DriverPostgres, DriverPgx:
		return postgres.New(postgres.Config{Conn: db}), nil
	case DriverSQLite:
		return &sqlite.Dialector{DriverName: DriverSQLite, Conn: db}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres, pgx, sqlite3)", driverName)
	}
}

// migrate 执行数据库迁移（使用GORM AutoMigrate）
func (s *Store) migrate() error {
	return s.gormDB.AutoMigrate(&aliasRow{})
}

// DB 返回底层连接，用于健康检查
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// ListAliases 按 seq 顺序返回全部记录
func (s *Store) ListAliases(ctx context.Context) ([]domain.AliasRecord, error) {
	var rows []aliasRow
	if err := s.gormDB.WithContext(ctx).Order("seq asc, id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}

	records := make([]domain.AliasRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}

// SaveAliases 在一个事务中保存整批记录
func (s *Store) SaveAliases(ctx context.Context, records []domain.AliasRecord) ([]domain.AliasRecord, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	saved := make([]domain.AliasRecord, 0, len(records))
	err := s.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		if err := tx.Model(&aliasRow{}).Select("COALESCE(MAX(seq), 0)").Row().Scan(&maxSeq); err != nil {
			return fmt.Errorf("failed to read sequence: %w", err)
		}

		for _, record := range records {
			if record.ID == "" {
				record.ID = storage.NewID()
				maxSeq++
				row := toRow(record, maxSeq)
				if err := tx.Create(&row).Error; err != nil {
					return fmt.Errorf("failed to insert alias: %w", err)
				}
				saved = append(saved, record)
				continue
			}

			var existing aliasRow
			if err := tx.Where("id = ?", record.ID).First(&existing).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: %s", storage.ErrAliasNotFound, record.ID)
				}
				return fmt.Errorf("failed to load alias: %w", err)
			}

			row := toRow(record, existing.Seq)
			row.CreatedAt = existing.CreatedAt
			if err := tx.Save(&row).Error; err != nil {
				return fmt.Errorf("failed to update alias: %w", err)
			}
			saved = append(saved, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// DeleteAlias 按 ID 删除
func (s *Store) DeleteAlias(ctx context.Context, id string) (domain.AliasRecord, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var row aliasRow
	err := s.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", storage.ErrAliasNotFound, id)
			}
			return fmt.Errorf("failed to load alias: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&aliasRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete alias: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.AliasRecord{}, err
	}
	return row.record(), nil
}

// DeleteAliasesByPattern 删除所有模式相同的记录
func (s *Store) DeleteAliasesByPattern(ctx context.Context, pattern string) ([]domain.AliasRecord, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var rows []aliasRow
	err := s.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("pattern = ?", pattern).Order("seq asc, id asc").Find(&rows).Error; err != nil {
			return fmt.Errorf("failed to load aliases: %w", err)
		}
		if len(rows) == 0 {
			return fmt.Errorf("%w: pattern %s", storage.ErrAliasNotFound, pattern)
		}
		if err := tx.Where("pattern = ?", pattern).Delete(&aliasRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete aliases: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	deleted := make([]domain.AliasRecord, 0, len(rows))
	for _, row := range rows {
		deleted = append(deleted, row.record())
	}
	return deleted, nil
}
