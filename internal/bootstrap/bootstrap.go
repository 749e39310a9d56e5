// Package bootstrap 按配置组装存储后端、重载序列和别名服务，server 与 aliasctl 共用。
package bootstrap

import (
	"database/sql"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailalias/backend/internal/config"
	"mailalias/backend/internal/mapfile"
	"mailalias/backend/internal/service"
	"mailalias/backend/internal/storage"
	"mailalias/backend/internal/storage/badger"
	"mailalias/backend/internal/storage/filesystem"
	"mailalias/backend/internal/storage/hybrid"
	"mailalias/backend/internal/storage/memory"
	"mailalias/backend/internal/storage/redis"
	sqlstore "mailalias/backend/internal/storage/sql"
)

// 存储类型
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQL    = "sql"
	StoreRedis  = "redis"
	StoreBadger = "badger"
	StoreHybrid = "hybrid"
)

// Backend 打开的存储及其底层连接，底层连接用于健康检查和文件监听
type Backend struct {
	Store storage.Store
	File  *filesystem.Store // 仅 file
	DB    *sql.DB           // sql 与 hybrid
	Redis *goredis.Client   // redis 与 hybrid
}

// OpenStore 按 store.type 打开存储
func OpenStore(cfg *config.Config, log *zap.Logger) (*Backend, error) {
	if log == nil {
		log = zap.NewNop()
	}

	switch cfg.Store.Type {
	case StoreMemory:
		log.Info("using memory store (records are lost on exit)")
		return &Backend{Store: memory.NewStore()}, nil

	case StoreFile, "":
		fs, err := filesystem.NewStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open file store: %w", err)
		}
		log.Info("using file store", zap.String("path", fs.Path()))
		return &Backend{Store: fs, File: fs}, nil

	case StoreSQL:
		db, err := openSQL(cfg)
		if err != nil {
			return nil, err
		}
		log.Info("using sql store", zap.String("driver", cfg.Database.Driver))
		return &Backend{Store: db, DB: db.DB()}, nil

	case StoreRedis:
		client, err := redis.New(&cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		log.Info("using redis store", zap.String("prefix", cfg.Redis.Prefix))
		return &Backend{Store: redis.NewStore(client.Client(), cfg.Redis.Prefix), Redis: client.Client()}, nil

	case StoreBadger:
		store, err := badger.Open(badger.Config{
			Path:     cfg.Badger.Path,
			InMemory: cfg.Badger.InMemory,
			Logger:   log.Named("badger"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		log.Info("using badger store", zap.String("path", cfg.Badger.Path), zap.Bool("in_memory", cfg.Badger.InMemory))
		return &Backend{Store: store}, nil

	case StoreHybrid:
		db, err := openSQL(cfg)
		if err != nil {
			return nil, err
		}
		client, err := redis.New(&cfg.Redis, log)
		if err != nil {
			db.Close()
			return nil, err
		}
		cache := redis.NewCache(client.Client(), cfg.Redis.Prefix, cfg.Redis.CacheTTL)
		log.Info("using hybrid store",
			zap.String("driver", cfg.Database.Driver),
			zap.Duration("cache_ttl", cfg.Redis.CacheTTL),
		)
		return &Backend{
			Store: hybrid.NewStore(db, cache, log),
			DB:    db.DB(),
			Redis: client.Client(),
		}, nil
	}

	return nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
}

func openSQL(cfg *config.Config) (*sqlstore.Store, error) {
	store, err := sqlstore.NewStore(cfg.Database.Driver, cfg.Database.DSN, sqlstore.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sql store: %w", err)
	}
	return store, nil
}

// MapPaths 映射名称到路径
func MapPaths(cfg *config.Config) map[string]string {
	return map[string]string{
		service.MapAllow: cfg.Maps.AllowPath,
		service.MapBlock: cfg.Maps.BlockPath,
	}
}

// NewWriter 按配置的文件权限创建映射写入器
func NewWriter(cfg *config.Config) *mapfile.Writer {
	return mapfile.NewWriter(cfg.Maps.FileMode)
}

// NewSequencer 创建重载序列执行器
func NewSequencer(cfg *config.Config, store storage.AliasRepository, writer service.MapWriter, log *zap.Logger) *service.Sequencer {
	return service.NewSequencer(store, writer, service.ShellRunner{Timeout: cfg.Reload.Timeout}, service.ReloadOptions{
		AllowPath: cfg.Maps.AllowPath,
		BlockPath: cfg.Maps.BlockPath,
		Command:   cfg.Reload.Command,
	}, log)
}

// NewAliasService 创建别名服务
func NewAliasService(cfg *config.Config, store storage.AliasRepository, sequencer *service.Sequencer, log *zap.Logger) *service.AliasService {
	return service.NewAliasService(store, sequencer, service.Defaults{
		DefaultUser:   cfg.Defaults.User,
		DefaultDomain: cfg.Defaults.Domain,
	}, log)
}
