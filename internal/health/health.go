package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailalias/backend/internal/storage"
)

// WritableChecker 检查路径是否可写
type WritableChecker interface {
	CheckWritable(path string) error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health   healthcheck.Handler
	store    storage.Store
	writer   WritableChecker
	mapPaths map[string]string
	logger   *zap.Logger
}

// NewHealthChecker 创建健康检查器
//
// mapPaths 为映射名称到文件路径，空路径会被忽略。
func NewHealthChecker(store storage.Store, writer WritableChecker, mapPaths map[string]string, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health:   healthcheck.NewHandler(),
		store:    store,
		writer:   writer,
		mapPaths: make(map[string]string),
		logger:   logger,
	}
	for name, path := range mapPaths {
		if path != "" {
			hc.mapPaths[name] = path
		}
	}

	hc.addChecks()
	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	// 存储检查
	hc.health.AddLivenessCheck("store", func() error {
		return hc.store.Health()
	})

	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))

	// 映射文件所在目录必须可写
	for name, path := range hc.mapPaths {
		path := path
		hc.health.AddReadinessCheck("map_"+name, func() error {
			return hc.writer.CheckWritable(path)
		})
	}
}

// AddReadinessCheck 追加就绪检查
func (hc *HealthChecker) AddReadinessCheck(name string, check healthcheck.Check) {
	hc.health.AddReadinessCheck(name, check)
}

// Handler 返回健康检查处理器，提供 /live 和 /ready
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行全部检查并返回每项结果
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := make(map[string]string)

	if err := hc.store.Health(); err != nil {
		results["store"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["store"] = "OK"
	}

	for name, path := range hc.mapPaths {
		if err := hc.writer.CheckWritable(path); err != nil {
			results["map_"+name] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results["map_"+name] = "OK"
		}
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results
}

// LogStartupChecks 启动时检查映射文件是否可写，只记录警告
func (hc *HealthChecker) LogStartupChecks() {
	for name, path := range hc.mapPaths {
		if err := hc.writer.CheckWritable(path); err != nil {
			hc.logger.Warn("map file is not writable", zap.String("map", name), zap.String("path", path), zap.Error(err))
		}
	}
}

// DatabaseHealthCheck 数据库健康检查
func DatabaseHealthCheck(db *sql.DB) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return db.PingContext(ctx)
	}
}

// RedisHealthCheck Redis 健康检查
func RedisHealthCheck(rdb *goredis.Client) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		return rdb.Ping(ctx).Err()
	}
}
