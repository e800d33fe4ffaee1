package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yanfeng98/fork-gemini-deepresearch/internal/cache"
	"github.com/yanfeng98/fork-gemini-deepresearch/internal/database"
)

// backends 记录 run 期间成功打开的可选依赖，nil 表示未启用
type backends struct {
	cache *cache.Manager
	store *database.ReportStore
}

// health 供 /healthz 使用，任一依赖不可用即失败
func (b *backends) health(ctx context.Context) error {
	if b.cache != nil {
		if err := b.cache.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if b.store != nil {
		if err := b.store.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	return nil
}

// logStats 运行结束时记录缓存与连接池统计
func (b *backends) logStats(logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if b.cache != nil {
		stats, err := b.cache.GetStats(ctx)
		if err != nil {
			logger.Warn("failed to read cache stats", zap.Error(err))
		} else {
			logger.Info("search cache stats",
				zap.Uint64("hits", stats.Hits),
				zap.Uint64("misses", stats.Misses),
				zap.Int64("keys", stats.Keys),
				zap.Int64("used_memory", stats.UsedMemory),
				zap.Int("connections", stats.Connections))
		}
	}
	if b.store != nil {
		stats := b.store.Stats()
		logger.Info("report store pool stats",
			zap.Int("open", stats.OpenConnections),
			zap.Int("in_use", stats.InUse),
			zap.Int("idle", stats.Idle),
			zap.Int64("wait_count", stats.WaitCount),
			zap.Duration("wait_duration", stats.WaitDuration))
	}
}
