package training

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/knowledgeflow/store"
)

// Worker 队列工作循环: 只有没有训练在跑时才扫描 queued,
// 取最近更新的知识库启动训练. 单飞约束由存储层 CAS 保证,
// 多副本同时跑 Worker 也不会并发训练.
type Worker struct {
	orchestrator *Orchestrator
	store        *store.Store
	interval     time.Duration
	logger       *zap.Logger
}

// NewWorker 创建队列工作者. interval 为轮询间隔, 0 取 5s.
func NewWorker(orchestrator *Orchestrator, st *store.Store, interval time.Duration, logger *zap.Logger) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		orchestrator: orchestrator,
		store:        st,
		interval:     interval,
		logger:       logger.With(zap.String("component", "training_worker")),
	}
}

// Run 阻塞运行直到 ctx 取消.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("training worker started",
		zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("training worker stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick 处理一轮: 至多启动一个训练.
func (w *Worker) tick(ctx context.Context) {
	kb, err := w.store.NextQueued(ctx)
	if err != nil {
		w.logger.Error("queue scan failed", zap.Error(err))
		return
	}
	if kb == nil {
		return
	}

	result, err := w.orchestrator.Train(ctx, kb.ID)
	if err != nil {
		// 槽位被别的副本抢走属于正常竞争, 不按错误告警
		if errors.Is(err, ErrSlotUnavailable) {
			w.logger.Debug("training slot taken by another worker",
				zap.String("knowledge_base_id", kb.ID))
			return
		}
		w.logger.Error("training run failed to start",
			zap.String("knowledge_base_id", kb.ID), zap.Error(err))
		return
	}

	w.logger.Info("queued training completed",
		zap.String("knowledge_base_id", kb.ID),
		zap.Bool("success", result.Success),
		zap.Int("documents", result.DocumentCount))
}
