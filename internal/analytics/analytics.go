// Package analytics 点击事件的异步记录
// 点击记录不在重定向的关键路径上：失败只记日志与指标，不影响响应
package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/yourname/smartqr-redirect/internal/cache"
	"github.com/yourname/smartqr-redirect/internal/model"
)

// DefaultWriteTimeout 单条事件写入超时
const DefaultWriteTimeout = 5 * time.Second

var clickEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "click_events_total",
		Help: "点击事件记录结果",
	},
	[]string{"result"}, // recorded / failed
)

// Recorder 点击事件持久化
type Recorder interface {
	RecordClick(ctx context.Context, ev *model.ClickEvent) error
}

// Dispatcher 在后台 goroutine 中记录点击事件并累加 clicks:{code} 计数器
type Dispatcher struct {
	recorder Recorder
	cache    *cache.Layer
	timeout  time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewDispatcher 创建 Dispatcher，layer 可为 nil（不维护计数器）
func NewDispatcher(recorder Recorder, layer *cache.Layer, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &Dispatcher{
		recorder: recorder,
		cache:    layer,
		timeout:  timeout,
		logger:   logger,
	}
}

// Dispatch 立即返回，事件在后台写入
// 使用独立的 context：请求结束后写入仍需完成
func (d *Dispatcher) Dispatch(ev model.ClickEvent) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if d.cache != nil {
			d.cache.IncrementCounter(ctx, cache.ClicksKey(ev.ShortCode))
		}

		if err := d.recorder.RecordClick(ctx, &ev); err != nil {
			clickEventsTotal.WithLabelValues("failed").Inc()
			d.logger.Error("记录点击事件失败",
				zap.String("short_code", ev.ShortCode),
				zap.Error(err),
			)
			return
		}
		clickEventsTotal.WithLabelValues("recorded").Inc()
	}()
}

// Wait 等待进行中的写入完成，优雅关闭时调用
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
