package biz

import (
	"context"
	"strings"

	"credit-ledger/internal/constants"
	"credit-ledger/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// unknownStyle 未指定风格时的统计键
const unknownStyle = "unknown"

// UsageRecorder 用量记录：纯累加的遥测，失败只记日志不影响调用方
type UsageRecorder struct {
	repo      UsageRepo
	publisher UsagePublisher
	now       Clock
	log       *log.Helper
	metrics   *metrics.LedgerMetrics
}

// NewUsageRecorder 创建用量记录器，publisher 为 nil 时直接写存储
func NewUsageRecorder(repo UsageRepo, publisher UsagePublisher, now Clock, logger log.Logger) *UsageRecorder {
	return &UsageRecorder{
		repo:      repo,
		publisher: publisher,
		now:       now,
		log:       log.NewHelper(logger),
		metrics:   metrics.GetMetrics(),
	}
}

// Record 记录一次完成的任务，不返回错误
func (uc *UsageRecorder) Record(ctx context.Context, userID, style string, watermarked bool) {
	if userID == "" {
		uc.log.Warnf("usage record skipped: empty user_id, style=%s", style)
		return
	}
	event := &UsageEvent{
		EventID:     uuid.New().String(),
		UserID:      userID,
		Style:       NormalizeStyle(style),
		Watermarked: watermarked,
		OccurredAt:  uc.now().UTC(),
	}

	if uc.publisher != nil {
		err := uc.publisher.PublishUsage(ctx, event)
		if err == nil {
			uc.observe(constants.UsagePathQueue, constants.ResultOK)
			return
		}
		// 投递失败回退为直接写
		uc.observe(constants.UsagePathQueue, constants.ResultError)
		uc.log.Warnf("publish usage event failed, writing directly: event_id=%s, user=%s, err=%v", event.EventID, userID, err)
	}
	_ = uc.Apply(ctx, event)
}

// Apply 把事件写入存储；MQ 消费者根据返回值决定是否重投
func (uc *UsageRecorder) Apply(ctx context.Context, event *UsageEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = uc.now().UTC()
	}
	event.Style = NormalizeStyle(event.Style)

	if err := uc.repo.RecordUsage(ctx, event); err != nil {
		uc.observe(constants.UsagePathDirect, constants.ResultError)
		uc.log.Errorf("record usage failed: event_id=%s, user=%s, style=%s, watermarked=%v, err=%v",
			event.EventID, event.UserID, event.Style, event.Watermarked, err)
		return err
	}
	uc.observe(constants.UsagePathDirect, constants.ResultOK)
	return nil
}

// Stats 全局用量统计
func (uc *UsageRecorder) Stats(ctx context.Context) (*GlobalUsageStats, error) {
	stats, err := uc.repo.GetUsageStats(ctx)
	if err != nil {
		return nil, err
	}
	if stats.StyleCounts == nil {
		stats.StyleCounts = map[string]int64{}
	}
	return stats, nil
}

func (uc *UsageRecorder) observe(path, result string) {
	if uc.metrics != nil {
		uc.metrics.UsageRecordTotal.WithLabelValues(path, result).Inc()
	}
}

// NormalizeStyle 风格名去空白并小写，空值记为 unknown
// 风格名会作为文档字段名，'.' 换成 '_'，去掉开头的 '$'
func NormalizeStyle(style string) string {
	style = strings.ToLower(strings.TrimSpace(style))
	style = strings.TrimLeft(strings.ReplaceAll(style, ".", "_"), "$")
	if style == "" {
		return unknownStyle
	}
	return style
}
