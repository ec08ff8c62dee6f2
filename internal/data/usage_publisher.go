package data

import (
	"context"
	"encoding/json"
	"fmt"

	"credit-ledger/internal/biz"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
)

// usagePublisher 把用量事件发到 RocketMQ，由 MQConsumerServer 批量写库
type usagePublisher struct {
	mq    rocketmq.Producer
	topic string
	log   *log.Helper
}

// NewUsagePublisher RocketMQ 未启用或生产者初始化失败时返回 nil，用量直接写库
func NewUsagePublisher(data *Data, logger log.Logger) biz.UsagePublisher {
	if data.mq == nil || data.conf == nil || data.conf.Rocketmq == nil {
		return nil
	}
	return &usagePublisher{
		mq:    data.mq,
		topic: data.conf.Rocketmq.Topic,
		log:   log.NewHelper(logger),
	}
}

func (p *usagePublisher) PublishUsage(ctx context.Context, event *biz.UsageEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := primitive.NewMessage(p.topic, body)
	msg.WithKeys([]string{event.EventID})
	msg.WithShardingKey(event.UserID)

	res, err := p.mq.SendSync(ctx, msg)
	if err != nil {
		return err
	}
	if res.Status != primitive.SendOK {
		return fmt.Errorf("send usage event %s: status %d", event.EventID, res.Status)
	}
	p.log.Debugf("usage event sent: event_id=%s, msg_id=%s", event.EventID, res.MsgID)
	return nil
}
