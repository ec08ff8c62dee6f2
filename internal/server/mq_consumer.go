package server

import (
	"context"
	"encoding/json"

	"credit-ledger/internal/biz"
	"credit-ledger/internal/conf"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
)

// MQConsumerServer 消费 RocketMQ 中的用量事件并写入存储
type MQConsumerServer struct {
	c        rocketmq.PushConsumer
	recorder *biz.UsageRecorder
	conf     *conf.Data
	log      *log.Helper
	enabled  bool
}

// NewMQConsumerServer 创建用量事件消费者，未启用 RocketMQ 时为空实现
func NewMQConsumerServer(c *conf.Data, recorder *biz.UsageRecorder, logger log.Logger) *MQConsumerServer {
	s := &MQConsumerServer{
		recorder: recorder,
		conf:     c,
		log:      log.NewHelper(logger),
	}
	if c == nil || c.Rocketmq == nil || !c.Rocketmq.Enabled {
		return s
	}

	r, err := rocketmq.NewPushConsumer(
		consumer.WithNsResolver(primitive.NewPassthroughResolver(c.Rocketmq.NameServers)),
		consumer.WithGroupName(c.Rocketmq.GroupName),
		consumer.WithRetry(int(c.Rocketmq.RetryTimes)),
		consumer.WithConsumeMessageBatchMaxSize(32),
	)
	if err != nil {
		s.log.Errorf("init usage consumer error: %v", err)
		return s
	}
	s.c = r
	s.enabled = true
	return s
}

// Start 订阅用量 topic
func (s *MQConsumerServer) Start(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		s.log.Infof("MQConsumerServer is disabled, skipping startup")
		return nil
	}

	s.log.Infof("Starting MQConsumerServer, topic: %s", s.conf.Rocketmq.Topic)

	if err := s.c.Subscribe(s.conf.Rocketmq.Topic, consumer.MessageSelector{}, s.handler); err != nil {
		// 不返回错误，用量发布失败时会直接写库
		s.log.Errorf("Failed to subscribe to topic %s: %v", s.conf.Rocketmq.Topic, err)
		return nil
	}
	if err := s.c.Start(); err != nil {
		s.log.Errorf("Failed to start RocketMQ consumer: %v", err)
		return nil
	}
	return nil
}

// Stop 停止消费
func (s *MQConsumerServer) Stop(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		return nil
	}
	s.log.Info("Stopping MQConsumerServer")
	return s.c.Shutdown()
}

// handler 逐条写入；任一条失败整批重投（用量统计允许至少一次）
func (s *MQConsumerServer) handler(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
	for _, msg := range msgs {
		var event biz.UsageEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			s.log.Errorf("Unmarshal usage event failed: %v, body: %s", err, string(msg.Body))
			continue
		}
		if err := s.recorder.Apply(ctx, &event); err != nil {
			s.log.Errorf("apply usage event failed: event_id=%s, err=%v", event.EventID, err)
			return consumer.ConsumeRetryLater, nil
		}
	}
	return consumer.ConsumeSuccess, nil
}
