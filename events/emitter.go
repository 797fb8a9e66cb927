// Package events 合并请求生命周期事件的发布
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// 事件类型
const (
	MergeRequestCreated   = "merge_request.created"
	MergeRequestSubmitted = "merge_request.submitted"
	MergeRequestConflict  = "merge_request.conflict"
	MergeRequestApproved  = "merge_request.approved"
	MergeRequestRejected  = "merge_request.rejected"
	MergeRequestCancelled = "merge_request.cancelled"
)

// Event 合并请求生命周期事件
type Event struct {
	EventType      string    `json:"event_type"`
	MergeRequestID string    `json:"merge_request_id"`
	DatasetID      string    `json:"dataset_id"`
	SourceBranchID string    `json:"source_branch_id"`
	TargetBranchID string    `json:"target_branch_id"`
	Status         string    `json:"status"`
	ActorID        string    `json:"actor_id"`
	ChangeCount    int       `json:"change_count,omitempty"`
	ConflictCount  int       `json:"conflict_count,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Emitter 在所属事务提交之后发布事件
type Emitter interface {
	Emit(ctx context.Context, event Event) error
	Close() error
}

// NopEmitter 丢弃所有事件，未启用 Kafka 时使用
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Event) error { return nil }
func (NopEmitter) Close() error                      { return nil }

// KafkaConfig Kafka 生产者配置
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// KafkaEmitter 以合并请求 id 为 key 写入 Kafka topic
type KafkaEmitter struct {
	writer *kafka.Writer
	topic  string
	logger *zap.Logger
}

// NewKafkaEmitter 创建 Kafka 发布器，BatchTimeout 为空时取 50ms
func NewKafkaEmitter(cfg KafkaConfig, logger *zap.Logger) *KafkaEmitter {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout == 0 {
		batchTimeout = 50 * time.Millisecond
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaEmitter{writer: writer, topic: cfg.Topic, logger: logger}
}

func (e *KafkaEmitter) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: e.topic,
		Key:   []byte(event.MergeRequestID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "dataset_id", Value: []byte(event.DatasetID)},
		},
	}
	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		e.logger.Error("failed to publish merge request event", zap.String("event_type", event.EventType), zap.String("merge_request_id", event.MergeRequestID), zap.Error(err))
		return err
	}

	e.logger.Debug("published merge request event", zap.String("event_type", event.EventType), zap.String("merge_request_id", event.MergeRequestID))
	return nil
}

func (e *KafkaEmitter) Close() error {
	return e.writer.Close()
}
