package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"finqa-api/pkg/logger"
	"finqa-api/pkg/metrics"
)

const (
	readBatch    = 10
	pendingBatch = 20
)

var errRetriesExhausted = errors.New("message exceeded max retries")

// MessageHandler 消息处理函数；返回错误时消息留在 pending 中等待重投
type MessageHandler func(ctx context.Context, msg *Message) error

// Consumer Redis Streams 消费者
//
// 失败的消息不立即重试：由下一轮 pending 扫描在退避时间过后重新认领，
// 投递次数达到上限后写入死信流并确认。
type Consumer struct {
	client        redis.UniversalClient
	stream        Stream
	group         ConsumerGroup
	consumerName  string
	blockTimeout  time.Duration
	claimInterval time.Duration
	reclaimIdle   time.Duration
	retryLimit    int
	backoff       BackoffConfig

	handlers map[string]MessageHandler
	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	done     chan struct{}
}

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Stream        Stream
	Group         ConsumerGroup
	ConsumerName  string
	BlockTimeout  time.Duration
	ClaimInterval time.Duration
	RetryLimit    int
	Backoff       BackoffConfig
}

// NewConsumer 创建消息消费者
func NewConsumer(client redis.UniversalClient, cfg ConsumerConfig) *Consumer {
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = 30 * time.Second
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = DefaultBackoffConfig()
	}

	return &Consumer{
		client:        client,
		stream:        cfg.Stream,
		group:         cfg.Group,
		consumerName:  cfg.ConsumerName,
		blockTimeout:  cfg.BlockTimeout,
		claimInterval: cfg.ClaimInterval,
		// 一个问题任务可能跑数分钟，过早认领会导致同一任务被两个 worker 同时处理
		reclaimIdle: max(5*time.Minute, cfg.Backoff.Max*2),
		retryLimit:  cfg.RetryLimit,
		backoff:     cfg.Backoff,
		handlers:    make(map[string]MessageHandler),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// RegisterHandler 注册消息处理器
func (c *Consumer) RegisterHandler(msgType string, handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = handler
}

// Start 确保消费者组存在并在后台开始消费
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer already running")
	}
	c.running = true
	c.mu.Unlock()

	err := c.client.XGroupCreateMkStream(ctx, string(c.stream), string(c.group), "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	go func() {
		defer close(c.done)
		c.run(ctx)
	}()
	return nil
}

// Stop 停止拉取新消息，并等待正在处理的消息结束
func (c *Consumer) Stop() {
	c.mu.Lock()
	wasRunning := c.running
	if wasRunning {
		close(c.stopCh)
		c.running = false
	}
	c.mu.Unlock()

	if wasRunning {
		<-c.done
	}
}

func (c *Consumer) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Consumer) run(ctx context.Context) {
	logger.Info(ctx, "consumer started",
		"stream", string(c.stream),
		"group", string(c.group),
		"consumer", c.consumerName,
	)
	defer logger.Info(ctx, "consumer stopped", "stream", string(c.stream))

	lastReclaim := time.Now().Add(-c.claimInterval)

	for !c.stopped(ctx) {
		c.sweepPending(ctx, false)
		if time.Since(lastReclaim) >= c.claimInterval {
			c.sweepPending(ctx, true)
			lastReclaim = time.Now()
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    string(c.group),
			Consumer: c.consumerName,
			Streams:  []string{string(c.stream), ">"},
			Count:    readBatch,
			Block:    c.blockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			logger.Error(ctx, "failed to read from stream", err, "stream", string(c.stream))
			time.Sleep(time.Second)
			continue
		}

		for _, s := range streams {
			for _, xmsg := range s.Messages {
				c.processMessage(ctx, xmsg)
			}
		}
	}
}

// decodeMessage 解析流条目中 data 字段承载的 Message
func decodeMessage(xmsg redis.XMessage) (*Message, error) {
	raw, ok := xmsg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("stream entry %s has no data field", xmsg.ID)
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("stream entry %s: %w", xmsg.ID, err)
	}
	return &msg, nil
}

// messageContext 把生产端透传的标识放回日志上下文
func messageContext(ctx context.Context, msg *Message) context.Context {
	if msg.DialogueID != "" {
		ctx = logger.WithContext(ctx, logger.DialogueIDKey, msg.DialogueID)
	}
	if v := msg.GetMetadata("request_id"); v != "" {
		ctx = logger.WithContext(ctx, logger.RequestIDKey, v)
	}
	if v := msg.GetMetadata("trace_id"); v != "" {
		ctx = logger.WithContext(ctx, logger.TraceIDKey, v)
	}
	return ctx
}

func (c *Consumer) processMessage(ctx context.Context, xmsg redis.XMessage) {
	ctx, span := tracer.Start(ctx, "consumer.processMessage",
		trace.WithAttributes(
			attribute.String("stream", string(c.stream)),
			attribute.String("stream.message_id", xmsg.ID),
		))
	defer span.End()

	msg, err := decodeMessage(xmsg)
	if err != nil {
		// 无法解析的消息重投也不会成功
		logger.Error(ctx, "dropping malformed message", err)
		c.record("skipped")
		c.ack(ctx, xmsg.ID)
		return
	}

	ctx = messageContext(ctx, msg)
	span.SetAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("message.type", msg.Type),
		attribute.String("dialogue_id", msg.DialogueID),
	)

	c.mu.RLock()
	handler, ok := c.handlers[msg.Type]
	c.mu.RUnlock()
	if !ok {
		logger.Warn(ctx, "no handler for message type", "type", msg.Type, "message_id", msg.ID)
		c.record("skipped")
		c.ack(ctx, xmsg.ID)
		return
	}

	if err := handler(ctx, msg); err != nil {
		span.RecordError(err)
		logger.Error(ctx, "handler failed", err, "message_id", msg.ID)
		c.record("failed")
		c.handleFailure(ctx, xmsg.ID, msg, err)
		return
	}

	c.record("ok")
	c.ack(ctx, xmsg.ID)
}

func (c *Consumer) record(status string) {
	metrics.RedisStreamProcessed.WithLabelValues(string(c.stream), status).Inc()
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, string(c.stream), string(c.group), id).Err(); err != nil {
		logger.Error(ctx, "failed to ack message", err, "message_id", id)
	}
}

// handleFailure 投递次数耗尽时转入死信流，否则留在 pending 等待退避后重投
func (c *Consumer) handleFailure(ctx context.Context, entryID string, msg *Message, err error) {
	deliveries := c.deliveryCount(ctx, entryID)
	if deliveries >= c.retryLimit {
		logger.Warn(ctx, "message moved to DLQ after max retries",
			"message_id", msg.ID,
			"deliveries", deliveries,
		)
		c.deadLetter(ctx, entryID, msg, err)
		return
	}
	logger.Info(ctx, "message left pending for retry",
		"message_id", msg.ID,
		"deliveries", deliveries,
	)
}

// deliveryCount XPENDING 中记录的投递次数
func (c *Consumer) deliveryCount(ctx context.Context, entryID string) int {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: string(c.stream),
		Group:  string(c.group),
		Start:  entryID,
		End:    entryID,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 0
	}
	return int(pending[0].RetryCount)
}

// deadLetter 写入死信流后确认原消息；写入失败时保留 pending 以免丢失
func (c *Consumer) deadLetter(ctx context.Context, entryID string, msg *Message, cause error) {
	data, _ := json.Marshal(map[string]any{
		"original_stream": string(c.stream),
		"data":            msg,
		"error":           cause.Error(),
		"failed_at":       time.Now().Unix(),
	})
	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream.DLQStream(),
		Values: map[string]any{"data": string(data)},
	}).Err(); err != nil {
		logger.Error(ctx, "failed to write DLQ", err, "message_id", msg.ID)
		return
	}
	c.record("dlq")
	c.ack(ctx, entryID)
}

// claimAction pending 条目在本轮扫描中的去向
type claimAction int

const (
	claimSkip claimAction = iota
	claimRetry
	claimDeadLetter
)

// planClaim 决定 pending 条目的处理方式
//
// stale=false 扫描本消费者的条目，按投递次数计算退避；
// stale=true 只认领其他消费者闲置超过 reclaimIdle 的条目（宕机的 worker）。
func (c *Consumer) planClaim(p redis.XPendingExt, stale bool) (claimAction, time.Duration) {
	if stale {
		if p.Consumer == c.consumerName || p.Idle < c.reclaimIdle {
			return claimSkip, 0
		}
		if int(p.RetryCount) >= c.retryLimit {
			return claimDeadLetter, c.reclaimIdle
		}
		return claimRetry, c.reclaimIdle
	}

	if int(p.RetryCount) >= c.retryLimit {
		return claimDeadLetter, 0
	}
	wait := c.backoff.CalculateBackoff(int(p.RetryCount))
	if p.Idle < wait {
		return claimSkip, 0
	}
	return claimRetry, wait
}

func (c *Consumer) sweepPending(ctx context.Context, stale bool) {
	args := &redis.XPendingExtArgs{
		Stream: string(c.stream),
		Group:  string(c.group),
		Start:  "-",
		End:    "+",
		Count:  pendingBatch,
	}
	if !stale {
		args.Consumer = c.consumerName
	}

	pending, err := c.client.XPendingExt(ctx, args).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			logger.Error(ctx, "failed to query pending messages", err, "stale", stale)
		}
		return
	}

	for _, p := range pending {
		if c.stopped(ctx) {
			return
		}
		action, minIdle := c.planClaim(p, stale)
		if action == claimSkip {
			continue
		}

		claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   string(c.stream),
			Group:    string(c.group),
			Consumer: c.consumerName,
			MinIdle:  minIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			logger.Error(ctx, "failed to claim pending message", err, "message_id", p.ID)
			continue
		}

		for _, xmsg := range claimed {
			if action == claimRetry {
				c.processMessage(ctx, xmsg)
				continue
			}
			msg, err := decodeMessage(xmsg)
			if err != nil {
				c.ack(ctx, xmsg.ID)
				continue
			}
			c.deadLetter(ctx, xmsg.ID, msg, errRetriesExhausted)
		}
	}
}

// MonitorDLQ 定期检查死信流长度，超过阈值时告警
func (c *Consumer) MonitorDLQ(ctx context.Context, alertThreshold int64) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	dlq := c.stream.DLQStream()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			info, err := c.client.XInfoStream(ctx, dlq).Result()
			if err != nil {
				continue
			}
			metrics.RedisStreamDLQLength.WithLabelValues(string(c.stream)).Set(float64(info.Length))
			if info.Length > alertThreshold {
				logger.Warn(ctx, "DLQ has pending messages", "stream", dlq, "count", info.Length)
			}
		}
	}
}
