package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"finqa-api/pkg/logger"
)

const (
	DefaultLeaseTTL   = 30 * time.Second
	leasePollInterval = 100 * time.Millisecond
	leaseKeyPrefix    = "lease:dialogue:"
)

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// DialogueLease 跨进程的对话租约：同一对话同一时刻只有一个处理者
//
// 持有期间按 ttl/3 续期；进程崩溃后租约在 ttl 后自动失效。
type DialogueLease struct {
	client *Client
	ttl    time.Duration
	poll   time.Duration
}

// NewDialogueLease ttl<=0 时取 DefaultLeaseTTL
func NewDialogueLease(client *Client, ttl time.Duration) *DialogueLease {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &DialogueLease{client: client, ttl: ttl, poll: leasePollInterval}
}

// LeaseKey 对话租约键
func LeaseKey(dialogueID string) string {
	return leaseKeyPrefix + dialogueID
}

// Lock 轮询获取租约，直到成功或 ctx 结束
func (l *DialogueLease) Lock(ctx context.Context, dialogueID string) (func(), error) {
	ctx, span := tracer.Start(ctx, "lease.Lock")
	defer span.End()
	span.SetAttributes(attribute.String("lease.dialogue_id", dialogueID))

	key := LeaseKey(dialogueID)
	token := uuid.NewString()
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("acquire dialogue lease: %w", err)
		}
		if ok {
			return l.hold(ctx, key, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *DialogueLease) hold(ctx context.Context, key, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(l.ttl / 3)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				n, err := renewScript.Run(context.WithoutCancel(ctx), l.client.rdb, []string{key}, token, l.ttl.Milliseconds()).Int()
				switch {
				case err != nil:
					logger.Warn(ctx, "dialogue lease renewal failed", "key", key, "error", err.Error())
				case n == 0:
					logger.Warn(ctx, "dialogue lease lost before release", "key", key)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { l.release(ctx, key, token, stop, done) })
	}
}

func (l *DialogueLease) release(ctx context.Context, key, token string, stop, done chan struct{}) {
	close(stop)
	<-done
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(rctx, l.client.rdb, []string{key}, token).Err(); err != nil {
		logger.Warn(ctx, "dialogue lease release failed", "key", key, "error", err.Error())
	}
}
