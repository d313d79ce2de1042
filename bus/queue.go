package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallnest/kanban/internal/logger"
	"go.uber.org/zap"
)

// EventBus 变更事件总线
//
// Publish never blocks: every subscriber owns a buffered channel and an
// event is dropped for a subscriber whose buffer is full.
type EventBus struct {
	buffer int
	subs   map[string]chan *ChangeEvent
	mu     sync.RWMutex
	closed bool
}

// NewEventBus 创建事件总线
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &EventBus{
		buffer: bufferSize,
		subs:   make(map[string]chan *ChangeEvent),
	}
}

// Publish 发布事件到所有订阅者
func (b *EventBus) Publish(evt *ChangeEvent) error {
	if evt == nil {
		return fmt.Errorf("change event is nil")
	}

	// 设置ID和时间戳
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	for subID, ch := range b.subs {
		// 非阻塞发送，慢订阅者不影响其他订阅者
		select {
		case ch <- evt:
		default:
			logger.Warn("Subscriber channel full, event dropped",
				zap.String("subscription_id", subID),
				zap.String("op", string(evt.Op)),
				zap.Int("entity_id", evt.EntityID))
		}
	}
	return nil
}

// Subscribe 订阅事件，返回订阅ID和只读 channel
// 总线已关闭时返回已关闭的 channel
func (b *EventBus) Subscribe() (string, <-chan *ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan *ChangeEvent)
		close(ch)
		return "", ch
	}

	subID := uuid.New().String()
	ch := make(chan *ChangeEvent, b.buffer)
	b.subs[subID] = ch

	logger.Debug("New event subscriber",
		zap.String("subscription_id", subID),
		zap.Int("total_subscribers", len(b.subs)))
	return subID, ch
}

// Unsubscribe 取消订阅
func (b *EventBus) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[subID]
	if !ok {
		return
	}
	delete(b.subs, subID)
	close(ch)

	logger.Debug("Event subscriber removed",
		zap.String("subscription_id", subID),
		zap.Int("remaining_subscribers", len(b.subs)))
}

// SubscriberCount 当前订阅者数量
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close 关闭总线并关闭所有订阅者的 channel
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	return nil
}

// Errors
var (
	ErrBusClosed = &BusError{Message: "event bus is closed"}
)

// BusError 总线错误
type BusError struct {
	Message string
}

func (e *BusError) Error() string {
	return e.Message
}
