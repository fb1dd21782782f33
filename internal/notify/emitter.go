package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Freeeeeet/tutor_backoffice/internal/model"
	"go.uber.org/zap"
)

// Emitter принимает исходящие события ядра. Вызовы fire-and-forget:
// сервисы эмитят после коммита транзакции и не ждут доставки.
type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

// NotificationStore минимальный интерфейс хранилища уведомлений
type NotificationStore interface {
	Create(ctx context.Context, n *model.Notification) error
}

// LogEmitter пишет события в структурированный лог
type LogEmitter struct {
	logger *zap.Logger
}

func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Emit(_ context.Context, ev Event) error {
	e.logger.Info("Event emitted",
		zap.String("event_id", ev.ID.String()),
		zap.String("type", string(ev.Type)),
		zap.Int64("recipient_id", ev.RecipientID),
		zap.String("recipient", string(ev.Recipient)),
		zap.Any("payload", ev.Payload),
	)
	return nil
}

// StoreEmitter сохраняет события строками в таблицу notifications,
// откуда их забирает внешний сервис доставки
type StoreEmitter struct {
	store NotificationStore
}

func NewStoreEmitter(store NotificationStore) *StoreEmitter {
	return &StoreEmitter{store: store}
}

func (e *StoreEmitter) Emit(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	n := &model.Notification{
		UserID:    ev.RecipientID,
		EventType: string(ev.Type),
		Message:   ev.Message(),
		Payload:   payload,
	}

	if err := e.store.Create(ctx, n); err != nil {
		return fmt.Errorf("store event: %w", err)
	}

	return nil
}

// Multi рассылает событие нескольким эмиттерам, ошибки собирает в одну
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, ev Event) error {
	var firstErr error
	for _, e := range m {
		if err := e.Emit(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Message короткий текст события для строки уведомления.
// Содержимое каналов (шаблоны, локализация) — забота внешнего сервиса.
func (e Event) Message() string {
	switch e.Type {
	case EventLessonScheduled:
		return "Lesson scheduled for " + e.Payload["scheduled_at"]
	case EventLessonCancelled:
		return "Lesson cancelled: " + e.Payload["reason"]
	case EventLessonReminder:
		return "Upcoming lesson reminder"
	case EventGroupLessonRegistered:
		return "Registered for group lesson: " + e.Payload["topic"]
	case EventGroupLessonCancelled:
		return "Group lesson cancelled: " + e.Payload["topic"]
	case EventPackageEndingSoon:
		return "Lesson package is ending soon: " + e.Payload["remaining"] + " left"
	case EventPackageExpired:
		return "Lesson package expired with " + e.Payload["remaining"] + " lessons left"
	default:
		return string(e.Type)
	}
}
