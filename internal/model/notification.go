package model

import "time"

// Notification сохранённое исходящее событие для пользователя. Доставкой
// (email, Telegram, in-app) занимается внешний сервис — ядро только пишет
// строки через notify.StoreEmitter.
type Notification struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	EventType string     `json:"event_type"`
	Message   string     `json:"message"`
	Payload   []byte     `json:"payload"` // JSON события
	Read      bool       `json:"read"`
	ReadAt    *time.Time `json:"read_at"`
	CreatedAt time.Time  `json:"created_at"`
}
