package models

const (
	// DateLayout формат дат заезда/выезда и дат календаря
	DateLayout = "2006-01-02"

	// ServiceFeePercent сервисный сбор платформы, процент от стоимости проживания
	ServiceFeePercent = 10

	// ReviewSNSCreditAward бонус за отзыв, опубликованный в соцсетях
	ReviewSNSCreditAward = 1000

	// MinRejectReasonLength минимальная длина причины отказа хоста
	MinRejectReasonLength = 10

	// DefaultGatewayTimeout таймаут запросов к платежному шлюзу в секундах
	DefaultGatewayTimeout = 12

	// DefaultConfirmLockTTL время жизни блокировки подтверждения платежа в секундах
	DefaultConfirmLockTTL = 30

	// DefaultCheckoutSessionTTL время жизни checkout-сессии в Redis в секундах
	DefaultCheckoutSessionTTL = 30 * 60

	// BookingRateLimit количество созданий бронирований на гостя в окне
	BookingRateLimit = 10

	// BookingRateLimitWindow окно ограничения создания бронирований в секундах
	BookingRateLimitWindow = 60

	// WorkerQueueSize размер очереди воркера уведомлений
	WorkerQueueSize = 128
)
