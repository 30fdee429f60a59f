// Package model содержит доменные сущности сервиса packpool.
package model

import "time"

// User представляет зарегистрированного участника накопительных кругов.
type User struct {
	ID            int64
	Name          string
	Email         string
	Phone         string
	PasswordHash  []byte
	AccountNumber string
	AccountName   string
	CreatedAt     time.Time
}

// HasPayoutDestination сообщает, указаны ли у пользователя реквизиты для выплаты.
func (u *User) HasPayoutDestination() bool {
	return u.AccountNumber != "" && u.AccountName != ""
}

// PackStatus описывает статус накопительного круга.
type PackStatus string

const (
	PackStatusActive    PackStatus = "ACTIVE"
	PackStatusCompleted PackStatus = "COMPLETED"
	PackStatusInactive  PackStatus = "INACTIVE"
)

// Pack описывает накопительный круг: фиксированный взнос, целевая сумма
// и счётчики текущего раунда. Инвариант: Contribution * TotalMembers == TargetAmount.
// Все суммы хранятся в кобо.
type Pack struct {
	ID                   int64
	Name                 string
	Contribution         int64
	TargetAmount         int64
	TotalMembers         int
	CurrentRound         int
	CurrentContributions int64
	TotalContributions   int64
	Status               PackStatus
	CreatedBy            int64
	CreatedAt            time.Time
}

// Member описывает участие пользователя в круге. Order — позиция в очереди
// выплат, плотная нумерация 1..N внутри круга. Флаги относятся только к
// текущему раунду и сбрасываются при его смене.
type Member struct {
	ID             int64
	PackID         int64
	UserID         int64
	Order          int
	HasContributed bool
	HasReceived    bool
	JoinedAt       time.Time
}

// PaymentType различает входящий взнос и исходящую выплату.
type PaymentType string

const (
	PaymentTypeContribution PaymentType = "CONTRIBUTION"
	PaymentTypePayout       PaymentType = "PAYOUT"
)

// PaymentStatus описывает состояние платежа. Переход из PENDING выполняется
// ровно один раз, каким бы каналом подтверждение ни пришло первым.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// Payment описывает одну попытку перевода денег. FlutterRef — уникальная
// ссылка для корреляции транзакции с платёжным шлюзом.
type Payment struct {
	ID         int64
	MemberID   int64
	UserID     int64
	Amount     int64
	Type       PaymentType
	Status     PaymentStatus
	FlutterRef string
	CreatedAt  time.Time
}
