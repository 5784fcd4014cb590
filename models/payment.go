package models

import (
	"time"
)

// Order statuses. Mirrors the Pesapal status_code mapping:
// 0 = INVALID, 1 = COMPLETED, 2 = FAILED, 3 = REVERSED.
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusFailed    = "failed"
	OrderStatusReversed  = "reversed"
	OrderStatusInvalid   = "invalid"
)

// PaymentOrder represents the payment_orders table. One row per checkout
// attempt; MerchantReference is the ID we hand to Pesapal, OrderTrackingID
// is the ID Pesapal hands back.
type PaymentOrder struct {
	OrderID           int        `gorm:"primaryKey;column:order_id" json:"order_id"`
	MerchantReference string     `gorm:"column:merchant_reference;unique" json:"merchant_reference"`
	OrderTrackingID   *string    `gorm:"column:order_tracking_id" json:"order_tracking_id,omitempty"`
	UserID            int        `gorm:"column:user_id" json:"user_id"`
	Amount            float64    `gorm:"column:amount" json:"amount"`
	Currency          string     `gorm:"column:currency" json:"currency"`
	Description       string     `gorm:"column:description" json:"description"`
	Status            string     `gorm:"column:status" json:"status"`
	ConfirmationCode  *string    `gorm:"column:confirmation_code" json:"confirmation_code,omitempty"`
	PaymentMethod     *string    `gorm:"column:payment_method" json:"payment_method,omitempty"`
	CreateAt          *time.Time `gorm:"column:create_at" json:"create_at"`
	UpdateAt          *time.Time `gorm:"column:update_at" json:"update_at"`
	DeleteAt          *time.Time `gorm:"column:delete_at" json:"delete_at,omitempty"`

	// Relations
	User         User                 `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Transactions []PaymentTransaction `gorm:"foreignKey:OrderID" json:"transactions,omitempty"`
}

// PaymentTransaction represents the payment_transactions table. One row per
// gateway status snapshot taken while handling an IPN; once the order is
// final, further IPNs are acknowledged without adding rows.
type PaymentTransaction struct {
	TransactionID    int        `gorm:"primaryKey;column:transaction_id" json:"transaction_id"`
	OrderID          int        `gorm:"column:order_id" json:"order_id"`
	OrderTrackingID  string     `gorm:"column:order_tracking_id" json:"order_tracking_id"`
	StatusCode       int        `gorm:"column:status_code" json:"status_code"`
	PaymentStatus    string     `gorm:"column:payment_status" json:"payment_status"`
	PaymentMethod    string     `gorm:"column:payment_method" json:"payment_method"`
	ConfirmationCode string     `gorm:"column:confirmation_code" json:"confirmation_code"`
	PaymentAccount   string     `gorm:"column:payment_account" json:"payment_account"`
	Amount           float64    `gorm:"column:amount" json:"amount"`
	Currency         string     `gorm:"column:currency" json:"currency"`
	PaidAt           *time.Time `gorm:"column:paid_at" json:"paid_at,omitempty"`
	CreateAt         *time.Time `gorm:"column:create_at" json:"create_at"`
}

func (PaymentOrder) TableName() string {
	return "payment_orders"
}

func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}

// StatusFromCode maps a Pesapal status_code to an order status.
func StatusFromCode(code int) string {
	switch code {
	case 1:
		return OrderStatusCompleted
	case 2:
		return OrderStatusFailed
	case 3:
		return OrderStatusReversed
	default:
		return OrderStatusInvalid
	}
}

// IsFinal reports whether the order has reached a terminal status.
func (o *PaymentOrder) IsFinal() bool {
	switch o.Status {
	case OrderStatusCompleted, OrderStatusFailed, OrderStatusReversed:
		return true
	}
	return false
}
