package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"payment-service-api/config"
	"payment-service-api/models"
	"payment-service-api/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrOrderNotFound is returned when no live order matches the reference.
var ErrOrderNotFound = errors.New("payment order not found")

var supportedCurrencies = map[string]bool{
	"KES": true,
	"UGX": true,
	"TZS": true,
	"USD": true,
}

// PaymentService drives the checkout workflow: create an order, hand it to
// Pesapal, and reconcile its status when the gateway sends an IPN.
type PaymentService struct {
	db          *gorm.DB
	gateway     *PesapalService
	callbackURL string
	ipnURL      string

	mu    sync.Mutex
	ipnID string
}

// NewPaymentService constructs a PaymentService. A nil db falls back to the
// shared connection.
func NewPaymentService(db *gorm.DB, gateway *PesapalService, env config.Env) *PaymentService {
	if db == nil {
		db = config.DB
	}
	return &PaymentService{
		db:          db,
		gateway:     gateway,
		callbackURL: env.Get("PESAPAL_CALLBACK_URL"),
		ipnURL:      env.Get("PESAPAL_IPN_URL"),
	}
}

// ensureIPN lazily registers the IPN URL with the gateway, once.
func (s *PaymentService) ensureIPN(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ipnID != "" {
		return s.ipnID, nil
	}
	if s.ipnURL == "" {
		return "", errors.New("PESAPAL_IPN_URL not configured")
	}

	ipnID, err := s.gateway.RegisterIPN(ctx, s.ipnURL)
	if err != nil {
		return "", err
	}
	s.ipnID = ipnID
	return ipnID, nil
}

// CreateOrder persists a pending order, submits it to Pesapal and returns
// the order together with the hosted-page redirect URL.
func (s *PaymentService) CreateOrder(ctx context.Context, user *models.User, amount float64, currency, description string) (*models.PaymentOrder, string, error) {
	if user == nil {
		return nil, "", errors.New("user is required")
	}
	if amount <= 0 {
		return nil, "", fmt.Errorf("invalid amount %.2f", amount)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if !supportedCurrencies[currency] {
		return nil, "", fmt.Errorf("unsupported currency %q", currency)
	}
	// Pesapal rejects orders whose billing address has no usable email
	if !utils.ValidateEmail(user.Email) {
		return nil, "", fmt.Errorf("user %d has no valid billing email", user.UserID)
	}

	ipnID, err := s.ensureIPN(ctx)
	if err != nil {
		return nil, "", err
	}

	now := time.Now()
	order := &models.PaymentOrder{
		MerchantReference: uuid.NewString(),
		UserID:            user.UserID,
		Amount:            amount,
		Currency:          currency,
		Description:       description,
		Status:            models.OrderStatusPending,
		CreateAt:          &now,
		UpdateAt:          &now,
	}

	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, "", fmt.Errorf("persist payment order: %w", err)
	}

	phone := ""
	if user.Phone != nil {
		phone = *user.Phone
	}

	resp, err := s.gateway.SubmitOrder(ctx, OrderRequest{
		ID:             order.MerchantReference,
		Currency:       currency,
		Amount:         amount,
		Description:    description,
		CallbackURL:    s.callbackURL,
		NotificationID: ipnID,
		BillingAddress: BillingAddress{
			EmailAddress: user.Email,
			PhoneNumber:  phone,
			FirstName:    user.UserFname,
			LastName:     user.UserLname,
		},
	})
	if err != nil {
		// Keep the pending row for reconciliation; the customer never
		// reached the payment page.
		return nil, "", err
	}

	updates := map[string]interface{}{
		"order_tracking_id": resp.OrderTrackingID,
		"update_at":         time.Now(),
	}
	if err := s.db.WithContext(ctx).Model(order).Updates(updates).Error; err != nil {
		return nil, "", fmt.Errorf("record order tracking id: %w", err)
	}
	order.OrderTrackingID = &resp.OrderTrackingID

	return order, resp.RedirectURL, nil
}

// ApplyIPN reconciles an order after Pesapal signals a status change. The
// gateway is re-queried rather than trusting the callback parameters.
// Repeated IPNs for an already-final order are acknowledged without writing.
func (s *PaymentService) ApplyIPN(ctx context.Context, orderTrackingID, merchantReference string) (*models.PaymentOrder, error) {
	if orderTrackingID == "" || merchantReference == "" {
		return nil, errors.New("order tracking id and merchant reference are required")
	}

	var order models.PaymentOrder
	err := s.db.WithContext(ctx).Preload("User").
		Where("merchant_reference = ? AND delete_at IS NULL", merchantReference).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("load payment order: %w", err)
	}

	if order.IsFinal() {
		return &order, nil
	}

	status, err := s.gateway.GetTransactionStatus(ctx, orderTrackingID)
	if err != nil {
		return nil, err
	}

	newStatus := models.StatusFromCode(status.StatusCode)

	// A dropped IPN connection must not abort the reconciliation writes.
	dbCtx := persistentContext(ctx)

	now := time.Now()
	txn := &models.PaymentTransaction{
		OrderID:          order.OrderID,
		OrderTrackingID:  orderTrackingID,
		StatusCode:       status.StatusCode,
		PaymentStatus:    status.PaymentStatusDescription,
		PaymentMethod:    status.PaymentMethod,
		ConfirmationCode: status.ConfirmationCode,
		PaymentAccount:   status.PaymentAccount,
		Amount:           status.Amount,
		Currency:         status.Currency,
		CreateAt:         &now,
	}
	if paidAt, err := time.Parse(time.RFC3339, status.CreatedDate); err == nil {
		txn.PaidAt = &paidAt
	}

	if err := s.db.WithContext(dbCtx).Create(txn).Error; err != nil {
		return nil, fmt.Errorf("record payment transaction: %w", err)
	}

	updates := map[string]interface{}{
		"status":            newStatus,
		"confirmation_code": status.ConfirmationCode,
		"payment_method":    status.PaymentMethod,
		"update_at":         now,
	}
	if err := s.db.WithContext(dbCtx).Model(&order).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update payment order: %w", err)
	}

	order.Status = newStatus
	order.ConfirmationCode = &status.ConfirmationCode
	order.PaymentMethod = &status.PaymentMethod
	order.UpdateAt = &now

	if newStatus == models.OrderStatusCompleted {
		s.sendReceipt(&order)
	}

	return &order, nil
}

// GetOrderForUser loads one order scoped to its owner. Admins pass userID 0
// to skip the ownership check.
func (s *PaymentService) GetOrderForUser(ctx context.Context, orderID, userID int) (*models.PaymentOrder, error) {
	query := s.db.WithContext(ctx).Preload("Transactions").
		Where("order_id = ? AND delete_at IS NULL", orderID)
	if userID != 0 {
		query = query.Where("user_id = ?", userID)
	}

	var order models.PaymentOrder
	if err := query.First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("load payment order: %w", err)
	}
	return &order, nil
}

// ListOrdersForUser returns a user's orders, newest first. Admins pass
// userID 0 for all orders.
func (s *PaymentService) ListOrdersForUser(ctx context.Context, userID int) ([]models.PaymentOrder, error) {
	query := s.db.WithContext(ctx).Where("delete_at IS NULL").Order("order_id DESC")
	if userID != 0 {
		query = query.Where("user_id = ?", userID)
	}

	var orders []models.PaymentOrder
	if err := query.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("list payment orders: %w", err)
	}
	return orders, nil
}

// sendReceipt mails a payment confirmation. Best effort.
func (s *PaymentService) sendReceipt(order *models.PaymentOrder) {
	if order.User.Email == "" {
		return
	}

	confirmation := ""
	if order.ConfirmationCode != nil {
		confirmation = *order.ConfirmationCode
	}

	html := fmt.Sprintf(
		"<p>Dear %s,</p><p>We received your payment of %.2f %s.</p><p>Confirmation code: %s</p>",
		order.User.FullName(), order.Amount, order.Currency, confirmation,
	)

	if err := config.SendMail([]string{order.User.Email}, "Payment received", html); err != nil {
		log.Printf("failed to send receipt for order %d: %v", order.OrderID, err)
	}
}
