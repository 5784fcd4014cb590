package controllers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"payment-service-api/config"
	"payment-service-api/models"
	"payment-service-api/services"
	"payment-service-api/utils"

	"github.com/gin-gonic/gin"
)

var paymentService *services.PaymentService

// InitPayments wires the payment service used by the payment handlers.
// Called once from main before routes are served.
func InitPayments(svc *services.PaymentService) {
	paymentService = svc
}

type CreatePaymentRequest struct {
	Amount      float64 `json:"amount" binding:"required,gt=0"`
	Currency    string  `json:"currency" binding:"required"`
	Description string  `json:"description" binding:"required"`
}

// CreatePayment creates a pending order, submits it to Pesapal and returns
// the hosted payment page URL the client should redirect to.
func CreatePayment(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, _ := c.Get("userID")

	var user models.User
	if err := config.DB.Where("user_id = ? AND delete_at IS NULL", userID).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		return
	}

	order, redirectURL, err := paymentService.CreateOrder(
		c.Request.Context(),
		&user,
		req.Amount,
		req.Currency,
		utils.SanitizeInput(req.Description),
	)
	if err != nil {
		var perr *services.PesapalError
		if errors.As(err, &perr) {
			c.JSON(http.StatusBadGateway, gin.H{"error": perr.Message})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order":        order,
		"redirect_url": redirectURL,
	})
}

// GetPayments lists the caller's own orders.
func GetPayments(c *gin.Context) {
	userID, _ := c.Get("userID")

	orders, err := paymentService.ListOrdersForUser(c.Request.Context(), userID.(int))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list payments"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payments": orders,
		"total":    len(orders),
	})
}

// GetAllPayments lists every order. Routes gate it behind RequireRole(admin).
func GetAllPayments(c *gin.Context) {
	orders, err := paymentService.ListOrdersForUser(c.Request.Context(), 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list payments"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payments": orders,
		"total":    len(orders),
	})
}

// GetPayment returns a single order with its transactions.
func GetPayment(c *gin.Context) {
	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment ID"})
		return
	}

	userID, _ := c.Get("userID")
	roleID, _ := c.Get("roleID")

	scope := userID.(int)
	if roleID == models.RoleAdmin {
		scope = 0
	}

	order, err := paymentService.GetOrderForUser(c.Request.Context(), orderID, scope)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load payment"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": order})
}

// PaymentIPN handles the gateway's instant payment notification. Pesapal
// expects the notification parameters echoed back with a status field.
func PaymentIPN(c *gin.Context) {
	trackingID := c.Query("OrderTrackingId")
	merchantRef := c.Query("OrderMerchantReference")
	notificationType := c.DefaultQuery("OrderNotificationType", "IPNCHANGE")

	ack := gin.H{
		"orderNotificationType":  notificationType,
		"orderTrackingId":        trackingID,
		"orderMerchantReference": merchantRef,
	}

	if _, err := paymentService.ApplyIPN(c.Request.Context(), trackingID, merchantRef); err != nil {
		log.Printf("ipn for %s failed: %v", merchantRef, err)
		ack["status"] = http.StatusInternalServerError
		c.JSON(http.StatusOK, ack)
		return
	}

	ack["status"] = http.StatusOK
	c.JSON(http.StatusOK, ack)
}

// PaymentCallback is the browser return URL after the hosted payment page.
// It reconciles the order the same way an IPN does and reports the outcome.
func PaymentCallback(c *gin.Context) {
	trackingID := c.Query("OrderTrackingId")
	merchantRef := c.Query("OrderMerchantReference")

	order, err := paymentService.ApplyIPN(c.Request.Context(), trackingID, merchantRef)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Unable to confirm payment status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"merchant_reference": order.MerchantReference,
		"status":             order.Status,
		"amount":             order.Amount,
		"currency":           order.Currency,
	})
}
