package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"payment-service-api/config"
)

const (
	pesapalSandboxURL  = "https://cybqa.pesapal.com/pesapalv3"
	pesapalAuthPath    = "/api/Auth/RequestToken"
	pesapalIPNPath     = "/api/URLSetup/RegisterIPN"
	pesapalOrderPath   = "/api/Transactions/SubmitOrderRequest"
	pesapalStatusPath  = "/api/Transactions/GetTransactionStatus"
	pesapalTokenMargin = 30 * time.Second
)

// PesapalError is the error envelope Pesapal attaches to failed API calls.
type PesapalError struct {
	Type    string `json:"error_type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *PesapalError) Error() string {
	return fmt.Sprintf("pesapal: %s (%s)", e.Message, e.Code)
}

// BillingAddress identifies the paying customer on the hosted payment page.
type BillingAddress struct {
	EmailAddress string `json:"email_address"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
}

// OrderRequest is the payload for SubmitOrderRequest. ID is our merchant
// reference; NotificationID is a registered IPN id.
type OrderRequest struct {
	ID             string         `json:"id"`
	Currency       string         `json:"currency"`
	Amount         float64        `json:"amount"`
	Description    string         `json:"description"`
	CallbackURL    string         `json:"callback_url"`
	NotificationID string         `json:"notification_id"`
	BillingAddress BillingAddress `json:"billing_address"`
}

// OrderResponse carries the tracking id and the hosted-page redirect URL.
type OrderResponse struct {
	OrderTrackingID   string        `json:"order_tracking_id"`
	MerchantReference string        `json:"merchant_reference"`
	RedirectURL       string        `json:"redirect_url"`
	Status            string        `json:"status"`
	Error             *PesapalError `json:"error,omitempty"`
}

// TransactionStatus is the GetTransactionStatus response. StatusCode is
// 0 invalid, 1 completed, 2 failed, 3 reversed.
type TransactionStatus struct {
	PaymentMethod            string        `json:"payment_method"`
	Amount                   float64       `json:"amount"`
	CreatedDate              string        `json:"created_date"`
	ConfirmationCode         string        `json:"confirmation_code"`
	PaymentStatusDescription string        `json:"payment_status_description"`
	PaymentAccount           string        `json:"payment_account"`
	MerchantReference        string        `json:"merchant_reference"`
	Currency                 string        `json:"currency"`
	StatusCode               int           `json:"status_code"`
	Error                    *PesapalError `json:"error,omitempty"`
}

type authResponse struct {
	Token      string        `json:"token"`
	ExpiryDate string        `json:"expiryDate"`
	Status     string        `json:"status"`
	Error      *PesapalError `json:"error,omitempty"`
}

type registerIPNResponse struct {
	IPNID  string        `json:"ipn_id"`
	URL    string        `json:"url"`
	Status string        `json:"status"`
	Error  *PesapalError `json:"error,omitempty"`
}

// PesapalService is the client for the Pesapal API 3.0 gateway. Tokens are
// cached until shortly before expiry; all calls log their outcome to the
// shared log writer so the pesapal.log file has a full gateway audit trail.
type PesapalService struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	client         *http.Client
	logger         *log.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewPesapalService constructs a client from the environment snapshot.
// PESAPAL_BASE_URL defaults to the sandbox gateway.
func NewPesapalService(env config.Env, client *http.Client) *PesapalService {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &PesapalService{
		baseURL:        env.GetDefault("PESAPAL_BASE_URL", pesapalSandboxURL),
		consumerKey:    env.Get("PESAPAL_CONSUMER_KEY"),
		consumerSecret: env.Get("PESAPAL_CONSUMER_SECRET"),
		client:         client,
		logger:         log.New(config.LogWriter, "[pesapal] ", log.LstdFlags),
	}
}

// RequestToken authenticates against the gateway and returns a bearer token.
// Most callers should rely on the cached token instead.
func (s *PesapalService) RequestToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshTokenLocked(ctx)
}

// bearerToken returns the cached token, refreshing it when close to expiry.
// The mutex is held across the refresh, so concurrent callers with a cold or
// stale cache collapse into one gateway call; the rest return the cached
// token once the winner stores it.
func (s *PesapalService) bearerToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Until(s.tokenExpiry) > pesapalTokenMargin {
		return s.token, nil
	}
	return s.refreshTokenLocked(ctx)
}

// refreshTokenLocked fetches and caches a fresh token. Callers hold s.mu.
func (s *PesapalService) refreshTokenLocked(ctx context.Context) (string, error) {
	if s.consumerKey == "" || s.consumerSecret == "" {
		return "", errors.New("pesapal credentials not configured (PESAPAL_CONSUMER_KEY/PESAPAL_CONSUMER_SECRET)")
	}

	body := map[string]string{
		"consumer_key":    s.consumerKey,
		"consumer_secret": s.consumerSecret,
	}

	var resp authResponse
	if err := s.doJSON(ctx, http.MethodPost, pesapalAuthPath, "", body, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		s.logger.Printf("auth failed: %v", resp.Error)
		return "", resp.Error
	}
	if resp.Token == "" {
		return "", errors.New("pesapal auth response contained no token")
	}

	expiry := time.Now().Add(5 * time.Minute)
	if t, err := time.Parse(time.RFC3339, resp.ExpiryDate); err == nil {
		expiry = t
	}

	s.token = resp.Token
	s.tokenExpiry = expiry

	s.logger.Printf("auth ok, token valid until %s", expiry.Format(time.RFC3339))
	return resp.Token, nil
}

// RegisterIPN registers the callback URL Pesapal notifies on payment status
// changes and returns the ipn_id to reference in order submissions.
func (s *PesapalService) RegisterIPN(ctx context.Context, ipnURL string) (string, error) {
	if ipnURL == "" {
		return "", errors.New("ipn url is required")
	}

	token, err := s.bearerToken(ctx)
	if err != nil {
		return "", err
	}

	body := map[string]string{
		"url":                   ipnURL,
		"ipn_notification_type": "GET",
	}

	var resp registerIPNResponse
	if err := s.doJSON(ctx, http.MethodPost, pesapalIPNPath, token, body, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		s.logger.Printf("ipn registration failed for %s: %v", ipnURL, resp.Error)
		return "", resp.Error
	}
	if resp.IPNID == "" {
		return "", errors.New("pesapal returned empty ipn_id")
	}

	s.logger.Printf("ipn registered: %s -> %s", ipnURL, resp.IPNID)
	return resp.IPNID, nil
}

// SubmitOrder submits a checkout order and returns the tracking id plus the
// redirect URL for the hosted payment page.
func (s *PesapalService) SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	if req.ID == "" {
		return nil, errors.New("merchant reference is required")
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("invalid order amount %.2f", req.Amount)
	}

	token, err := s.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	var resp OrderResponse
	if err := s.doJSON(ctx, http.MethodPost, pesapalOrderPath, token, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		s.logger.Printf("order %s rejected: %v", req.ID, resp.Error)
		return nil, resp.Error
	}
	if resp.OrderTrackingID == "" {
		return nil, errors.New("pesapal returned empty order_tracking_id")
	}

	s.logger.Printf("order %s submitted, tracking id %s", req.ID, resp.OrderTrackingID)
	return &resp, nil
}

// GetTransactionStatus queries the gateway for the current state of an order.
func (s *PesapalService) GetTransactionStatus(ctx context.Context, orderTrackingID string) (*TransactionStatus, error) {
	if orderTrackingID == "" {
		return nil, errors.New("order tracking id is required")
	}

	token, err := s.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	path := pesapalStatusPath + "?orderTrackingId=" + url.QueryEscape(orderTrackingID)

	var resp TransactionStatus
	if err := s.doJSON(ctx, http.MethodGet, path, token, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil && resp.Error.Code != "" {
		s.logger.Printf("status query for %s failed: %v", orderTrackingID, resp.Error)
		return nil, resp.Error
	}

	s.logger.Printf("status for %s: %s (code %d)", orderTrackingID, resp.PaymentStatusDescription, resp.StatusCode)
	return &resp, nil
}

// doJSON performs one JSON round trip against the gateway.
func (s *PesapalService) doJSON(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode pesapal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build pesapal request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Printf("%s %s failed: %v", method, path, err)
		return fmt.Errorf("pesapal request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read pesapal response: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		s.logger.Printf("%s %s returned HTTP %d", method, path, resp.StatusCode)
		return fmt.Errorf("pesapal returned HTTP %d", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode pesapal response: %w", err)
	}
	return nil
}
