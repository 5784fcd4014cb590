package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"payment-service-api/config"
)

func newTestGateway(t *testing.T, mux *http.ServeMux) (*PesapalService, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	env := config.Env{
		"PESAPAL_BASE_URL":        srv.URL,
		"PESAPAL_CONSUMER_KEY":    "test-key",
		"PESAPAL_CONSUMER_SECRET": "test-secret",
	}
	return NewPesapalService(env, srv.Client()), srv
}

func authHandler(authCalls *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(authCalls, 1)

		var creds map[string]string
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if creds["consumer_key"] != "test-key" || creds["consumer_secret"] != "test-secret" {
			json.NewEncoder(w).Encode(authResponse{
				Error: &PesapalError{Code: "invalid_credentials", Message: "bad credentials"},
			})
			return
		}

		json.NewEncoder(w).Encode(authResponse{
			Token:      "test-token",
			ExpiryDate: time.Now().Add(5 * time.Minute).Format(time.RFC3339),
			Status:     "200",
		})
	}
}

func TestRequestTokenIsCachedAcrossCalls(t *testing.T) {
	var authCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc(pesapalAuthPath, authHandler(&authCalls))
	mux.HandleFunc(pesapalStatusPath, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected Authorization header: %q", got)
		}
		json.NewEncoder(w).Encode(TransactionStatus{StatusCode: 1})
	})

	svc, _ := newTestGateway(t, mux)

	for i := 0; i < 3; i++ {
		if _, err := svc.GetTransactionStatus(context.Background(), "track-1"); err != nil {
			t.Fatalf("GetTransactionStatus failed: %v", err)
		}
	}

	if got := atomic.LoadInt32(&authCalls); got != 1 {
		t.Fatalf("expected 1 auth call, got %d", got)
	}
}

func TestTokenRefreshCollapsesConcurrentCallers(t *testing.T) {
	var authCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc(pesapalAuthPath, authHandler(&authCalls))

	svc, _ := newTestGateway(t, mux)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.bearerToken(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("bearerToken failed: %v", err)
	}

	if got := atomic.LoadInt32(&authCalls); got != 1 {
		t.Fatalf("expected 1 auth call for concurrent cold-cache callers, got %d", got)
	}
}

func TestSubmitOrderReturnsRedirectURL(t *testing.T) {
	var authCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc(pesapalAuthPath, authHandler(&authCalls))
	mux.HandleFunc(pesapalOrderPath, func(w http.ResponseWriter, r *http.Request) {
		var req OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode order request: %v", err)
		}
		if req.ID != "ref-42" || req.Currency != "KES" || req.Amount != 1500 {
			t.Errorf("unexpected order payload: %+v", req)
		}
		if req.BillingAddress.EmailAddress != "jane@example.com" {
			t.Errorf("unexpected billing address: %+v", req.BillingAddress)
		}

		json.NewEncoder(w).Encode(OrderResponse{
			OrderTrackingID:   "track-42",
			MerchantReference: req.ID,
			RedirectURL:       "https://pay.example.test/iframe/track-42",
			Status:            "200",
		})
	})

	svc, _ := newTestGateway(t, mux)

	resp, err := svc.SubmitOrder(context.Background(), OrderRequest{
		ID:          "ref-42",
		Currency:    "KES",
		Amount:      1500,
		Description: "invoice 42",
		BillingAddress: BillingAddress{
			EmailAddress: "jane@example.com",
		},
	})
	if err != nil {
		t.Fatalf("SubmitOrder failed: %v", err)
	}
	if resp.OrderTrackingID != "track-42" {
		t.Fatalf("unexpected tracking id: %s", resp.OrderTrackingID)
	}
	if resp.RedirectURL != "https://pay.example.test/iframe/track-42" {
		t.Fatalf("unexpected redirect url: %s", resp.RedirectURL)
	}
}

func TestSubmitOrderSurfacesGatewayError(t *testing.T) {
	var authCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc(pesapalAuthPath, authHandler(&authCalls))
	mux.HandleFunc(pesapalOrderPath, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(OrderResponse{
			Error: &PesapalError{
				Type:    "api_error",
				Code:    "duplicate_order_id",
				Message: "Duplicate order id",
			},
			Status: "500",
		})
	})

	svc, _ := newTestGateway(t, mux)

	_, err := svc.SubmitOrder(context.Background(), OrderRequest{ID: "ref-1", Currency: "KES", Amount: 10})
	if err == nil {
		t.Fatal("expected gateway error")
	}

	var perr *PesapalError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *PesapalError, got %T: %v", err, err)
	}
	if perr.Code != "duplicate_order_id" {
		t.Fatalf("unexpected error code: %s", perr.Code)
	}
}

func TestSubmitOrderValidatesInput(t *testing.T) {
	svc := NewPesapalService(config.Env{}, nil)

	if _, err := svc.SubmitOrder(context.Background(), OrderRequest{Currency: "KES", Amount: 10}); err == nil {
		t.Fatal("expected error for missing merchant reference")
	}
	if _, err := svc.SubmitOrder(context.Background(), OrderRequest{ID: "x", Currency: "KES", Amount: 0}); err == nil {
		t.Fatal("expected error for non-positive amount")
	}
}

func TestRequestTokenFailsWithoutCredentials(t *testing.T) {
	svc := NewPesapalService(config.Env{}, nil)

	if _, err := svc.RequestToken(context.Background()); err == nil {
		t.Fatal("expected error when credentials are not configured")
	}
}

func TestRegisterIPNReturnsID(t *testing.T) {
	var authCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc(pesapalAuthPath, authHandler(&authCalls))
	mux.HandleFunc(pesapalIPNPath, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode ipn request: %v", err)
		}
		if req["url"] != "https://shop.example.test/api/v1/payments/ipn" {
			t.Errorf("unexpected ipn url: %s", req["url"])
		}

		json.NewEncoder(w).Encode(registerIPNResponse{
			IPNID:  "ipn-7",
			URL:    req["url"],
			Status: "200",
		})
	})

	svc, _ := newTestGateway(t, mux)

	ipnID, err := svc.RegisterIPN(context.Background(), "https://shop.example.test/api/v1/payments/ipn")
	if err != nil {
		t.Fatalf("RegisterIPN failed: %v", err)
	}
	if ipnID != "ipn-7" {
		t.Fatalf("unexpected ipn id: %s", ipnID)
	}
}

func TestGetTransactionStatusMapsFields(t *testing.T) {
	var authCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc(pesapalAuthPath, authHandler(&authCalls))
	mux.HandleFunc(pesapalStatusPath, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("orderTrackingId"); got != "track-9" {
			t.Errorf("unexpected orderTrackingId: %s", got)
		}
		json.NewEncoder(w).Encode(TransactionStatus{
			PaymentMethod:            "MpesaKE",
			Amount:                   250,
			ConfirmationCode:         "QX123",
			PaymentStatusDescription: "COMPLETED",
			Currency:                 "KES",
			StatusCode:               1,
		})
	})

	svc, _ := newTestGateway(t, mux)

	status, err := svc.GetTransactionStatus(context.Background(), "track-9")
	if err != nil {
		t.Fatalf("GetTransactionStatus failed: %v", err)
	}
	if status.StatusCode != 1 || status.PaymentStatusDescription != "COMPLETED" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.PaymentMethod != "MpesaKE" || status.ConfirmationCode != "QX123" {
		t.Fatalf("unexpected payment details: %+v", status)
	}
}
