package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/pickup-checkout/api/controllers"
	"github.com/angelmondragon/pickup-checkout/internal/payments"
	"github.com/angelmondragon/pickup-checkout/pkg/enums"
	"github.com/angelmondragon/pickup-checkout/pkg/logger"
	"github.com/angelmondragon/pickup-checkout/pkg/metrics"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type recordingPayments struct {
	outcomes []enums.PaymentOutcome
}

func (r *recordingPayments) HandleCallback(_ context.Context, cb payments.Callback) (*payments.Result, error) {
	r.outcomes = append(r.outcomes, cb.Outcome)
	return &payments.Result{TransactionID: cb.Response.TxnID, Outcome: cb.Outcome}, nil
}

func newTestRouter(t *testing.T) (http.Handler, *recordingPayments) {
	t.Helper()
	reg := prometheus.NewRegistry()
	relayMetrics := metrics.NewRelayMetrics(reg)
	relayMetrics.IncCallback("success", true)

	svc := &recordingPayments{}
	return NewRouter(RouterParams{
		Env:          "dev",
		Logger:       logger.Nop(),
		Payments:     svc,
		Dependencies: map[string]controllers.Pinger{"db": stubPinger{}},
		Gatherer:     reg,
	}), svc
}

func callbackBody() string {
	return url.Values{
		"txnid":  {"TXN1"},
		"status": {"success"},
		"amount": {"10.00"},
		"hash":   {"abcdef"},
	}.Encode()
}

func TestRouterRoutesCallbacksByEndpoint(t *testing.T) {
	router, svc := newTestRouter(t)

	for _, path := range []string{"/payments/success", "/payments/failure"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(callbackBody()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d body=%s", path, resp.Code, resp.Body.String())
		}
		if resp.Header().Get("X-Request-Id") == "" {
			t.Fatalf("%s: expected request id header", path)
		}
	}

	want := []enums.PaymentOutcome{enums.PaymentOutcomeSuccess, enums.PaymentOutcomeFailure}
	if len(svc.outcomes) != 2 || svc.outcomes[0] != want[0] || svc.outcomes[1] != want[1] {
		t.Fatalf("unexpected outcomes %v", svc.outcomes)
	}
}

func TestRouterRejectsGetOnCallbacks(t *testing.T) {
	router, _ := newTestRouter(t)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/payments/success", nil))
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", resp.Code)
	}
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected healthz 200 got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected metrics 200 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `gateway_callbacks_total{outcome="success",verified="true"} 1`) {
		t.Fatalf("expected callback counter in metrics output:\n%s", resp.Body.String())
	}
}
