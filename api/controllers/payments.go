package controllers

import (
	"context"
	"html/template"
	"net/http"

	"github.com/angelmondragon/pickup-checkout/api/responses"
	"github.com/angelmondragon/pickup-checkout/api/validators"
	"github.com/angelmondragon/pickup-checkout/internal/payments"
	"github.com/angelmondragon/pickup-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/pickup-checkout/pkg/errors"
	"github.com/angelmondragon/pickup-checkout/pkg/logger"
	"github.com/angelmondragon/pickup-checkout/pkg/payu"
)

type callbackHandler interface {
	HandleCallback(ctx context.Context, cb payments.Callback) (*payments.Result, error)
}

// callbackForm is the subset of the gateway's redirect POST the relay reads.
type callbackForm struct {
	TxnID             string `form:"txnid" validate:"required,max=25"`
	Status            string `form:"status" validate:"required,max=32"`
	Amount            string `form:"amount" validate:"required,numeric"`
	ProductInfo       string `form:"productinfo"`
	FirstName         string `form:"firstname"`
	Email             string `form:"email" validate:"omitempty,email"`
	UDF1              string `form:"udf1"`
	UDF2              string `form:"udf2"`
	UDF3              string `form:"udf3"`
	UDF4              string `form:"udf4"`
	UDF5              string `form:"udf5"`
	AdditionalCharges string `form:"additionalCharges"`
	Hash              string `form:"hash" validate:"required,hexadecimal"`
}

func (f callbackForm) response() payu.Response {
	return payu.Response{
		Status:            f.Status,
		TxnID:             f.TxnID,
		Amount:            f.Amount,
		ProductInfo:       f.ProductInfo,
		FirstName:         f.FirstName,
		Email:             f.Email,
		UDF:               [5]string{f.UDF1, f.UDF2, f.UDF3, f.UDF4, f.UDF5},
		AdditionalCharges: f.AdditionalCharges,
		Hash:              f.Hash,
	}
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Body}}</p>
<p>Reference: {{.TransactionID}}</p>
</body>
</html>`))

type callbackView struct {
	Title         string
	Body          string
	TransactionID string
}

// PaymentCallback serves the gateway's surl or furl. The app normally
// intercepts the redirect before this page renders; the page is what a
// customer sees when it does not.
func PaymentCallback(outcome enums.PaymentOutcome, svc callbackHandler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "callback service unavailable"))
			return
		}

		var form callbackForm
		if err := validators.DecodeForm(w, r, &form); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.HandleCallback(ctx, payments.Callback{Outcome: outcome, Response: form.response()})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		view := callbackView{
			Title:         "Payment received",
			Body:          "Return to the app to see your order.",
			TransactionID: result.TransactionID,
		}
		if outcome == enums.PaymentOutcomeFailure {
			view.Title = "Payment failed"
			view.Body = "No order was placed. Return to the app to try again."
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		if err := callbackPage.Execute(w, view); err != nil && logg != nil {
			logg.Error(ctx, "failed to render callback page", err)
		}
	}
}
