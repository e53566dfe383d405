package payu

import (
	"fmt"
	"html/template"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultEndpoint is the production hosted checkout.
const DefaultEndpoint = "https://secure.payu.in/_payment"

// maxTxnIDLength is the gateway's limit on txnid.
const maxTxnIDLength = 25

// Merchant carries the credentials and redirect targets of one merchant account.
type Merchant struct {
	Key        string
	Salt       string
	Endpoint   string
	SuccessURL string
	FailureURL string
}

func (m Merchant) validate() error {
	switch {
	case strings.TrimSpace(m.Key) == "":
		return fmt.Errorf("merchant key required")
	case strings.TrimSpace(m.Salt) == "":
		return fmt.Errorf("merchant salt required")
	case m.SuccessURL == "" || m.FailureURL == "":
		return fmt.Errorf("success and failure urls required")
	}
	return nil
}

// Form is the signed POST body handed to the payment surface. Field names
// are fixed by the gateway.
type Form struct {
	Action      string
	Key         string
	TxnID       string
	Amount      string
	ProductInfo string
	FirstName   string
	Email       string
	Phone       string
	SURL        string
	FURL        string
	Hash        string
}

// BuildForm signs f and assembles the POST body.
func (m Merchant) BuildForm(f Fields, phone string) (Form, error) {
	if err := m.validate(); err != nil {
		return Form{}, err
	}
	if f.TxnID == "" || len(f.TxnID) > maxTxnIDLength {
		return Form{}, fmt.Errorf("txnid must be 1-%d characters", maxTxnIDLength)
	}
	if f.Amount == "" {
		return Form{}, fmt.Errorf("amount required")
	}
	action := m.Endpoint
	if action == "" {
		action = DefaultEndpoint
	}
	return Form{
		Action:      action,
		Key:         m.Key,
		TxnID:       f.TxnID,
		Amount:      f.Amount,
		ProductInfo: f.ProductInfo,
		FirstName:   f.FirstName,
		Email:       f.Email,
		Phone:       phone,
		SURL:        m.SuccessURL,
		FURL:        m.FailureURL,
		Hash:        Sign(f, m.Key, m.Salt),
	}, nil
}

type formField struct {
	Name  string
	Value string
}

func (f Form) fields() []formField {
	return []formField{
		{"key", f.Key},
		{"txnid", f.TxnID},
		{"amount", f.Amount},
		{"productinfo", f.ProductInfo},
		{"firstname", f.FirstName},
		{"email", f.Email},
		{"phone", f.Phone},
		{"surl", f.SURL},
		{"furl", f.FURL},
		{"hash", f.Hash},
	}
}

// Values returns the form as url-encoded POST values.
func (f Form) Values() url.Values {
	v := url.Values{}
	for _, field := range f.fields() {
		v.Set(field.Name, field.Value)
	}
	return v
}

var autoSubmitPage = template.Must(template.New("payu").Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
  </head>
  <body>
    <form id="payuForm" action="{{.Action}}" method="post">
{{- range .Fields}}
      <input type="hidden" name="{{.Name}}" value="{{.Value}}" />
{{- end}}
    </form>
    <script>
      window.onload = function () { document.getElementById('payuForm').submit(); };
    </script>
  </body>
</html>
`))

// RenderAutoSubmit writes an HTML page that posts the form as soon as it loads.
func (f Form) RenderAutoSubmit(w io.Writer) error {
	action, err := url.Parse(f.Action)
	if err != nil || !action.IsAbs() {
		return fmt.Errorf("invalid form action %q", f.Action)
	}
	return autoSubmitPage.Execute(w, struct {
		Action template.URL
		Fields []formField
	}{
		Action: template.URL(action.String()),
		Fields: f.fields(),
	})
}

// NewTransactionID returns a fresh gateway transaction id. Ids are random,
// not time-based, so two attempts started in the same millisecond never collide.
func NewTransactionID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper("TXN" + raw[:maxTxnIDLength-3])
}

// FormatAmount renders an amount the way the gateway expects it: two decimal places.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
