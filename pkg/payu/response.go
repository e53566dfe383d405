package payu

import (
	"crypto/subtle"
	"strings"
)

// Response is the subset of a gateway callback covered by the response hash.
type Response struct {
	Status            string
	TxnID             string
	Amount            string
	ProductInfo       string
	FirstName         string
	Email             string
	UDF               [5]string
	AdditionalCharges string
	Hash              string
}

// ExpectedHash recomputes the reverse hash
// [additionalCharges|]salt|status||||||udf5..udf1|email|firstname|productinfo|amount|txnid|key.
func (r Response) ExpectedHash(merchantKey, merchantSalt string) string {
	parts := make([]string, 0, 19)
	if r.AdditionalCharges != "" {
		parts = append(parts, r.AdditionalCharges)
	}
	parts = append(parts, merchantSalt, r.Status, "", "", "", "", "")
	for i := len(r.UDF) - 1; i >= 0; i-- {
		parts = append(parts, r.UDF[i])
	}
	parts = append(parts,
		r.Email,
		r.FirstName,
		r.ProductInfo,
		r.Amount,
		r.TxnID,
		merchantKey,
	)
	return digest(parts)
}

// VerifyResponse reports whether the callback's hash matches the merchant credentials.
func VerifyResponse(r Response, merchantKey, merchantSalt string) bool {
	if r.Hash == "" {
		return false
	}
	want := r.ExpectedHash(merchantKey, merchantSalt)
	got := strings.ToLower(strings.TrimSpace(r.Hash))
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
