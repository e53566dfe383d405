// Package payu implements the wire contract of the PayU hosted checkout:
// request signing, the auto-submitting form, and callback verification.
package payu

import (
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// Fields are the request values covered by the request hash.
type Fields struct {
	TxnID       string
	Amount      string
	ProductInfo string
	FirstName   string
	Email       string
	UDF         [5]string
}

// Sign returns the lowercase hex SHA-512 of
// key|txnid|amount|productinfo|firstname|email|udf1..udf5|||||salt.
// The five segments before the salt are always empty and always present.
func Sign(f Fields, merchantKey, merchantSalt string) string {
	parts := make([]string, 0, 17)
	parts = append(parts,
		merchantKey,
		f.TxnID,
		f.Amount,
		f.ProductInfo,
		f.FirstName,
		f.Email,
	)
	parts = append(parts, f.UDF[:]...)
	parts = append(parts, "", "", "", "", "")
	parts = append(parts, merchantSalt)
	return digest(parts)
}

func digest(parts []string) string {
	sum := sha512.Sum512([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
