// Package gateway classifies navigation events observed on the hosted payment
// surface.
package gateway

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/angelmondragon/pickup-checkout/pkg/enums"
)

// NavigationEvent is one page load observed while the gateway is on screen.
// HTTPStatus and Err are set when the load itself failed.
type NavigationEvent struct {
	URL        string
	HTTPStatus int
	Err        error
}

// Failed reports whether the page load errored before a URL could be judged.
func (e NavigationEvent) Failed() bool {
	return e.Err != nil || e.HTTPStatus >= 400
}

// Interpreter matches navigation targets against the configured redirect URLs.
type Interpreter struct {
	success endpoint
	failure endpoint
}

type endpoint struct {
	scheme string
	host   string
	path   string
}

func NewInterpreter(successURL, failureURL string) (*Interpreter, error) {
	success, err := parseEndpoint(successURL)
	if err != nil {
		return nil, fmt.Errorf("success url: %w", err)
	}
	failure, err := parseEndpoint(failureURL)
	if err != nil {
		return nil, fmt.Errorf("failure url: %w", err)
	}
	if success == failure {
		return nil, fmt.Errorf("success and failure urls must differ")
	}
	return &Interpreter{success: success, failure: failure}, nil
}

// Interpret returns Success or Failure only on an exact endpoint match. Query
// strings and fragments are ignored. Everything else is Indeterminate.
func (i *Interpreter) Interpret(event NavigationEvent) enums.PaymentOutcome {
	if event.Failed() {
		return enums.PaymentOutcomeIndeterminate
	}
	target, err := parseEndpoint(event.URL)
	if err != nil {
		return enums.PaymentOutcomeIndeterminate
	}
	switch target {
	case i.success:
		return enums.PaymentOutcomeSuccess
	case i.failure:
		return enums.PaymentOutcomeFailure
	default:
		return enums.PaymentOutcomeIndeterminate
	}
}

func parseEndpoint(raw string) (endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return endpoint{}, err
	}
	if !u.IsAbs() || u.Host == "" {
		return endpoint{}, fmt.Errorf("url %q is not absolute", raw)
	}
	if u.User != nil {
		return endpoint{}, fmt.Errorf("url %q carries credentials", raw)
	}
	path := strings.TrimRight(u.EscapedPath(), "/")
	if path == "" {
		path = "/"
	}
	return endpoint{
		scheme: strings.ToLower(u.Scheme),
		host:   strings.ToLower(u.Host),
		path:   path,
	}, nil
}
