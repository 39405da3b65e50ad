package http

import (
	"net/http"
	"time"

	x402 "github.com/smart402/x402-go"
	"github.com/smart402/x402-go/encoding"
	"github.com/smart402/x402-go/signer"
)

// Transport is an http.RoundTripper that answers 402 challenges. It
// makes the initial request, and on a 402 Payment Required response
// parses the advertised terms, signs a fresh authorization header with
// its capability, and retries the request once with the X402 headers
// attached.
type Transport struct {
	// Base is the underlying RoundTripper; http.DefaultTransport if nil.
	Base http.RoundTripper

	// Capability signs authorization headers.
	Capability signer.Capability

	// MaxAmount caps what the transport will agree to pay per request,
	// as a decimal string. Empty means no limit.
	MaxAmount string

	// OnPayment receives authorization lifecycle events.
	OnPayment x402.PaymentCallback
}

// NewClient returns an *http.Client paying through the capability.
func NewClient(cap signer.Capability) *http.Client {
	return &http.Client{Transport: &Transport{Capability: cap}}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	resp, err := base.RoundTrip(req.Clone(req.Context()))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	terms, err := ParseChallenge(resp)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	if err := t.checkLimit(terms.Amount); err != nil {
		return nil, err
	}

	// A challenge without an expected payer is open to any payer.
	if terms.Payer == "" {
		terms.Payer = t.Capability.Address()
	}

	header, err := x402.NewHeader(terms)
	if err != nil {
		return nil, err
	}
	signed, err := signer.Sign(header, t.Capability)
	if err != nil {
		t.emit(x402.PaymentEventFailed, header, req, err)
		return nil, err
	}

	retry := req.Clone(req.Context())
	if err := encoding.WriteHTTPHeader(signed, retry.Header); err != nil {
		return nil, err
	}

	t.emit(x402.PaymentEventAuthorized, signed, req, nil)
	return base.RoundTrip(retry)
}

func (t *Transport) checkLimit(amount string) error {
	if t.MaxAmount == "" {
		return nil
	}
	limit, err := x402.ParseAmount(t.MaxAmount)
	if err != nil {
		return err
	}
	asked, err := x402.ParseAmount(amount)
	if err != nil {
		return err
	}
	if asked.GreaterThan(limit) {
		return x402.ErrAmountExceeded
	}
	return nil
}

func (t *Transport) emit(typ x402.PaymentEventType, h x402.Header, req *http.Request, err error) {
	if t.OnPayment == nil {
		return
	}
	t.OnPayment(x402.PaymentEvent{
		Type:       typ,
		Timestamp:  time.Now(),
		ContractID: h.ContractID,
		Payer:      h.Payer,
		Amount:     h.Amount,
		Asset:      h.Asset,
		Err:        err,
	})
}
