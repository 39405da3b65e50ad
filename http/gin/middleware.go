// Package gin provides Gin-compatible middleware for X402 payment
// gating. It is a thin adapter that translates gin.Context to stdlib
// http patterns and delegates all authorization and settlement logic to
// the http package.
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	xhttp "github.com/smart402/x402-go/http"
)

// Config is an alias for the http package's Config.
type Config = xhttp.Config

// PaymentContextKey is the gin context key holding the accepted payment
// record.
const PaymentContextKey = "x402_payment_record"

// NewMiddleware returns a Gin middleware that wraps handlers with X402
// payment gating. On acceptance the payment record is stored in the gin
// context under PaymentContextKey and the handler chain continues; on a
// challenge or refusal the chain is aborted with the 402 response
// already written.
func NewMiddleware(config Config) gin.HandlerFunc {
	middleware := xhttp.NewMiddleware(config)

	return func(c *gin.Context) {
		proceeded := false

		middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			proceeded = true
			if rec, ok := xhttp.PaymentFromContext(r.Context()); ok {
				c.Set(PaymentContextKey, rec)
			}
			c.Request = r
			c.Next()
		})).ServeHTTP(c.Writer, c.Request)

		if !proceeded {
			c.Abort()
		}
	}
}
