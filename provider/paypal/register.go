package paypal

import "github.com/paymux/paymux/provider"

// Register PayPal provider with the adapter registry
func init() {
	provider.Register("paypal", NewProvider)
}
