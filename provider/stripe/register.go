package stripe

import "github.com/paymux/paymux/provider"

// Register Stripe provider with the adapter registry
func init() {
	provider.Register("stripe", NewProvider)
}
