package sandbox

import "github.com/paymux/paymux/provider"

func init() {
	provider.Register(providerName, NewProvider)
}
