package provider

import "strings"

// Credential mode prefixes stored in provider config bags. Legacy
// installations may still carry unprefixed keys; those act as a fallback
// for either mode during migration.
const (
	TestPrefix = "test_"
	LivePrefix = "live_"

	ModeTest = "test"
	ModeLive = "live"
)

// CredentialSet is a resolved, single-mode credential bag. Raw config bags
// never travel past the resolver; adapters only ever see a CredentialSet's
// unprefixed view.
type CredentialSet struct {
	Provider string
	Mode     string
	values   map[string]string
}

// Get returns the resolved value for an unprefixed credential name.
func (c *CredentialSet) Get(name string) string {
	return c.values[name]
}

// Map returns a copy of the resolved values keyed by unprefixed name.
func (c *CredentialSet) Map() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// ModeFor returns the credential mode for a sandbox flag.
func ModeFor(sandbox bool) string {
	if sandbox {
		return ModeTest
	}
	return ModeLive
}

// ResolveCredentials picks the active credential set out of a flat provider
// config bag. For each required name it looks up the mode-prefixed key
// first, then the legacy unprefixed key, and fails with a
// MissingCredentialError naming the prefixed field if neither exists.
//
// Resolution is pure; callers invoke it fresh on every adapter construction
// so a runtime sandbox toggle takes effect without a restart.
func ResolveCredentials(providerName string, bag map[string]string, sandbox bool, required []string) (*CredentialSet, error) {
	prefix := LivePrefix
	if sandbox {
		prefix = TestPrefix
	}

	values := make(map[string]string, len(required))
	for _, name := range required {
		if v, ok := bag[prefix+name]; ok && strings.TrimSpace(v) != "" {
			values[name] = v
			continue
		}
		if v, ok := bag[name]; ok && strings.TrimSpace(v) != "" {
			values[name] = v
			continue
		}
		return nil, &MissingCredentialError{Provider: providerName, Field: prefix + name}
	}

	return &CredentialSet{
		Provider: providerName,
		Mode:     ModeFor(sandbox),
		values:   values,
	}, nil
}
