package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// ProviderConfig manages payment provider credential bags. Bags may hold
// both test_ and live_ prefixed keys side by side; mode selection happens
// at adapter construction time, not here.
type ProviderConfig struct {
	configs map[string]map[string]string
	storage *SQLiteStorage
	mu      sync.RWMutex
}

// NewProviderConfig creates an in-memory provider configuration store
func NewProviderConfig() *ProviderConfig {
	return &ProviderConfig{
		configs: make(map[string]map[string]string),
	}
}

// NewProviderConfigWithStorage creates a provider configuration store backed
// by SQLite. Stored bags are loaded into memory on startup.
func NewProviderConfigWithStorage(storage *SQLiteStorage) (*ProviderConfig, error) {
	config := &ProviderConfig{
		configs: make(map[string]map[string]string),
		storage: storage,
	}

	if storage != nil {
		stored, err := storage.LoadAllProviderConfigs()
		if err != nil {
			return nil, fmt.Errorf("failed to load configs from storage: %w", err)
		}
		for k, v := range stored {
			config.configs[k] = v
		}
	}

	return config, nil
}

// SetConfig sets the credential bag for a provider
func (c *ProviderConfig) SetConfig(providerName string, config map[string]string) error {
	if providerName == "" {
		return fmt.Errorf("provider name cannot be empty")
	}
	if len(config) == 0 {
		return fmt.Errorf("config cannot be empty")
	}

	providerName = strings.ToLower(providerName)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Persist first so a write failure leaves memory untouched
	if c.storage != nil {
		if err := c.storage.SaveProviderConfig(providerName, config); err != nil {
			return fmt.Errorf("failed to save config to storage: %w", err)
		}
	}

	c.configs[providerName] = config
	return nil
}

// MergeConfig merges new keys into an existing credential bag, creating it
// if absent. Existing keys not named in config are preserved.
func (c *ProviderConfig) MergeConfig(providerName string, config map[string]string) error {
	if providerName == "" {
		return fmt.Errorf("provider name cannot be empty")
	}

	providerName = strings.ToLower(providerName)

	c.mu.Lock()
	defer c.mu.Unlock()

	merged := make(map[string]string)
	for k, v := range c.configs[providerName] {
		merged[k] = v
	}
	for k, v := range config {
		merged[k] = v
	}

	if c.storage != nil {
		if err := c.storage.SaveProviderConfig(providerName, merged); err != nil {
			return fmt.Errorf("failed to save config to storage: %w", err)
		}
	}

	c.configs[providerName] = merged
	return nil
}

// GetConfig returns a copy of the credential bag for a provider
func (c *ProviderConfig) GetConfig(providerName string) (map[string]string, error) {
	providerName = strings.ToLower(providerName)

	c.mu.RLock()
	config, exists := c.configs[providerName]
	c.mu.RUnlock()

	// If not found in memory, try loading from storage
	if !exists && c.storage != nil {
		stored, err := c.storage.LoadProviderConfig(providerName)
		if err == nil {
			c.mu.Lock()
			c.configs[providerName] = stored
			c.mu.Unlock()
			config = stored
			exists = true
		}
	}

	if !exists {
		return nil, fmt.Errorf("no configuration found for provider: %s", providerName)
	}

	// Return a copy to prevent external modification
	configCopy := make(map[string]string)
	for k, v := range config {
		configCopy[k] = v
	}

	return configCopy, nil
}

// DeleteConfig deletes the credential bag for a provider
func (c *ProviderConfig) DeleteConfig(providerName string) error {
	if providerName == "" {
		return fmt.Errorf("provider name cannot be empty")
	}

	providerName = strings.ToLower(providerName)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.storage != nil {
		if err := c.storage.DeleteProviderConfig(providerName); err != nil {
			return fmt.Errorf("failed to delete config from storage: %w", err)
		}
	}

	delete(c.configs, providerName)
	return nil
}

// GetAvailableProviders returns all providers that have configurations
func (c *ProviderConfig) GetAvailableProviders() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	providers := make([]string, 0, len(c.configs))
	for provider := range c.configs {
		providers = append(providers, provider)
	}
	return providers
}

// GetStats returns configuration and storage statistics
func (c *ProviderConfig) GetStats() (map[string]any, error) {
	stats := make(map[string]any)

	c.mu.RLock()
	memoryConfigs := len(c.configs)
	c.mu.RUnlock()

	stats["memory_configs"] = memoryConfigs

	if c.storage != nil {
		storageStats, err := c.storage.GetStats()
		if err != nil {
			stats["storage_error"] = err.Error()
		} else {
			stats["storage"] = storageStats
		}
	} else {
		stats["storage"] = "not_available"
	}

	return stats, nil
}

// LoadFromEnv scans environment variables of the form
// {PROVIDER}_{KEY}=value for the given provider names and merges them
// into the in-memory bags. STRIPE_TEST_SECRET_KEY becomes the key
// test_secret_key in the stripe bag.
func (c *ProviderConfig) LoadFromEnv(providerNames []string) {
	for _, name := range providerNames {
		prefix := strings.ToUpper(name) + "_"

		bag := make(map[string]string)
		for _, entry := range os.Environ() {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 || parts[1] == "" {
				continue
			}
			if !strings.HasPrefix(parts[0], prefix) {
				continue
			}

			key := strings.ToLower(strings.TrimPrefix(parts[0], prefix))
			bag[key] = parts[1]
		}

		if len(bag) > 0 {
			// Env vars win over stored values for the keys they name
			_ = c.MergeConfig(name, bag)
		}
	}
}
