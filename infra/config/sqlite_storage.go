package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

// SQLiteStorage handles persistent storage of provider credential bags
type SQLiteStorage struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStorage creates a storage layer on an already opened database
func NewSQLiteStorage(db *sql.DB) (*SQLiteStorage, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	storage := &SQLiteStorage{db: db}

	if err := storage.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// initSchema creates the necessary tables
func (s *SQLiteStorage) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS provider_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider_name TEXT NOT NULL,
		config_data TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(provider_name)
	);

	CREATE INDEX IF NOT EXISTS idx_provider_name ON provider_configs(provider_name);

	-- Trigger to update updated_at column
	CREATE TRIGGER IF NOT EXISTS update_provider_configs_updated_at
		AFTER UPDATE ON provider_configs
	BEGIN
		UPDATE provider_configs SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
	END;
	`

	_, err := s.db.Exec(query)
	return err
}

// SaveProviderConfig saves a provider credential bag to SQLite
func (s *SQLiteStorage) SaveProviderConfig(providerName string, config map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Serialize config to JSON
	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Insert or update configuration with retry logic
	return RetryBusy(func() error {
		query := `
		INSERT INTO provider_configs (provider_name, config_data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(provider_name)
		DO UPDATE SET
			config_data = excluded.config_data,
			updated_at = CURRENT_TIMESTAMP
		`

		_, err := s.db.Exec(query, providerName, string(configJSON))
		if err != nil {
			return fmt.Errorf("failed to save provider config: %w", err)
		}

		return nil
	}, 3)
}

// LoadProviderConfig loads a provider credential bag from SQLite
func (s *SQLiteStorage) LoadProviderConfig(providerName string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var config map[string]string
	err := RetryBusy(func() error {
		query := `
		SELECT config_data
		FROM provider_configs
		WHERE provider_name = ?
		`

		var configJSON string
		err := s.db.QueryRow(query, providerName).Scan(&configJSON)
		if err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("no configuration found for provider: %s", providerName)
			}
			return fmt.Errorf("failed to load provider config: %w", err)
		}

		if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}

		return nil
	}, 3)

	return config, err
}

// LoadAllProviderConfigs loads every stored credential bag from SQLite
func (s *SQLiteStorage) LoadAllProviderConfigs() (map[string]map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var configs map[string]map[string]string
	err := RetryBusy(func() error {
		query := `
		SELECT provider_name, config_data
		FROM provider_configs
		ORDER BY provider_name
		`

		rows, err := s.db.Query(query)
		if err != nil {
			return fmt.Errorf("failed to query provider configs: %w", err)
		}
		defer rows.Close()

		configs = make(map[string]map[string]string)

		for rows.Next() {
			var providerName, configJSON string
			if err := rows.Scan(&providerName, &configJSON); err != nil {
				return fmt.Errorf("failed to scan row: %w", err)
			}

			var config map[string]string
			if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
				log.Printf("Warning: failed to unmarshal config for provider %s: %v", providerName, err)
				continue
			}

			configs[providerName] = config
		}

		if err = rows.Err(); err != nil {
			return fmt.Errorf("error iterating rows: %w", err)
		}

		return nil
	}, 3)

	if err != nil {
		return nil, err
	}

	return configs, nil
}

// DeleteProviderConfig deletes a provider credential bag from SQLite
func (s *SQLiteStorage) DeleteProviderConfig(providerName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return RetryBusy(func() error {
		query := `
		DELETE FROM provider_configs
		WHERE provider_name = ?
		`

		result, err := s.db.Exec(query, providerName)
		if err != nil {
			return fmt.Errorf("failed to delete provider config: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		if rowsAffected == 0 {
			return fmt.Errorf("no configuration found for provider: %s", providerName)
		}

		return nil
	}, 3)
}

// GetStats returns database statistics
func (s *SQLiteStorage) GetStats() (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string]any)

	var totalConfigs int
	err := s.db.QueryRow("SELECT COUNT(*) FROM provider_configs").Scan(&totalConfigs)
	if err != nil {
		return nil, fmt.Errorf("failed to count total configs: %w", err)
	}
	stats["total_configs"] = totalConfigs

	var uniqueProviders int
	err = s.db.QueryRow("SELECT COUNT(DISTINCT provider_name) FROM provider_configs").Scan(&uniqueProviders)
	if err != nil {
		return nil, fmt.Errorf("failed to count unique providers: %w", err)
	}
	stats["unique_providers"] = uniqueProviders

	return stats, nil
}
