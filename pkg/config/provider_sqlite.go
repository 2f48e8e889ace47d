package config

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS profiles (
	name       TEXT PRIMARY KEY,
	analysis   TEXT NOT NULL,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS settings (
	section TEXT PRIMARY KEY,
	value   TEXT NOT NULL
);
`

// SQLiteProvider implements ConfigProvider for SQLite database configuration.
// Analysis profiles and the storage, server and output sections are stored
// as JSON documents.
type SQLiteProvider struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteProvider opens the database and creates the tables if needed.
func NewSQLiteProvider(dbPath string) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// A single connection keeps ":memory:" databases consistent.
	db.SetMaxOpenConns(1)

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create config schema: %w", err)
	}

	return &SQLiteProvider{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// LoadConfig loads the complete configuration from SQLite database
func (s *SQLiteProvider) LoadConfig() (*ConfigData, error) {
	config := &ConfigData{Profiles: map[string]AnalysisData{}}

	names, err := s.ListProfiles()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		a, err := s.GetAnalysis(name)
		if err != nil {
			return nil, err
		}
		if name == DefaultProfile {
			config.Analysis = *a
			continue
		}
		config.Profiles[name] = *a
	}

	for section, dst := range map[string]any{
		"storage": &config.Storage,
		"server":  &config.Server,
		"output":  &config.Output,
	} {
		if err := s.getSection(section, dst); err != nil {
			return nil, err
		}
	}
	setDefaults(config)
	return config, nil
}

// GetAnalysis returns one stored profile. The empty name selects "default";
// a missing default profile yields the zero profile (engine defaults).
func (s *SQLiteProvider) GetAnalysis(profile string) (*AnalysisData, error) {
	if profile == "" {
		profile = DefaultProfile
	}
	var raw string
	err := s.db.QueryRow(`SELECT analysis FROM profiles WHERE name = ?`, profile).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		if profile == DefaultProfile {
			return &AnalysisData{}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, profile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile %s: %w", profile, err)
	}

	var a AnalysisData
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("failed to decode profile %s: %w", profile, err)
	}
	return &a, nil
}

// ListProfiles returns the stored profile names in order.
func (s *SQLiteProvider) ListProfiles() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// SaveProfile inserts or replaces a profile.
func (s *SQLiteProvider) SaveProfile(name string, a *AnalysisData) error {
	if name == "" {
		name = DefaultProfile
	}
	if _, err := a.EngineConfig(); err != nil {
		return fmt.Errorf("profile %s: %w", name, err)
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO profiles (name, analysis, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET analysis = excluded.analysis, updated_at = CURRENT_TIMESTAMP`,
		name, string(raw))
	if err != nil {
		return fmt.Errorf("failed to save profile %s: %w", name, err)
	}
	return nil
}

// DeleteProfile removes a profile.
func (s *SQLiteProvider) DeleteProfile(name string) error {
	res, err := s.db.Exec(`DELETE FROM profiles WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete profile %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return nil
}

// SaveConfig stores every section of cfg, replacing existing values.
func (s *SQLiteProvider) SaveConfig(cfg *ConfigData) error {
	if err := s.SaveProfile(DefaultProfile, &cfg.Analysis); err != nil {
		return err
	}
	for name, a := range cfg.Profiles {
		if err := s.SaveProfile(name, &a); err != nil {
			return err
		}
	}
	for section, v := range map[string]any{
		"storage": cfg.Storage,
		"server":  cfg.Server,
		"output":  cfg.Output,
	} {
		if err := s.setSection(section, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteProvider) GetStorageConfig() (*StorageData, error) {
	var storage StorageData
	if err := s.getSection("storage", &storage); err != nil {
		return nil, err
	}
	return &storage, nil
}

// SetStorageConfig replaces the storage section.
func (s *SQLiteProvider) SetStorageConfig(storage StorageData) error {
	return s.setSection("storage", storage)
}

func (s *SQLiteProvider) GetServerConfig() (*ServerData, error) {
	config, err := s.LoadConfig()
	if err != nil {
		return nil, err
	}
	return &config.Server, nil
}

// IsReadOnly returns false since SQLite supports writes
func (s *SQLiteProvider) IsReadOnly() bool {
	return false
}

// Close closes the database connection
func (s *SQLiteProvider) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteProvider) getSection(section string, dst any) error {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE section = ?`, section).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to query %s settings: %w", section, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("failed to decode %s settings: %w", section, err)
	}
	return nil
}

func (s *SQLiteProvider) setSection(section string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO settings (section, value) VALUES (?, ?)
		ON CONFLICT(section) DO UPDATE SET value = excluded.value`,
		section, string(raw))
	if err != nil {
		return fmt.Errorf("failed to save %s settings: %w", section, err)
	}
	return nil
}
