package backend

import (
	"fmt"

	"marketpipe/internal/config"
)

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// Google specific
	CacheSpreadsheetID     string
	PrimarySpreadsheetID   string
	SecondarySpreadsheetID string

	// Source tree: a Drive folder when SourceFolderID is set, otherwise
	// a local directory rooted at SourceRoot.
	SourceFolderID  string
	ExcludeFolderID string
	SourceRoot      string
}

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	return Config{
		Type: backendType,

		CacheSpreadsheetID:     appConfig.CacheSpreadsheetID,
		PrimarySpreadsheetID:   appConfig.PrimarySpreadsheetID,
		SecondarySpreadsheetID: appConfig.SecondarySpreadsheetID,

		SourceFolderID:  appConfig.SourceFolderID,
		ExcludeFolderID: appConfig.ExcludeFolderID,
		SourceRoot:      appConfig.SourceRoot,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case GoogleBackend:
		if c.CacheSpreadsheetID == "" {
			return fmt.Errorf("cache spreadsheet ID is required for google backend")
		}
		if c.PrimarySpreadsheetID == "" {
			return fmt.Errorf("primary spreadsheet ID is required for google backend")
		}
		if c.SecondarySpreadsheetID == "" {
			return fmt.Errorf("secondary spreadsheet ID is required for google backend")
		}
		if c.SourceFolderID == "" && c.SourceRoot == "" {
			return fmt.Errorf("either a source folder ID or a source root is required")
		}

	case MemoryBackend:
		// The memory backend still reads real source files when a root
		// is configured, so nothing else to check here.
	}

	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{GoogleBackend, MemoryBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	strings := make([]string, len(types))
	for i, t := range types {
		strings[i] = t.String()
	}
	return strings
}
