// Package config defines configuration structures for the
// snapchat-export CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (SNAP_EXPORT_ prefix)
//   - YAML configuration file
//
// # Structure
//
//	type Config struct {
//	    CatalogPath     string
//	    OutputDir       string
//	    Workers         int
//	    Delay           time.Duration
//	    SkipExisting    bool
//	    EmbedTags       bool
//	    NoBundles       bool
//	    ExpiryThreshold time.Duration
//	    Progress        bool
//	    Retry           RetryConfig
//	}
//
//	type RetryConfig struct {
//	    Attempts int
//	    Backoff  time.Duration
//	}
package config
