package builtin

import "time"

// ToolConfig carries the execution bounds shared by the builtin tools. Zero
// values fall back to the defaults below, so an empty config is usable.
type ToolConfig struct {
	// ShellTimeout is the default bash timeout. Per-call timeouts may lower
	// it but never exceed ShellTimeoutCeiling.
	ShellTimeout        time.Duration
	ShellTimeoutCeiling time.Duration

	// ShellOutputLimit caps combined stdout+stderr bytes kept in a result.
	ShellOutputLimit int

	// FileReadLimit caps file_read sizes in bytes.
	FileReadLimit int64

	// GlobLimit and GrepLimit cap result counts.
	GlobLimit int
	GrepLimit int

	// FetchBodyLimit caps web_fetch response bodies in bytes.
	FetchBodyLimit int64

	// FetchCacheTTL and FetchCacheMaxEntries size the web_fetch cache.
	FetchCacheTTL        time.Duration
	FetchCacheMaxEntries int
}

const (
	defaultShellTimeout        = 5 * time.Minute
	defaultShellTimeoutCeiling = 5 * time.Minute
	defaultShellOutputLimit    = 100_000
	defaultFileReadLimit       = 1 << 20 // 1 MiB
	defaultGlobLimit           = 1000
	defaultGrepLimit           = 500
	defaultFetchBodyLimit      = 2 << 20 // 2 MiB
	defaultFetchCacheTTL       = 15 * time.Minute
	defaultFetchCacheEntries   = 256
)

// withDefaults fills zero fields with the default bounds.
func (c ToolConfig) withDefaults() ToolConfig {
	if c.ShellTimeout <= 0 {
		c.ShellTimeout = defaultShellTimeout
	}
	if c.ShellTimeoutCeiling <= 0 {
		c.ShellTimeoutCeiling = defaultShellTimeoutCeiling
	}
	if c.ShellTimeout > c.ShellTimeoutCeiling {
		c.ShellTimeout = c.ShellTimeoutCeiling
	}
	if c.ShellOutputLimit <= 0 {
		c.ShellOutputLimit = defaultShellOutputLimit
	}
	if c.FileReadLimit <= 0 {
		c.FileReadLimit = defaultFileReadLimit
	}
	if c.GlobLimit <= 0 {
		c.GlobLimit = defaultGlobLimit
	}
	if c.GrepLimit <= 0 {
		c.GrepLimit = defaultGrepLimit
	}
	if c.FetchBodyLimit <= 0 {
		c.FetchBodyLimit = defaultFetchBodyLimit
	}
	if c.FetchCacheTTL <= 0 {
		c.FetchCacheTTL = defaultFetchCacheTTL
	}
	if c.FetchCacheMaxEntries <= 0 {
		c.FetchCacheMaxEntries = defaultFetchCacheEntries
	}
	return c
}
