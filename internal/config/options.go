package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// EngineConfig configures a falcon.Engine at construction time.
type EngineConfig struct {
	// DataDir is where the SQLite database and log files live.
	DataDir string `validate:"required"`
	// MaxConcurrentDownloads bounds how many tasks run at once, 1-32.
	MaxConcurrentDownloads int `validate:"gte=1,lte=32"`
	// MaxConnectionsPerDownload bounds per-task segment worker count, 1-64.
	MaxConnectionsPerDownload int `validate:"gte=1,lte=64"`
	// GlobalSpeedLimitBytesPerSec caps aggregate throughput; 0 = unlimited.
	GlobalSpeedLimitBytesPerSec int `validate:"gte=0"`
	// UserAgent overrides the default request User-Agent if non-empty.
	UserAgent string
	// EnableIntegrityCheck verifies completed files against a provided hash.
	EnableIntegrityCheck bool
	// IdleSocketTimeout bounds how long a pooled connection may sit idle.
	IdleSocketTimeout time.Duration `validate:"gt=0"`
}

// DefaultEngineConfig returns sane defaults layered with DataDir, which
// callers must still supply.
func DefaultEngineConfig(dataDir string) EngineConfig {
	return EngineConfig{
		DataDir:                     dataDir,
		MaxConcurrentDownloads:      3,
		MaxConnectionsPerDownload:   8,
		GlobalSpeedLimitBytesPerSec: 0,
		EnableIntegrityCheck:        true,
		IdleSocketTimeout:           90 * time.Second,
	}
}

// Validate checks EngineConfig's invariants.
func (c EngineConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: invalid engine config: %w", err)
	}
	return nil
}

// DownloadOptions configures a single AddDownload call.
type DownloadOptions struct {
	// SavePath is the destination directory the file is saved into.
	SavePath string `validate:"required"`
	// Filename overrides the name derived from the last element of the
	// first URI; a Content-Disposition filename is not used for the path.
	Filename string
	// Headers are extra request headers sent with every segment request.
	Headers map[string]string
	// Cookies are sent as a single Cookie header value.
	Cookies string
	// Priority is 0=Low, 1=Normal, 2=High.
	Priority int `validate:"gte=0,lte=2"`
	// MaxConnections overrides the engine default for this task; 0 = use default.
	MaxConnections int `validate:"gte=0,lte=64"`
	// SpeedLimitBytesPerSec caps this task's own throughput; 0 = unlimited.
	SpeedLimitBytesPerSec int `validate:"gte=0"`
	// ExpectedHash, when set, is verified against HashAlgorithm on completion.
	ExpectedHash string
	// HashAlgorithm names the algorithm for ExpectedHash (md5, sha1, sha256, sha512).
	HashAlgorithm string `validate:"omitempty,oneof=md5 sha1 sha256 sha512"`
	// StartTime schedules a deferred start; zero value means start immediately.
	StartTime time.Time

	// Timeout bounds how long a single request (probe or segment fetch)
	// may run; 0 = use the engine default.
	Timeout time.Duration `validate:"gte=0"`
	// MaxRetries overrides the engine default retry budget per URI for
	// this task; 0 = use the engine default.
	MaxRetries int `validate:"gte=0"`
	// RetryDelay is the base delay before a retry, doubled per attempt
	// (retry_delay_seconds * 2^attempt); 0 = use the engine default.
	RetryDelay time.Duration `validate:"gte=0"`
	// ResumeEnabled controls whether progress is checkpointed so a paused
	// task can resume instead of restarting; nil means enabled (the
	// default), matching VerifySSL's opt-out-by-pointer shape.
	ResumeEnabled *bool
	// UserAgent overrides the engine default User-Agent for this task.
	UserAgent string
	// Proxy is a proxy URL (http://, https:// or socks5://) used for this
	// task's requests instead of the environment-configured proxy.
	Proxy string
	// VerifySSL disables TLS certificate verification for this task when
	// explicitly set to false; nil means use the engine default (verify).
	VerifySSL *bool
	// MinSegmentSize is the smallest a segment may be when planning how
	// many connections to open; 0 = use the engine default.
	MinSegmentSize int64 `validate:"gte=0"`
	// ProgressInterval overrides how often progress events are emitted
	// and resume state is checkpointed; 0 = use the engine default.
	ProgressInterval time.Duration `validate:"gte=0"`
	// CreateDirectory makes SavePath's directory if it doesn't exist.
	CreateDirectory bool
	// OverwriteExisting writes over a colliding file at the resolved save
	// path instead of appending a " (n)" disambiguator.
	OverwriteExisting bool
}

// VerifySSLOrDefault reports whether TLS certificates should be verified
// for this task: true unless VerifySSL was explicitly set to false.
func (o DownloadOptions) VerifySSLOrDefault() bool {
	return o.VerifySSL == nil || *o.VerifySSL
}

// ResumeEnabledOrDefault reports whether resume-state checkpointing is
// active for this task: true unless ResumeEnabled was explicitly set to
// false.
func (o DownloadOptions) ResumeEnabledOrDefault() bool {
	return o.ResumeEnabled == nil || *o.ResumeEnabled
}

// Validate checks DownloadOptions' invariants.
func (o DownloadOptions) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("config: invalid download options: %w", err)
	}
	return nil
}
