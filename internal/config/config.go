package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"gopkg.in/yaml.v3"
)

const (
	MinCheckoutRetries = 3
	MaxCheckoutRetries = 10

	DefaultSSHSourcePattern = `^(ssh://|[\w.-]+@[\w.-]+:)`

	IdentityFileOverrideSuffix = "_IDENTITY_FILE_PATH_OVERRIDE"
	BranchOverrideSuffix       = "_OVERRIDE"
)

var ErrInvalidRetries = errors.New("invalid retry count")

type Source struct {
	Name             string `yaml:"name"`
	Repo             string `yaml:"repo"`
	Branch           string `yaml:"branch"`
	IdentityFilePath string `yaml:"identity_file_path,omitempty"`
}

type Mirror struct {
	Name         string   `yaml:"name"`
	URL          string   `yaml:"url"`
	Distribution string   `yaml:"distribution"`
	Components   []string `yaml:"components,omitempty"`
}

type BranchOverrides struct {
	Global   string            `yaml:"global,omitempty"`
	Try      string            `yaml:"try,omitempty"`
	Packages map[string]string `yaml:"packages,omitempty"`
}

type Bootstrap struct {
	Package []string `yaml:"package"`
	Rootfs  []string `yaml:"rootfs"`
	Cdrom   []string `yaml:"cdrom"`
}

type Config struct {
	BaseDir      string `yaml:"base_dir"`
	CacheDir     string `yaml:"cache_dir,omitempty"`
	PkgDir       string `yaml:"pkg_dir,omitempty"`
	LogDir       string `yaml:"log_dir,omitempty"`
	SourcesDir   string `yaml:"sources_dir,omitempty"`
	ScratchDir   string `yaml:"scratch_dir,omitempty"`
	HashDir      string `yaml:"hash_dir,omitempty"`
	GitManifest  string `yaml:"git_manifest,omitempty"`
	ReferenceDir string `yaml:"reference_dir,omitempty"`

	SSHSourcePattern        string            `yaml:"ssh_source_pattern,omitempty"`
	IdentityFilePathDefault string            `yaml:"identity_file_path_default,omitempty"`
	IdentityFileOverrides   map[string]string `yaml:"identity_file_path_overrides,omitempty"`
	CheckoutRetries         int               `yaml:"checkout_retries,omitempty"`
	BranchOverrides         BranchOverrides   `yaml:"branch_overrides,omitempty"`

	Sources   []Source  `yaml:"sources"`
	Mirrors   []Mirror  `yaml:"mirrors"`
	Bootstrap Bootstrap `yaml:"bootstrap"`

	AgePublicKey   string   `yaml:"age_public_key,omitempty"`
	SharedCacheDir string   `yaml:"shared_cache_dir,omitempty"`
	S3             S3Config `yaml:"s3,omitempty"`

	sshPattern *regexp.Regexp
}

type S3Config struct {
	Enabled      bool   `yaml:"enabled"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	StorageClass struct {
		Cache types.StorageClass `yaml:"cache"`
	} `yaml:"storage_class"`
	Retry struct {
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"retry,omitempty"`
}

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyEnv(os.Environ())
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BaseDir == "" {
		return
	}
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(c.BaseDir, "cache")
	}
	if c.PkgDir == "" {
		c.PkgDir = filepath.Join(c.BaseDir, "pkgdir")
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.BaseDir, "logs")
	}
	if c.SourcesDir == "" {
		c.SourcesDir = filepath.Join(c.BaseDir, "sources")
	}
	if c.ScratchDir == "" {
		c.ScratchDir = filepath.Join(c.BaseDir, "tmp")
	}
	if c.HashDir == "" {
		c.HashDir = filepath.Join(c.BaseDir, "hash")
	}
	if c.ReferenceDir == "" {
		c.ReferenceDir = filepath.Join(c.BaseDir, "conf", "reference-files")
	}
	if c.GitManifest == "" {
		c.GitManifest = filepath.Join(c.LogDir, "GITMANIFEST")
	}
	if c.SSHSourcePattern == "" {
		c.SSHSourcePattern = DefaultSSHSourcePattern
	}
	if c.CheckoutRetries == 0 {
		c.CheckoutRetries = MinCheckoutRetries
	}
}

func (c *Config) Validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("base_dir is required")
	}
	if err := ValidateRetries(c.CheckoutRetries); err != nil {
		return fmt.Errorf("checkout_retries: %w", err)
	}
	if c.SSHSourcePattern == "" {
		c.SSHSourcePattern = DefaultSSHSourcePattern
	}
	re, err := regexp.Compile(c.SSHSourcePattern)
	if err != nil {
		return fmt.Errorf("ssh_source_pattern is not a valid regexp: %w", err)
	}
	c.sshPattern = re

	seen := make(map[string]bool)
	for i, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d].name is required", i)
		}
		if s.Repo == "" {
			return fmt.Errorf("sources[%d].repo is required", i)
		}
		if s.Branch == "" {
			return fmt.Errorf("sources[%d].branch is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("sources[%d].name %q is duplicated", i, s.Name)
		}
		seen[s.Name] = true
	}
	for i, m := range c.Mirrors {
		if m.Name == "" {
			return fmt.Errorf("mirrors[%d].name is required", i)
		}
		if m.URL == "" {
			return fmt.Errorf("mirrors[%d].url is required", i)
		}
		if m.Distribution == "" {
			return fmt.Errorf("mirrors[%d].distribution is required", i)
		}
	}
	if c.AgePublicKey != "" && !strings.HasPrefix(c.AgePublicKey, "age1") {
		return fmt.Errorf("age_public_key must start with 'age1'")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required when s3 is enabled")
		}
		if c.S3.Region == "" {
			return fmt.Errorf("s3.region is required when s3 is enabled")
		}
		if c.S3.StorageClass.Cache == "" {
			return fmt.Errorf("s3.storage_class.cache is required when s3 is enabled")
		}
	}
	return nil
}

// ValidateRetries reports whether n is an accepted checkout retry count.
func ValidateRetries(n int) error {
	if n < MinCheckoutRetries || n > MaxCheckoutRetries {
		return fmt.Errorf("%w: the number of retries must be between %d and %d, got %d",
			ErrInvalidRetries, MinCheckoutRetries, MaxCheckoutRetries, n)
	}
	return nil
}

// ApplyEnv layers BRANCH_OVERRIDE, TRY_BRANCH_OVERRIDE, <NAME>_OVERRIDE and
// <NAME>_IDENTITY_FILE_PATH_OVERRIDE from environ on top of the file values.
func (c *Config) ApplyEnv(environ []string) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok && v != "" {
			env[k] = v
		}
	}

	if v := env["BRANCH_OVERRIDE"]; v != "" {
		c.BranchOverrides.Global = v
	}
	if v := env["TRY_BRANCH_OVERRIDE"]; v != "" {
		c.BranchOverrides.Try = v
	}

	for _, s := range c.Sources {
		key := EnvKey(s.Name)
		if v := env[key+IdentityFileOverrideSuffix]; v != "" {
			if c.IdentityFileOverrides == nil {
				c.IdentityFileOverrides = make(map[string]string)
			}
			c.IdentityFileOverrides[s.Name] = v
		}
		if v := env[key+BranchOverrideSuffix]; v != "" {
			if c.BranchOverrides.Packages == nil {
				c.BranchOverrides.Packages = make(map[string]string)
			}
			c.BranchOverrides.Packages[s.Name] = v
		}
	}
}

// EnvKey turns a package name into the prefix used by its environment overrides.
func EnvKey(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

func (c *Config) FindSource(name string) (*Source, error) {
	for _, s := range c.Sources {
		if s.Name == name {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("source not found: %s", name)
}

// IsSSHSource reports whether origin matches the configured SSH remote pattern.
func (c *Config) IsSSHSource(origin string) bool {
	re := c.sshPattern
	if re == nil {
		pattern := c.SSHSourcePattern
		if pattern == "" {
			pattern = DefaultSSHSourcePattern
		}
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		re = compiled
	}
	return re.MatchString(origin)
}

func (c *Config) S3RetryAttempts() int {
	if c.S3.Retry.MaxAttempts > 0 {
		return c.S3.Retry.MaxAttempts
	}
	return 3
}
