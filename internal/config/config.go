// Package config holds the run configuration for tenders-report.
//
// Values are layered: Default(), then an optional YAML file, then
// environment variables, then command-line flags (applied by the caller).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/eunmann/tenders-report/pkg/report"
	"github.com/eunmann/tenders-report/pkg/s3fetch"
	"github.com/eunmann/tenders-report/pkg/staging"
)

// StorePlaceholder is replaced by the store id in every path setting.
const StorePlaceholder = "{store}"

// Environment variables read by ApplyEnv.
const (
	EnvStoreID   = "TENDERS_STORE_ID"
	EnvS3Bucket  = "TENDERS_S3_BUCKET"
	EnvS3Prefix  = "TENDERS_S3_PREFIX"
	EnvOutput    = "TENDERS_OUTPUT"
	EnvStagingDB = "TENDERS_STAGING_DB"
	EnvStartDate = "START_DATE"
	EnvEndDate   = "END_DATE"
)

// Config is the full run configuration.
type Config struct {
	StoreID string        `yaml:"store_id"`
	Input   InputConfig   `yaml:"input"`
	Staging StagingConfig `yaml:"staging"`
	Output  OutputConfig  `yaml:"output"`
	Report  ReportConfig  `yaml:"report"`
	S3      S3Config      `yaml:"s3"`
	Log     LogConfig     `yaml:"log"`
}

// InputConfig locates the exported tables. Paths may contain {store}.
type InputConfig struct {
	StoreFile   string `yaml:"store_file"`
	JournalFile string `yaml:"journal_file"`
}

// StagingConfig configures the SQLite staging database.
type StagingConfig struct {
	Path        string `yaml:"path"`
	Synchronous string `yaml:"synchronous"`
}

// OutputConfig locates the report. A path ending in .parquet selects
// parquet output.
type OutputConfig struct {
	Path string `yaml:"path"`
	// FailedLog lists store ids that failed during a batch run.
	FailedLog string `yaml:"failed_log"`
}

// ReportConfig mirrors report.Options.
type ReportConfig struct {
	SaleCode        string `yaml:"sale_code"`
	DescriptionCode string `yaml:"description_code"`
	Currency        string `yaml:"currency"`
	DateFrom        string `yaml:"date_from"`
	DateTo          string `yaml:"date_to"`
}

// S3Config enables fetching exports from, and uploading reports to, S3.
// An empty Bucket disables S3 entirely.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	// Prefix is prepended to "<store>/<file name>" when fetching exports.
	Prefix string `yaml:"prefix"`
	// ReportPrefix, when set, uploads the report to "<report_prefix><file name>".
	ReportPrefix string `yaml:"report_prefix"`
	// DownloadDir receives fetched exports. May contain {store}.
	DownloadDir string `yaml:"download_dir"`
}

// LogConfig controls logger setup.
type LogConfig struct {
	Debug bool `yaml:"debug"`
	Human bool `yaml:"human"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Input: InputConfig{
			StoreFile:   "data/{store}/STR.DBF",
			JournalFile: "data/{store}/JNL.DBF",
		},
		Staging: StagingConfig{
			Path:        "staging/{store}.db",
			Synchronous: "NORMAL",
		},
		Output: OutputConfig{
			Path:      "reports/{store}_tenders_report.csv",
			FailedLog: "reports/failed_stores.txt",
		},
		Report: ReportConfig{
			SaleCode:        report.DefaultSaleCode,
			DescriptionCode: report.DefaultDescriptionCode,
			Currency:        report.DefaultCurrency,
		},
		S3: S3Config{
			DownloadDir: "downloads/{store}",
		},
	}
}

// Load reads a YAML file over Default(). Keys absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays non-empty environment variables. getenv is usually
// os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.StoreID, EnvStoreID)
	set(&c.S3.Bucket, EnvS3Bucket)
	set(&c.S3.Prefix, EnvS3Prefix)
	set(&c.Output.Path, EnvOutput)
	set(&c.Staging.Path, EnvStagingDB)
	set(&c.Report.DateFrom, EnvStartDate)
	set(&c.Report.DateTo, EnvEndDate)
}

// ReportOptions converts the report section to report.Options.
func (c *Config) ReportOptions() report.Options {
	return report.Options{
		SaleCode:        c.Report.SaleCode,
		DescriptionCode: c.Report.DescriptionCode,
		Currency:        c.Report.Currency,
		DateFrom:        c.Report.DateFrom,
		DateTo:          c.Report.DateTo,
	}
}

// Validate checks everything except the store id, which batch runs supply
// per store. Use ValidateStore for single-store runs.
func (c *Config) Validate() error {
	if err := c.ReportOptions().Validate(); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if c.Input.JournalFile == "" {
		return errors.New("input.journal_file is required")
	}
	if c.Input.StoreFile == "" {
		return errors.New("input.store_file is required")
	}
	if c.Output.Path == "" {
		return errors.New("output.path is required")
	}
	switch ext := strings.ToLower(filepath.Ext(c.Output.Path)); ext {
	case ".csv", ".parquet":
	default:
		return fmt.Errorf("output.path %q: unsupported extension %q (want .csv or .parquet)", c.Output.Path, ext)
	}
	sc := staging.DefaultConfig(c.Staging.Path)
	sc.Synchronous = c.Staging.Synchronous
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("staging: %w", err)
	}
	if c.S3.ReportPrefix != "" && c.S3.Bucket == "" {
		return errors.New("s3.report_prefix requires s3.bucket")
	}
	return nil
}

// ValidateStore is Validate plus a required store id.
func (c *Config) ValidateStore() error {
	if strings.TrimSpace(c.StoreID) == "" {
		return errors.New("store id is required")
	}
	if strings.ContainsAny(c.StoreID, `/\`) {
		return fmt.Errorf("store id %q must not contain path separators", c.StoreID)
	}
	return c.Validate()
}

// ValidateBatch is Validate plus the checks a multi-store run needs: every
// per-store path must contain {store}, otherwise stores would share inputs
// or overwrite each other's report.
func (c *Config) ValidateBatch() error {
	if err := c.Validate(); err != nil {
		return err
	}
	type setting struct{ key, value string }
	perStore := []setting{{"output.path", c.Output.Path}}
	if c.S3.Bucket == "" {
		perStore = append(perStore,
			setting{"input.store_file", c.Input.StoreFile},
			setting{"input.journal_file", c.Input.JournalFile})
	} else {
		perStore = append(perStore, setting{"s3.download_dir", c.S3.DownloadDir})
	}
	if c.S3.ReportPrefix != "" {
		// Uploads are keyed by file name alone.
		perStore = append(perStore, setting{"output.path file name", filepath.Base(c.Output.Path)})
	}
	for _, s := range perStore {
		if !strings.Contains(s.value, StorePlaceholder) {
			return fmt.Errorf("%s %q must contain %s for multi-store runs", s.key, s.value, StorePlaceholder)
		}
	}
	return nil
}

// SetS3Source sets the bucket and export prefix from an s3://bucket/prefix
// URI.
func (c *Config) SetS3Source(uri string) error {
	bucket, prefix, err := s3fetch.ParseS3URI(uri)
	if err != nil {
		return err
	}
	c.S3.Bucket, c.S3.Prefix = bucket, prefix
	return nil
}

// Paths holds the resolved per-store locations.
type Paths struct {
	StoreFile   string
	JournalFile string
	StagingDB   string
	Output      string
	DownloadDir string
}

// ForStore expands {store} in every path setting.
func (c *Config) ForStore(id string) Paths {
	expand := func(s string) string {
		return strings.ReplaceAll(s, StorePlaceholder, id)
	}
	return Paths{
		StoreFile:   expand(c.Input.StoreFile),
		JournalFile: expand(c.Input.JournalFile),
		StagingDB:   expand(c.Staging.Path),
		Output:      expand(c.Output.Path),
		DownloadDir: expand(c.S3.DownloadDir),
	}
}

// StagingFor returns the staging database settings for one store.
func (c *Config) StagingFor(id string) staging.Config {
	sc := staging.DefaultConfig(c.ForStore(id).StagingDB)
	if c.Staging.Synchronous != "" {
		sc.Synchronous = c.Staging.Synchronous
	}
	return sc
}
