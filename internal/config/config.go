package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/go-playground/validator/v10"
)

type StorageBackend string

const (
	BackendS3         StorageBackend = "s3"
	BackendFilesystem StorageBackend = "filesystem"
)

type Config struct {
	// Channel credentials. Either the key/secret pair or CredentialsParam must be set.
	TwilioAPIKey     string `env:"TWILIO_API_KEY"`
	TwilioAPISecret  string `env:"TWILIO_API_SECRET"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	CredentialsParam string `env:"TWILIO_CREDENTIALS_PARAM"`
	WebhookPublicURL string `env:"WEBHOOK_PUBLIC_URL"`

	// Storage
	StorageBackend StorageBackend `env:"STORAGE_BACKEND" envDefault:"s3" validate:"oneof=s3 filesystem"`
	S3Bucket       string         `env:"S3_BUCKET" validate:"required_if=StorageBackend s3"`
	S3PublicRead   bool           `env:"S3_PUBLIC_READ" envDefault:"false"`
	AWSRegion      string         `env:"AWS_REGION"`
	StorageDir     string         `env:"STORAGE_DIR" envDefault:"data/artifacts" validate:"required_if=StorageBackend filesystem"`

	// Records
	RecordTable   string `env:"RECORD_TABLE"`
	RecordTTLDays int    `env:"RECORD_TTL_DAYS" envDefault:"0" validate:"gte=0"`

	// Timeouts and limits
	MediaFetchTimeout   time.Duration `env:"MEDIA_FETCH_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	StorageWriteTimeout time.Duration `env:"STORAGE_WRITE_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	MediaMaxBytes       int64         `env:"MEDIA_MAX_BYTES" envDefault:"16777216" validate:"gt=0"`

	// Conversation behaviour
	UniqueArtifactKeys    bool          `env:"UNIQUE_ARTIFACT_KEYS" envDefault:"false"`
	AcceptEmptyIdentifier bool          `env:"ACCEPT_EMPTY_IDENTIFIER" envDefault:"false"`
	SessionIdleTimeout    time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"0s" validate:"gte=0"`

	// Local server. The records endpoint is only served when RecordsAPIToken
	// is set.
	ListenAddr      string `env:"LISTEN_ADDR" envDefault:":5000"`
	RecordsAPIToken string `env:"RECORDS_API_TOKEN"`
}

// Load parses the process environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = newValidator()

// newValidator reports fields by their environment variable name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("env"), ",")
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks field constraints and the credential requirement, which
// depends on three variables at once.
func (c *Config) Validate() error {
	var errs []error
	if c.CredentialsParam == "" && (strings.TrimSpace(c.TwilioAPIKey) == "" || strings.TrimSpace(c.TwilioAPISecret) == "") {
		errs = append(errs, errors.New("TWILIO_API_KEY and TWILIO_API_SECRET are required unless TWILIO_CREDENTIALS_PARAM is set"))
	}
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("config: validate: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, fmt.Errorf("%s: invalid value %q (%s)", fe.Field(), fmt.Sprint(fe.Value()), constraint(fe)))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func constraint(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// NeedsAWS reports whether any configured component talks to AWS.
func (c *Config) NeedsAWS() bool {
	return c.StorageBackend == BackendS3 || c.RecordTable != "" || c.CredentialsParam != ""
}

// RecordTTL returns the record retention as a duration.
func (c *Config) RecordTTL() time.Duration {
	return time.Duration(c.RecordTTLDays) * 24 * time.Hour
}
