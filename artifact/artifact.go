// Package artifact describes the run-from-package archives that pkgsign
// publishes and where they are published to.
package artifact

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultBlob is the blob name template used when none is configured.
	DefaultBlob = "{{ id }}.zip"

	// DefaultAppSetting is the App Service setting that points a web app at a package.
	DefaultAppSetting = "WEBSITE_RUN_FROM_PACKAGE"

	// ContentType is stored on uploaded package blobs.
	ContentType = "application/zip"
)

var (
	idPattern        = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	containerPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	settingPattern   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	validate *validator.Validate
	once     sync.Once
)

// Artifact is one distribution directory published as a zip blob.
type Artifact struct {
	// ID names the artifact on the command line and in templates.
	ID string `yaml:"id" json:"id" validate:"required,artifact_id"`
	// Path is the distribution directory to archive.
	Path string `yaml:"path" json:"path" validate:"required"`
	// Blob is the blob name template. Defaults to DefaultBlob.
	Blob string `yaml:"blob" json:"blob"`
	// Exclude lists doublestar patterns, relative to Path, left out of the archive.
	Exclude []string `yaml:"exclude" json:"exclude"`
	// AppSetting is the name of the app setting that receives the URL.
	AppSetting string `yaml:"app_setting" json:"app_setting" validate:"omitempty,app_setting"`
}

// Destination is the storage account and container artifacts are published to.
type Destination struct {
	Account   string `validate:"required,min=3,max=24,lowercase,alphanum"`
	Container string `validate:"required,min=3,max=63,container_name"`
}

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		_ = validate.RegisterValidation("artifact_id", matches(idPattern))
		_ = validate.RegisterValidation("container_name", matches(containerPattern))
		_ = validate.RegisterValidation("app_setting", matches(settingPattern))
	})
	return validate
}

func matches(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

// WithDefaults returns a copy with empty optional fields filled in.
func (a Artifact) WithDefaults() Artifact {
	if strings.TrimSpace(a.Blob) == "" {
		a.Blob = DefaultBlob
	}
	if a.AppSetting == "" {
		a.AppSetting = DefaultAppSetting
	}
	return a
}

// Validate checks the artifact configuration.
func (a Artifact) Validate() error {
	return structError(getValidator().Struct(a))
}

// Validate checks the account and container against the Azure naming rules.
func (d Destination) Validate() error {
	return structError(getValidator().Struct(d))
}

func structError(err error) error {
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		messages = append(messages, fmt.Sprintf("%s: %s", strings.ToLower(e.Field()), describe(e)))
	}

	return errors.New(strings.Join(messages, "; "))
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "cannot be empty"
	case "min":
		return fmt.Sprintf("must be at least %s characters", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", e.Param())
	case "lowercase", "alphanum":
		return "can only contain lowercase letters and numbers"
	case "artifact_id":
		return "can only contain letters, numbers, hyphens and underscores"
	case "container_name":
		return "can only contain lowercase letters, numbers and single hyphens between them"
	case "app_setting":
		return "must be a valid app setting name"
	default:
		return fmt.Sprintf("failed %s validation", e.Tag())
	}
}
