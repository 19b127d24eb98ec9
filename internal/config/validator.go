package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers pyx-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"duration":          validateDuration,
		"access_log_output": validateAccessLogOutput,
		"trace_output":      validateTraceOutput,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateDuration accepts non-negative time.ParseDuration strings.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

// validateAccessLogOutput accepts "stdout", "off" or "file://<absolute-path>".
func validateAccessLogOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()
	if output == "stdout" || output == "off" {
		return true
	}
	return isFileURL(output)
}

// validateTraceOutput accepts "stdout", "stderr" or "file://<absolute-path>".
func validateTraceOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()
	if output == "stdout" || output == "stderr" {
		return true
	}
	return isFileURL(output)
}

func isFileURL(output string) bool {
	path, ok := strings.CutPrefix(output, "file://")
	return ok && path != "" && filepath.IsAbs(path)
}

// FilePath returns the path of a "file://" output, or "" for the named
// outputs.
func FilePath(output string) string {
	path, _ := strings.CutPrefix(output, "file://")
	if path == output {
		return ""
	}
	return path
}

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateTimeouts(); err != nil {
		return err
	}
	if err := c.validateAdminAddr(); err != nil {
		return err
	}
	return nil
}

// validateTimeouts ensures the header deadline can expire before the idle
// one would close a slow client anyway.
func (c *Config) validateTimeouts() error {
	idle, _ := time.ParseDuration(c.Connection.IdleTimeout)
	header, _ := time.ParseDuration(c.Connection.HeaderTimeout)
	if idle > 0 && header > 0 && header > idle {
		return fmt.Errorf("connection.header_timeout (%s) must not exceed connection.idle_timeout (%s)",
			c.Connection.HeaderTimeout, c.Connection.IdleTimeout)
	}
	return nil
}

// validateAdminAddr ensures the admin listener does not share the server address.
func (c *Config) validateAdminAddr() error {
	if c.Admin.Addr != "" && c.Admin.Addr == c.Server.Addr {
		return fmt.Errorf("admin.addr must differ from server.addr (%s)", c.Server.Addr)
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "excludesall":
		return fmt.Sprintf("%s must be a plain file name", field)
	case "duration":
		return fmt.Sprintf("%s must be a duration such as \"30s\" or \"500ms\"", field)
	case "access_log_output":
		return fmt.Sprintf("%s must be 'stdout', 'off' or 'file://<absolute-path>'", field)
	case "trace_output":
		return fmt.Sprintf("%s must be 'stdout', 'stderr' or 'file://<absolute-path>'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
