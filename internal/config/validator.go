package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// policyIDPattern matches dotted lowercase policy identifiers such as
// "finance.payment.refund.v1" or "admin.access".
var policyIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z0-9_]+)+$`)

// RegisterCustomValidators registers aport-demo validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("policy_id", validatePolicyID); err != nil {
		return fmt.Errorf("failed to register policy_id validator: %w", err)
	}
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	if err := v.RegisterValidation("argon2_hash", validateArgon2Hash); err != nil {
		return fmt.Errorf("failed to register argon2_hash validator: %w", err)
	}
	return nil
}

// validatePolicyID validates dotted policy identifiers.
func validatePolicyID(fl validator.FieldLevel) bool {
	return policyIDPattern.MatchString(fl.Field().String())
}

// validateDuration validates Go duration strings like "10s" or "100ms".
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

// validateArgon2Hash validates encoded Argon2id hashes as produced by
// `aport-demo hash-key`.
func validateArgon2Hash(fl validator.FieldLevel) bool {
	return strings.HasPrefix(fl.Field().String(), "$argon2id$")
}

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error with actionable messages on failure.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateCredentials(); err != nil {
		return err
	}
	if err := c.validateDecisionLog(); err != nil {
		return err
	}
	if err := c.validateMockAuth(); err != nil {
		return err
	}
	return nil
}

// validateCredentials ensures a real client has something to authenticate
// with. The mock verifier needs no credentials.
func (c *Config) validateCredentials() error {
	if c.Client.UseMock {
		return nil
	}
	if c.Client.APIKey == "" {
		return errors.New("client: api_key is required unless use_mock is set (or pass --dev)")
	}
	return nil
}

// validateDecisionLog ensures the sqlite backend has a database path.
func (c *Config) validateDecisionLog() error {
	if c.DecisionLog.Backend == "sqlite" && c.DecisionLog.Path == "" {
		return errors.New("decision_log: path is required for the sqlite backend")
	}
	return nil
}

// validateMockAuth ensures authenticated mock API mode has keys to check.
func (c *Config) validateMockAuth() error {
	if c.MockAPI.RequireAuth && len(c.MockAPI.APIKeyHashes) == 0 {
		return errors.New("mock_api: require_auth needs at least one entry in api_key_hashes")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
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

// formatSingleValidationError creates a user-friendly message for a single
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "policy_id":
		return fmt.Sprintf("%s must be a dotted policy id like 'payments.transfer.v1'", field)
	case "duration":
		return fmt.Sprintf("%s must be a duration like '10s' or '100ms'", field)
	case "argon2_hash":
		return fmt.Sprintf("%s must be an encoded Argon2id hash (generate with 'aport-demo hash-key')", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
