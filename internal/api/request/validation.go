package request

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var jobIDRegex = regexp.MustCompile(`^job_[a-z0-9]{10}$`)

func init() {
	validate.RegisterValidation("job_id", func(fl validator.FieldLevel) bool {
		return jobIDRegex.MatchString(fl.Field().String())
	})
}

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

// RequireJobID checks that s looks like a backup job id.
func RequireJobID(s string) (string, error) {
	if err := validate.Var(s, "required,job_id"); err != nil {
		return "", fmt.Errorf("invalid job ID %q", s)
	}
	return s, nil
}
