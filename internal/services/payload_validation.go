package services

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	domain "github.com/maherkar/api/internal/domain"
	"github.com/maherkar/api/internal/platform/textutil"
)

// ValidationError reports per-field problems with a command payload. It wraps ErrOrderInvalidInput.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+e.Fields[key])
	}
	return fmt.Sprintf("%s: %s", ErrOrderInvalidInput, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrOrderInvalidInput
}

var (
	payloadValidatorOnce sync.Once
	payloadValidator     *validator.Validate
)

func payloadValidate() *validator.Validate {
	payloadValidatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		if err := v.RegisterValidation("salary_range", func(fl validator.FieldLevel) bool {
			return slices.Contains(domain.SalaryRanges, fl.Field().String())
		}); err != nil {
			panic(fmt.Sprintf("register salary_range validation: %v", err))
		}
		payloadValidator = v
	})
	return payloadValidator
}

// normalizeJobPayload sanitises free text fields and validates the job posting payload.
func normalizeJobPayload(payload domain.JobPostingPayload) (domain.JobPostingPayload, error) {
	payload.Title = textutil.SingleLine(payload.Title)
	payload.Description = textutil.PlainText(payload.Description)
	payload.CompanyID = strings.TrimSpace(payload.CompanyID)
	payload.IndustryID = strings.TrimSpace(payload.IndustryID)
	payload.Gender = strings.ToUpper(strings.TrimSpace(payload.Gender))
	payload.SoldierStatus = strings.ToUpper(strings.TrimSpace(payload.SoldierStatus))
	payload.Degree = strings.ToUpper(strings.TrimSpace(payload.Degree))
	payload.Salary = strings.TrimSpace(payload.Salary)
	payload.JobType = strings.ToUpper(strings.TrimSpace(payload.JobType))
	if err := validatePayload(payload); err != nil {
		return domain.JobPostingPayload{}, err
	}
	return payload, nil
}

// normalizeResumePayload sanitises free text fields and validates the resume payload.
func normalizeResumePayload(payload domain.ResumePayload) (domain.ResumePayload, error) {
	payload.Title = textutil.SingleLine(payload.Title)
	payload.Description = textutil.PlainText(payload.Description)
	payload.ResumeID = strings.TrimSpace(payload.ResumeID)
	payload.IndustryID = strings.TrimSpace(payload.IndustryID)
	payload.LocationID = strings.TrimSpace(payload.LocationID)
	payload.Gender = strings.ToUpper(strings.TrimSpace(payload.Gender))
	payload.SoldierStatus = strings.ToUpper(strings.TrimSpace(payload.SoldierStatus))
	payload.Degree = strings.ToUpper(strings.TrimSpace(payload.Degree))
	payload.Salary = strings.TrimSpace(payload.Salary)
	payload.JobType = strings.ToUpper(strings.TrimSpace(payload.JobType))
	if err := validatePayload(payload); err != nil {
		return domain.ResumePayload{}, err
	}
	return payload, nil
}

func validatePayload(payload any) error {
	err := payloadValidate().Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = validationMessage(fe)
	}
	return &ValidationError{Fields: fields}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "salary_range":
		return fmt.Sprintf("must be one of: %s", strings.Join(domain.SalaryRanges, ", "))
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
