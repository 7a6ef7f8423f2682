package appointment

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// CreateRequest is the raw creation input as received at the boundary.
type CreateRequest struct {
	InsuredID   string `json:"insuredId" validate:"required,insured_digits"`
	ScheduleID  string `json:"scheduleId" validate:"required,max=128"`
	CountryCode string `json:"countryCode" validate:"required,appointment_country"`
}

// CreateCommand is a validated CreateRequest.
type CreateCommand struct {
	InsuredID  InsuredID
	ScheduleID string
	Country    Country
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	// custom tags must not shadow validator's baked-in aliases such as country_code
	rules := map[string]validator.Func{
		"insured_digits": func(fl validator.FieldLevel) bool {
			_, err := ParseInsuredID(fl.Field().String())
			return err == nil
		},
		"appointment_country": func(fl validator.FieldLevel) bool {
			_, err := ParseCountry(fl.Field().String())
			return err == nil
		},
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("appointment: register %s validation: %v", tag, err))
		}
	}
	return v
}

// ParseCreateRequest validates req once and returns the typed command.
// The error is always a *ValidationError.
func ParseCreateRequest(req CreateRequest) (CreateCommand, error) {
	req.InsuredID = strings.TrimSpace(req.InsuredID)
	req.ScheduleID = strings.TrimSpace(req.ScheduleID)
	req.CountryCode = strings.ToUpper(strings.TrimSpace(req.CountryCode))

	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return CreateCommand{}, &ValidationError{Problems: []string{err.Error()}}
		}
		problems := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			problems = append(problems, describe(fe))
		}
		return CreateCommand{}, &ValidationError{Problems: problems}
	}

	insured, err := ParseInsuredID(req.InsuredID)
	if err != nil {
		return CreateCommand{}, &ValidationError{Problems: []string{err.Error()}}
	}
	country, err := ParseCountry(req.CountryCode)
	if err != nil {
		return CreateCommand{}, &ValidationError{Problems: []string{err.Error()}}
	}

	return CreateCommand{
		InsuredID:  insured,
		ScheduleID: req.ScheduleID,
		Country:    country,
	}, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "insured_digits":
		return fmt.Sprintf("%s must have exactly 5 digits", fe.Field())
	case "appointment_country":
		return fmt.Sprintf("%s must be one of %s", fe.Field(), joinCountries())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}

func joinCountries() string {
	codes := make([]string, 0, len(Countries()))
	for _, c := range Countries() {
		codes = append(codes, string(c))
	}
	return strings.Join(codes, ", ")
}
