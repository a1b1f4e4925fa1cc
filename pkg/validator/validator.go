package validator

import (
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate

	phonePattern    = regexp.MustCompile(`^\+?[1-9]\d{0,15}$`)
	healthIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{3,50}$`)
	licensePattern  = regexp.MustCompile(`^[A-Za-z0-9-]{5,20}$`)
	passwordPattern = regexp.MustCompile(`^[a-zA-Z\d@$!%*?&]{8,}$`)

	phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

// ValidationErrors collects multiple validation failures.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}

	parts := make([]string, len(v))
	for i, err := range v {
		if err.Param != "" {
			parts[i] = err.Field + " failed on " + err.Tag + "=" + err.Param
		} else {
			parts[i] = err.Field + " failed on " + err.Tag
		}
	}
	return strings.Join(parts, "; ")
}

// ValidateStruct validates a struct using registered rules.
func ValidateStruct(s interface{}) error {
	return convert(getValidator().Struct(s))
}

// ValidateVar validates a single value against a tag expression such as "required,email".
func ValidateVar(value interface{}, tag string) error {
	return convert(getValidator().Var(value, tag))
}

// RegisterValidation exposes underlying validator custom rules.
func RegisterValidation(tag string, fn validator.Func) error {
	return getValidator().RegisterValidation(tag, fn)
}

// NormalizePhone strips common separators so "+1 (555) 010-0000" and
// "+15550100000" compare equal.
func NormalizePhone(phone string) string {
	return phoneSeparators.Replace(strings.TrimSpace(phone))
}

// IsPhone reports whether the value is a plausible E.164-style phone number.
func IsPhone(phone string) bool {
	return phonePattern.MatchString(NormalizePhone(phone))
}

// IsHealthID reports whether the value is a well-formed national health identifier.
func IsHealthID(id string) bool {
	return healthIDPattern.MatchString(id)
}

// IsLicenseNumber reports whether the value looks like a medical license number.
func IsLicenseNumber(license string) bool {
	return licensePattern.MatchString(license)
}

// IsStrongPassword requires eight characters with at least one upper case
// letter, one lower case letter and one digit.
func IsStrongPassword(password string) bool {
	if !passwordPattern.MatchString(password) {
		return false
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	return upper && lower && digit
}

func convert(err error) error {
	if err == nil {
		return nil
	}

	if ve, ok := err.(validator.ValidationErrors); ok {
		failures := make(ValidationErrors, 0, len(ve))
		for _, fe := range ve {
			failures = append(failures, ValidationError{
				Field: fe.Field(),
				Tag:   fe.Tag(),
				Param: fe.Param(),
			})
		}
		return failures
	}

	return err
}

func stringRule(fn func(string) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return fn(fl.Field().String())
	}
}

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := fld.Tag.Get("json")
			if name == "" {
				return fld.Name
			}

			comma := strings.Index(name, ",")
			if comma != -1 {
				name = name[:comma]
			}

			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})

		_ = validate.RegisterValidation("phone", stringRule(IsPhone))
		_ = validate.RegisterValidation("healthid", stringRule(IsHealthID))
		_ = validate.RegisterValidation("license", stringRule(IsLicenseNumber))
		_ = validate.RegisterValidation("password", stringRule(IsStrongPassword))
	})
	return validate
}
