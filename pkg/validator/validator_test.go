package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type registrationPayload struct {
	HealthID string `json:"health_id" validate:"required,healthid"`
	Email    string `json:"email" validate:"omitempty,email"`
	Phone    string `json:"phone" validate:"omitempty,phone"`
	Password string `json:"password" validate:"required,password"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := registrationPayload{
		HealthID: "HID12345",
		Email:    "alice@example.com",
		Phone:    "+1 (555) 010-2000",
		Password: "Sup3rSecret",
	}

	require.NoError(t, ValidateStruct(payload))
}

func TestValidateStructFailures(t *testing.T) {
	payload := registrationPayload{
		HealthID: "h!",
		Email:    "invalid",
		Phone:    "0123",
		Password: "password",
	}

	err := ValidateStruct(payload)
	require.Error(t, err)

	vErrs, ok := err.(ValidationErrors)
	require.True(t, ok, "expected ValidationErrors, got %T", err)
	require.Len(t, vErrs, 4)

	fields := make(map[string]string, len(vErrs))
	for _, v := range vErrs {
		fields[v.Field] = v.Tag
	}
	require.Equal(t, "healthid", fields["health_id"])
	require.Equal(t, "email", fields["email"])
	require.Equal(t, "phone", fields["phone"])
	require.Equal(t, "password", fields["password"])
}

func TestValidateVar(t *testing.T) {
	require.NoError(t, ValidateVar("a@x.com", "required,email"))
	require.Error(t, ValidateVar("a@x", "required,email"))
	require.NoError(t, ValidateVar("Virtual", "oneof=In-Person Virtual"))
	require.Error(t, ValidateVar("Phone", "oneof=In-Person Virtual"))
}

func TestDomainRules(t *testing.T) {
	require.Equal(t, "+15550102000", NormalizePhone(" +1 (555) 010-2000 "))
	require.True(t, IsPhone("555-0100"))
	require.False(t, IsPhone("+0555"))

	require.True(t, IsHealthID("abc"))
	require.False(t, IsHealthID("ab"))

	require.True(t, IsLicenseNumber("MD-12345"))
	require.False(t, IsLicenseNumber("MD1"))

	require.True(t, IsStrongPassword("Passw0rd"))
	require.False(t, IsStrongPassword("passw0rd"))
	require.False(t, IsStrongPassword("Pass0rd"))
	require.False(t, IsStrongPassword("Passw0rd#"))
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("carebridge", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "carebridge"
	})
	require.NoError(t, err)

	type custom struct {
		Value string `validate:"carebridge"`
	}

	require.NoError(t, ValidateStruct(custom{Value: "carebridge"}))
	require.Error(t, ValidateStruct(custom{Value: "other"}))
}
