package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/carebridge/carebridge/internal/models"
	"github.com/carebridge/carebridge/pkg/crypto"
	apperrors "github.com/carebridge/carebridge/pkg/errors"
	"github.com/carebridge/carebridge/pkg/metrics"
	"github.com/carebridge/carebridge/pkg/validator"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.ErrNotFound.WithCode("USER_NOT_FOUND").WithMessage("User not found")
	// ErrUserExists is returned when the health ID, email or phone is already registered.
	ErrUserExists = apperrors.ErrConflict.WithCode("USER_EXISTS").WithMessage("Health ID, email or phone already registered")
	// ErrEmailInUse is returned when another account owns the address.
	ErrEmailInUse = apperrors.ErrConflict.WithCode("EMAIL_IN_USE").WithMessage("Email address already in use")
	// ErrPhoneInUse is returned when another account owns the phone number.
	ErrPhoneInUse = apperrors.ErrConflict.WithCode("PHONE_IN_USE").WithMessage("Phone number already in use")
	// ErrEmailNotFound indicates the email does not belong to the user.
	ErrEmailNotFound = apperrors.ErrNotFound.WithCode("EMAIL_NOT_FOUND").WithMessage("Email address not found")
	// ErrPhoneMissing is returned when verifying a phone that was never set.
	ErrPhoneMissing = apperrors.ErrInvalidState.WithCode("PHONE_MISSING").WithMessage("No phone number on file")
)

// RegisterInput describes a new patient account.
type RegisterInput struct {
	HealthID string
	Name     string
	Phone    string
	Email    string
	Password string
}

// VerifiedContacts lists the contact methods that may receive invitations.
type VerifiedContacts struct {
	Emails []string `json:"emails"`
	Phone  string   `json:"phone,omitempty"`
}

// Empty reports whether the user has no verified contact at all.
func (c VerifiedContacts) Empty() bool {
	return len(c.Emails) == 0 && c.Phone == ""
}

// UserService manages patient accounts and their contact verification.
type UserService struct {
	db    *gorm.DB
	audit *AuditService
	now   func() time.Time
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB, opts ...Option) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	o := resolveOptions(opts)
	return &UserService{db: db, audit: o.audit, now: o.now}, nil
}

// WithTx returns a copy of the service bound to tx. The copy never writes
// audit entries; the caller owning the transaction does that after commit.
func (s *UserService) WithTx(tx *gorm.DB) *UserService {
	cpy := *s
	cpy.db = tx
	cpy.audit = nil
	return &cpy
}

// Register creates an account. The supplied email becomes the primary,
// unverified address.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	healthID := strings.TrimSpace(input.HealthID)
	name := strings.TrimSpace(input.Name)
	email := normaliseEmail(input.Email)
	phone := normalisePhone(input.Phone)

	if !validator.IsHealthID(healthID) {
		return nil, apperrors.NewValidation("health_id", "Health ID must be 3-50 letters or digits")
	}
	if name == "" {
		return nil, apperrors.NewValidation("name", "Name is required")
	}
	if !validator.IsStrongPassword(input.Password) {
		return nil, apperrors.NewValidation("password", "Password must be at least 8 characters with upper case, lower case and a digit")
	}
	if email != "" {
		if err := validator.ValidateVar(email, "email"); err != nil {
			return nil, apperrors.NewValidation("email", "Email address is invalid")
		}
	}
	if phone != "" && !validator.IsPhone(phone) {
		return nil, apperrors.NewValidation("phone", "Phone number is invalid")
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := &models.User{
		HealthID:     healthID,
		Name:         name,
		Phone:        optionalString(phone),
		PasswordHash: hashed,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		if email == "" {
			return nil
		}
		address := models.UserEmail{UserID: user.ID, Email: email, IsPrimary: true}
		if err := tx.Create(&address).Error; err != nil {
			return err
		}
		user.Emails = []models.UserEmail{address}
		return nil
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("user service: register: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   auditUser(user.ID),
		Action:   "user.register",
		Resource: "user:" + user.ID,
		Result:   "success",
		Metadata: map[string]any{"health_id": user.HealthID},
	})

	return user, nil
}

// Authenticate checks a password against the account identified by health
// ID or by any of its email addresses.
func (s *UserService) Authenticate(ctx context.Context, identifier, password string) (*models.User, error) {
	ctx = ensureContext(ctx)

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, apperrors.ErrInvalidCredentials
	}

	var user models.User
	query := s.db.WithContext(ctx).Preload("Emails")
	if strings.Contains(identifier, "@") {
		query = query.Where("id IN (?)", s.db.Model(&models.UserEmail{}).Select("user_id").Where("email = ?", normaliseEmail(identifier)))
	} else {
		query = query.Where("health_id = ?", identifier)
	}

	err := query.First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		crypto.BurnPasswordCheck(password)
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("user service: load user: %w", err)
	}

	if !crypto.VerifyPassword(user.PasswordHash, password) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		recordAudit(s.audit, ctx, AuditEntry{
			UserID:   auditUser(user.ID),
			Action:   "user.login",
			Resource: "user:" + user.ID,
			Result:   "failure",
		})
		return nil, apperrors.ErrInvalidCredentials
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   auditUser(user.ID),
		Action:   "user.login",
		Resource: "user:" + user.ID,
		Result:   "success",
	})
	return &user, nil
}

// GetByID loads a user with their email addresses.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).
		Preload("Emails", func(db *gorm.DB) *gorm.DB {
			return db.Order("is_primary DESC").Order("created_at ASC")
		}).
		First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user: %w", err)
	}
	return &user, nil
}

// FindByHealthID loads a user by national health identifier.
func (s *UserService) FindByHealthID(ctx context.Context, healthID string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).
		Preload("Emails").
		First(&user, "health_id = ?", strings.TrimSpace(healthID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: find by health id: %w", err)
	}
	return &user, nil
}

// AddEmail attaches a new, unverified address. A primary address replaces
// the previous primary in the same transaction.
func (s *UserService) AddEmail(ctx context.Context, userID, email string, primary bool) (*models.UserEmail, error) {
	ctx = ensureContext(ctx)

	email = normaliseEmail(email)
	if err := validator.ValidateVar(email, "required,email"); err != nil {
		return nil, apperrors.NewValidation("email", "Email address is invalid")
	}

	address := &models.UserEmail{UserID: userID, Email: email, IsPrimary: primary}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
			return fmt.Errorf("user service: load user: %w", err)
		}
		if count == 0 {
			return ErrUserNotFound
		}
		if primary {
			if err := tx.Model(&models.UserEmail{}).
				Where("user_id = ? AND is_primary = ?", userID, true).
				Update("is_primary", false).Error; err != nil {
				return fmt.Errorf("user service: clear primary email: %w", err)
			}
		}
		return tx.Create(address).Error
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrEmailInUse
		}
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   auditUser(userID),
		Action:   "user.email.add",
		Resource: "user:" + userID,
		Result:   "success",
		Metadata: map[string]any{"email": email, "primary": primary},
	})
	return address, nil
}

// VerifyEmail marks one of the user's addresses as verified.
func (s *UserService) VerifyEmail(ctx context.Context, userID, emailID string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Model(&models.UserEmail{}).
		Where("id = ? AND user_id = ?", emailID, userID).
		Update("verified", true)
	if result.Error != nil {
		return fmt.Errorf("user service: verify email: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEmailNotFound
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   auditUser(userID),
		Action:   "user.email.verify",
		Resource: "user_email:" + emailID,
		Result:   "success",
	})
	return nil
}

// VerifyPhone marks the user's phone number as verified.
func (s *UserService) VerifyPhone(ctx context.Context, userID string) error {
	ctx = ensureContext(ctx)

	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.Phone == nil || *user.Phone == "" {
		return ErrPhoneMissing
	}

	if err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("phone_verified", true).Error; err != nil {
		return fmt.Errorf("user service: verify phone: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   auditUser(userID),
		Action:   "user.phone.verify",
		Resource: "user:" + userID,
		Result:   "success",
	})
	return nil
}

// UpdatePhone replaces the phone number and resets its verification.
func (s *UserService) UpdatePhone(ctx context.Context, userID, phone string) error {
	ctx = ensureContext(ctx)

	phone = normalisePhone(phone)
	if phone != "" && !validator.IsPhone(phone) {
		return apperrors.NewValidation("phone", "Phone number is invalid")
	}

	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"phone":          optionalString(phone),
			"phone_verified": false,
		})
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return ErrPhoneInUse
		}
		return fmt.Errorf("user service: update phone: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// VerifiedContacts returns the verified emails and the phone when verified.
func (s *UserService) VerifiedContacts(ctx context.Context, userID string) (VerifiedContacts, error) {
	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return VerifiedContacts{}, err
	}
	return VerifiedContacts{
		Emails: user.VerifiedEmails(),
		Phone:  user.VerifiedPhone(),
	}, nil
}

// PrimaryVerifiedEmail returns the user's primary address when verified, or "".
func (s *UserService) PrimaryVerifiedEmail(ctx context.Context, userID string) (string, error) {
	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.PrimaryVerifiedEmail(), nil
}
