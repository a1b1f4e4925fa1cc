package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/carebridge/carebridge/internal/models"
	apperrors "github.com/carebridge/carebridge/pkg/errors"
	"github.com/carebridge/carebridge/pkg/logger"
	"github.com/carebridge/carebridge/pkg/metrics"
	"github.com/carebridge/carebridge/pkg/validator"
)

var (
	// ErrProviderNotFound indicates the requested provider does not exist.
	ErrProviderNotFound = apperrors.ErrNotFound.WithCode("PROVIDER_NOT_FOUND").WithMessage("Provider not found")
	// ErrProviderExists is returned when the license number is already listed.
	ErrProviderExists = apperrors.ErrConflict.WithCode("PROVIDER_EXISTS").WithMessage("A provider with this license number already exists")
	// ErrProviderLinkNotFound indicates the user has no active link to the provider.
	ErrProviderLinkNotFound = apperrors.ErrNotFound.WithCode("PROVIDER_LINK_NOT_FOUND").WithMessage("Provider is not linked to this user")
	// ErrNoPrimaryProvider indicates the user has not chosen a primary provider.
	ErrNoPrimaryProvider = apperrors.ErrNotFound.WithCode("PRIMARY_PROVIDER_NOT_FOUND").WithMessage("No primary provider set")
	// ErrPrimaryProviderConflict is returned when a concurrent request claimed the primary slot.
	ErrPrimaryProviderConflict = apperrors.ErrConflict.WithCode("PRIMARY_PROVIDER_CONFLICT").WithMessage("Another primary provider was set concurrently")
)

// Resolution branches reported by LinkToUser.
const (
	linkBranchExisting    = "existing"
	linkBranchReactivated = "reactivated"
	linkBranchCreated     = "created"
)

// CreateProviderInput describes a directory entry.
type CreateProviderInput struct {
	LicenseNumber string
	Name          string
	Email         string
	Phone         string
	Specialty     string
}

// ProviderService manages the provider directory and user/provider links.
type ProviderService struct {
	db    *gorm.DB
	audit *AuditService
	now   func() time.Time
}

// NewProviderService constructs a ProviderService instance.
func NewProviderService(db *gorm.DB, opts ...Option) (*ProviderService, error) {
	if db == nil {
		return nil, errors.New("provider service: db is required")
	}
	o := resolveOptions(opts)
	return &ProviderService{db: db, audit: o.audit, now: o.now}, nil
}

// WithTx returns a copy of the service bound to tx. The copy never writes
// audit entries; the caller owning the transaction does that after commit.
func (s *ProviderService) WithTx(tx *gorm.DB) *ProviderService {
	cpy := *s
	cpy.db = tx
	cpy.audit = nil
	return &cpy
}

// Create lists a new, unverified provider.
func (s *ProviderService) Create(ctx context.Context, input CreateProviderInput) (*models.Provider, error) {
	ctx = ensureContext(ctx)

	license := strings.ToUpper(strings.TrimSpace(input.LicenseNumber))
	name := strings.TrimSpace(input.Name)
	email := normaliseEmail(input.Email)
	phone := normalisePhone(input.Phone)

	if !validator.IsLicenseNumber(license) {
		return nil, apperrors.NewValidation("license_number", "License number must be 5-20 letters, digits or dashes")
	}
	if name == "" {
		return nil, apperrors.NewValidation("name", "Name is required")
	}
	if email != "" {
		if err := validator.ValidateVar(email, "email"); err != nil {
			return nil, apperrors.NewValidation("email", "Email address is invalid")
		}
	}
	if phone != "" && !validator.IsPhone(phone) {
		return nil, apperrors.NewValidation("phone", "Phone number is invalid")
	}

	provider := &models.Provider{
		LicenseNumber: license,
		Name:          name,
		Email:         email,
		Phone:         phone,
		Specialty:     strings.TrimSpace(input.Specialty),
	}
	if err := s.db.WithContext(ctx).Create(provider).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrProviderExists
		}
		return nil, fmt.Errorf("provider service: create provider: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "provider.create",
		Resource: "provider:" + provider.ID,
		Result:   "success",
		Metadata: map[string]any{"license_number": provider.LicenseNumber},
	})
	return provider, nil
}

// Verify marks the provider's contact email as confirmed.
func (s *ProviderService) Verify(ctx context.Context, id string) (*models.Provider, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Model(&models.Provider{}).
		Where("id = ?", id).
		Update("verified", true)
	if result.Error != nil {
		return nil, fmt.Errorf("provider service: verify provider: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrProviderNotFound
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "provider.verify",
		Resource: "provider:" + id,
		Result:   "success",
	})
	return s.GetByID(ctx, id)
}

// GetByID loads a provider.
func (s *ProviderService) GetByID(ctx context.Context, id string) (*models.Provider, error) {
	ctx = ensureContext(ctx)

	var provider models.Provider
	err := s.db.WithContext(ctx).First(&provider, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("provider service: get provider: %w", err)
	}
	return &provider, nil
}

// Search matches the term against name, license, specialty and email.
// Verified providers come first, then by name.
func (s *ProviderService) Search(ctx context.Context, term string) ([]models.Provider, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Model(&models.Provider{})
	if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
		like := "%" + term + "%"
		query = query.Where(
			"LOWER(name) LIKE ? OR LOWER(license_number) LIKE ? OR LOWER(specialty) LIKE ? OR LOWER(email) LIKE ?",
			like, like, like, like,
		)
	}

	var providers []models.Provider
	if err := query.Order("verified DESC").Order("name ASC").Find(&providers).Error; err != nil {
		return nil, fmt.Errorf("provider service: search providers: %w", err)
	}
	return providers, nil
}

// FindByLicenseOrVerifiedEmail looks a provider up by exactly one of license
// number (exact, verification not required) or email (verified providers only).
func (s *ProviderService) FindByLicenseOrVerifiedEmail(ctx context.Context, license, email string) (*models.Provider, error) {
	ctx = ensureContext(ctx)

	license = strings.ToUpper(strings.TrimSpace(license))
	email = normaliseEmail(email)
	if (license == "") == (email == "") {
		return nil, apperrors.NewValidation("provider", "Provide exactly one of license number or email")
	}

	query := s.db.WithContext(ctx)
	if license != "" {
		query = query.Where("license_number = ?", license)
	} else {
		// rows written outside Create may carry mixed-case addresses
		query = query.Where("LOWER(email) = ? AND verified = ?", email, true)
	}

	var provider models.Provider
	err := query.First(&provider).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("provider service: lookup provider: %w", err)
	}
	return &provider, nil
}

// LinkToUser ensures an active link between the user and the provider and
// returns it. Existing links are reused, inactive ones are reactivated. A
// false isPrimary never demotes an existing primary link.
func (s *ProviderService) LinkToUser(ctx context.Context, userID, providerID string, isPrimary bool) (*models.ProviderLink, error) {
	ctx = ensureContext(ctx)

	var (
		link   *models.ProviderLink
		branch string
		err    error
	)
	// A concurrent first link loses on the (user, provider) index; the retry
	// then finds the winner's row.
	for attempt := 0; attempt < 2; attempt++ {
		link, branch, err = s.linkOnce(ctx, userID, providerID, isPrimary)
		if err == nil || !isUniqueConstraintError(err) {
			break
		}
	}
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrPrimaryProviderConflict.WithInternal(err)
		}
		return nil, err
	}

	metrics.ProviderLinks.WithLabelValues(branch).Inc()
	logger.WithModule("providers").Debug("provider linked",
		zap.String("user_id", userID),
		zap.String("provider_id", providerID),
		zap.String("branch", branch),
		zap.Bool("primary", link.IsPrimary),
	)
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   auditUser(userID),
		Action:   "provider.link",
		Resource: "provider:" + providerID,
		Result:   "success",
		Metadata: map[string]any{"branch": branch, "primary": link.IsPrimary},
	})
	return link, nil
}

func (s *ProviderService) linkOnce(ctx context.Context, userID, providerID string, isPrimary bool) (*models.ProviderLink, string, error) {
	var (
		link   models.ProviderLink
		branch string
	)
	now := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Provider{}).Where("id = ?", providerID).Count(&count).Error; err != nil {
			return fmt.Errorf("provider service: load provider: %w", err)
		}
		if count == 0 {
			return ErrProviderNotFound
		}

		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND provider_id = ?", userID, providerID).
			First(&link).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if isPrimary {
				if err := clearPrimaryLinks(tx, userID, ""); err != nil {
					return err
				}
			}
			link = models.ProviderLink{UserID: userID, ProviderID: providerID}
			link.Activate(now, isPrimary)
			branch = linkBranchCreated
			return tx.Create(&link).Error
		case err != nil:
			return fmt.Errorf("provider service: load link: %w", err)
		case link.IsActive():
			branch = linkBranchExisting
			if !isPrimary || link.IsPrimary {
				return nil
			}
			if err := clearPrimaryLinks(tx, userID, link.ID); err != nil {
				return err
			}
			link.SetPrimary(true)
		default:
			if isPrimary {
				if err := clearPrimaryLinks(tx, userID, link.ID); err != nil {
					return err
				}
			}
			link.Activate(now, isPrimary)
			branch = linkBranchReactivated
		}
		return saveLinkState(tx, &link)
	})
	if err != nil {
		return nil, "", err
	}
	return &link, branch, nil
}

// UnlinkFromUser deactivates the user's active link to the provider.
func (s *ProviderService) UnlinkFromUser(ctx context.Context, userID, providerID string) error {
	ctx = ensureContext(ctx)

	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var link models.ProviderLink
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND provider_id = ? AND state = ?", userID, providerID, models.LinkStateActive).
			First(&link).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProviderLinkNotFound
		}
		if err != nil {
			return fmt.Errorf("provider service: load link: %w", err)
		}
		link.Deactivate(now)
		return saveLinkState(tx, &link)
	})
	if err != nil {
		return err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   auditUser(userID),
		Action:   "provider.unlink",
		Resource: "provider:" + providerID,
		Result:   "success",
	})
	return nil
}

// ListUserProviders returns the user's active links with their providers,
// primary first.
func (s *ProviderService) ListUserProviders(ctx context.Context, userID string) ([]models.ProviderLink, error) {
	ctx = ensureContext(ctx)

	var links []models.ProviderLink
	if err := s.db.WithContext(ctx).
		Preload("Provider").
		Where("user_id = ? AND state = ?", userID, models.LinkStateActive).
		Order("is_primary DESC").
		Order("linked_at ASC").
		Find(&links).Error; err != nil {
		return nil, fmt.Errorf("provider service: list links: %w", err)
	}
	return links, nil
}

// IsLinked reports whether the user has an active link to the provider.
func (s *ProviderService) IsLinked(ctx context.Context, userID, providerID string) (bool, error) {
	ctx = ensureContext(ctx)

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.ProviderLink{}).
		Where("user_id = ? AND provider_id = ? AND state = ?", userID, providerID, models.LinkStateActive).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("provider service: check link: %w", err)
	}
	return count > 0, nil
}

// GetPrimaryProvider returns the provider behind the user's primary link.
func (s *ProviderService) GetPrimaryProvider(ctx context.Context, userID string) (*models.Provider, error) {
	ctx = ensureContext(ctx)

	var link models.ProviderLink
	err := s.db.WithContext(ctx).
		Preload("Provider").
		Where("user_id = ? AND state = ? AND is_primary = ?", userID, models.LinkStateActive, true).
		First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && link.Provider == nil) {
		return nil, ErrNoPrimaryProvider
	}
	if err != nil {
		return nil, fmt.Errorf("provider service: get primary provider: %w", err)
	}
	return link.Provider, nil
}

func clearPrimaryLinks(tx *gorm.DB, userID, exceptID string) error {
	err := tx.Model(&models.ProviderLink{}).
		Where("user_id = ? AND is_primary = ? AND id <> ?", userID, true, exceptID).
		Updates(map[string]any{"is_primary": false, "primary_slot": nil}).Error
	if err != nil {
		return fmt.Errorf("provider service: clear primary: %w", err)
	}
	return nil
}

func saveLinkState(tx *gorm.DB, link *models.ProviderLink) error {
	return tx.Model(link).
		Select("state", "is_primary", "primary_slot", "linked_at", "unlinked_at", "updated_at").
		Updates(link).Error
}
