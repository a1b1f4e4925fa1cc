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
)

var (
	// ErrFamilyNotFound indicates the requested family group does not exist.
	ErrFamilyNotFound = apperrors.ErrNotFound.WithCode("FAMILY_NOT_FOUND").WithMessage("Family group not found")
	// ErrFamilyMemberNotFound indicates the user is not a member of the group.
	ErrFamilyMemberNotFound = apperrors.ErrNotFound.WithCode("FAMILY_MEMBER_NOT_FOUND").WithMessage("Family member not found")
	// ErrFamilyMemberExists is returned when adding a user that already belongs to the group.
	ErrFamilyMemberExists = apperrors.ErrConflict.WithCode("FAMILY_MEMBER_EXISTS").WithMessage("User is already a member of this family")
	// ErrFamilyAccessDenied is returned when the actor is not a member of the group.
	ErrFamilyAccessDenied = apperrors.ErrForbidden.WithCode("FAMILY_ACCESS_DENIED").WithMessage("You are not a member of this family")
	// ErrFamilyManageDenied is returned when the actor cannot manage the group.
	ErrFamilyManageDenied = apperrors.ErrForbidden.WithCode("FAMILY_MANAGE_DENIED").WithMessage("Only family managers can perform this action")
	// ErrLastFamilyManager is returned when a change would leave the group without a manager.
	ErrLastFamilyManager = apperrors.ErrInvalidState.WithCode("LAST_FAMILY_MANAGER").WithMessage("A family must keep at least one manager")
)

// FamilyMemberTarget selects the user to add, by ID or by health ID.
type FamilyMemberTarget struct {
	UserID   string
	HealthID string
}

// AddFamilyMemberInput describes a new membership.
type AddFamilyMemberInput struct {
	Target       FamilyMemberTarget
	Relationship string
	CanManage    bool
}

// UpdateFamilyMemberInput carries the mutable membership fields. Nil leaves a field unchanged.
type UpdateFamilyMemberInput struct {
	Relationship *string
	CanManage    *bool
}

// FamilyStats summarises the groups a user belongs to. Members counts
// distinct users across those groups, the user included.
type FamilyStats struct {
	Groups   int64 `json:"groups"`
	Members  int64 `json:"members"`
	Created  int64 `json:"created"`
	Managing int64 `json:"managing"`
}

// FamilyService manages family groups and their members.
type FamilyService struct {
	db    *gorm.DB
	audit *AuditService
	users *UserService
	now   func() time.Time
}

// NewFamilyService constructs a FamilyService instance.
func NewFamilyService(db *gorm.DB, users *UserService, opts ...Option) (*FamilyService, error) {
	if db == nil {
		return nil, errors.New("family service: db is required")
	}
	if users == nil {
		return nil, errors.New("family service: user service is required")
	}
	o := resolveOptions(opts)
	return &FamilyService{db: db, audit: o.audit, users: users, now: o.now}, nil
}

// WithTx returns a copy of the service bound to tx. The copy never writes
// audit entries; the caller owning the transaction does that after commit.
func (s *FamilyService) WithTx(tx *gorm.DB) *FamilyService {
	cpy := *s
	cpy.db = tx
	cpy.audit = nil
	cpy.users = s.users.WithTx(tx)
	return &cpy
}

// Create inserts the group with the creator as its first manager.
func (s *FamilyService) Create(ctx context.Context, creatorID, name string) (*models.FamilyGroup, error) {
	ctx = ensureContext(ctx)

	name = strings.TrimSpace(name)
	if len([]rune(name)) < 2 {
		return nil, apperrors.NewValidation("name", "Family name must be at least 2 characters")
	}

	group := &models.FamilyGroup{Name: name, CreatedBy: creatorID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return fmt.Errorf("family service: create group: %w", err)
		}
		member := models.FamilyMember{
			FamilyID:  group.ID,
			UserID:    creatorID,
			CanManage: true,
			JoinedAt:  s.now(),
		}
		if err := tx.Create(&member).Error; err != nil {
			return fmt.Errorf("family service: add creator: %w", err)
		}
		group.Members = []models.FamilyMember{member}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   auditUser(creatorID),
		Action:   "family.create",
		Resource: "family:" + group.ID,
		Result:   "success",
		Metadata: map[string]any{"name": group.Name},
	})
	return group, nil
}

// GetGroup returns the group with its members. Only members may view it.
func (s *FamilyService) GetGroup(ctx context.Context, familyID, requesterID string) (*models.FamilyGroup, error) {
	ctx = ensureContext(ctx)

	var group models.FamilyGroup
	err := s.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB {
			return db.Order("can_manage DESC").Order("joined_at ASC")
		}).
		Preload("Members.User").
		First(&group, "id = ?", familyID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFamilyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("family service: get group: %w", err)
	}

	for _, member := range group.Members {
		if member.UserID == requesterID {
			return &group, nil
		}
	}
	return nil, ErrFamilyAccessDenied
}

// ListForUser returns every group the user belongs to, newest first.
func (s *FamilyService) ListForUser(ctx context.Context, userID string) ([]models.FamilyGroup, error) {
	ctx = ensureContext(ctx)

	var groups []models.FamilyGroup
	if err := s.db.WithContext(ctx).
		Where("id IN (?)", s.db.Model(&models.FamilyMember{}).Select("family_id").Where("user_id = ?", userID)).
		Order("created_at DESC").
		Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("family service: list groups: %w", err)
	}
	return groups, nil
}

// Stats summarises the user's family groups.
func (s *FamilyService) Stats(ctx context.Context, userID string) (FamilyStats, error) {
	ctx = ensureContext(ctx)

	db := s.db.WithContext(ctx)
	memberOf := s.db.Model(&models.FamilyMember{}).Select("family_id").Where("user_id = ?", userID)

	var stats FamilyStats
	if err := db.Model(&models.FamilyMember{}).Where("user_id = ?", userID).Count(&stats.Groups).Error; err != nil {
		return FamilyStats{}, fmt.Errorf("family service: count groups: %w", err)
	}
	if err := db.Model(&models.FamilyMember{}).Where("user_id = ? AND can_manage = ?", userID, true).Count(&stats.Managing).Error; err != nil {
		return FamilyStats{}, fmt.Errorf("family service: count managed groups: %w", err)
	}
	if err := db.Model(&models.FamilyMember{}).
		Distinct("user_id").
		Where("family_id IN (?)", memberOf).
		Count(&stats.Members).Error; err != nil {
		return FamilyStats{}, fmt.Errorf("family service: count members: %w", err)
	}
	if err := db.Model(&models.FamilyGroup{}).
		Where("created_by = ? AND id IN (?)", userID, memberOf).
		Count(&stats.Created).Error; err != nil {
		return FamilyStats{}, fmt.Errorf("family service: count created groups: %w", err)
	}
	return stats, nil
}

// ListMembers returns the group's members. Only members may list them.
func (s *FamilyService) ListMembers(ctx context.Context, familyID, requesterID string) ([]models.FamilyMember, error) {
	group, err := s.GetGroup(ctx, familyID, requesterID)
	if err != nil {
		return nil, err
	}
	return group.Members, nil
}

// FindByIdentifier matches a group by ID or exact name among the groups the
// user belongs to.
func (s *FamilyService) FindByIdentifier(ctx context.Context, identifier, userID string) (*models.FamilyGroup, error) {
	ctx = ensureContext(ctx)

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, apperrors.NewValidation("family", "Family name or ID is required")
	}

	var group models.FamilyGroup
	err := s.db.WithContext(ctx).
		Where("id IN (?)", s.db.Model(&models.FamilyMember{}).Select("family_id").Where("user_id = ?", userID)).
		Where("(id = ? OR name = ?)", identifier, identifier).
		Order("created_at ASC").
		First(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFamilyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("family service: find group: %w", err)
	}
	return &group, nil
}

// CanManage reports whether the user is a manager of the group.
func (s *FamilyService) CanManage(ctx context.Context, familyID, userID string) (bool, error) {
	ctx = ensureContext(ctx)

	var member models.FamilyMember
	err := s.db.WithContext(ctx).
		Where("family_id = ? AND user_id = ?", familyID, userID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("family service: load member: %w", err)
	}
	return member.CanManage, nil
}

// AddMember adds a user to the group. The actor must be a manager and the
// user must not already be a member.
func (s *FamilyService) AddMember(ctx context.Context, familyID, actorID string, input AddFamilyMemberInput) (*models.FamilyMember, error) {
	ctx = ensureContext(ctx)

	userID, err := s.resolveMemberTarget(ctx, input.Target)
	if err != nil {
		return nil, err
	}

	member := &models.FamilyMember{
		FamilyID:     familyID,
		UserID:       userID,
		Relationship: optionalString(input.Relationship),
		CanManage:    input.CanManage,
		JoinedAt:     s.now(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireManager(tx, familyID, actorID); err != nil {
			return err
		}
		return tx.Create(member).Error
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrFamilyMemberExists
		}
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   auditUser(actorID),
		Action:   "family.member.add",
		Resource: "family:" + familyID,
		Result:   "success",
		Metadata: map[string]any{"member_id": userID, "can_manage": input.CanManage},
	})
	return member, nil
}

// EnsureMember adds the user as a plain, non-managing member unless they
// already belong to the group. It reports whether a row was inserted.
func (s *FamilyService) EnsureMember(ctx context.Context, familyID, userID string) (bool, error) {
	ctx = ensureContext(ctx)

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.FamilyGroup{}).Where("id = ?", familyID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("family service: load group: %w", err)
	}
	if count == 0 {
		return false, ErrFamilyNotFound
	}

	member := models.FamilyMember{FamilyID: familyID, UserID: userID, JoinedAt: s.now()}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&member)
	if result.Error != nil {
		return false, fmt.Errorf("family service: ensure member: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// RemoveMember removes a user from the group. Managers may remove anyone;
// other members may only remove themselves. The last manager cannot leave.
func (s *FamilyService) RemoveMember(ctx context.Context, familyID, actorID, userID string) error {
	ctx = ensureContext(ctx)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockFamily(tx, familyID); err != nil {
			return err
		}
		if actorID != userID {
			if err := requireManager(tx, familyID, actorID); err != nil {
				return err
			}
		}

		target, err := loadMember(tx, familyID, userID)
		if err != nil {
			return err
		}
		if target.CanManage {
			if err := requireOtherManager(tx, familyID, userID); err != nil {
				return err
			}
		}

		if err := tx.Delete(target).Error; err != nil {
			return fmt.Errorf("family service: remove member: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   auditUser(actorID),
		Action:   "family.member.remove",
		Resource: "family:" + familyID,
		Result:   "success",
		Metadata: map[string]any{"member_id": userID},
	})
	return nil
}

// UpdateMember changes a member's relationship or manager flag. Only managers
// may update members, and the last manager cannot be demoted.
func (s *FamilyService) UpdateMember(ctx context.Context, familyID, actorID, userID string, input UpdateFamilyMemberInput) (*models.FamilyMember, error) {
	ctx = ensureContext(ctx)

	var member *models.FamilyMember
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockFamily(tx, familyID); err != nil {
			return err
		}
		if err := requireManager(tx, familyID, actorID); err != nil {
			return err
		}

		target, err := loadMember(tx, familyID, userID)
		if err != nil {
			return err
		}

		updates := map[string]any{}
		if input.Relationship != nil {
			target.Relationship = optionalString(*input.Relationship)
			updates["relationship"] = target.Relationship
		}
		if input.CanManage != nil && *input.CanManage != target.CanManage {
			if !*input.CanManage {
				if err := requireOtherManager(tx, familyID, userID); err != nil {
					return err
				}
			}
			target.CanManage = *input.CanManage
			updates["can_manage"] = target.CanManage
		}
		member = target
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(target).Updates(updates).Error; err != nil {
			return fmt.Errorf("family service: update member: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   auditUser(actorID),
		Action:   "family.member.update",
		Resource: "family:" + familyID,
		Result:   "success",
		Metadata: map[string]any{"member_id": userID, "can_manage": member.CanManage},
	})
	return member, nil
}

// Delete removes the group and all memberships. Only managers may delete.
func (s *FamilyService) Delete(ctx context.Context, familyID, actorID string) error {
	ctx = ensureContext(ctx)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockFamily(tx, familyID); err != nil {
			return err
		}
		if err := requireManager(tx, familyID, actorID); err != nil {
			return err
		}
		if err := tx.Where("family_id = ?", familyID).Delete(&models.FamilyMember{}).Error; err != nil {
			return fmt.Errorf("family service: delete members: %w", err)
		}
		if err := tx.Delete(&models.FamilyGroup{}, "id = ?", familyID).Error; err != nil {
			return fmt.Errorf("family service: delete group: %w", err)
		}
		_, err := cancelPendingInvitations(tx, models.InvitationKindFamily, familyID, s.now())
		return err
	})
	if err != nil {
		return err
	}

	logger.WithModule("families").Debug("family deleted", zap.String("family_id", familyID))
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   auditUser(actorID),
		Action:   "family.delete",
		Resource: "family:" + familyID,
		Result:   "success",
	})
	return nil
}

func (s *FamilyService) resolveMemberTarget(ctx context.Context, target FamilyMemberTarget) (string, error) {
	userID := strings.TrimSpace(target.UserID)
	healthID := strings.TrimSpace(target.HealthID)
	if (userID == "") == (healthID == "") {
		return "", apperrors.NewValidation("user", "Provide exactly one of user ID or health ID")
	}

	var (
		user *models.User
		err  error
	)
	if userID != "" {
		user, err = s.users.GetByID(ctx, userID)
	} else {
		user, err = s.users.FindByHealthID(ctx, healthID)
	}
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func lockFamily(tx *gorm.DB, familyID string) error {
	var group models.FamilyGroup
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		First(&group, "id = ?", familyID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrFamilyNotFound
	}
	if err != nil {
		return fmt.Errorf("family service: lock group: %w", err)
	}
	return nil
}

func loadMember(tx *gorm.DB, familyID, userID string) (*models.FamilyMember, error) {
	var member models.FamilyMember
	err := tx.Where("family_id = ? AND user_id = ?", familyID, userID).First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFamilyMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("family service: load member: %w", err)
	}
	return &member, nil
}

func requireManager(tx *gorm.DB, familyID, userID string) error {
	var member models.FamilyMember
	err := tx.Where("family_id = ? AND user_id = ?", familyID, userID).First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		var count int64
		if err := tx.Model(&models.FamilyGroup{}).Where("id = ?", familyID).Count(&count).Error; err != nil {
			return fmt.Errorf("family service: load group: %w", err)
		}
		if count == 0 {
			return ErrFamilyNotFound
		}
		return ErrFamilyManageDenied
	}
	if err != nil {
		return fmt.Errorf("family service: load member: %w", err)
	}
	if !member.CanManage {
		return ErrFamilyManageDenied
	}
	return nil
}

func requireOtherManager(tx *gorm.DB, familyID, userID string) error {
	var managers int64
	if err := tx.Model(&models.FamilyMember{}).
		Where("family_id = ? AND can_manage = ? AND user_id <> ?", familyID, true, userID).
		Count(&managers).Error; err != nil {
		return fmt.Errorf("family service: count managers: %w", err)
	}
	if managers == 0 {
		return ErrLastFamilyManager
	}
	return nil
}
