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
	// ErrInvitationNotFound indicates no invitation carries the requested UID.
	ErrInvitationNotFound = apperrors.ErrNotFound.WithCode("INVITATION_NOT_FOUND").WithMessage("Invitation not found")
	// ErrInvitationNotPending is returned when accepting an invitation that was already accepted, cancelled or expired.
	ErrInvitationNotPending = apperrors.ErrInvalidState.WithCode("INVITATION_NOT_PENDING").WithMessage("Invitation is no longer pending")
	// ErrInvitationExpired is returned when accepting a pending invitation past its expiry.
	ErrInvitationExpired = apperrors.ErrInvalidState.WithCode("INVITATION_EXPIRED").WithMessage("Invitation has expired")
	// ErrInvitationNotCancellable is returned when the sender has no pending invitation with the given ID.
	ErrInvitationNotCancellable = apperrors.ErrNotFound.WithCode("INVITATION_NOT_CANCELLABLE").WithMessage("Invitation not found or already processed")
	// ErrNoVerifiedContact is returned when the invitee has neither a verified email nor a verified phone.
	ErrNoVerifiedContact = apperrors.ErrInvalidState.WithCode("NO_VERIFIED_CONTACT").WithMessage("User has no verified email or phone")
	// ErrInvitationForbidden is returned when the sender may not invite others to the target.
	ErrInvitationForbidden = apperrors.ErrForbidden.WithCode("INVITATION_FORBIDDEN").WithMessage("You cannot send invitations for this target")
)

const maxUIDAttempts = 3

// InvitationStats counts a sender's invitations by status.
type InvitationStats struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Accepted  int64 `json:"accepted"`
	Expired   int64 `json:"expired"`
	Cancelled int64 `json:"cancelled"`
}

type invitationContact struct {
	email string
	phone string
}

func (c invitationContact) key() string {
	if c.email != "" {
		return "email:" + c.email
	}
	return "phone:" + c.phone
}

// InvitationService creates, matches and settles invitations.
type InvitationService struct {
	db         *gorm.DB
	audit      *AuditService
	users      *UserService
	challenges *ChallengeService
	families   *FamilyService
	now        func() time.Time
	ttl        time.Duration
}

// NewInvitationService constructs an InvitationService instance.
func NewInvitationService(db *gorm.DB, users *UserService, challenges *ChallengeService, families *FamilyService, opts ...Option) (*InvitationService, error) {
	if db == nil {
		return nil, errors.New("invitation service: db is required")
	}
	if users == nil || challenges == nil || families == nil {
		return nil, errors.New("invitation service: user, challenge and family services are required")
	}
	o := resolveOptions(opts)
	ttl := o.ttl
	if ttl <= 0 {
		ttl = models.InvitationTTL
	}
	return &InvitationService{
		db:         db,
		audit:      o.audit,
		users:      users,
		challenges: challenges,
		families:   families,
		now:        o.now,
		ttl:        ttl,
	}, nil
}

// WithTx returns a copy of the service bound to tx. The copy never writes
// audit entries; the caller owning the transaction does that after commit.
func (s *InvitationService) WithTx(tx *gorm.DB) *InvitationService {
	cpy := *s
	cpy.db = tx
	cpy.audit = nil
	cpy.users = s.users.WithTx(tx)
	cpy.challenges = s.challenges.WithTx(tx)
	cpy.families = s.families.WithTx(tx)
	return &cpy
}

// Create records an invitation from senderID. When a pending, unexpired
// invitation already exists for the same contact, kind and target it is
// returned unchanged and created is false.
func (s *InvitationService) Create(ctx context.Context, senderID string, req InvitationRequest) (inv *models.Invitation, created bool, err error) {
	ctx = ensureContext(ctx)

	if req == nil {
		return nil, false, apperrors.NewValidation("kind", "Invitation kind is required")
	}
	kind := req.Kind()
	defer func() {
		switch {
		case err != nil:
			metrics.Invitations.WithLabelValues(string(kind), "error").Inc()
		case created:
			metrics.Invitations.WithLabelValues(string(kind), "created").Inc()
		default:
			metrics.Invitations.WithLabelValues(string(kind), "existing").Inc()
		}
	}()

	contact, err := s.resolveContact(ctx, req)
	if err != nil {
		return nil, false, err
	}
	target, err := s.resolveTarget(ctx, senderID, req)
	if err != nil {
		return nil, false, err
	}

	now := s.now()
	key := models.InvitationPendingKey(kind, contact.key(), target)
	draft := &models.Invitation{
		BaseModel:  models.BaseModel{CreatedAt: now},
		SenderID:   senderID,
		Email:      optionalString(contact.email),
		Phone:      optionalString(contact.phone),
		Kind:       kind,
		TargetID:   target,
		Status:     models.InvitationStatusPending,
		ExpiresAt:  now.Add(s.ttl),
		PendingKey: &key,
	}

	inv, created, err = s.persist(ctx, draft, now)
	if err != nil {
		return nil, false, err
	}

	named := []models.Invitation{*inv}
	if err := s.attachRelatedNames(ctx, named); err != nil {
		return nil, false, err
	}
	inv = &named[0]

	if created {
		logger.WithModule("invitations").Debug("invitation created",
			zap.String("uid", inv.UID),
			zap.String("kind", string(kind)),
			zap.String("sender_id", senderID),
		)
		recordAudit(s.audit, ctx, AuditEntry{
			UserID:   auditUser(senderID),
			Action:   "invitation.create",
			Resource: "invitation:" + inv.UID,
			Result:   "success",
			Metadata: map[string]any{"kind": string(kind), "target_id": target},
		})
	}
	return inv, created, nil
}

// persist inserts draft unless a pending row with the same key exists. A
// stale pending row past its expiry is expired first so it cannot block the
// new invitation.
func (s *InvitationService) persist(ctx context.Context, draft *models.Invitation, now time.Time) (*models.Invitation, bool, error) {
	key := *draft.PendingKey

	var lastErr error
	for attempt := 0; attempt < maxUIDAttempts; attempt++ {
		draft.ID = ""
		draft.UID = models.NewPublicUID(models.InvitationUIDPrefix)

		inv, created, err := s.insertOrReuse(ctx, draft, key, now)
		if err == nil {
			return inv, created, nil
		}
		if !isUniqueConstraintError(err) {
			return nil, false, err
		}
		lastErr = err

		// Lost the race for the key to a concurrent create: return its row.
		if violatesUniqueOn(err, "pending_key") {
			winner, lookupErr := s.findPending(ctx, key)
			if lookupErr == nil {
				return winner, false, nil
			}
			if !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
				return nil, false, fmt.Errorf("invitation service: load winner: %w", lookupErr)
			}
		}
		// Otherwise the UID collided; try again with a fresh one.
	}
	return nil, false, fmt.Errorf("invitation service: create invitation: %w", lastErr)
}

func (s *InvitationService) insertOrReuse(ctx context.Context, draft *models.Invitation, key string, now time.Time) (*models.Invitation, bool, error) {
	var (
		result  *models.Invitation
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Invitation{}).
			Where("pending_key = ? AND status = ? AND expires_at <= ?", key, models.InvitationStatusPending, now).
			Updates(map[string]any{
				"status":       models.InvitationStatusExpired,
				"completed_at": now,
				"pending_key":  nil,
			}).Error; err != nil {
			return fmt.Errorf("invitation service: expire stale invitation: %w", err)
		}

		var existing models.Invitation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("pending_key = ?", key).
			First(&existing).Error
		if err == nil {
			result = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("invitation service: load pending invitation: %w", err)
		}

		if err := tx.Omit(clause.Associations).Create(draft).Error; err != nil {
			return err
		}
		result = draft
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

func (s *InvitationService) findPending(ctx context.Context, key string) (*models.Invitation, error) {
	var inv models.Invitation
	if err := s.db.WithContext(ctx).Where("pending_key = ?", key).First(&inv).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *InvitationService) resolveContact(ctx context.Context, req InvitationRequest) (invitationContact, error) {
	switch c := req.contactSelector().(type) {
	case nil:
		return invitationContact{}, apperrors.NewValidation("contact", "An email, phone or health ID is required")
	case EmailContact:
		email := normaliseEmail(string(c))
		if err := validator.ValidateVar(email, "required,email"); err != nil {
			return invitationContact{}, apperrors.NewValidation("email", "Email address is invalid")
		}
		return invitationContact{email: email}, nil
	case PhoneContact:
		phone := normalisePhone(string(c))
		if !validator.IsPhone(phone) {
			return invitationContact{}, apperrors.NewValidation("phone", "Phone number is invalid")
		}
		return invitationContact{phone: phone}, nil
	case HealthIDContact:
		if _, ok := req.(PlatformInvitation); ok {
			return invitationContact{}, apperrors.NewValidation("health_id", "Platform invitations need an email or phone number")
		}
		user, err := s.users.FindByHealthID(ctx, string(c))
		if err != nil {
			return invitationContact{}, err
		}
		if email := user.PrimaryVerifiedEmail(); email != "" {
			return invitationContact{email: normaliseEmail(email)}, nil
		}
		if phone := user.VerifiedPhone(); phone != "" {
			return invitationContact{phone: normalisePhone(phone)}, nil
		}
		return invitationContact{}, ErrNoVerifiedContact.WithDetails(map[string]any{"health_id": user.HealthID})
	default:
		return invitationContact{}, fmt.Errorf("invitation service: unsupported contact %T", c)
	}
}

func (s *InvitationService) resolveTarget(ctx context.Context, senderID string, req InvitationRequest) (string, error) {
	switch r := req.(type) {
	case ChallengeInvitation:
		challenge, err := s.resolveChallenge(ctx, senderID, r.Challenge)
		if err != nil {
			return "", err
		}
		if challenge.CreatedBy != senderID {
			return "", ErrInvitationForbidden.WithMessage("Only the challenge creator can send invitations")
		}
		if challenge.Status != models.ChallengeStatusActive {
			return "", ErrChallengeClosed
		}
		return challenge.ID, nil
	case FamilyInvitation:
		id, name := strings.TrimSpace(r.Family.ID), strings.TrimSpace(r.Family.Name)
		if (id == "") == (name == "") {
			return "", apperrors.NewValidation("family", "Provide exactly one of family ID or name")
		}
		identifier := id
		if identifier == "" {
			identifier = name
		}
		family, err := s.families.FindByIdentifier(ctx, identifier, senderID)
		if err != nil {
			return "", err
		}
		canManage, err := s.families.CanManage(ctx, family.ID, senderID)
		if err != nil {
			return "", err
		}
		if !canManage {
			return "", ErrInvitationForbidden.WithMessage("Only family managers can send invitations")
		}
		return family.ID, nil
	case DataShareInvitation:
		if resource := strings.TrimSpace(r.Resource); resource != "" {
			return resource, nil
		}
		return senderID, nil
	case PlatformInvitation:
		return "", nil
	default:
		return "", fmt.Errorf("invitation service: unsupported request %T", req)
	}
}

func (s *InvitationService) resolveChallenge(ctx context.Context, senderID string, ref ChallengeRef) (*models.WellnessChallenge, error) {
	id, name := strings.TrimSpace(ref.ID), strings.TrimSpace(ref.Name)
	switch {
	case id != "" && name == "":
		return s.challenges.GetByID(ctx, id)
	case name != "" && id == "":
		return s.challenges.FindByName(ctx, name, senderID)
	default:
		return nil, apperrors.NewValidation("challenge", "Provide exactly one of challenge ID or name")
	}
}

// FindMine returns pending, unexpired invitations addressed to any of the
// user's verified contacts, soonest expiry first.
func (s *InvitationService) FindMine(ctx context.Context, userID string) ([]models.Invitation, error) {
	ctx = ensureContext(ctx)

	contacts, err := s.users.VerifiedContacts(ctx, userID)
	if err != nil {
		return nil, err
	}
	if contacts.Empty() {
		return []models.Invitation{}, nil
	}

	var (
		conditions []string
		args       []any
	)
	if len(contacts.Emails) > 0 {
		emails := make([]string, 0, len(contacts.Emails))
		for _, email := range contacts.Emails {
			emails = append(emails, normaliseEmail(email))
		}
		conditions = append(conditions, "email IN ?")
		args = append(args, emails)
	}
	if contacts.Phone != "" {
		conditions = append(conditions, "phone = ?")
		args = append(args, normalisePhone(contacts.Phone))
	}

	var rows []models.Invitation
	if err := s.db.WithContext(ctx).
		Preload("Sender", selectSenderColumns).
		Where("status = ? AND expires_at > ?", models.InvitationStatusPending, s.now()).
		Where("("+strings.Join(conditions, " OR ")+")", args...).
		Order("expires_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("invitation service: find invitations: %w", err)
	}

	seen := make(map[string]struct{}, len(rows))
	invitations := make([]models.Invitation, 0, len(rows))
	for _, inv := range rows {
		if _, dup := seen[inv.UID]; dup {
			continue
		}
		seen[inv.UID] = struct{}{}
		invitations = append(invitations, inv)
	}

	if err := s.attachRelatedNames(ctx, invitations); err != nil {
		return nil, err
	}
	return invitations, nil
}

// Accept settles a pending invitation for userID and materialises the
// relation it grants. Anyone holding the UID may accept it.
func (s *InvitationService) Accept(ctx context.Context, uid, userID string) (*models.Invitation, error) {
	ctx = ensureContext(ctx)

	uid = strings.ToUpper(strings.TrimSpace(uid))
	now := s.now()

	var inv models.Invitation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("uid = ?", uid).
			First(&inv).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvitationNotFound
		}
		if err != nil {
			return fmt.Errorf("invitation service: load invitation: %w", err)
		}
		if inv.Status != models.InvitationStatusPending {
			return ErrInvitationNotPending.WithDetails(map[string]any{"status": inv.Status, "uid": inv.UID})
		}
		if inv.ExpiredAt(now) {
			return ErrInvitationExpired.WithDetails(map[string]any{"status": models.InvitationStatusExpired, "uid": inv.UID})
		}

		switch inv.Kind {
		case models.InvitationKindChallenge:
			if _, err := s.challenges.WithTx(tx).Join(ctx, inv.TargetID, userID); err != nil {
				return err
			}
		case models.InvitationKindFamily:
			if _, err := s.families.WithTx(tx).EnsureMember(ctx, inv.TargetID, userID); err != nil {
				return err
			}
		}

		result := tx.Model(&models.Invitation{}).
			Where("id = ? AND status = ?", inv.ID, models.InvitationStatusPending).
			Updates(map[string]any{
				"status":       models.InvitationStatusAccepted,
				"completed_at": now,
				"accepted_by":  userID,
				"pending_key":  nil,
			})
		if result.Error != nil {
			return fmt.Errorf("invitation service: accept invitation: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrInvitationNotPending.WithDetails(map[string]any{"uid": inv.UID})
		}

		inv.Status = models.InvitationStatusAccepted
		inv.CompletedAt = &now
		inv.AcceptedBy = &userID
		inv.PendingKey = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.InvitationTransitions.WithLabelValues(string(models.InvitationStatusAccepted)).Inc()
	logger.WithModule("invitations").Debug("invitation accepted",
		zap.String("uid", inv.UID),
		zap.String("kind", string(inv.Kind)),
		zap.String("user_id", userID),
	)
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   auditUser(userID),
		Action:   "invitation.accept",
		Resource: "invitation:" + inv.UID,
		Result:   "success",
		Metadata: map[string]any{"kind": string(inv.Kind), "target_id": inv.TargetID},
	})
	return &inv, nil
}

// Cancel withdraws one of the sender's pending invitations, by ID or UID.
func (s *InvitationService) Cancel(ctx context.Context, id, senderID string) error {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	result := s.db.WithContext(ctx).
		Model(&models.Invitation{}).
		Where("(id = ? OR uid = ?) AND sender_id = ? AND status = ?", id, strings.ToUpper(id), senderID, models.InvitationStatusPending).
		Updates(map[string]any{
			"status":       models.InvitationStatusCancelled,
			"completed_at": s.now(),
			"pending_key":  nil,
		})
	if result.Error != nil {
		return fmt.Errorf("invitation service: cancel invitation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInvitationNotCancellable
	}

	metrics.InvitationTransitions.WithLabelValues(string(models.InvitationStatusCancelled)).Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   auditUser(senderID),
		Action:   "invitation.cancel",
		Resource: "invitation:" + id,
		Result:   "success",
	})
	return nil
}

// ExpireSweep moves every pending invitation past its expiry to expired and
// reports how many rows changed.
func (s *InvitationService) ExpireSweep(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&models.Invitation{}).
		Where("status = ? AND expires_at <= ?", models.InvitationStatusPending, now).
		Updates(map[string]any{
			"status":       models.InvitationStatusExpired,
			"completed_at": now,
			"pending_key":  nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("invitation service: expire invitations: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.InvitationsExpired.Add(float64(result.RowsAffected))
		metrics.InvitationTransitions.WithLabelValues(string(models.InvitationStatusExpired)).Add(float64(result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// GetByUID loads an invitation with its sender and related name.
func (s *InvitationService) GetByUID(ctx context.Context, uid string) (*models.Invitation, error) {
	ctx = ensureContext(ctx)

	var inv models.Invitation
	err := s.db.WithContext(ctx).
		Preload("Sender", selectSenderColumns).
		Where("uid = ?", strings.ToUpper(strings.TrimSpace(uid))).
		First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("invitation service: get invitation: %w", err)
	}

	invitations := []models.Invitation{inv}
	if err := s.attachRelatedNames(ctx, invitations); err != nil {
		return nil, err
	}
	return &invitations[0], nil
}

// ListSent returns the sender's invitations, newest first.
func (s *InvitationService) ListSent(ctx context.Context, senderID string) ([]models.Invitation, error) {
	ctx = ensureContext(ctx)

	var invitations []models.Invitation
	if err := s.db.WithContext(ctx).
		Where("sender_id = ?", senderID).
		Order("created_at DESC").
		Find(&invitations).Error; err != nil {
		return nil, fmt.Errorf("invitation service: list sent: %w", err)
	}
	if err := s.attachRelatedNames(ctx, invitations); err != nil {
		return nil, err
	}
	return invitations, nil
}

// Stats counts the sender's invitations by status.
func (s *InvitationService) Stats(ctx context.Context, senderID string) (InvitationStats, error) {
	ctx = ensureContext(ctx)

	var rows []struct {
		Status models.InvitationStatus
		Count  int64
	}
	if err := s.db.WithContext(ctx).
		Model(&models.Invitation{}).
		Select("status, COUNT(*) AS count").
		Where("sender_id = ?", senderID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return InvitationStats{}, fmt.Errorf("invitation service: count invitations: %w", err)
	}

	var stats InvitationStats
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case models.InvitationStatusPending:
			stats.Pending = row.Count
		case models.InvitationStatusAccepted:
			stats.Accepted = row.Count
		case models.InvitationStatusExpired:
			stats.Expired = row.Count
		case models.InvitationStatusCancelled:
			stats.Cancelled = row.Count
		}
	}
	return stats, nil
}

func (s *InvitationService) attachRelatedNames(ctx context.Context, invitations []models.Invitation) error {
	var challengeIDs, familyIDs []string
	for _, inv := range invitations {
		switch inv.Kind {
		case models.InvitationKindChallenge:
			challengeIDs = append(challengeIDs, inv.TargetID)
		case models.InvitationKindFamily:
			familyIDs = append(familyIDs, inv.TargetID)
		}
	}

	names := make(map[string]string, len(challengeIDs)+len(familyIDs))
	if len(challengeIDs) > 0 {
		var challenges []models.WellnessChallenge
		if err := s.db.WithContext(ctx).Select("id", "title").Where("id IN ?", challengeIDs).Find(&challenges).Error; err != nil {
			return fmt.Errorf("invitation service: load challenge names: %w", err)
		}
		for _, c := range challenges {
			names[c.ID] = c.Title
		}
	}
	if len(familyIDs) > 0 {
		var families []models.FamilyGroup
		if err := s.db.WithContext(ctx).Select("id", "name").Where("id IN ?", familyIDs).Find(&families).Error; err != nil {
			return fmt.Errorf("invitation service: load family names: %w", err)
		}
		for _, f := range families {
			names[f.ID] = f.Name
		}
	}

	for i := range invitations {
		switch invitations[i].Kind {
		case models.InvitationKindChallenge, models.InvitationKindFamily:
			invitations[i].RelatedName = names[invitations[i].TargetID]
		case models.InvitationKindDataShare:
			invitations[i].RelatedName = "Data Share"
		case models.InvitationKindPlatform:
			invitations[i].RelatedName = "Platform"
		}
	}
	return nil
}

func selectSenderColumns(db *gorm.DB) *gorm.DB {
	return db.Select("id", "health_id", "name")
}

// cancelPendingInvitations settles the pending invitations pointing at a
// challenge or family that is being deleted.
func cancelPendingInvitations(tx *gorm.DB, kind models.InvitationKind, targetID string, now time.Time) (int64, error) {
	result := tx.Model(&models.Invitation{}).
		Where("kind = ? AND target_id = ? AND status = ?", kind, targetID, models.InvitationStatusPending).
		Updates(map[string]any{
			"status":       models.InvitationStatusCancelled,
			"completed_at": now,
			"pending_key":  nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("cancel pending invitations: %w", result.Error)
	}
	return result.RowsAffected, nil
}
