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
	// ErrChallengeNotFound indicates the requested challenge does not exist.
	ErrChallengeNotFound = apperrors.ErrNotFound.WithCode("CHALLENGE_NOT_FOUND").WithMessage("Challenge not found")
	// ErrChallengeClosed is returned when joining or updating a completed challenge.
	ErrChallengeClosed = apperrors.ErrInvalidState.WithCode("CHALLENGE_CLOSED").WithMessage("Challenge has already been completed")
	// ErrNotParticipant indicates the user has not joined the challenge.
	ErrNotParticipant = apperrors.ErrNotFound.WithCode("CHALLENGE_PARTICIPANT_NOT_FOUND").WithMessage("You are not participating in this challenge")
	// ErrCreatorCannotLeave is returned when the creator tries to leave their own challenge.
	ErrCreatorCannotLeave = apperrors.ErrInvalidState.WithCode("CHALLENGE_CREATOR_CANNOT_LEAVE").WithMessage("Challenge creator cannot leave the challenge")
	// ErrChallengeDeleteDenied is returned when someone other than the creator deletes a challenge.
	ErrChallengeDeleteDenied = apperrors.ErrForbidden.WithCode("CHALLENGE_DELETE_DENIED").WithMessage("Only the challenge creator can delete it")
)

// Participation roles reported by ListForUser.
const (
	ChallengeRoleCreator     = "creator"
	ChallengeRoleParticipant = "participant"
)

// CreateChallengeInput describes a new wellness challenge.
type CreateChallengeInput struct {
	Title       string
	Description string
	Goal        string
	StartDate   time.Time
	EndDate     time.Time
}

// UserChallenge is a challenge seen from one user's perspective.
type UserChallenge struct {
	models.WellnessChallenge
	Role     string `json:"role"`
	Progress int    `json:"progress"`
}

// ChallengeSummary is a challenge in a public listing.
type ChallengeSummary struct {
	models.WellnessChallenge
	ParticipantCount int64 `json:"participant_count"`
}

// ChallengeStats summarises one user's challenges. Total counts every
// challenge the user created or joined.
type ChallengeStats struct {
	Total           int64   `json:"total"`
	Created         int64   `json:"created"`
	Participating   int64   `json:"participating"`
	Active          int64   `json:"active"`
	AverageProgress float64 `json:"average_progress"`
}

// ChallengeService manages wellness challenges and their participants.
type ChallengeService struct {
	db    *gorm.DB
	audit *AuditService
	now   func() time.Time
}

// NewChallengeService constructs a ChallengeService instance.
func NewChallengeService(db *gorm.DB, opts ...Option) (*ChallengeService, error) {
	if db == nil {
		return nil, errors.New("challenge service: db is required")
	}
	o := resolveOptions(opts)
	return &ChallengeService{db: db, audit: o.audit, now: o.now}, nil
}

// WithTx returns a copy of the service bound to tx. The copy never writes
// audit entries; the caller owning the transaction does that after commit.
func (s *ChallengeService) WithTx(tx *gorm.DB) *ChallengeService {
	cpy := *s
	cpy.db = tx
	cpy.audit = nil
	return &cpy
}

// Create inserts the challenge and enrols the creator in one transaction.
func (s *ChallengeService) Create(ctx context.Context, creatorID string, input CreateChallengeInput) (*models.WellnessChallenge, error) {
	ctx = ensureContext(ctx)

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewValidation("title", "Title is required")
	}
	if input.StartDate.IsZero() || input.EndDate.IsZero() {
		return nil, apperrors.NewValidation("start_date", "Start and end dates are required")
	}
	if input.EndDate.Before(input.StartDate) {
		return nil, apperrors.NewValidation("end_date", "End date must not be before the start date")
	}

	now := s.now()
	challenge := &models.WellnessChallenge{
		UID:         models.NewPublicUID(models.ChallengeUIDPrefix),
		CreatedBy:   creatorID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Goal:        strings.TrimSpace(input.Goal),
		StartDate:   input.StartDate.UTC(),
		EndDate:     input.EndDate.UTC(),
		Status:      models.ChallengeStatusActive,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(challenge).Error; err != nil {
			return fmt.Errorf("challenge service: create challenge: %w", err)
		}
		participant := models.ChallengeParticipant{
			ChallengeID: challenge.ID,
			UserID:      creatorID,
			JoinedAt:    now,
		}
		if err := tx.Create(&participant).Error; err != nil {
			return fmt.Errorf("challenge service: enrol creator: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   auditUser(creatorID),
		Action:   "challenge.create",
		Resource: "challenge:" + challenge.ID,
		Result:   "success",
		Metadata: map[string]any{"uid": challenge.UID, "title": challenge.Title},
	})
	return challenge, nil
}

// GetByID loads a challenge with its creator. The public UID is accepted too.
func (s *ChallengeService) GetByID(ctx context.Context, id string) (*models.WellnessChallenge, error) {
	ctx = ensureContext(ctx)

	var challenge models.WellnessChallenge
	err := s.db.WithContext(ctx).
		Preload("Creator").
		Where("id = ? OR uid = ?", id, id).
		First(&challenge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("challenge service: get challenge: %w", err)
	}
	return &challenge, nil
}

// Join enrols the user. Joining twice is a no-op; joined reports whether a
// new participant row was created.
func (s *ChallengeService) Join(ctx context.Context, challengeID, userID string) (bool, error) {
	ctx = ensureContext(ctx)

	var challenge models.WellnessChallenge
	err := s.db.WithContext(ctx).Select("id", "status").First(&challenge, "id = ?", challengeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, ErrChallengeNotFound
	}
	if err != nil {
		return false, fmt.Errorf("challenge service: load challenge: %w", err)
	}
	if challenge.Status != models.ChallengeStatusActive {
		return false, ErrChallengeClosed
	}

	participant := models.ChallengeParticipant{
		ChallengeID: challengeID,
		UserID:      userID,
		JoinedAt:    s.now(),
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&participant)
	if result.Error != nil {
		return false, fmt.Errorf("challenge service: join challenge: %w", result.Error)
	}

	joined := result.RowsAffected > 0
	if joined {
		recordAudit(s.audit, ctx, AuditEntry{
			UserID:   auditUser(userID),
			Action:   "challenge.join",
			Resource: "challenge:" + challengeID,
			Result:   "success",
		})
	}
	return joined, nil
}

// Leave removes the user's participation. The creator cannot leave.
func (s *ChallengeService) Leave(ctx context.Context, challengeID, userID string) error {
	ctx = ensureContext(ctx)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var challenge models.WellnessChallenge
		err := tx.Select("id", "created_by").First(&challenge, "id = ?", challengeID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrChallengeNotFound
		}
		if err != nil {
			return fmt.Errorf("challenge service: load challenge: %w", err)
		}
		if challenge.CreatedBy == userID {
			return ErrCreatorCannotLeave
		}

		result := tx.Where("challenge_id = ? AND user_id = ?", challengeID, userID).Delete(&models.ChallengeParticipant{})
		if result.Error != nil {
			return fmt.Errorf("challenge service: leave challenge: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotParticipant
		}
		return nil
	})
	if err != nil {
		return err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   auditUser(userID),
		Action:   "challenge.leave",
		Resource: "challenge:" + challengeID,
		Result:   "success",
	})
	return nil
}

// UpdateProgress records the participant's progress. Notes are replaced
// when non-nil.
func (s *ChallengeService) UpdateProgress(ctx context.Context, challengeID, userID string, progress int, notes *string) (*models.ChallengeParticipant, error) {
	ctx = ensureContext(ctx)

	if progress < 0 {
		return nil, apperrors.NewValidation("progress", "Progress must not be negative")
	}

	var participant models.ChallengeParticipant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("challenge_id = ? AND user_id = ?", challengeID, userID).
			First(&participant).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotParticipant
		}
		if err != nil {
			return fmt.Errorf("challenge service: load participant: %w", err)
		}

		updates := map[string]any{"progress": progress}
		participant.Progress = progress
		if notes != nil {
			participant.Notes = optionalString(*notes)
			updates["notes"] = participant.Notes
		}
		if err := tx.Model(&participant).Updates(updates).Error; err != nil {
			return fmt.Errorf("challenge service: update progress: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &participant, nil
}

// Participants lists the challenge's participants, earliest first.
func (s *ChallengeService) Participants(ctx context.Context, challengeID string) ([]models.ChallengeParticipant, error) {
	ctx = ensureContext(ctx)

	if _, err := s.GetByID(ctx, challengeID); err != nil {
		return nil, err
	}

	var participants []models.ChallengeParticipant
	if err := s.db.WithContext(ctx).
		Preload("User").
		Where("challenge_id = ?", challengeID).
		Order("progress DESC").
		Order("joined_at ASC").
		Find(&participants).Error; err != nil {
		return nil, fmt.Errorf("challenge service: list participants: %w", err)
	}
	return participants, nil
}

// ListForUser returns the challenges the user created or joined, with their role.
func (s *ChallengeService) ListForUser(ctx context.Context, userID string) ([]UserChallenge, error) {
	ctx = ensureContext(ctx)

	var participants []models.ChallengeParticipant
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&participants).Error; err != nil {
		return nil, fmt.Errorf("challenge service: load participation: %w", err)
	}
	progress := make(map[string]int, len(participants))
	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		progress[p.ChallengeID] = p.Progress
		ids = append(ids, p.ChallengeID)
	}

	query := s.db.WithContext(ctx).Where("created_by = ?", userID)
	if len(ids) > 0 {
		query = s.db.WithContext(ctx).Where("created_by = ? OR id IN ?", userID, ids)
	}

	var challenges []models.WellnessChallenge
	if err := query.Order("start_date DESC").Find(&challenges).Error; err != nil {
		return nil, fmt.Errorf("challenge service: list challenges: %w", err)
	}

	out := make([]UserChallenge, 0, len(challenges))
	for _, c := range challenges {
		role := ChallengeRoleParticipant
		if c.CreatedBy == userID {
			role = ChallengeRoleCreator
		}
		out = append(out, UserChallenge{WellnessChallenge: c, Role: role, Progress: progress[c.ID]})
	}
	return out, nil
}

// FindByName matches a challenge by exact title among the challenges the
// user created or joined.
func (s *ChallengeService) FindByName(ctx context.Context, name, userID string) (*models.WellnessChallenge, error) {
	ctx = ensureContext(ctx)

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewValidation("challenge", "Challenge name is required")
	}

	var challenge models.WellnessChallenge
	err := s.db.WithContext(ctx).
		Where("title = ?", name).
		Where("(created_by = ? OR id IN (?))", userID,
			s.db.Model(&models.ChallengeParticipant{}).Select("challenge_id").Where("user_id = ?", userID)).
		Order("created_at DESC").
		First(&challenge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("challenge service: find challenge: %w", err)
	}
	return &challenge, nil
}

// Delete removes the challenge with its participants and cancels invitations
// still pending for it. Only the creator may delete.
func (s *ChallengeService) Delete(ctx context.Context, challengeID, userID string) error {
	ctx = ensureContext(ctx)

	now := s.now()
	var cancelled int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var challenge models.WellnessChallenge
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "created_by").
			First(&challenge, "id = ?", challengeID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrChallengeNotFound
		}
		if err != nil {
			return fmt.Errorf("challenge service: load challenge: %w", err)
		}
		if challenge.CreatedBy != userID {
			return ErrChallengeDeleteDenied
		}

		if err := tx.Where("challenge_id = ?", challengeID).Delete(&models.ChallengeParticipant{}).Error; err != nil {
			return fmt.Errorf("challenge service: delete participants: %w", err)
		}
		if err := tx.Delete(&models.WellnessChallenge{}, "id = ?", challengeID).Error; err != nil {
			return fmt.Errorf("challenge service: delete challenge: %w", err)
		}
		cancelled, err = cancelPendingInvitations(tx, models.InvitationKindChallenge, challengeID, now)
		return err
	})
	if err != nil {
		return err
	}

	logger.WithModule("challenges").Debug("challenge deleted",
		zap.String("challenge_id", challengeID),
		zap.Int64("invitations_cancelled", cancelled),
	)
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   auditUser(userID),
		Action:   "challenge.delete",
		Resource: "challenge:" + challengeID,
		Result:   "success",
		Metadata: map[string]any{"invitations_cancelled": cancelled},
	})
	return nil
}

// Search matches the term against title, description and goal, latest end
// date first.
func (s *ChallengeService) Search(ctx context.Context, term string) ([]ChallengeSummary, error) {
	ctx = ensureContext(ctx)

	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil, apperrors.NewValidation("q", "Search term is required")
	}
	like := "%" + term + "%"

	var challenges []models.WellnessChallenge
	if err := s.db.WithContext(ctx).
		Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ? OR LOWER(goal) LIKE ?", like, like, like).
		Order("end_date DESC").
		Find(&challenges).Error; err != nil {
		return nil, fmt.Errorf("challenge service: search challenges: %w", err)
	}
	return s.summarise(ctx, challenges)
}

// Active lists open challenges that have not ended yet, soonest start first.
func (s *ChallengeService) Active(ctx context.Context) ([]ChallengeSummary, error) {
	ctx = ensureContext(ctx)

	var challenges []models.WellnessChallenge
	if err := s.db.WithContext(ctx).
		Where("status = ? AND end_date >= ?", models.ChallengeStatusActive, s.now()).
		Order("start_date ASC").
		Find(&challenges).Error; err != nil {
		return nil, fmt.Errorf("challenge service: list active challenges: %w", err)
	}
	return s.summarise(ctx, challenges)
}

func (s *ChallengeService) summarise(ctx context.Context, challenges []models.WellnessChallenge) ([]ChallengeSummary, error) {
	out := make([]ChallengeSummary, 0, len(challenges))
	if len(challenges) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(challenges))
	for _, c := range challenges {
		ids = append(ids, c.ID)
	}
	var rows []struct {
		ChallengeID string
		Count       int64
	}
	if err := s.db.WithContext(ctx).
		Model(&models.ChallengeParticipant{}).
		Select("challenge_id, COUNT(*) AS count").
		Where("challenge_id IN ?", ids).
		Group("challenge_id").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("challenge service: count participants: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.ChallengeID] = row.Count
	}

	for _, c := range challenges {
		out = append(out, ChallengeSummary{WellnessChallenge: c, ParticipantCount: counts[c.ID]})
	}
	return out, nil
}

// Stats summarises the challenges the user created or joined.
func (s *ChallengeService) Stats(ctx context.Context, userID string) (ChallengeStats, error) {
	ctx = ensureContext(ctx)

	db := s.db.WithContext(ctx)
	joined := s.db.Model(&models.ChallengeParticipant{}).Select("challenge_id").Where("user_id = ?", userID)

	var stats ChallengeStats
	if err := db.Model(&models.WellnessChallenge{}).
		Where("created_by = ?", userID).
		Count(&stats.Created).Error; err != nil {
		return ChallengeStats{}, fmt.Errorf("challenge service: count created: %w", err)
	}
	if err := db.Model(&models.WellnessChallenge{}).
		Where("created_by <> ? AND id IN (?)", userID, joined).
		Count(&stats.Participating).Error; err != nil {
		return ChallengeStats{}, fmt.Errorf("challenge service: count joined: %w", err)
	}
	stats.Total = stats.Created + stats.Participating

	if err := db.Model(&models.WellnessChallenge{}).
		Where("status = ? AND (created_by = ? OR id IN (?))", models.ChallengeStatusActive, userID, joined).
		Count(&stats.Active).Error; err != nil {
		return ChallengeStats{}, fmt.Errorf("challenge service: count active: %w", err)
	}

	var progress struct {
		Average *float64
	}
	if err := db.Model(&models.ChallengeParticipant{}).
		Select("AVG(progress) AS average").
		Where("user_id = ?", userID).
		Scan(&progress).Error; err != nil {
		return ChallengeStats{}, fmt.Errorf("challenge service: average progress: %w", err)
	}
	if progress.Average != nil {
		stats.AverageProgress = *progress.Average
	}
	return stats, nil
}

// CompleteEnded closes active challenges whose end date has passed.
func (s *ChallengeService) CompleteEnded(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Model(&models.WellnessChallenge{}).
		Where("status = ? AND end_date < ?", models.ChallengeStatusActive, s.now()).
		Update("status", models.ChallengeStatusCompleted)
	if result.Error != nil {
		return 0, fmt.Errorf("challenge service: complete ended: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		logger.WithModule("challenges").Debug("challenges completed", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}
