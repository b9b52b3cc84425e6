package repositories

import (
	"errors"
	"time"

	"billing_backend/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrTrialStatusNotFound = errors.New("user trial status not found")

	// ErrTrialAlreadyUsed means another writer claimed the trial first.
	ErrTrialAlreadyUsed = errors.New("trial already used")
)

type TrialRepository interface {
	WithTx(tx *gorm.DB) TrialRepository

	FindByUserID(userID string) (*models.UserTrialStatus, error)

	// Create inserts the claim row. The unique index on user_id makes the
	// insert the arbiter of a concurrent double claim.
	Create(status *models.UserTrialStatus) error

	// MarkUsed flips HasUsedTrial on a pre-existing row, guarded so exactly
	// one concurrent claimer wins; losers get ErrTrialAlreadyUsed.
	MarkUsed(userID string, at time.Time, organizations datatypes.JSON) error
}

type TrialRepositoryImpl struct {
	db *gorm.DB
}

func NewTrialRepository(db *gorm.DB) TrialRepository {
	return &TrialRepositoryImpl{db: db}
}

func (r *TrialRepositoryImpl) WithTx(tx *gorm.DB) TrialRepository {
	return &TrialRepositoryImpl{db: tx}
}

func (r *TrialRepositoryImpl) FindByUserID(userID string) (*models.UserTrialStatus, error) {
	var status models.UserTrialStatus
	err := r.db.First(&status, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTrialStatusNotFound
		}
		return nil, err
	}
	return &status, nil
}

func (r *TrialRepositoryImpl) Create(status *models.UserTrialStatus) error {
	return r.db.Create(status).Error
}

func (r *TrialRepositoryImpl) MarkUsed(userID string, at time.Time, organizations datatypes.JSON) error {
	res := r.db.Model(&models.UserTrialStatus{}).
		Where("user_id = ? AND has_used_trial = ?", userID, false).
		Updates(map[string]interface{}{
			"has_used_trial": true,
			"trial_used_at":  at,
			"organizations":  organizations,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTrialAlreadyUsed
	}
	return nil
}
