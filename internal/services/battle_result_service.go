package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Darkvarin/Learnyzer-sub003/internal/battle"
	"github.com/Darkvarin/Learnyzer-sub003/internal/models"
	appErrors "github.com/Darkvarin/Learnyzer-sub003/pkg/errors"
)

// BattleResultService persists finalized battle results. It implements
// battle.ResultStore.
type BattleResultService struct {
	db      *gorm.DB
	timeNow func() time.Time
}

// NewBattleResultService constructs the result store backed by the supplied database.
func NewBattleResultService(db *gorm.DB) (*BattleResultService, error) {
	if db == nil {
		return nil, errors.New("battle result service: db is required")
	}
	return &BattleResultService{
		db:      db,
		timeNow: time.Now,
	}, nil
}

// SaveFinalResult writes the terminal standings for a battle. A repeated save
// for the same battle id (a provisional result later confirmed) overwrites
// the standings rather than duplicating the record.
func (s *BattleResultService) SaveFinalResult(ctx context.Context, result battle.FinalResult) error {
	ctx = ensureContext(ctx)

	battleID := strings.TrimSpace(result.BattleID)
	if battleID == "" {
		return errors.New("battle result service: battle id is required")
	}

	standings, err := json.Marshal(result.Standings)
	if err != nil {
		return fmt.Errorf("battle result service: marshal standings: %w", err)
	}

	record := models.BattleResult{
		BattleID:      battleID,
		QuestionCount: result.QuestionCount,
		Reason:        result.Reason,
		Provisional:   result.Provisional,
		CompletedAt:   result.CompletedAt,
		Standings:     standings,
	}
	if record.CompletedAt.IsZero() {
		record.CompletedAt = s.timeNow()
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "battle_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"standings", "provisional", "reason", "completed_at", "updated_at"}),
		}).
		Create(&record).Error
}

// GetResult returns the finalized record for the battle id.
func (s *BattleResultService) GetResult(ctx context.Context, battleID string) (*models.BattleResult, error) {
	ctx = ensureContext(ctx)

	battleID = strings.TrimSpace(battleID)
	if battleID == "" {
		return nil, appErrors.NewBadRequest("battle id is required")
	}

	var record models.BattleResult
	err := s.db.WithContext(ctx).Where("battle_id = ?", battleID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErrors.ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
