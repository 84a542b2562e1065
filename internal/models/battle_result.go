package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BattleResult is the finalized record written once a battle reaches its
// terminal state. The battle core only appends here; the surrounding
// platform owns reporting over it.
type BattleResult struct {
	ID            string         `gorm:"primaryKey;type:uuid" json:"id"`
	BattleID      string         `gorm:"uniqueIndex;not null" json:"battle_id"`
	QuestionCount int            `gorm:"not null" json:"question_count"`
	Reason        string         `gorm:"not null" json:"reason"`
	Provisional   bool           `gorm:"not null" json:"provisional"`
	CompletedAt   time.Time      `gorm:"index" json:"completed_at"`
	Standings     datatypes.JSON `json:"standings"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (r *BattleResult) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
