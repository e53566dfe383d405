package models

import "time"

// LocalSlot is one string-keyed value in the on-device store.
type LocalSlot struct {
	Key       string    `gorm:"column:slot_key;primaryKey"`
	Value     string    `gorm:"column:value;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (LocalSlot) TableName() string {
	return "local_slots"
}
