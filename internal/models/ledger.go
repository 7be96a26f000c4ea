package models

import "time"

// Cursor remembers the last ledger block a collector has fully processed.
type Cursor struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:128;uniqueIndex;not null"`
	Block     uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Strategy records QVCreated and QVContractUpdated factory events.
type Strategy struct {
	ID          uint   `gorm:"primaryKey"`
	Address     string `gorm:"size:64;index"`
	Factory     string `gorm:"size:64;index"`
	Event       string `gorm:"size:32"`
	BlockNumber uint64 `gorm:"index"`
	TxHash      string `gorm:"size:80;index:ux_strategy_log,unique"`
	LogIndex    uint   `gorm:"index:ux_strategy_log,unique"`
	CreatedAt   time.Time
}

// Blob is a content-addressed document kept in the database.
type Blob struct {
	ID        uint   `gorm:"primaryKey"`
	Pointer   string `gorm:"size:128;uniqueIndex;not null"`
	Data      []byte
	Size      int
	CreatedAt time.Time
}

// PayoutState is the distribution commit of a round that has no payout
// contract configured.
type PayoutState struct {
	ID        uint   `gorm:"primaryKey"`
	RoundID   string `gorm:"size:128;uniqueIndex;not null"`
	Root      string `gorm:"size:66"`
	Protocol  uint64
	Pointer   string `gorm:"size:128"`
	Ready     bool
	Updates   int
	CreatedAt time.Time
	UpdatedAt time.Time
}
