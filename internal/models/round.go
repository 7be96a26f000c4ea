// Package models defines the database models for round finalization.
package models

import "time"

// Round tracks the finalization state of one funding round.
type Round struct {
	ID                  uint      `gorm:"primaryKey"`
	RoundID             string    `gorm:"size:128;uniqueIndex;not null"`
	State               string    `gorm:"size:32;index;not null"`
	EndTime             time.Time `gorm:"index"`
	MatchingPool        string    `gorm:"size:78"` // decimal string
	Token               string    `gorm:"size:64"`
	VoteCredits         uint64
	Proposal            string `gorm:"type:text"` // JSON encoded distribution
	ProposalCustom      bool
	SnapshotBlock       uint64
	DistributionPointer string `gorm:"size:128"`
	MerkleRoot          string `gorm:"size:80"`
	LastError           string `gorm:"type:text"`
	ProposedAt          *time.Time
	FinalizedAt         *time.Time
	ReadyAt             *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Project is an application approved (or not) into a round.
type Project struct {
	ID            uint   `gorm:"primaryKey"`
	RoundID       string `gorm:"size:128;index:ux_round_project,unique"`
	ProjectID     string `gorm:"size:80;index:ux_round_project,unique"`
	ApplicationID string `gorm:"size:128"`
	Name          string `gorm:"size:256"`
	PayoutAddress string `gorm:"size:64"`
	Status        string `gorm:"size:16;index"`
	MetaPointer   string `gorm:"size:128"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
