package models

import "time"

// Vote stores one Voted event emitted by a round's QV strategy.
// A log is identified by (tx_hash, log_index) so re-reading a block range is harmless.
type Vote struct {
	ID          uint    `gorm:"primaryKey"`
	RoundID     string  `gorm:"size:128;not null;index"`
	Voter       string  `gorm:"size:64;index"`
	GrantID     string  `gorm:"size:80;index"`
	Credits     uint64  `gorm:"not null"`
	Votes       float64 // sqrt(credits) as reported by the contract
	BlockNumber uint64  `gorm:"index"`
	TxHash      string  `gorm:"size:80;index:ux_vote_log,unique"`
	LogIndex    uint    `gorm:"index:ux_vote_log,unique"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Voter caches the voter-register lookup for an address seen voting in a round.
type Voter struct {
	ID           uint   `gorm:"primaryKey"`
	RoundID      string `gorm:"size:128;index:ux_round_voter,unique"`
	Address      string `gorm:"size:64;index:ux_round_voter,unique"`
	Registered   bool   `gorm:"index"`
	CheckedBlock uint64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
