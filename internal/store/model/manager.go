package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const DefaultManagerPort = 8006

// Manager is one managed Proxmox VE cluster and the credentials used to reach it.
type Manager struct {
	ID               uuid.UUID `gorm:"primaryKey;column:id;type:VARCHAR(36);"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Name             string `gorm:"uniqueIndex;not null"`
	Hostname         string `gorm:"not null"`
	Port             int    `gorm:"not null"`
	Username         string `gorm:"not null"`
	Password         string `json:"-"`
	VerifySSL        bool   `gorm:"column:verify_ssl"`
	LastRefreshAt    *time.Time
	LastRefreshError string
}

func (Manager) TableName() string { return "managers" }

type ManagerList []Manager

func (m Manager) String() string {
	val, _ := json.Marshal(m)
	return string(val)
}

func NewManagerFromID(id uuid.UUID) *Manager {
	return &Manager{ID: id}
}
