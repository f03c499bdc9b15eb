package model

import (
	"time"
)

type Dataset struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	RootPath  string `gorm:"not null"`
	CreatedAt time.Time
	Images    []Image `gorm:"constraint:OnDelete:CASCADE;"`
}

type DatasetList []Dataset

// Image status values
const (
	ImageStatusReady = "ready"
	ImageStatusError = "error"
)

type Image struct {
	ID        uint `gorm:"primaryKey"`
	DatasetID uint `gorm:"index;not null"`
	RelPath   string
	AbsPath   string
	Width     *int
	Height    *int
	Status    string `gorm:"default:ready"`
	CreatedAt time.Time
}

type ImageList []Image

type Concept struct {
	ID       uint   `gorm:"primaryKey"`
	Name     string `gorm:"uniqueIndex;not null"`
	Family   string `gorm:"not null"`
	ColorHex string `gorm:"not null"`
	Level    int    `gorm:"default:1"`
}

type ConceptList []Concept
