package alertdb

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// Most rows that List will return
const MaxList = 1000

// AlertDB is the history of fired alerts
type AlertDB struct {
	log logs.Log
	db  *gorm.DB
}

// Open or create an alert DB
func NewAlertDB(logger logs.Log, dbFilename string) (*AlertDB, error) {
	if dir := filepath.Dir(dbFilename); dir != "" {
		os.MkdirAll(dir, 0777)
	}
	db, err := dbh.OpenDB(logger, dbh.MakeSqliteConfig(dbFilename), Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open database %v: %w", dbFilename, err)
	}
	return &AlertDB{
		log: logger,
		db:  db,
	}, nil
}

func (a *AlertDB) Close() {
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// Add an alert. On success, rec.ID is populated.
func (a *AlertDB) Add(rec *Alert) error {
	rec.ID = 0
	return a.db.Create(rec).Error
}

// List returns the most recent alerts, newest first
func (a *AlertDB) List(limit int) ([]Alert, error) {
	if limit <= 0 || limit > MaxList {
		limit = MaxList
	}
	alerts := []Alert{}
	err := a.db.Order("time DESC, id DESC").Limit(limit).Find(&alerts).Error
	return alerts, err
}

func (a *AlertDB) Count() (int64, error) {
	n := int64(0)
	err := a.db.Model(&Alert{}).Count(&n).Error
	return n, err
}
