package repository

import (
	"context"
	"time"

	"chatrelay/internal/models"
	"chatrelay/internal/relay"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConnectionRepository is the Postgres-backed connection registry
type ConnectionRepository interface {
	relay.Registry
	Count(ctx context.Context) (int64, error)
}

type connectionRepository struct {
	db *gorm.DB
}

func NewConnectionRepository(db *gorm.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

// Register inserts the connection; an existing row is left untouched
func (r *connectionRepository) Register(ctx context.Context, id string) error {
	conn := &models.Connection{
		ConnectionID: id,
		ConnectedAt:  time.Now().UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(conn).Error
}

// Unregister deletes the row; zero rows affected is not an error
func (r *connectionRepository) Unregister(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Where("connection_id = ?", id).
		Delete(&models.Connection{}).Error
}

func (r *connectionRepository) Snapshot(ctx context.Context) ([]string, error) {
	ids := []string{}
	err := r.db.WithContext(ctx).
		Model(&models.Connection{}).
		Pluck("connection_id", &ids).Error
	return ids, err
}

func (r *connectionRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Connection{}).Count(&n).Error
	return n, err
}
