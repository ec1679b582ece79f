package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/darasa/internal/storage"
)

// RegistrationEventModel maps to the "registration_events" table.
// No UpdatedAt or DeletedAt — the audit trail is append-only and immutable.
type RegistrationEventModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	IdentityDigest string    `gorm:"size:64;not null;index"`
	Outcome        string    `gorm:"not null"`
	Detail         string
	CreatedAt      time.Time `gorm:"index"`
}

func (RegistrationEventModel) TableName() string { return "registration_events" }

// RegistrationRepository persists registration events.
// Append-only: no Update or Delete methods exist on this type.
type RegistrationRepository struct {
	db *gorm.DB
}

// NewRegistrationRepository creates a RegistrationRepository.
func NewRegistrationRepository(db *gorm.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// Append inserts a single event. This is the only write method —
// immutability is enforced at the interface level.
func (r *RegistrationRepository) Append(ctx context.Context, event storage.RegistrationEvent) error {
	model := toModel(event)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending registration event: %w", err)
	}
	return nil
}

// Recent returns events newest first. If identityDigest is non-empty,
// filters to that identity. Limit defaults to 100.
func (r *RegistrationRepository) Recent(ctx context.Context, identityDigest string, limit int) ([]storage.RegistrationEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	q := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit)

	if identityDigest != "" {
		q = q.Where("identity_digest = ?", identityDigest)
	}

	var models []RegistrationEventModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("querying registration events: %w", err)
	}

	events := make([]storage.RegistrationEvent, len(models))
	for i := range models {
		events[i] = toDomain(&models[i])
	}
	return events, nil
}

func toModel(event storage.RegistrationEvent) RegistrationEventModel {
	id := event.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return RegistrationEventModel{
		ID:             id,
		IdentityDigest: event.IdentityDigest,
		Outcome:        event.Outcome,
		Detail:         event.Detail,
		CreatedAt:      createdAt,
	}
}

func toDomain(m *RegistrationEventModel) storage.RegistrationEvent {
	return storage.RegistrationEvent{
		ID:             m.ID,
		IdentityDigest: m.IdentityDigest,
		Outcome:        m.Outcome,
		Detail:         m.Detail,
		CreatedAt:      m.CreatedAt,
	}
}
