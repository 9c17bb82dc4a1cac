// Package storage defines the persistence interfaces and their SQLite implementation.
package storage

import (
	"context"
	"errors"
	"time"

	"realty_tracker/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// EntityStore persists listings keyed by their global id.
type EntityStore interface {
	UpsertEntity(ctx context.Context, e model.Entity) error
	DeleteEntity(ctx context.Context, id string) error
	DeleteAllEntities(ctx context.Context) error
	GetEntity(ctx context.Context, id string) (*model.Entity, error)
	ListEntityRefs(ctx context.Context) ([]model.EntityRef, error)
	ListEntitiesScrapedSince(ctx context.Context, ts time.Time) ([]model.Entity, error)
	DeleteEntitiesPostedBefore(ctx context.Context, ts time.Time) (int64, error)
}

// RequestStore persists tracker requests, their match history and the
// chat each request belongs to.
type RequestStore interface {
	ListRequests(ctx context.Context) ([]model.TrackerRequest, error)
	GetRequest(ctx context.Context, id string) (*model.TrackerRequest, error)
	UpsertRequest(ctx context.Context, r *model.TrackerRequest) error
	SetRequestEnabled(ctx context.Context, id string, enabled bool) error
	AdvanceWatermark(ctx context.Context, id string, ts time.Time) error

	AppendMatchIDs(ctx context.Context, requestID string, entityIDs []string) error
	ListMatchIDs(ctx context.Context, requestID string) ([]string, error)

	LinkChat(ctx context.Context, requestID, chatID string) error
	GetRequestByChat(ctx context.Context, chatID string) (*model.TrackerRequest, error)
}

// Storage is the interface for all persistence operations.
type Storage interface {
	EntityStore
	RequestStore
	Close() error
}
