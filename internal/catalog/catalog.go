// Package catalog defines the store contracts the engine reads suites,
// environments and run records through. Persistence itself is an
// external collaborator; the in-memory implementation backs the
// default server and the tests.
package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/flowprobe/flowprobe/internal/model"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrFileTooLarge = errors.New("file exceeds size limit")
)

// Page is a pagination request.
type Page struct {
	Number int
	Size   int
}

// SuiteStore returns fully hydrated suite snapshots.
type SuiteStore interface {
	GetSuite(ctx context.Context, id uuid.UUID) (*model.Suite, error)
}

// EnvironmentStore returns environments and their uploaded files.
type EnvironmentStore interface {
	GetEnvironment(ctx context.Context, id uuid.UUID) (*model.Environment, error)
	GetFile(ctx context.Context, envID uuid.UUID, fileKey string) ([]byte, error)
}

// RunStore persists run records. Runs are hard-retained.
type RunStore interface {
	CreateRun(ctx context.Context, run *model.Run) error
	CompleteRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*model.Run, error)
	ListRuns(ctx context.Context, suiteID uuid.UUID, page Page) ([]*model.Run, int, error)
}

// ScheduleStore lists the cron schedules the dispatcher fires.
type ScheduleStore interface {
	ListEnabledSchedules(ctx context.Context) ([]*model.Schedule, error)
}

// Store bundles every store contract.
type Store interface {
	SuiteStore
	EnvironmentStore
	RunStore
	ScheduleStore
}
