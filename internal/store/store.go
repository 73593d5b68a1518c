// Package store persists sessions, datasources and tickets in an
// embedded SQLite database. Nested documents (intent, telemetry,
// conversation) are stored as JSON columns; everything queried or
// filtered on gets its own column.
package store

import (
	"context"
	"errors"

	"github.com/alertscope/alertscope/internal/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence surface of the service.
type Store interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id int64) (*models.Session, error)
	SaveSession(ctx context.Context, s *models.Session) error
	ListSessions(ctx context.Context, userID int64, limit, offset int) ([]models.SessionSummary, int, error)
	DeleteSession(ctx context.Context, id int64) error

	CreateDataSource(ctx context.Context, ds *models.DataSource) error
	GetDataSource(ctx context.Context, id int64) (*models.DataSource, error)
	ListDataSources(ctx context.Context) ([]models.DataSource, error)
	DataSourcesByIDs(ctx context.Context, ids []int64) ([]models.DataSource, error)
	UpdateDataSource(ctx context.Context, ds *models.DataSource) error
	DeleteDataSource(ctx context.Context, id int64) error

	CreateTicket(ctx context.Context, t *models.Ticket) error
	GetTicket(ctx context.Context, id int64) (*models.Ticket, error)
	ListTickets(ctx context.Context, userID int64) ([]models.Ticket, error)
	UpdateTicket(ctx context.Context, t *models.Ticket) error
	DeleteTicket(ctx context.Context, id int64) error

	Close() error
}
