package core

import (
	"context"
	"time"

	"github.com/harvest-downloader/harvest/internal/engine/types"
)

// Lister answers the daemon's /list endpoint. The download pool implements it.
type Lister interface {
	Query(ctx context.Context, startedAfter time.Time) ([]types.DownloadItem, error)
}

// Route paths served by PortServer.
const (
	PathHealth  = "/health"
	PathList    = "/list"
	PathPort    = "/port"
	PathCommand = "/port/command"
)

// SessionEvent is the first SSE event on a port stream.
const SessionEvent = "session"

type sessionPayload struct {
	Session string `json:"session"`
}
