package realtime

import (
	"encoding/json"
	"errors"

	"github.com/cityquest/backend/internal/geo"
	"go.uber.org/zap"
)

var (
	errMissingRegistry = errors.New("realtime: registry required")
	errMissingCells    = errors.New("realtime: bucket index required")
)

type wireFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// RouterConfig describes the router's collaborators.
type RouterConfig struct {
	Registry Registry
	Cells    *geo.BucketIndex
	Logger   *zap.Logger
}

// Router computes the fanout target set for each event and pushes it over
// the live transport. Delivery is best effort and at most once: targets
// that are not connected, or whose outbound queue is full, never see the
// event. Order is preserved within one connection's stream only.
type Router struct {
	registry Registry
	cells    *geo.BucketIndex
	logger   *zap.Logger
}

// NewRouter constructs the notification router.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	if cfg.Cells == nil {
		return nil, errMissingCells
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{registry: cfg.Registry, cells: cfg.Cells, logger: logger}, nil
}

// Dispatch resolves the event's target set and emits it. Marshalling or
// delivery failures are logged, never returned: notification delivery is
// auxiliary and must not unwind the flow that produced the event.
func (r *Router) Dispatch(event Event) {
	frame, err := json.Marshal(wireFrame{Event: event.Kind, Data: event.Payload})
	if err != nil {
		r.logger.Error("failed to encode event",
			zap.String("kind", event.Kind),
			zap.Error(err))
		return
	}

	targets := r.resolve(event.Target)
	delivered := 0
	for _, conn := range targets {
		if conn.enqueue(frame) {
			delivered++
		}
	}
	r.logger.Debug("event dispatched",
		zap.String("kind", event.Kind),
		zap.Int("targets", len(targets)),
		zap.Int("delivered", delivered))
}

func (r *Router) resolve(target Target) []*Conn {
	switch target.Scope {
	case TargetUser:
		return r.registry.UserConnections(target.UserID)
	case TargetAdmins:
		return r.registry.AdminConnections()
	case TargetConnection:
		if conn, ok := r.registry.Connection(target.ConnectionID); ok {
			return []*Conn{conn}
		}
		return nil
	case TargetCell:
		members := r.cells.MembersNear(target.Lat, target.Lng)
		conns := make([]*Conn, 0, len(members))
		for _, connectionID := range members {
			if conn, ok := r.registry.Connection(connectionID); ok {
				conns = append(conns, conn)
			}
		}
		return conns
	default:
		return nil
	}
}
