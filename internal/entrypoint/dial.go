package entrypoint

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cozmonaut/cozmonaut/internal/config"
	"github.com/cozmonaut/cozmonaut/internal/robot"
	"github.com/cozmonaut/cozmonaut/internal/serialmux"
)

// Connection is a robot whose link must be pumped by Run until ctx ends or
// the robot hangs up.
type Connection interface {
	robot.Robot
	Run(ctx context.Context) error
	Close() error
}

// Dialer connects the robot described by rc. Debug routes for the link may
// be mounted on admin.
type Dialer func(ctx context.Context, rc config.RobotConfig, admin *http.ServeMux) (Connection, error)

// DialRobot opens a simulated link or the robot's serial bridge.
func DialRobot(ctx context.Context, rc config.RobotConfig, admin *http.ServeMux) (Connection, error) {
	id := robot.ID(rc.ID)
	if rc.Simulated {
		return robot.NewSimulatedLink(ctx, id, robot.SimOptions{}), nil
	}

	var opts serialmux.PortOptions
	if rc.Serial != nil {
		opts = *rc.Serial
	}
	opts, err := opts.Normalize()
	if err != nil {
		return nil, fmt.Errorf("%s serial options: %w", id, err)
	}
	mux, err := serialmux.NewRealSerialMux(rc.Port, opts)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", id, err)
	}
	if admin != nil {
		mux.AttachAdminRoutesWithPrefix(admin, fmt.Sprintf("robot-%d", rc.ID))
	}
	return robot.NewLink(id, mux), nil
}
