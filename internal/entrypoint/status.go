package entrypoint

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cozmonaut/cozmonaut/internal/api"
	"github.com/cozmonaut/cozmonaut/internal/httputil"
	"github.com/cozmonaut/cozmonaut/internal/supervisor"
)

// status asks a running interact session at listen for its robots and
// prints one line per robot loop.
func (r *Runner) status(ctx context.Context, args Args) int {
	cfg, err := loadConfig(args)
	if err != nil {
		r.errorf("%v", err)
		return ExitUsage
	}
	base := cfg.GetListen()
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	client := r.HTTPClient
	if client == nil {
		client = httputil.NewStandardClient(&http.Client{Timeout: 5 * time.Second})
	}
	var robots []api.RobotStatus
	if err := httputil.GetJSON(ctx, client, strings.TrimSuffix(base, "/")+"/api/robots", &robots); err != nil {
		r.errorf("%v", err)
		return ExitFailure
	}

	out := r.stdout()
	if len(robots) == 0 {
		fmt.Fprintln(out, "no robots connected")
	}
	for _, rb := range robots {
		state := "stopped"
		if rb.Running {
			state = "running"
		}
		fmt.Fprintf(out, "%s %s\n", rb.ID, state)
		for _, loop := range supervisor.Loops {
			ls, ok := rb.Loops[loop]
			if !ok {
				continue
			}
			line := fmt.Sprintf("  %-14s %-9s iterations=%d", loop, ls.State, ls.Iterations)
			if ls.Err != "" {
				line += " error=" + ls.Err
			}
			fmt.Fprintln(out, line)
		}
	}
	return ExitOK
}
