// Package entrypoint dispatches the named operations exposed by the
// cozmonaut binary: friend management, the interactive robot session and a
// status query against a running session.
package entrypoint

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/cozmonaut/cozmonaut/internal/config"
	"github.com/cozmonaut/cozmonaut/internal/db"
	"github.com/cozmonaut/cozmonaut/internal/httputil"
)

// Exit codes returned by Run.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// Args is the configuration mapping passed to an operation. Recognised keys
// are sql_addr, sql_user, sql_pass, sql_data, friend_id, name, config,
// listen and simulate. Unknown keys are ignored.
type Args map[string]string

// Int64 parses key as an integer. ok is false when the key is absent.
func (a Args) Int64(key string) (v int64, ok bool, err error) {
	s := strings.TrimSpace(a[key])
	if s == "" {
		return 0, false, nil
	}
	v, err = strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %q is not an integer", key, s)
	}
	return v, true, nil
}

// Bool parses key as a boolean; absent means false.
func (a Args) Bool(key string) (bool, error) {
	s := strings.TrimSpace(a[key])
	if s == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%s: %q is not a boolean", key, s)
	}
	return v, nil
}

type operation func(r *Runner, ctx context.Context, args Args) int

var operations = map[string]operation{
	"friend-add":    (*Runner).friendAdd,
	"friend-list":   (*Runner).friendList,
	"friend-remove": (*Runner).friendRemove,
	"interact":      (*Runner).interact,
	"status":        (*Runner).status,
}

// Operations returns the names Run accepts, sorted.
func Operations() []string {
	names := make([]string, 0, len(operations))
	for name := range operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Runner carries the process surroundings of an operation. The zero value
// writes to os.Stdout and os.Stderr and dials real robots.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer

	// Dial connects one configured robot. Nil uses DialRobot.
	Dial Dialer
	// HTTPClient is used by status. Nil uses http.DefaultClient.
	HTTPClient httputil.HTTPClient
	// OnServing, when set, is called with the API address once interact is
	// serving.
	OnServing func(addr string)
}

// Run executes op with the default Runner. It returns 0 on success and
// nonzero on failure.
func Run(ctx context.Context, op string, args Args) int {
	return (&Runner{}).Run(ctx, op, args)
}

// Run executes op.
func (r *Runner) Run(ctx context.Context, op string, args Args) int {
	fn, ok := operations[op]
	if !ok {
		r.errorf("unknown operation %q (want one of %s)", op, strings.Join(Operations(), ", "))
		return ExitUsage
	}
	return fn(r, ctx, args)
}

func (r *Runner) stdout() io.Writer {
	if r.Stdout == nil {
		return os.Stdout
	}
	return r.Stdout
}

func (r *Runner) errorf(format string, v ...any) {
	w := r.Stderr
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintf(w, format+"\n", v...)
}

// loadConfig builds the configuration: file (if args["config"] is set) or
// defaults, then environment, then args.
func loadConfig(args Args) (*config.Config, error) {
	cfg := config.Default()
	if path := args["config"]; path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	for key, dst := range map[string]*string{
		"sql_addr": &cfg.SQL.Addr,
		"sql_user": &cfg.SQL.User,
		"sql_pass": &cfg.SQL.Pass,
		"sql_data": &cfg.SQL.Data,
	} {
		if v, ok := args[key]; ok && v != "" {
			*dst = v
		}
	}
	if v := args["listen"]; v != "" {
		cfg.Listen = &v
	}
	friendID, ok, err := args.Int64("friend_id")
	if err != nil {
		return nil, err
	}
	if ok {
		cfg.Vision.FriendID = &friendID
	}

	simulate, err := args.Bool("simulate")
	if err != nil {
		return nil, err
	}
	if simulate {
		if len(cfg.Robots) == 0 {
			cfg.Robots = []config.RobotConfig{{ID: 1}}
		}
		for i := range cfg.Robots {
			cfg.Robots[i].Port = ""
			cfg.Robots[i].Serial = nil
			cfg.Robots[i].Simulated = true
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openDB(cfg *config.Config) (*db.DB, error) {
	store, err := db.NewDB(db.Path(cfg.SQL.Addr, cfg.SQL.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}
