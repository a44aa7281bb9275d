package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lherron/acctmigrate/internal/api"
	"github.com/lherron/acctmigrate/internal/cli/appctx"
	"github.com/lherron/acctmigrate/internal/config"
	"github.com/lherron/acctmigrate/internal/logging"
	"github.com/lherron/acctmigrate/internal/migrate"
	"github.com/lherron/acctmigrate/internal/platform"
	"github.com/lherron/acctmigrate/internal/policy"
	"github.com/lherron/acctmigrate/internal/ratelimit"
)

// ExitError carries the process exit code of a finished command. Err is nil
// when the command already reported its outcome.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitError returns an error that will cause the CLI to exit with the given code
func exitError(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// PrintError writes err to w unless it only carries an exit code.
func PrintError(w io.Writer, err error) {
	var ee *ExitError
	if err == nil || (errors.As(err, &ee) && ee.Err == nil) {
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

// newPlatform builds the client stack for one instance.
func newPlatform(name string, inst config.Instance, cfg *config.Config, limiter *ratelimit.Limiter, log logging.Logger) *platform.Platform {
	c := api.New(api.Config{
		Instance: api.Instance{
			Name:     name,
			BaseURL:  inst.BaseURL,
			ClientID: inst.ClientID,
			Secret:   inst.APIKey,
		},
		Timeout:          cfg.HTTPTimeout,
		RateLimitBackoff: cfg.RateLimitBackoff,
	}, limiter, log.Module("api"))
	return platform.New(c, log.Module("platform"))
}

// newEnv wires both instances, the policy and a reporter writing to out.
func newEnv(app *appctx.App, out io.Writer) (*migrate.Env, error) {
	cfg := app.Config
	pol, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(cfg.RateLimitRPM)
	src := newPlatform("source", cfg.Source, cfg, limiter, app.Log)
	dst := newPlatform("destination", cfg.Destination, cfg, limiter, app.Log)

	env := migrate.NewEnv(src, dst, pol, logging.NewReporter(out, app.Log))
	env.DataDir = cfg.DataDir
	env.StrictKeys = cfg.StrictKeys
	env.MigrateUserRoles = cfg.MigrateUserRoles
	return env, nil
}

// enableSteps turns on the named steps in cfg.
func enableSteps(cfg *config.Config, names []string) error {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if _, ok := migrate.Lookup(name); !ok {
			return fmt.Errorf("unknown step %q (see 'acctmigrate steps')", name)
		}
		cfg.Steps[name] = true
	}
	return nil
}

// outputWriter keeps stdout clean for machine-readable output.
func outputWriter(cmd *cobra.Command, machine bool) io.Writer {
	if machine {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}
