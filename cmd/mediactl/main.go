// Command mediactl is the operator CLI for the product image pipeline. It
// talks to the database and blob backend directly with the worker config.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/catalog-media/internal/app"
	"github.com/angelmondragon/catalog-media/internal/cron"
	"github.com/angelmondragon/catalog-media/pkg/config"
	pkgerrors "github.com/angelmondragon/catalog-media/pkg/errors"
	"github.com/angelmondragon/catalog-media/pkg/logger"
)

// cli carries the lazily opened runtime shared by every subcommand.
type cli struct {
	loadConfig func() (*config.Config, error)
	stderr     io.Writer
	logLevel   string

	cfg  *config.Config
	logg *logger.Logger
	rt   *app.Runtime
	svc  *app.Services
	jobs *cron.Service
}

func main() {
	_ = godotenv.Load()

	c := &cli{loadConfig: config.Load, stderr: os.Stderr}
	root := newRootCmd(c)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if cerr := c.close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "closing: %v\n", cerr)
	}
	if err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "mediactl",
		Short:         "Operate the product image pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level written to stderr")

	root.AddCommand(
		newProductCmd(c),
		newIngestCmd(c),
		newDescribeCmd(c),
		newIndexCmd(c),
		newSetPrimaryCmd(c),
		newEnsurePrimaryCmd(c),
		newRemoveCmd(c),
		newDeleteProductCmd(c),
		newCarouselCmd(c),
		newOccasionsCmd(c),
		newJobsCmd(c),
		newOutboxCmd(c),
	)
	return root
}

// services opens the runtime on first use.
func (c *cli) services(ctx context.Context) (*app.Services, error) {
	if c.svc != nil {
		return c.svc, nil
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = "mediactl"
	c.cfg = cfg
	c.logg = logger.New(logger.Options{
		ServiceName: "mediactl",
		Level:       logger.ParseLevel(c.logLevel),
		Output:      c.stderr,
	})

	rt, err := app.Open(ctx, cfg, c.logg)
	if err != nil {
		return nil, err
	}
	c.rt = rt
	svc, err := rt.Build(nil)
	if err != nil {
		return nil, err
	}
	c.svc = svc
	return svc, nil
}

// cron builds the maintenance job runner on first use.
func (c *cli) cron(ctx context.Context) (*cron.Service, error) {
	if c.jobs != nil {
		return c.jobs, nil
	}
	svc, err := c.services(ctx)
	if err != nil {
		return nil, err
	}
	jobs, err := c.rt.CronService(svc, nil)
	if err != nil {
		return nil, err
	}
	c.jobs = jobs
	return jobs, nil
}

func (c *cli) close() error {
	if c.rt == nil {
		return nil
	}
	err := c.rt.Close()
	c.rt, c.svc, c.jobs = nil, nil, nil
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(flag, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("--%s must be a uuid", flag))
	}
	return id, nil
}

func parseIDs(flag string, values []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := parseID(flag, v)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// reportError prints coded errors as JSON so scripts can branch on the code.
func reportError(w io.Writer, err error) {
	typed := pkgerrors.As(err)
	if typed == nil {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	_ = printJSON(w, map[string]any{
		"code":      typed.Code(),
		"message":   err.Error(),
		"retryable": pkgerrors.IsRetryable(err),
		"details":   typed.Details(),
	})
}

var errNoFiles = errors.New("at least one image file is required")
