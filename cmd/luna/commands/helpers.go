package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/lunabadge/luna/internal/app"
	"github.com/lunabadge/luna/internal/logging"
)

// withApp starts the core, runs fn and shuts down once the bus has
// delivered what fn published.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error, opts ...app.Option) error {
	a, err := buildApp(cmd, opts...)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.Start(ctx); err != nil {
		logging.Component("cli").Warnf("some modules failed to start: %v", err)
	}

	runErr := fn(ctx, a)

	drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	a.Drain(drainCtx)
	if err := a.Stop(ctx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t).Round(time.Second)
	switch {
	case d < time.Minute:
		return d.String() + " ago"
	case d < time.Hour:
		return d.Round(time.Minute).String() + " ago"
	case d < 24*time.Hour:
		return d.Round(time.Hour).String() + " ago"
	}
	return t.Format("2006-01-02 15:04")
}
