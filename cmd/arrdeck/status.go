package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arrdeck/arrdeck/internal/dashboard"
	"github.com/arrdeck/arrdeck/internal/poller"
)

type appStatus struct {
	App      string `json:"app"`
	Health   string `json:"health"`
	Hunted   int64  `json:"hunted"`
	Upgraded int64  `json:"upgraded"`
	ResetsIn string `json:"resets_in,omitempty"`
	Stale    bool   `json:"stale,omitempty"`
	Error    string `json:"error,omitempty"`
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status [app]",
		Short: "Show connection health and activity of the applications",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	d, err := openDashboard(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	apps := d.Config.EnabledApps()
	if len(args) == 1 {
		if _, ok := d.Poller(args[0]); !ok {
			return fmt.Errorf("application %q is not enabled in the configuration", args[0])
		}
		apps = []string{args[0]}
	}

	snaps := refreshPollers(cmd.Context(), d, append([]string{dashboard.PollerStats, dashboard.PollerResetTimes}, apps...))
	stats := snaps[dashboard.PollerStats].Summary()
	resets := snaps[dashboard.PollerResetTimes].Summary()
	now := time.Now()

	views := make([]appStatus, 0, len(apps))
	for _, app := range apps {
		snap := snaps[app]
		counters := stats.Stats(app)
		v := appStatus{
			App:      app,
			Health:   string(snap.Summary().Health()),
			Hunted:   counters.Hunted,
			Upgraded: counters.Upgraded,
			Stale:    snap.Stale,
		}
		if c, ok := resets.Countdown(app); ok {
			v.ResetsIn = c.Format(now)
		}
		if snap.Err != nil {
			v.Error = snap.Err.Error()
		}
		views = append(views, v)
	}

	if out.jsonMode {
		return out.Print(map[string]interface{}{"apps": views})
	}
	w := tabwriter.NewWriter(out.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "APP\tHEALTH\tHUNTED\tUPGRADED\tRESETS IN")
	for _, v := range views {
		health := v.Health
		if v.Stale {
			health += " (stale)"
		}
		resetsIn := v.ResetsIn
		if resetsIn == "" {
			resetsIn = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", v.App, health, v.Hunted, v.Upgraded, resetsIn)
	}
	return w.Flush()
}

// refreshPollers fetches the named pollers once each. A failed fetch keeps
// whatever the poller last held and carries the error.
func refreshPollers(ctx context.Context, d *dashboard.Dashboard, names []string) map[string]poller.Snapshot {
	snaps := make(map[string]poller.Snapshot, len(names))
	results := make([]poller.Snapshot, len(names))
	var g errgroup.Group
	g.SetLimit(4)
	for i, name := range names {
		i := i
		p, ok := d.Poller(name)
		if !ok {
			continue
		}
		g.Go(func() error {
			snap, err := p.Refresh(ctx)
			if err != nil && snap.Err == nil {
				snap.Err = err
			}
			results[i] = snap
			return nil
		})
	}
	_ = g.Wait()
	for i, name := range names {
		snaps[name] = results[i]
	}
	return snaps
}
