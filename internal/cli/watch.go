package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qbox-live/qbox/internal/visibility"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Filter string
	Once   bool
}

func newWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a room's question feed live",
		Long: `Follow a room's question feed live.

The feed is redrawn on every change. Participants can pick the all, mine,
pending and answered tabs; instructors get all, pending, answered and
rejected (the deleted questions).

Example:
  qbox watch --room ABC123 --filter pending`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Filter, "filter", "f", string(visibility.FilterAll), "tab to show")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "print the feed once and exit")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	rs, err := a.openRoom(ctx, opts.Room)
	if err != nil {
		return err
	}
	defer rs.Close()

	filter, err := visibility.ParseFilter(rs.session.Role(), opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "bad --filter", err)
	}

	render := func() error {
		v, err := rs.view(filter)
		if err != nil {
			return err
		}
		return Render(cmd.OutOrStdout(), opts.Format, v)
	}

	// The first snapshot has already been merged.
	drain(rs.session.Changes())
	if err := render(); err != nil {
		return err
	}
	if opts.Once {
		return nil
	}

	done := rs.channel.Done()
	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.Canceled {
				return nil
			}
			return ctx.Err()
		case <-done:
			return WrapExitError(ExitFailure, "event stream lost", rs.channel.Err())
		case <-rs.session.Changes():
			if opts.Format != "json" {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			if err := render(); err != nil {
				return err
			}
		}
	}
}

func drain(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
