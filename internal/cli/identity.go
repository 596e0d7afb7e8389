package cli

import (
	"context"

	"github.com/spf13/cobra"
)

func newIdentityCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Show or change this device's anonymous tag",
	}
	cmd.AddCommand(newIdentityShowCommand(opts))
	cmd.AddCommand(newIdentityRegenerateCommand(opts))
	cmd.AddCommand(newIdentityLogoutCommand(opts))
	return cmd
}

func newIdentityShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the anonymous tag, creating one if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			tag := a.ids.GetOrCreateTag(ctx, a.role())
			return opts.output(cmd).Success(tag, map[string]string{"tag": tag})
		},
	}
}

func newIdentityRegenerateCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "regenerate",
		Short: "Replace the anonymous tag",
		Long: `Replace the anonymous tag with a new random one.

Questions asked under the old tag stay in their rooms but are no longer
shown as yours. With --room, the room's feed is updated right away.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			confirmed := confirm(cmd, yes, "Replace your anonymous tag? Your earlier questions will no longer be marked as yours")
			if opts.Room != "" {
				return withRoom(cmd, opts, func(ctx context.Context, rs *roomSession) error {
					tag, err := rs.dispatcher.RegenerateTag(ctx, confirmed)
					if err != nil {
						return actionError(err)
					}
					return opts.output(cmd).Success("You are now "+tag, map[string]string{"tag": tag})
				})
			}
			if !confirmed {
				return NewExitError(ExitCancelled, "cancelled")
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			tag, err := a.ids.RegenerateTag(ctx, true)
			if err != nil {
				return err
			}
			return opts.output(cmd).Success("You are now "+tag, map[string]string{"tag": tag})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newIdentityLogoutCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget the anonymous tag on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			confirmed := confirm(cmd, yes, "Forget your anonymous tag on this device?")
			if opts.Room != "" {
				return withRoom(cmd, opts, func(ctx context.Context, rs *roomSession) error {
					if err := rs.dispatcher.Logout(ctx, confirmed); err != nil {
						return actionError(err)
					}
					return opts.output(cmd).Success("Logged out", nil)
				})
			}
			if !confirmed {
				return NewExitError(ExitCancelled, "cancelled")
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			a.ids.Clear(ctx)
			return opts.output(cmd).Success("Logged out", nil)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}
