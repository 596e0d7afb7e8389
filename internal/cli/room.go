package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qbox-live/qbox/internal/models"
)

func newRoomCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Create and manage rooms",
	}
	cmd.AddCommand(newRoomCreateCommand(opts))
	cmd.AddCommand(newRoomToggleCommand(opts))
	cmd.AddCommand(newRoomCloseCommand(opts))
	return cmd
}

// createdRoom is the output of room create.
type createdRoom struct {
	Room  models.Room `json:"room"`
	Token string      `json:"token"`
}

func newRoomCreateCommand(opts *RootOptions) *cobra.Command {
	var (
		lecturer string
		private  bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a one-time room and print its instructor token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if lecturer == "" {
				lecturer = a.ids.GetOrCreateTag(ctx, models.RoleInstructor)
			}
			created, err := a.client.CreateOneTimeRoom(ctx, lecturer, !private)
			if err != nil {
				return WrapExitError(ExitFailure, "create room", err)
			}
			text := fmt.Sprintf("Room %s created (%s)\nInstructor token: %s", created.Room.Code, created.Room.Visibility, created.Token)
			return opts.output(cmd).Success(text, createdRoom{Room: created.Room, Token: created.Token})
		},
	}
	cmd.Flags().StringVar(&lecturer, "lecturer", "", "lecturer name shown to participants")
	cmd.Flags().BoolVar(&private, "private", false, "participants only see their own questions")
	return cmd
}

func newRoomToggleCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle",
		Short: "Switch the room between public and private (instructor)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRoom(cmd, opts, func(ctx context.Context, rs *roomSession) error {
				room, err := rs.dispatcher.ToggleVisibility(ctx)
				if err != nil {
					return actionError(err)
				}
				return opts.output(cmd).Success(fmt.Sprintf("Room %s is now %s", room.Code, room.Visibility), room)
			})
		},
	}
}

func newRoomCloseCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "close",
		Short: "Close the room to new questions (instructor)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			confirmed := confirm(cmd, yes, "Close room "+opts.Room+"? Participants can no longer ask")
			return withRoom(cmd, opts, func(ctx context.Context, rs *roomSession) error {
				if err := rs.dispatcher.CloseRoom(ctx, confirmed); err != nil {
					return actionError(err)
				}
				return opts.output(cmd).Success("Room "+opts.Room+" closed", nil)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}
