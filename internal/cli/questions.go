package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/qbox-live/qbox/internal/dispatch"
	"github.com/qbox-live/qbox/internal/session"
)

const purgeWait = 5 * time.Second

// withRoom opens the --room feed, runs fn, and closes everything again.
func withRoom(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, rs *roomSession) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	rs, err := a.openRoom(ctx, opts.Room)
	if err != nil {
		return err
	}
	defer rs.Close()
	return fn(ctx, rs)
}

func newAskCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question anonymously",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRoom(cmd, opts, func(ctx context.Context, rs *roomSession) error {
				q, err := rs.dispatcher.Ask(ctx, strings.Join(args, " "))
				if err != nil {
					return actionError(err)
				}
				return opts.output(cmd).Success(fmt.Sprintf("Asked %s as %s", q.ID, q.AuthorTag), q)
			})
		},
	}
}

func newUpvoteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upvote <question-id>",
		Short: "Upvote a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRoom(cmd, opts, func(ctx context.Context, rs *roomSession) error {
				count, err := rs.dispatcher.Upvote(ctx, args[0])
				if err != nil {
					return actionError(err)
				}
				return opts.output(cmd).Success(fmt.Sprintf("Upvoted %s (%d)", args[0], count), map[string]int{"upvotes": count})
			})
		},
	}
}

func newReportCommand(opts *RootOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "report <question-id>",
		Short: "Report a question to the instructor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := dispatch.ParseReason(reason)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("bad --reason, want one of %v", dispatch.Reasons()), err)
			}
			return withRoom(cmd, opts, func(ctx context.Context, rs *roomSession) error {
				if err := rs.dispatcher.Report(ctx, args[0], r); err != nil {
					return actionError(err)
				}
				return opts.output(cmd).Success(fmt.Sprintf("Reported %s as %s", args[0], r), nil)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", string(dispatch.ReasonSpam), "Spam, Inappropriate or Off-topic")
	return cmd
}

func newAnswerCommand(opts *RootOptions) *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "answer <question-id>",
		Short: "Mark a question answered (instructor)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRoom(cmd, opts, func(ctx context.Context, rs *roomSession) error {
				if err := rs.dispatcher.Answer(ctx, args[0], text); err != nil {
					return actionError(err)
				}
				return opts.output(cmd).Success("Answered "+args[0], nil)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "answer text (optional)")
	return cmd
}

func newDeleteCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <question-id>",
		Short: "Move a question to the deleted tab (instructor)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			confirmed := confirm(cmd, yes, "Delete question "+args[0]+"?")
			return withRoom(cmd, opts, func(ctx context.Context, rs *roomSession) error {
				if err := rs.dispatcher.Delete(ctx, args[0], confirmed); err != nil {
					return actionError(err)
				}
				return opts.output(cmd).Success("Deleted "+args[0], nil)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newRestoreCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <question-id>",
		Short: "Restore a deleted question (instructor)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRoom(cmd, opts, func(ctx context.Context, rs *roomSession) error {
				if err := rs.dispatcher.Restore(ctx, args[0]); err != nil {
					return actionError(err)
				}
				return opts.output(cmd).Success("Restored "+args[0], nil)
			})
		},
	}
}

func newPurgeCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge <question-id>",
		Short: "Permanently delete a deleted question (instructor)",
		Long: `Permanently delete a question from the deleted tab.

This cannot be undone. The command waits for the room to confirm the
removal before it returns.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			confirmed := confirm(cmd, yes, "Permanently delete question "+args[0]+"? This cannot be undone")
			return withRoom(cmd, opts, func(ctx context.Context, rs *roomSession) error {
				if err := rs.dispatcher.Purge(ctx, args[0], confirmed); err != nil {
					return actionError(err)
				}
				if !waitGone(ctx, rs.session, args[0], purgeWait) {
					return opts.output(cmd).Success("Purge of "+args[0]+" requested; the room has not confirmed it yet", nil)
				}
				return opts.output(cmd).Success("Purged "+args[0], nil)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

// waitGone reports whether id left the feed within timeout.
func waitGone(ctx context.Context, s *session.Session, id string, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		_, ok, err := s.Lookup(id)
		if err != nil {
			return false
		}
		if !ok {
			return true
		}
		select {
		case <-s.Changes():
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}
