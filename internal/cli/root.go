// Package cli implements the qbox command line client: watch a room feed
// live, ask and moderate questions, manage the anonymous identity.
package cli

import (
	"bufio"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qbox-live/qbox/config"
	"github.com/qbox-live/qbox/internal/identity"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config *config.Config
	// Logger replaces the logger built from --verbose when set.
	Logger *zap.Logger

	Verbose bool
	Format  string // "json" | "text"
	APIURL  string
	Token   string
	Room    string

	memOnce sync.Once
	mem     *identity.MemoryStore
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

func (o *RootOptions) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return newLogger(o.Verbose)
}

// memoryStore is shared by every command run from the same options.
func (o *RootOptions) memoryStore() *identity.MemoryStore {
	o.memOnce.Do(func() { o.mem = identity.NewMemoryStore() })
	return o.mem
}

func (o *RootOptions) output(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// NewRootCommand creates the root command for the qbox CLI.
func NewRootCommand(cfg *config.Config) *cobra.Command {
	return newRootCommand(&RootOptions{Config: cfg})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qbox",
		Short: "QBox - live anonymous Q&A",
		Long: `QBox keeps a live, anonymous question feed for a lecture room.

Participants join with the room code, ask and upvote questions. The
instructor holds the room token and answers or moderates.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.Config == nil {
				cfg, err := config.Load()
				if err != nil {
					return WrapExitError(ExitCommandError, "load config", err)
				}
				opts.Config = cfg
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.APIURL, "api", "", "backend REST base URL (overrides QBOX_API_URL)")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", "instructor room token (overrides QBOX_TOKEN)")
	cmd.PersistentFlags().StringVarP(&opts.Room, "room", "r", "", "room code")

	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newAskCommand(opts))
	cmd.AddCommand(newUpvoteCommand(opts))
	cmd.AddCommand(newReportCommand(opts))
	cmd.AddCommand(newAnswerCommand(opts))
	cmd.AddCommand(newDeleteCommand(opts))
	cmd.AddCommand(newRestoreCommand(opts))
	cmd.AddCommand(newPurgeCommand(opts))
	cmd.AddCommand(newRoomCommand(opts))
	cmd.AddCommand(newIdentityCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// confirm asks on stdin unless yes is already set.
func confirm(cmd *cobra.Command, yes bool, prompt string) bool {
	if yes {
		return true
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N]: ", prompt)
	line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
