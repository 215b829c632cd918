package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zerologlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kiliankoe/vibecheck/internal/config"
	"github.com/kiliankoe/vibecheck/internal/game"
	"github.com/kiliankoe/vibecheck/internal/identity"
	"github.com/kiliankoe/vibecheck/internal/leaderboard"
	"github.com/kiliankoe/vibecheck/internal/session"
	"github.com/kiliankoe/vibecheck/internal/store/remote"
)

const version = "v1.0.0-dev"

type options struct {
	server    string
	token     string
	flagsFile string
	name      string
	verbose   bool
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error loading .env file: %v\n", err)
	}
	cobra.CheckErr(newCmd(&options{}).Execute())
}

func newCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vibecheck",
		Short:         "Play the vibecheck compatibility quiz from the terminal.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(opts.verbose)
		},
	}
	fs := cmd.PersistentFlags()
	fs.StringVarP(&opts.server, "server", "s", "http://localhost:8080", "vibecheck server URL (env: VIBECHECK_SERVER)")
	fs.StringVar(&opts.token, "token", "", "identity token (env: VIBECHECK_TOKEN)")
	fs.StringVar(&opts.flagsFile, "flags-file", "", "where the played-once marker is kept (env: VIBECHECK_FLAGS_FILE)")
	fs.StringVarP(&opts.name, "name", "n", "", "player name (env: VIBECHECK_NAME)")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "display log output (env: VIBECHECK_VERBOSE)")
	config.BindEnv(fs)

	cmd.AddCommand(newCreateCmd(opts), newJoinCmd(opts), newLeaderboardCmd(opts), newResetCmd(opts))
	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("vibecheck {{.Version}}\n")
	return cmd
}

func setupLogging(verbose bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	zerologlog.Logger = zerologlog.Output(cw)
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func (o *options) flags() (identity.Flags, error) {
	path := o.flagsFile
	if path == "" {
		var err error
		if path, err = identity.DefaultFlagsPath(); err != nil {
			return nil, err
		}
	}
	return identity.FileFlags{Path: path}, nil
}

func (o *options) coordinator() (*session.Coordinator, *remote.Client, error) {
	flags, err := o.flags()
	if err != nil {
		return nil, nil, err
	}
	client := remote.New(o.server, o.token)
	logger := zerologlog.Logger
	c := session.New(client, leaderboard.NewStoreRepository(client), session.Options{
		Identity: o.provider(),
		Flags:    flags,
		Logger:   &logger,
	})
	return c, client, nil
}

var errSignedOut = errors.New("leaderboards need a signed-in identity (--token)")

func (o *options) provider() identity.Provider {
	return identity.Token{Raw: o.token}
}

// requireIdentity resolves the identity that gates leaderboard viewing.
func (o *options) requireIdentity(ctx context.Context) (*identity.Identity, error) {
	id, err := o.provider().Current(ctx)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, errSignedOut
	}
	return id, nil
}

func requireName(o *options) error {
	if strings.TrimSpace(o.name) == "" {
		return errors.New("a player name is required (--name)")
	}
	return nil
}

func newCreateCmd(opts *options) *cobra.Command {
	var roomType string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a room and play as its host",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireName(opts); err != nil {
				return err
			}
			t, err := game.ParseRoomType(roomType)
			if err != nil {
				return err
			}
			c, client, err := opts.coordinator()
			if err != nil {
				return err
			}
			defer c.Close()
			s, err := c.CreateRoom(cmd.Context(), opts.name, t)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Room %s created. Share the code or %s/api/rooms/%s/qr.png\n", s.RoomCode, strings.TrimRight(opts.server, "/"), s.RoomCode)
			return play(cmd.Context(), c, client, opts.provider(), cmd.InOrStdin(), out)
		},
	}
	cmd.Flags().StringVarP(&roomType, "type", "t", string(game.RoomCouple), "room type: couple or friend")
	return cmd
}

func newJoinCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "join CODE",
		Short: "Join an existing room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireName(opts); err != nil {
				return err
			}
			c, client, err := opts.coordinator()
			if err != nil {
				return err
			}
			defer c.Close()
			s, err := c.JoinRoom(cmd.Context(), opts.name, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Joined room %s.\n", s.RoomCode)
			return play(cmd.Context(), c, client, opts.provider(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func newLeaderboardCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard [couple|friend]",
		Short: "Show a ranked leaderboard",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := game.RoomCouple
			if len(args) == 1 {
				var err error
				if t, err = game.ParseRoomType(args[0]); err != nil {
					return err
				}
			}
			if _, err := opts.requireIdentity(cmd.Context()); err != nil {
				return err
			}
			entries, err := remote.New(opts.server, opts.token).Leaderboard(cmd.Context(), t)
			if err != nil {
				return err
			}
			printBoard(cmd.OutOrStdout(), t, entries, limit)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "entries to show")
	return cmd
}

func newResetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget that this device has played",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags, err := opts.flags()
			if err != nil {
				return err
			}
			return flags.Reset()
		},
	}
}
