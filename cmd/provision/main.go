package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentuity/go-provision/cache"
	"github.com/agentuity/go-provision/env"
	"github.com/agentuity/go-provision/logger"
	"github.com/agentuity/go-provision/telemetry"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"
)

const defaultConfigFile = "provision.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

// session carries the collection built for a single command invocation.
type session struct {
	log        logger.Logger
	collection *cache.Collection
	out        io.Writer
}

func (s *session) Close() {
	if err := s.collection.Close(); err != nil {
		s.log.Warn("failed to close cache handlers: %s", err)
	}
}

// loadConfiguration reads the YAML file, expanding ${NAME} references
// against the dotenv file and the process environment.
func loadConfiguration(cmd *cobra.Command) (*cache.File, error) {
	envFile := env.FlagOrEnv(cmd, "env-file", env.EnvFile, "")
	vars := map[string]string{}
	if envFile != "" {
		lines, err := env.ParseEnvFile(envFile)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read env file: %s", envFile)
		}
		for _, el := range lines {
			vars[el.Key] = el.Val
		}
	}
	fn := env.FlagOrEnv(cmd, "config", env.EnvConfig, defaultConfigFile)
	data, err := os.ReadFile(fn)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(cache.ErrConfigNotFound, "%s", fn)
		}
		return nil, errors.Wrapf(err, "failed to read configuration file: %s", fn)
	}
	file, err := cache.ParseFile([]byte(env.Expand(string(data), vars)))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode configuration file: %s", fn)
	}
	return file, nil
}

func openSession(cmd *cobra.Command, out io.Writer) (*session, error) {
	log := env.NewLogger(cmd)
	file, err := loadConfiguration(cmd)
	if err != nil {
		return nil, err
	}
	collection, err := cache.NewRegistry().Build(cmd.Context(), file, cache.WithLogger(log))
	if err != nil {
		return nil, err
	}
	log.Debug("loaded %d cache handlers", collection.Len())
	return &session{log: log, collection: collection, out: out}, nil
}

// withSession wraps a command body so it runs against a freshly built
// collection that is closed afterwards.
func withSession(out io.Writer, fn func(cmd *cobra.Command, s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if otlpURL := env.FlagOrEnv(cmd, "otlp-url", telemetry.EnvOTLPURL, ""); otlpURL != "" {
			shutdown, err := telemetry.New(cmd.Context(), otlpURL, os.Getenv(telemetry.EnvOTLPToken), "provision")
			if err != nil {
				return err
			}
			defer shutdown()
		}
		s, err := openSession(cmd, out)
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(cmd, s, args)
	}
}

func printResult(out io.Writer, ok bool, what string) {
	if ok {
		fmt.Fprintf(out, "removed %s\n", what)
	} else {
		fmt.Fprintf(out, "nothing removed for %s\n", what)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "provision",
		Short:         "Inspect and manage provisioned cache handlers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to the cache configuration file (env "+env.EnvConfig+", default "+defaultConfigFile+")")
	root.PersistentFlags().String("log-level", "", "log level: trace, debug, info, warn or error (env "+logger.EnvLogLevel+")")
	root.PersistentFlags().String("log-format", "", "log output format: console or json (env "+env.EnvLogFormat+")")
	root.PersistentFlags().String("otlp-url", "", "OTLP/HTTP collector URL receiving cache spans (env "+telemetry.EnvOTLPURL+")")
	root.PersistentFlags().String("env-file", "", "dotenv file used to expand the configuration (env "+env.EnvFile+")")

	root.AddCommand(
		newKeyCommand(out),
		newGetCommand(out),
		newSetCommand(out),
		newRemoveCommand(out),
		newRemovePatternCommand(out),
		newRemoveTagCommand(out),
		newPurgeCommand(out),
	)
	return root
}

func newKeyCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "key SEGMENT...",
		Short: "Print the key built from the segments by the first handler",
		Args:  cobra.MinimumNArgs(1),
		RunE: withSession(out, func(cmd *cobra.Command, s *session, args []string) error {
			segments := make([]any, len(args))
			for i, a := range args {
				segments[i] = a
			}
			key, err := s.collection.CreateKey(segments...)
			if err != nil {
				return err
			}
			fmt.Fprintln(s.out, key)
			return nil
		}),
	}
}

func newGetCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print the cached value at KEY",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(out, func(cmd *cobra.Command, s *session, args []string) error {
			item := cache.Get[any](cmd.Context(), s.collection, args[0])
			if !item.HasValue {
				return errors.Newf("no value for %s", args[0])
			}
			fmt.Fprintf(s.out, "%v\n", item.Value)
			if expires := item.Expires; !expires.IsZero() && !expires.Equal(cache.NoExpiry) {
				s.log.Info("%s from %s expires %s", args[0], item.Handler, expires.Format(time.RFC3339))
			}
			return nil
		}),
	}
}

func newSetCommand(out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store VALUE at KEY in every handler",
		Args:  cobra.ExactArgs(2),
		RunE: withSession(out, func(cmd *cobra.Command, s *session, args []string) error {
			tags, _ := cmd.Flags().GetStringSlice("tag")
			var expires time.Time
			if v, _ := cmd.Flags().GetString("expires"); v != "" {
				if v == "never" {
					expires = cache.NoExpiry
				} else {
					d, err := str2duration.ParseDuration(v)
					if err != nil {
						return errors.Wrapf(err, "invalid --expires value %q", v)
					}
					expires = time.Now().Add(d)
				}
			}
			if _, err := cache.AddOrUpdate(cmd.Context(), s.collection, args[0], args[1], expires, tags...); err != nil {
				return err
			}
			fmt.Fprintf(s.out, "stored %s\n", args[0])
			return nil
		}),
	}
	cmd.Flags().String("expires", "", "time to live such as 30s, 1h or 2d, or never (default uses the handler schedule)")
	cmd.Flags().StringSlice("tag", nil, "tag to associate with the key (repeatable)")
	return cmd
}

func newRemoveCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "rm KEY",
		Short: "Remove KEY from every handler",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(out, func(cmd *cobra.Command, s *session, args []string) error {
			printResult(s.out, s.collection.RemoveByKey(cmd.Context(), args[0]), args[0])
			return nil
		}),
	}
}

func newRemovePatternCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "rm-pattern PATTERN",
		Short: "Remove every key matching the glob PATTERN",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(out, func(cmd *cobra.Command, s *session, args []string) error {
			ok, err := s.collection.RemoveByPattern(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printResult(s.out, ok, args[0])
			return nil
		}),
	}
}

func newRemoveTagCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "rm-tag TAG...",
		Short: "Remove every key associated with the tags",
		Args:  cobra.MinimumNArgs(1),
		RunE: withSession(out, func(cmd *cobra.Command, s *session, args []string) error {
			printResult(s.out, s.collection.RemoveByTag(cmd.Context(), args...), fmt.Sprintf("tags %v", args))
			return nil
		}),
	}
}

func newPurgeCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove every key owned by the configured handlers",
		Args:  cobra.NoArgs,
		RunE: withSession(out, func(cmd *cobra.Command, s *session, args []string) error {
			if s.collection.Purge(cmd.Context()) {
				fmt.Fprintln(s.out, "purged")
				return nil
			}
			return errors.New("purge failed")
		}),
	}
}
