package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"hwid-license-server/internal/config"
	"hwid-license-server/internal/lifecycle"
	"hwid-license-server/internal/store"

	"github.com/spf13/cobra"
)

// NewAdminCommand groups the license operations run directly against the
// configured store, sharing the action log with the server.
func NewAdminCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administer licenses directly against the store",
		Long: `Run license operations against the configured store without the HTTP
server. With the bbolt driver the server must be stopped first; bbolt holds
an exclusive file lock.`,
	}

	cmd.AddCommand(
		adminCommand(opts, "list", "List every license", cobra.NoArgs,
			func(ctx context.Context, eng *lifecycle.Engine, args []string) (any, error) {
				return eng.List(ctx)
			}),
		adminCommand(opts, "register <hwid>", "Issue a key for a hardware id", cobra.ExactArgs(1),
			func(ctx context.Context, eng *lifecycle.Engine, args []string) (any, error) {
				return eng.Register(ctx, args[0])
			}),
		adminCommand(opts, "check <hwid>", "Run a client check for a hardware id", cobra.ExactArgs(1),
			func(ctx context.Context, eng *lifecycle.Engine, args []string) (any, error) {
				return eng.Check(ctx, args[0])
			}),
		adminCommand(opts, "activate <key> <days>", "Activate a license for a number of days", cobra.ExactArgs(2),
			func(ctx context.Context, eng *lifecycle.Engine, args []string) (any, error) {
				days, err := parseDays(args[1])
				if err != nil {
					return nil, err
				}
				return eng.Activate(ctx, args[0], days)
			}),
		adminCommand(opts, "add-days <key> <days>", "Add (or with a negative count, remove) days", cobra.ExactArgs(2),
			func(ctx context.Context, eng *lifecycle.Engine, args []string) (any, error) {
				days, err := parseDays(args[1])
				if err != nil {
					return nil, err
				}
				return eng.AddDays(ctx, args[0], days)
			}),
		adminCommand(opts, "ban <key>", "Ban a license", cobra.ExactArgs(1),
			func(ctx context.Context, eng *lifecycle.Engine, args []string) (any, error) {
				return eng.Ban(ctx, args[0])
			}),
		adminCommand(opts, "unban <key>", "Lift a ban", cobra.ExactArgs(1),
			func(ctx context.Context, eng *lifecycle.Engine, args []string) (any, error) {
				return eng.Unban(ctx, args[0])
			}),
	)
	return cmd
}

type adminFunc func(ctx context.Context, eng *lifecycle.Engine, args []string) (any, error)

func adminCommand(opts *RootOptions, use, short string, args cobra.PositionalArgs, fn adminFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdmin(opts, cmd, func(ctx context.Context, eng *lifecycle.Engine) (any, error) {
				return fn(ctx, eng, args)
			})
		},
	}
	// Flags end at the first positional, so "add-days KEY -3" reads -3 as a count.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func runAdmin(opts *RootOptions, cmd *cobra.Command, fn func(context.Context, *lifecycle.Engine) (any, error)) error {
	cfg, err := config.LoadOffline(opts.ConfigFile)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log, cmd.ErrOrStderr())

	st, err := store.Open(cfg.DB.Driver, cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeLogged(log, "store", st)

	sinks, closeSinks, err := openAudit(cfg.Audit, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	eng := lifecycle.New(st, lifecycle.WithAudit(sinks), lifecycle.WithLogger(log))
	out, err := fn(cmd.Context(), eng)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), opts.Format, out)
}

func parseDays(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid days %q: %w", s, err)
	}
	return n, nil
}

func printResult(w io.Writer, format string, v any) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	switch v := v.(type) {
	case lifecycle.Result:
		line := "status=" + string(v.Status)
		if v.Key != "" {
			line += " key=" + v.Key
		}
		if v.DaysLeft != nil {
			line += " days_left=" + strconv.Itoa(*v.DaysLeft)
		}
		_, err := fmt.Fprintln(w, line)
		return err
	case []store.Record:
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tHWID\tDAYS\tACTIVE\tBANNED\tLAST TICK\tCREATED")
		for _, r := range v {
			lastTick := "-"
			if r.LastTick != nil {
				lastTick = r.LastTick.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%t\t%s\t%s\n",
				r.Key, r.HWID, r.DaysLeft, r.Active, r.Banned, lastTick, r.CreatedAt.UTC().Format(time.RFC3339))
		}
		return tw.Flush()
	default:
		_, err := fmt.Fprintln(w, v)
		return err
	}
}
