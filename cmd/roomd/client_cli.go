// cmd/roomd/client_cli.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/FairForge/roomd/internal/api"
	"github.com/FairForge/roomd/internal/auth"
	"github.com/FairForge/roomd/internal/gateway"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRequestCommand(v *viper.Viper) *cobra.Command {
	var requester, requestID string
	var rooms, labs int

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Reserve rooms and labs, falling back to the backup if the primary is down",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(v, cmd.Flags(), "primary-addr", "backup-addr", "timeout")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Server.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			client := gateway.NewClient([]string{cfg.Client.PrimaryAddr, cfg.Client.BackupAddr}, cfg.Client.Timeout, logger.Named("gateway"))

			var resp interface{}
			if requestID != "" {
				resp, err = client.SendRequest(cmd.Context(), reservationRequest(requestID, requester, rooms, labs))
			} else {
				resp, err = client.Send(cmd.Context(), requester, rooms, labs)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&requester, "requester", "", "requesting department")
	flags.IntVar(&rooms, "rooms", 1, "rooms requested")
	flags.IntVar(&labs, "labs", 1, "labs requested")
	flags.StringVar(&requestID, "request-id", "", "reuse an existing request id instead of generating one")
	flags.String("primary-addr", "", "primary allocation address (default localhost:5555)")
	flags.String("backup-addr", "", "backup allocation address")
	flags.Duration("timeout", 0, "per-server timeout (default 5s)")
	_ = cmd.MarkFlagRequired("requester")

	return cmd
}

func newAdminCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Operator commands against one server's admin api",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(v, cmd.Flags(), "server", "token")
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("server", "", "server allocation address (default localhost:5555)")
	flags.String("token", "", "operator token (env ROOMD_TOKEN or ROOMD_ADMIN_TOKEN)")

	adminRun := func(fn func(ctx context.Context, c *gateway.AdminClient, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if cfg.Client.AdminToken == "" {
				return errors.New("an operator token is required (--token)")
			}
			c := gateway.NewAdminClient(cfg.Client.AdminAddr, cfg.Client.AdminToken, cfg.Client.Timeout)
			return fn(cmd.Context(), c, cmd.OutOrStdout(), args)
		}
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List reservations with a pool summary",
		Args:  cobra.NoArgs,
		RunE: adminRun(func(ctx context.Context, c *gateway.AdminClient, out io.Writer, args []string) error {
			res, err := c.ListRecords(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tREQUESTER\tROOMS\tLABS\tCREATED\tREQUEST ID")
			for _, r := range res.Records {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\t%s\n", r.SequenceID, r.Requester, r.RoomsAllocated, r.LabsAllocated,
					r.CreatedAt.Local().Format(time.DateTime), r.RequestID)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			p := res.Pool
			_, err = fmt.Fprintf(out, "\n%d reservations; rooms %d/%d allocated (%d available); labs %d/%d allocated (%d available)\n",
				res.Count, p.RoomsAllocated(), p.RoomsTotal, p.RoomsAvailable, p.LabsAllocated(), p.LabsTotal, p.LabsAvailable)
			return err
		}),
	}

	get := &cobra.Command{
		Use:   "get ID",
		Short: "Show one reservation",
		Args:  cobra.ExactArgs(1),
		RunE: adminRun(func(ctx context.Context, c *gateway.AdminClient, out io.Writer, args []string) error {
			seq, err := parseID(args[0])
			if err != nil {
				return err
			}
			rec, err := c.GetRecord(ctx, seq)
			if err != nil {
				return err
			}
			return printJSON(out, rec)
		}),
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete one reservation and return its capacity to the pool",
		Args:  cobra.ExactArgs(1),
		RunE: adminRun(func(ctx context.Context, c *gateway.AdminClient, out io.Writer, args []string) error {
			seq, err := parseID(args[0])
			if err != nil {
				return err
			}
			res, err := c.DeleteRecord(ctx, seq)
			if err != nil {
				return err
			}
			return printJSON(out, res)
		}),
	}

	var confirm bool
	deleteAll := &cobra.Command{
		Use:   "delete-all",
		Short: "Delete every reservation",
		Args:  cobra.NoArgs,
		RunE: adminRun(func(ctx context.Context, c *gateway.AdminClient, out io.Writer, args []string) error {
			if !confirm {
				return errors.New("refusing to delete every reservation without --yes")
			}
			res, err := c.DeleteAll(ctx)
			if err != nil {
				return err
			}
			return printJSON(out, res)
		}),
	}
	deleteAll.Flags().BoolVar(&confirm, "yes", false, "confirm deleting every reservation")

	mode := &cobra.Command{
		Use:       "mode accepting|idle",
		Short:     "Accept allocation requests or leave the server idle",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"accepting", "idle"},
		RunE: adminRun(func(ctx context.Context, c *gateway.AdminClient, out io.Writer, args []string) error {
			var accepting bool
			switch args[0] {
			case "accepting":
				accepting = true
			case "idle":
			default:
				return fmt.Errorf("mode must be accepting or idle, got %q", args[0])
			}
			res, err := c.SetMode(ctx, accepting)
			if err != nil {
				return err
			}
			return printJSON(out, res)
		}),
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show role, mode, pool and failover state",
		Args:  cobra.NoArgs,
		RunE: adminRun(func(ctx context.Context, c *gateway.AdminClient, out io.Writer, args []string) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			return printJSON(out, st)
		}),
	}

	cmd.AddCommand(list, get, del, deleteAll, mode, status)
	return cmd
}

func newTokenCommand(v *viper.Viper) *cobra.Command {
	var operator string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator token signed with the configured admin secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			svc, err := auth.NewTokenService(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL)
			if err != nil {
				return fmt.Errorf("%w (set ROOMD_ADMIN_SECRET)", err)
			}
			token, err := svc.GenerateToken(operator)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "operator", "operator name recorded in the token")
	return cmd
}

func reservationRequest(id, requester string, rooms, labs int) api.ReservationRequest {
	return api.ReservationRequest{
		RequestID:      id,
		Requester:      requester,
		RoomsRequested: rooms,
		LabsRequested:  labs,
	}
}

func parseID(s string) (int64, error) {
	seq, err := strconv.ParseInt(s, 10, 64)
	if err != nil || seq <= 0 {
		return 0, fmt.Errorf("invalid reservation id %q", s)
	}
	return seq, nil
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
