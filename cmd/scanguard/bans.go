package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oarkflow/scanguard"
)

func newBanCmd() *cobra.Command {
	var (
		reason   string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ban <ip>",
		Short: "Ban an address (permanent unless --duration is set)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			op := scanguard.NewOperator(scanguard.NewGuard(rt.cfg, rt.store), rt.logger, nil)
			rec, err := op.Ban(cmd.Context(), args[0], reason, cliActor(), duration)
			if err != nil {
				return err
			}
			return printJSON(cmd, rec)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the ban")
	cmd.Flags().DurationVar(&duration, "duration", 0, "ban length, e.g. 24h (0 = permanent)")
	return cmd
}

func newUnbanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unban <ip>",
		Short: "Lift the ban on an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			op := scanguard.NewOperator(scanguard.NewGuard(rt.cfg, rt.store), rt.logger, nil)
			if err := op.Unban(cmd.Context(), args[0], cliActor()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unbanned %s\n", args[0])
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bans grouped as permanent, temporary and expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			op := scanguard.NewOperator(scanguard.NewGuard(rt.cfg, rt.store), rt.logger, nil)
			listing, err := op.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, listing)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STATE\tADDRESS\tID\tBANNED AT\tEXPIRES\tBY\tREASON")
			groups := []struct {
				state string
				recs  []*scanguard.BanRecord
			}{
				{"permanent", listing.Permanent},
				{"temporary", listing.Temporary},
				{"expired", listing.Expired},
			}
			for _, g := range groups {
				for _, rec := range g.recs {
					expires := "-"
					if rec.ExpiresAt != nil {
						expires = rec.ExpiresAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
						g.state, rec.Address, rec.ID, rec.BannedAt.Format(time.RFC3339), expires, rec.BannedBy, rec.Reason)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <ban-id>",
		Short: "Show the ban with the given id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			op := scanguard.NewOperator(scanguard.NewGuard(rt.cfg, rt.store), rt.logger, nil)
			rec, err := op.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, rec)
		},
	}
}

func newHashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token [token]",
		Short: "Print the bcrypt hash for admin.tokenHash (reads stdin without an argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read token: %w", err)
				}
				token = strings.TrimSpace(line)
			}
			if token == "" {
				return fmt.Errorf("token must not be empty")
			}
			hash, err := scanguard.HashToken(token)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func cliActor() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
