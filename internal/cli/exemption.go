package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourorg/remediation-reconciler/internal/app"
	"github.com/yourorg/remediation-reconciler/internal/apperr"
)

const expiryLayout = "2006-01-02 15:04:05"

// parseExpiry accepts either an absolute local time or a duration from now.
func parseExpiry(until string, span time.Duration, now time.Time) (time.Time, error) {
	switch {
	case until != "" && span != 0:
		return time.Time{}, apperr.InvalidRequest("use either --until or --for")
	case until != "":
		t, err := time.ParseInLocation(expiryLayout, until, time.Local)
		if err != nil {
			return time.Time{}, apperr.InvalidRequest("expiry must look like %q", expiryLayout)
		}
		return t, nil
	case span > 0:
		return now.Add(span), nil
	default:
		return time.Time{}, apperr.InvalidRequest("an expiry is required (--until or --for)")
	}
}

type expiryFlags struct {
	until  string
	span   time.Duration
	reason string
}

func (f *expiryFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.until, "until", "", "expiry as "+expiryLayout)
	cmd.Flags().DurationVar(&f.span, "for", 0, "expiry as a duration from now, e.g. 720h")
	cmd.Flags().StringVar(&f.reason, "reason", "", "why the item is exempt (1-500 characters)")
}

func (e *env) newExemptionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "exemption", Aliases: []string{"exception"}, Short: "Administer time-bound exemptions"}

	var addFlags expiryFlags
	add := &cobra.Command{
		Use:   "add <server-id> <item-code>",
		Short: "Exempt one item on one server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			expires, err := parseExpiry(addFlags.until, addFlags.span, time.Now())
			if err != nil {
				return err
			}
			return e.withApp(cmd, func(ctx context.Context, a *app.App) error {
				id, err := a.Exemptions.Create(ctx, tenant(), args[0], args[1], addFlags.reason, expires)
				if err != nil {
					return err
				}
				if asJSON() {
					return printJSON(e.out, map[string]any{"exemption_id": id})
				}
				fmt.Fprintf(e.out, "exemption %d created\n", id)
				return nil
			})
		},
	}
	addFlags.bind(add)

	var bulkFlags expiryFlags
	var servers []string
	bulk := &cobra.Command{
		Use:   "bulk <item-code>",
		Short: "Exempt one item on selected or all active servers of the tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expires, err := parseExpiry(bulkFlags.until, bulkFlags.span, time.Now())
			if err != nil {
				return err
			}
			return e.withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Exemptions.CreateBulk(ctx, tenant(), args[0], bulkFlags.reason, expires, servers)
				if err != nil {
					return err
				}
				if asJSON() {
					return printJSON(e.out, res)
				}
				fmt.Fprintf(e.out, "%d created, %d skipped of %d servers\n", res.Created, res.Skipped, res.Total)
				return nil
			})
		},
	}
	bulkFlags.bind(bulk)
	bulk.Flags().StringSliceVar(&servers, "servers", nil, "server ids, default every active server")

	rm := &cobra.Command{
		Use:   "rm <exemption-id>",
		Short: "Delete an exemption",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return apperr.InvalidRequest("bad exemption id %q", args[0])
			}
			return e.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Exemptions.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(e.out, "exemption %d deleted\n", id)
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the tenant's exemptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withApp(cmd, func(ctx context.Context, a *app.App) error {
				l, err := a.Exemptions.List(ctx, tenant())
				if err != nil {
					return err
				}
				if asJSON() {
					return printJSON(e.out, l)
				}
				fmt.Fprintf(e.out, "%d exemptions, %d active, %d expired\n", l.Total, l.Active, l.Expired)
				for _, x := range l.Items {
					state := "active"
					if !x.Active {
						state = "expired"
					}
					fmt.Fprintf(e.out, "  #%d %s %s %s until %s [%s] %s\n", x.ID, x.ServerID, x.ItemCode,
						x.ItemTitle, x.ExpiresAt.Local().Format(expiryLayout), state, x.Reason)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(add, bulk, rm, list)
	return cmd
}
