package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Wizard254-ux/gabbage-web-sub000/bags"
	"github.com/Wizard254-ux/gabbage-web-sub000/config"
	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
	"github.com/Wizard254-ux/gabbage-web-sub000/store/sqlstore"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// cliApp holds what every command shares: the flags and, once opened, the
// store and engine.
type cliApp struct {
	org    string
	actor  string
	dsn    string
	driver string

	out    io.Writer
	store  *sqlstore.Store
	engine *bags.Engine
}

func (a *cliApp) bindFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&a.org, "org", "", "organization id")
	flags.StringVar(&a.actor, "actor", os.Getenv("USER"), "actor recorded on journal entries")
	flags.StringVar(&a.dsn, "db", "", "database DSN (overrides DB_DSN)")
	flags.StringVar(&a.driver, "driver", "", "sqlite, postgres or mysql (overrides DB_DRIVER)")
}

func (a *cliApp) open(cmd *cobra.Command, _ []string) error {
	if !cmd.Runnable() || cmd.Name() == "help" {
		return nil
	}
	if a.org == "" {
		return errors.New("--org is required")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.dsn != "" {
		cfg.DBDSN = a.dsn
	}
	if a.driver != "" {
		cfg.DBDriver = a.driver
	}

	store, err := sqlstore.Open(cfg.DBDriver, cfg.DBDSN, sqlstore.Options{LockTimeout: cfg.LockTimeout})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.store = store
	a.engine = bags.New(store)
	if a.out == nil {
		a.out = cmd.OutOrStdout()
	}
	return nil
}

func (a *cliApp) close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func (a *cliApp) ctx() context.Context {
	return generic.WithActorID(context.Background(), a.actor)
}

func (a *cliApp) orgID() bags.OrganizationID { return bags.OrganizationID(a.org) }

func (a *cliApp) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
}

// parseCount accepts whole, positive bag counts.
func parseCount(s string) (int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("count %q is not a number", s)
	}
	return generic.ParseCount(d)
}

// =============================================================================
// STOCK
// =============================================================================

func (a *cliApp) stockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Organization bag stock",
	}
	cmd.AddCommand(a.stockShowCmd())
	cmd.AddCommand(a.stockAddCmd())
	cmd.AddCommand(a.stockRemoveCmd())
	cmd.AddCommand(a.stockHistoryCmd())
	return cmd
}

func (a *cliApp) stockShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current stock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stock, err := a.engine.Stock.GetStock(a.ctx(), a.orgID())
			if err != nil {
				return err
			}
			a.printStock(stock)
			return nil
		},
	}
}

func (a *cliApp) stockAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "add <count>",
		Short:   "Add bags to stock",
		Example: `  bagctl --org org-1 stock add 500`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := parseCount(args[0])
			if err != nil {
				return err
			}
			stock, err := a.engine.Stock.AddBags(a.ctx(), a.orgID(), count)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s added %s bags\n", green("✓"), humanize.Comma(int64(count)))
			a.printStock(stock)
			return nil
		},
	}
}

func (a *cliApp) stockRemoveCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:     "remove <count>",
		Short:   "Remove bags from stock",
		Example: `  bagctl --org org-1 stock remove 20 -r "water damage"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := parseCount(args[0])
			if err != nil {
				return err
			}
			stock, err := a.engine.Stock.RemoveBags(a.ctx(), a.orgID(), count, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s removed %s bags\n", green("✓"), humanize.Comma(int64(count)))
			a.printStock(stock)
			return nil
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why the bags leave stock")
	return cmd
}

func (a *cliApp) stockHistoryCmd() *cobra.Command {
	var page, limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List movements that touched stock, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := generic.NewPageRequest(page, limit)
			entries, total, err := a.engine.Stock.History(a.ctx(), a.orgID(), req)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.out, "No stock movements.")
				return nil
			}
			w := a.table()
			fmt.Fprintln(w, "WHEN\tTYPE\tDELTA\tACTOR\tREASON")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					humanize.Time(e.CreatedAt), e.Type, signed(e.Delta), e.ActorID, e.Reason)
			}
			w.Flush()
			p := generic.NewPagination(req, total)
			fmt.Fprintf(a.out, "\npage %d of %d (%s movements)\n", p.CurrentPage, p.TotalPages, humanize.Comma(int64(total)))
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", generic.DefaultPage, "page number")
	cmd.Flags().IntVar(&limit, "limit", 20, "rows per page")
	return cmd
}

func (a *cliApp) printStock(s bags.Stock) {
	w := a.table()
	fmt.Fprintf(w, "%s\t%s\n", bold("Organization"), s.OrganizationID)
	fmt.Fprintf(w, "Available\t%s\n", humanize.Comma(int64(s.AvailableBags)))
	fmt.Fprintf(w, "Total added\t%s\n", humanize.Comma(int64(s.TotalAdded)))
	fmt.Fprintf(w, "Total removed\t%s\n", humanize.Comma(int64(s.TotalRemoved)))
	if !s.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "Updated\t%s\n", humanize.Time(s.UpdatedAt))
	}
	w.Flush()
}

func signed(n int) string {
	s := humanize.Comma(int64(n))
	if n > 0 {
		return green("+" + s)
	}
	if n < 0 {
		return red(s)
	}
	return s
}

// =============================================================================
// DRIVERS
// =============================================================================

func (a *cliApp) allocateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "allocate <driver-id> <count>",
		Short: "Allocate bags from stock to a driver",
		Long: `Allocate bags from stock to a driver. The driver's current period is
closed and whatever was still available carries over into the new one.`,
		Example: `  bagctl --org org-1 allocate d-17 40`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := parseCount(args[1])
			if err != nil {
				return err
			}
			res, err := a.engine.Allocations.AllocateBags(a.ctx(), a.orgID(), bags.DriverID(args[0]), count)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s allocated %s bags to %s\n", green("✓"), humanize.Comma(int64(count)), args[0])
			w := a.table()
			fmt.Fprintf(w, "Period\t%s\n", res.Period.ID)
			fmt.Fprintf(w, "Carried over\t%s\n", humanize.Comma(int64(res.Period.BagsFromPrevious)))
			fmt.Fprintf(w, "Driver available\t%s\n", humanize.Comma(int64(res.Period.AvailableBags())))
			fmt.Fprintf(w, "Stock available\t%s\n", humanize.Comma(int64(res.Stock.AvailableBags)))
			w.Flush()
			return nil
		},
	}
}

func (a *cliApp) returnCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:     "return <driver-id> <count>",
		Short:   "Return bags from a driver to stock",
		Example: `  bagctl --org org-1 return d-17 5 -r "route cancelled"`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := parseCount(args[1])
			if err != nil {
				return err
			}
			res, err := a.engine.Returns.ProcessReturn(a.ctx(), a.orgID(), bags.DriverID(args[0]), count, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s returned %s bags from %s\n", green("✓"), humanize.Comma(int64(count)), args[0])
			w := a.table()
			fmt.Fprintf(w, "Driver available\t%s\n", humanize.Comma(int64(res.Allocation.AvailableBags())))
			fmt.Fprintf(w, "Stock available\t%s\n", humanize.Comma(int64(res.Stock.AvailableBags)))
			w.Flush()
			return nil
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why the bags come back (required)")
	return cmd
}

// =============================================================================
// AUDIT
// =============================================================================

var errUnbalanced = errors.New("ledger is unbalanced")

func (a *cliApp) auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Replay the journal and compare it with stored balances",
		Long: `Replay the organization's journal and compare every account with the
balance the ledger keeps for it. Exits non-zero when anything disagrees.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.engine.Auditor.Audit(a.ctx(), a.orgID())
			if err != nil {
				return err
			}
			a.printAudit(report)
			if !report.Balanced() {
				return errUnbalanced
			}
			return nil
		},
	}
}

func (a *cliApp) printAudit(r bags.AuditReport) {
	w := a.table()
	fmt.Fprintln(w, "ACCOUNT\tJOURNAL\tSTORED\t")
	for _, c := range r.Accounts {
		mark := green("ok")
		if !c.OK() {
			mark = red("MISMATCH")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Account,
			humanize.Comma(int64(c.Journal)), humanize.Comma(int64(c.Materialized)), mark)
	}
	w.Flush()

	fmt.Fprintln(a.out)
	w = a.table()
	fmt.Fprintf(w, "Movements\t%s\n", humanize.Comma(int64(r.Movements)))
	fmt.Fprintf(w, "In stock\t%s\n", humanize.Comma(int64(r.InStock)))
	fmt.Fprintf(w, "With drivers\t%s\n", humanize.Comma(int64(r.WithDrivers)))
	fmt.Fprintf(w, "In transit\t%s\n", humanize.Comma(int64(r.InTransit)))
	fmt.Fprintf(w, "With clients\t%s\n", humanize.Comma(int64(r.WithClients)))
	fmt.Fprintf(w, "Accounted\t%s of %s\n", humanize.Comma(int64(r.Accounted())), humanize.Comma(int64(r.InCirculation())))
	w.Flush()

	switch {
	case r.Balanced():
		fmt.Fprintf(a.out, "\n%s balanced\n", green("✓"))
	case len(r.Discrepancies()) == 0:
		fmt.Fprintf(a.out, "\n%s bags are not conserved\n", yellow("!"))
	default:
		fmt.Fprintf(a.out, "\n%s %d accounts disagree\n", red("✗"), len(r.Discrepancies()))
	}
}
