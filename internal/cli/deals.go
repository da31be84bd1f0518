package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"crmcore/internal/core"
	"crmcore/pkg/domain"
)

var dealColumns = []column[domain.Deal]{
	{"ID", func(d domain.Deal) any { return d.ID }},
	{"TITLE", func(d domain.Deal) any { return d.Title }},
	{"VALUE", func(d domain.Deal) any { return money(d.Value, d.Currency) }},
	{"STATUS", func(d domain.Deal) any { return d.Status }},
	{"PIPELINE", func(d domain.Deal) any { return d.PipelineID }},
	{"STAGE", func(d domain.Deal) any { return d.StageID }},
	{"CLOSE", func(d domain.Deal) any {
		if d.ClosedAt != nil {
			return relative(d.ClosedAt)
		}
		return relative(d.ExpectedCloseAt)
	}},
	{"OWNER", func(d domain.Deal) any { return optionalID(d.OwnerID) }},
}

func pickDeals(s *core.Stores) *core.EntityStore[domain.Deal] { return s.Deals.EntityStore }

type dealFlags struct {
	title, currency, expected string
	value                     float64
	pipeline                  int64
	contact, company, owner   int64
}

func (f *dealFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.title, "title", "", "deal title")
	flags.Float64Var(&f.value, "value", 0, "deal value")
	flags.StringVar(&f.currency, "currency", "", "ISO 4217 currency code (default USD)")
	flags.Int64Var(&f.pipeline, "pipeline", 0, "pipeline id")
	flags.Int64Var(&f.contact, "contact", 0, "primary contact id")
	flags.Int64Var(&f.company, "company", 0, "company id")
	flags.Int64Var(&f.owner, "owner", 0, "owner id")
	flags.StringVar(&f.expected, "expected-close", "", "expected close date (RFC3339 or YYYY-MM-DD)")
}

func (f *dealFlags) apply(flags *pflag.FlagSet, d *domain.Deal) error {
	if flags.Changed("title") {
		d.Title = f.title
	}
	if flags.Changed("value") {
		d.Value = f.value
	}
	if flags.Changed("currency") {
		d.Currency = f.currency
	}
	if flags.Changed("pipeline") {
		d.PipelineID = domain.EntityID(f.pipeline)
	}
	if flags.Changed("contact") {
		d.ContactID = optionalIDFlag(f.contact)
	}
	if flags.Changed("company") {
		d.CompanyID = optionalIDFlag(f.company)
	}
	if flags.Changed("owner") {
		d.OwnerID = optionalIDFlag(f.owner)
	}
	if flags.Changed("expected-close") {
		if f.expected == "" {
			d.ExpectedCloseAt = nil
			return nil
		}
		at, err := parseTime(f.expected)
		if err != nil {
			return err
		}
		d.ExpectedCloseAt = &at
	}
	return nil
}

func (a *app) dealCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deal",
		Aliases: []string{"deals"},
		Short:   "Manage deals and move them through their pipeline",
	}
	entityCommands[domain.Deal]{
		entity:  domain.EntityDeal,
		store:   pickDeals,
		columns: dealColumns,
	}.attach(a, cmd)

	var create dealFlags
	createCmd := &cobra.Command{
		Use:   "create TITLE",
		Short: "Open a deal in the first stage of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := domain.Deal{Title: args[0]}
			if err := create.apply(cmd.Flags(), &d); err != nil {
				return err
			}
			stores, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			created, ok := stores.Deals.Create(cmd.Context(), d, nil)
			if !ok {
				return ErrNotified
			}
			return renderTable(a, cmd.OutOrStdout(), []domain.Deal{created}, dealColumns, created)
		},
	}
	create.register(createCmd.Flags())
	_ = createCmd.MarkFlagRequired("pipeline")

	var update dealFlags
	updateCmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change fields of a deal; status and stage change through transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			stores, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			current, err := stores.Deals.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if err := update.apply(cmd.Flags(), &current); err != nil {
				return err
			}
			saved, err := stores.Deals.Update(cmd.Context(), id, current, nil)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrNotified, err)
			}
			return renderTable(a, cmd.OutOrStdout(), []domain.Deal{saved}, dealColumns, saved)
		},
	}
	update.register(updateCmd.Flags())

	var reason string
	lostCmd := a.transitionCommand("lost ID", "Close a deal as lost",
		func(ctx context.Context, deals *core.DealController, d domain.Deal, _ []string) (domain.Deal, error) {
			return deals.CloseLost(ctx, d, reason, nil)
		})
	lostCmd.Flags().StringVar(&reason, "reason", "", "why the deal was lost")

	cmd.AddCommand(
		createCmd,
		updateCmd,
		a.transitionCommand("move ID STAGE", "Move an open deal to another open stage",
			func(ctx context.Context, deals *core.DealController, d domain.Deal, rest []string) (domain.Deal, error) {
				stage, err := parseID(rest[0])
				if err != nil {
					return domain.Deal{}, err
				}
				return deals.MoveStage(ctx, d, stage, nil)
			}),
		a.transitionCommand("won ID", "Close a deal as won",
			func(ctx context.Context, deals *core.DealController, d domain.Deal, _ []string) (domain.Deal, error) {
				return deals.CloseWon(ctx, d, nil)
			}),
		lostCmd,
		a.transitionCommand("reopen ID", "Reopen a won or lost deal",
			func(ctx context.Context, deals *core.DealController, d domain.Deal, _ []string) (domain.Deal, error) {
				return deals.Reopen(ctx, d, nil)
			}),
		&cobra.Command{
			Use:   "set-owner OWNER ID[,ID...]",
			Short: "Reassign several deals",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				owner, err := parseID(args[0])
				if err != nil {
					return err
				}
				return bulkUpdate(a, cmd, pickDeals, args[1:],
					domain.DealBulkUpdate(domain.SetDealOwner{OwnerID: owner}))
			},
		},
		&cobra.Command{
			Use:   "set-close DATE ID[,ID...]",
			Short: "Set the expected close date of several deals",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				at, err := parseTime(args[0])
				if err != nil {
					return err
				}
				return bulkUpdate(a, cmd, pickDeals, args[1:],
					domain.DealBulkUpdate(domain.SetDealExpectedClose{ExpectedCloseAt: at}))
			},
		},
	)
	return cmd
}

type transitionFunc func(ctx context.Context, deals *core.DealController, deal domain.Deal, rest []string) (domain.Deal, error)

// transitionCommand loads the deal named by the first argument and runs fn on it.
func (a *app) transitionCommand(use, short string, fn transitionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MatchAll(cobra.ExactArgs(len(strings.Fields(use))-1), idArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			stores, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			deal, err := stores.Deals.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			out, err := fn(cmd.Context(), stores.Deals, deal, args[1:])
			if err != nil {
				return fmt.Errorf("%w: %v", ErrNotified, err)
			}
			return renderTable(a, cmd.OutOrStdout(), []domain.Deal{out}, dealColumns, out)
		},
	}
}

// idArgs rejects positional arguments that are not record ids.
func idArgs(_ *cobra.Command, args []string) error {
	for _, arg := range args {
		if _, err := parseID(arg); err != nil {
			return err
		}
	}
	return nil
}
