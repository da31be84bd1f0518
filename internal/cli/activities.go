package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"crmcore/internal/core"
	"crmcore/pkg/domain"
)

var activityColumns = []column[domain.Activity]{
	{"ID", func(a domain.Activity) any { return a.ID }},
	{"KIND", func(a domain.Activity) any { return a.Kind }},
	{"SUBJECT", func(a domain.Activity) any { return a.Subject }},
	{"DUE", func(a domain.Activity) any { return relative(a.DueAt) }},
	{"DONE", func(a domain.Activity) any { return a.Completed }},
	{"CONTACT", func(a domain.Activity) any { return optionalID(a.ContactID) }},
	{"DEAL", func(a domain.Activity) any { return optionalID(a.DealID) }},
}

func pickActivities(s *core.Stores) *core.EntityStore[domain.Activity] { return s.Activities }

type activityFlags struct {
	kind, subject, due             string
	done                           bool
	owner, contact, company, deal int64
}

func (f *activityFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.kind, "kind", string(domain.ActivityTask), "call, email, meeting, task or note")
	flags.StringVar(&f.subject, "subject", "", "subject line")
	flags.StringVar(&f.due, "due", "", "due time (RFC3339 or YYYY-MM-DD)")
	flags.BoolVar(&f.done, "done", false, "mark completed")
	flags.Int64Var(&f.owner, "owner", 0, "owner id")
	flags.Int64Var(&f.contact, "contact", 0, "related contact id")
	flags.Int64Var(&f.company, "company", 0, "related company id")
	flags.Int64Var(&f.deal, "deal", 0, "related deal id")
}

func (f *activityFlags) apply(flags *pflag.FlagSet, act *domain.Activity, creating bool) error {
	if creating || flags.Changed("kind") {
		act.Kind = domain.ActivityKind(f.kind)
	}
	if flags.Changed("subject") {
		act.Subject = f.subject
	}
	if flags.Changed("due") {
		if f.due == "" {
			act.DueAt = nil
		} else {
			due, err := parseTime(f.due)
			if err != nil {
				return err
			}
			act.DueAt = &due
		}
	}
	if flags.Changed("done") {
		act.Completed = f.done
	}
	if flags.Changed("owner") {
		act.OwnerID = optionalIDFlag(f.owner)
	}
	if flags.Changed("contact") {
		act.ContactID = optionalIDFlag(f.contact)
	}
	if flags.Changed("company") {
		act.CompanyID = optionalIDFlag(f.company)
	}
	if flags.Changed("deal") {
		act.DealID = optionalIDFlag(f.deal)
	}
	return nil
}

func (a *app) activityCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "activity",
		Aliases: []string{"activities"},
		Short:   "Manage calls, meetings, tasks and notes",
	}
	entityCommands[domain.Activity]{
		entity:  domain.EntityActivity,
		store:   pickActivities,
		columns: activityColumns,
	}.attach(a, cmd)

	var create activityFlags
	createCmd := &cobra.Command{
		Use:   "create SUBJECT",
		Short: "Log or schedule an activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			act := domain.Activity{Subject: args[0]}
			if err := create.apply(cmd.Flags(), &act, true); err != nil {
				return err
			}
			stores, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			created, ok := stores.Activities.Create(cmd.Context(), act, nil)
			if !ok {
				return ErrNotified
			}
			return renderTable(a, cmd.OutOrStdout(), []domain.Activity{created}, activityColumns, created)
		},
	}
	create.register(createCmd.Flags())

	var update activityFlags
	updateCmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change fields of an activity",
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
			current, err := stores.Activities.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if err := update.apply(cmd.Flags(), &current, false); err != nil {
				return err
			}
			saved, err := stores.Activities.Update(cmd.Context(), id, current, nil)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrNotified, err)
			}
			return renderTable(a, cmd.OutOrStdout(), []domain.Activity{saved}, activityColumns, saved)
		},
	}
	update.register(updateCmd.Flags())

	var reopen bool
	completeCmd := &cobra.Command{
		Use:   "complete ID[,ID...]",
		Short: "Mark several activities done",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return bulkUpdate(a, cmd, pickActivities, args,
				domain.ActivityBulkUpdate(domain.CompleteActivities{Completed: !reopen}))
		},
	}
	completeCmd.Flags().BoolVar(&reopen, "undo", false, "mark not done instead")

	cmd.AddCommand(
		createCmd,
		updateCmd,
		completeCmd,
		&cobra.Command{
			Use:   "reschedule DUE ID[,ID...]",
			Short: "Move the due time of several activities",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				due, err := parseTime(args[0])
				if err != nil {
					return err
				}
				return bulkUpdate(a, cmd, pickActivities, args[1:],
					domain.ActivityBulkUpdate(domain.RescheduleActivities{DueAt: due}))
			},
		},
		&cobra.Command{
			Use:   "set-owner OWNER ID[,ID...]",
			Short: "Reassign several activities",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				owner, err := parseID(args[0])
				if err != nil {
					return err
				}
				return bulkUpdate(a, cmd, pickActivities, args[1:],
					domain.ActivityBulkUpdate(domain.SetActivityOwner{OwnerID: owner}))
			},
		},
	)
	return cmd
}
