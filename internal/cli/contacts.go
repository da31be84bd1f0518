package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"crmcore/internal/core"
	"crmcore/pkg/domain"
)

var contactColumns = []column[domain.Contact]{
	{"ID", func(c domain.Contact) any { return c.ID }},
	{"NAME", func(c domain.Contact) any { return c.DisplayName() }},
	{"EMAIL", func(c domain.Contact) any { return c.Email }},
	{"STATUS", func(c domain.Contact) any { return c.Status }},
	{"COMPANY", func(c domain.Contact) any { return optionalID(c.CompanyID) }},
	{"OWNER", func(c domain.Contact) any { return optionalID(c.OwnerID) }},
	{"TAGS", func(c domain.Contact) any { return strings.Join(c.Tags, ",") }},
	{"UPDATED", func(c domain.Contact) any { return relative(&c.UpdatedAt) }},
}

func pickContacts(s *core.Stores) *core.EntityStore[domain.Contact] { return s.Contacts }

type contactFlags struct {
	first, last, email, phone, status, source string
	company, owner                            int64
	tags                                      []string
}

func (f *contactFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.first, "first", "", "first name")
	flags.StringVar(&f.last, "last", "", "last name")
	flags.StringVar(&f.email, "email", "", "email address")
	flags.StringVar(&f.phone, "phone", "", "phone number")
	flags.StringVar(&f.status, "status", "", "lead, active or inactive")
	flags.StringVar(&f.source, "source", "", "lead source")
	flags.Int64Var(&f.company, "company", 0, "company id (0 clears on update)")
	flags.Int64Var(&f.owner, "owner", 0, "owner id (0 clears on update)")
	flags.StringSliceVar(&f.tags, "tag", nil, "tags (repeatable or comma separated)")
}

// apply copies the flags that were set onto c.
func (f *contactFlags) apply(flags *pflag.FlagSet, c *domain.Contact) {
	if flags.Changed("first") {
		c.FirstName = f.first
	}
	if flags.Changed("last") {
		c.LastName = f.last
	}
	if flags.Changed("email") {
		c.Email = f.email
	}
	if flags.Changed("phone") {
		c.Phone = f.phone
	}
	if flags.Changed("status") {
		c.Status = domain.ContactStatus(f.status)
	}
	if flags.Changed("source") {
		c.Source = f.source
	}
	if flags.Changed("company") {
		c.CompanyID = optionalIDFlag(f.company)
	}
	if flags.Changed("owner") {
		c.OwnerID = optionalIDFlag(f.owner)
	}
	if flags.Changed("tag") {
		c.Tags = f.tags
	}
}

func (a *app) contactCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "contact",
		Aliases: []string{"contacts"},
		Short:   "Manage contacts",
	}
	entityCommands[domain.Contact]{
		entity:  domain.EntityContact,
		store:   pickContacts,
		columns: contactColumns,
	}.attach(a, cmd)

	var create contactFlags
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a contact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stores, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			var c domain.Contact
			create.apply(cmd.Flags(), &c)
			created, ok := stores.Contacts.Create(cmd.Context(), c, nil)
			if !ok {
				return ErrNotified
			}
			return renderTable(a, cmd.OutOrStdout(), []domain.Contact{created}, contactColumns, created)
		},
	}
	create.register(createCmd.Flags())

	var update contactFlags
	updateCmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change fields of a contact",
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
			current, err := stores.Contacts.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			update.apply(cmd.Flags(), &current)
			saved, err := stores.Contacts.Update(cmd.Context(), id, current, nil)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrNotified, err)
			}
			return renderTable(a, cmd.OutOrStdout(), []domain.Contact{saved}, contactColumns, saved)
		},
	}
	update.register(updateCmd.Flags())

	cmd.AddCommand(
		createCmd,
		updateCmd,
		&cobra.Command{
			Use:   "set-status STATUS ID[,ID...]",
			Short: "Set the status of several contacts",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return bulkUpdate(a, cmd, pickContacts, args[1:],
					domain.ContactBulkUpdate(domain.SetContactStatus{Status: domain.ContactStatus(args[0])}))
			},
		},
		&cobra.Command{
			Use:   "tag TAG ID[,ID...]",
			Short: "Add a tag to several contacts",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return bulkUpdate(a, cmd, pickContacts, args[1:],
					domain.ContactBulkUpdate(domain.TagContacts{Tag: args[0]}))
			},
		},
		&cobra.Command{
			Use:   "set-owner OWNER ID[,ID...]",
			Short: "Reassign several contacts",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				owner, err := parseID(args[0])
				if err != nil {
					return err
				}
				return bulkUpdate(a, cmd, pickContacts, args[1:],
					domain.ContactBulkUpdate(domain.SetContactOwner{OwnerID: owner}))
			},
		},
	)
	return cmd
}
