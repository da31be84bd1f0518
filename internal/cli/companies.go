package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"crmcore/internal/core"
	"crmcore/pkg/domain"
)

var companyColumns = []column[domain.Company]{
	{"ID", func(c domain.Company) any { return c.ID }},
	{"NAME", func(c domain.Company) any { return c.Name }},
	{"DOMAIN", func(c domain.Company) any { return c.Domain }},
	{"INDUSTRY", func(c domain.Company) any { return c.Industry }},
	{"EMPLOYEES", func(c domain.Company) any { return humanize.Comma(int64(c.Employees)) }},
	{"OWNER", func(c domain.Company) any { return optionalID(c.OwnerID) }},
	{"UPDATED", func(c domain.Company) any { return relative(&c.UpdatedAt) }},
}

func pickCompanies(s *core.Stores) *core.EntityStore[domain.Company] { return s.Companies }

type companyFlags struct {
	name, domain, industry string
	employees              int
	owner                  int64
}

func (f *companyFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.name, "name", "", "company name")
	flags.StringVar(&f.domain, "domain", "", "web domain")
	flags.StringVar(&f.industry, "industry", "", "industry")
	flags.IntVar(&f.employees, "employees", 0, "head count")
	flags.Int64Var(&f.owner, "owner", 0, "owner id (0 clears on update)")
}

func (f *companyFlags) apply(flags *pflag.FlagSet, c *domain.Company) {
	if flags.Changed("name") {
		c.Name = f.name
	}
	if flags.Changed("domain") {
		c.Domain = f.domain
	}
	if flags.Changed("industry") {
		c.Industry = f.industry
	}
	if flags.Changed("employees") {
		c.Employees = f.employees
	}
	if flags.Changed("owner") {
		c.OwnerID = optionalIDFlag(f.owner)
	}
}

func (a *app) companyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "company",
		Aliases: []string{"companies"},
		Short:   "Manage companies",
	}
	entityCommands[domain.Company]{
		entity:  domain.EntityCompany,
		store:   pickCompanies,
		columns: companyColumns,
	}.attach(a, cmd)

	var create companyFlags
	createCmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a company",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			c := domain.Company{Name: args[0]}
			create.apply(cmd.Flags(), &c)
			created, ok := stores.Companies.Create(cmd.Context(), c, nil)
			if !ok {
				return ErrNotified
			}
			return renderTable(a, cmd.OutOrStdout(), []domain.Company{created}, companyColumns, created)
		},
	}
	create.register(createCmd.Flags())

	var update companyFlags
	updateCmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change fields of a company",
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
			current, err := stores.Companies.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			update.apply(cmd.Flags(), &current)
			saved, err := stores.Companies.Update(cmd.Context(), id, current, nil)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrNotified, err)
			}
			return renderTable(a, cmd.OutOrStdout(), []domain.Company{saved}, companyColumns, saved)
		},
	}
	update.register(updateCmd.Flags())

	cmd.AddCommand(
		createCmd,
		updateCmd,
		&cobra.Command{
			Use:   "set-industry INDUSTRY ID[,ID...]",
			Short: "Set the industry of several companies",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return bulkUpdate(a, cmd, pickCompanies, args[1:],
					domain.CompanyBulkUpdate(domain.SetCompanyIndustry{Industry: args[0]}))
			},
		},
		&cobra.Command{
			Use:   "set-owner OWNER ID[,ID...]",
			Short: "Reassign several companies",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				owner, err := parseID(args[0])
				if err != nil {
					return err
				}
				return bulkUpdate(a, cmd, pickCompanies, args[1:],
					domain.CompanyBulkUpdate(domain.SetCompanyOwner{OwnerID: owner}))
			},
		},
	)
	return cmd
}
