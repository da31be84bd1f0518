package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"crmcore/internal/core"
	"crmcore/pkg/domain"
)

var pipelineColumns = []column[domain.Pipeline]{
	{"ID", func(p domain.Pipeline) any { return p.ID }},
	{"NAME", func(p domain.Pipeline) any { return p.Name }},
	{"ACTIVE", func(p domain.Pipeline) any { return p.Active }},
	{"STAGES", func(p domain.Pipeline) any { return stageNames(p.Stages) }},
	{"UPDATED", func(p domain.Pipeline) any { return relative(&p.UpdatedAt) }},
}

var stageColumns = []column[domain.Stage]{
	{"ID", func(s domain.Stage) any { return s.ID }},
	{"POS", func(s domain.Stage) any { return s.Position }},
	{"NAME", func(s domain.Stage) any { return s.Name }},
	{"KIND", func(s domain.Stage) any { return s.Kind }},
}

func pickPipelines(s *core.Stores) *core.EntityStore[domain.Pipeline] { return s.Pipelines }

func stageNames(stages []domain.Stage) string {
	names := make([]string, len(stages))
	for i, st := range stages {
		names[i] = st.Name
	}
	return strings.Join(names, " > ")
}

// restage replaces the open stages of p with names, keeping the ids of stages
// whose name is unchanged and the existing terminal stages.
func restage(p domain.Pipeline, names []string) []domain.Stage {
	byName := make(map[string]domain.Stage, len(p.Stages))
	for _, st := range p.Stages {
		byName[st.Name] = st
	}
	fresh := domain.NewPipelineStages(names...)
	for i, st := range fresh {
		if st.Kind == domain.StageOpen {
			if old, ok := byName[st.Name]; ok && old.Kind == domain.StageOpen {
				fresh[i].ID = old.ID
			}
			continue
		}
		if old, ok := p.TerminalStage(st.Kind); ok {
			fresh[i].ID, fresh[i].Name = old.ID, old.Name
		}
	}
	return fresh
}

func (a *app) pipelineCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pipeline",
		Aliases: []string{"pipelines"},
		Short:   "Manage deal pipelines and their stages",
	}
	entityCommands[domain.Pipeline]{
		entity:  domain.EntityPipeline,
		store:   pickPipelines,
		columns: pipelineColumns,
	}.attach(a, cmd)

	var stages []string
	createCmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a pipeline; won and lost stages are added automatically",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			p := domain.Pipeline{Name: args[0], Active: true, Stages: domain.NewPipelineStages(stages...)}
			created, ok := stores.Pipelines.Create(cmd.Context(), p, nil)
			if !ok {
				return ErrNotified
			}
			return renderTable(a, cmd.OutOrStdout(), created.Stages, stageColumns, created)
		},
	}
	createCmd.Flags().StringSliceVar(&stages, "stages", []string{"Qualified", "Proposal", "Negotiation"}, "open stages in order")

	var (
		rename   string
		restages []string
	)
	updateCmd := &cobra.Command{
		Use:   "update ID",
		Short: "Rename a pipeline or replace its open stages",
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
			current, err := stores.Pipelines.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("name") {
				current.Name = rename
			}
			if cmd.Flags().Changed("stages") {
				current.Stages = restage(current, restages)
			}
			saved, err := stores.Pipelines.Update(cmd.Context(), id, current, nil)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrNotified, err)
			}
			return renderTable(a, cmd.OutOrStdout(), saved.Stages, stageColumns, saved)
		},
	}
	updateCmd.Flags().StringVar(&rename, "name", "", "new name")
	updateCmd.Flags().StringSliceVar(&restages, "stages", nil, "open stages in order")

	cmd.AddCommand(
		createCmd,
		updateCmd,
		&cobra.Command{
			Use:   "stages ID",
			Short: "Show the stages of a pipeline",
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
				p, err := stores.Pipelines.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				return renderTable(a, cmd.OutOrStdout(), p.Stages, stageColumns, p.Stages)
			},
		},
		&cobra.Command{
			Use:   "set-active true|false ID[,ID...]",
			Short: "Archive or restore several pipelines",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				active, err := strconv.ParseBool(args[0])
				if err != nil {
					return fmt.Errorf("invalid active flag %q", args[0])
				}
				return bulkUpdate(a, cmd, pickPipelines, args[1:],
					domain.PipelineBulkUpdate(domain.SetPipelineActive{Active: active}))
			},
		},
	)
	return cmd
}
