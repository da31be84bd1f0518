package cli

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"crmcore/internal/blob"
	"crmcore/internal/core"
	"crmcore/pkg/domain"
)

// ErrNotified marks failures that were already reported to the user through
// the store notifier. Callers should exit non-zero without printing again.
var ErrNotified = errors.New("operation failed")

// entityCommands describes how the shared subcommands reach one entity store.
type entityCommands[T domain.Record] struct {
	entity  domain.EntityType
	store   func(*core.Stores) *core.EntityStore[T]
	columns []column[T]
}

// attach adds list, get, delete, bulk-delete and export to parent.
func (e entityCommands[T]) attach(a *app, parent *cobra.Command) {
	parent.AddCommand(
		e.listCommand(a),
		e.getCommand(a),
		e.deleteCommand(a),
		e.bulkDeleteCommand(a),
		e.exportCommand(a),
	)
}

func (e entityCommands[T]) open(a *app, cmd *cobra.Command) (*core.EntityStore[T], error) {
	stores, err := a.open(cmd.Context())
	if err != nil {
		return nil, err
	}
	return e.store(stores), nil
}

func (e entityCommands[T]) listCommand(a *app) *cobra.Command {
	var (
		filters []string
		query   string
		page    int
		size    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: fmt.Sprintf("List %s", e.entity.Label(2)),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			criteria, err := parseFilters(filters, query)
			if err != nil {
				return err
			}
			store, err := e.open(a, cmd)
			if err != nil {
				return err
			}
			res, err := store.List(cmd.Context(), criteria, domain.Page{Number: page, Size: size})
			if err != nil {
				return err
			}
			if err := renderTable(a, cmd.OutOrStdout(), res.Items, e.columns, res); err != nil {
				return err
			}
			if a.settings.Output != "json" {
				fmt.Fprintf(cmd.ErrOrStderr(), "page %d: %d of %s\n", res.Page.Number, len(res.Items),
					humanize.Comma(int64(res.Total))+" "+e.entity.Label(res.Total))
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "field filter key=value (repeatable; _min/_max suffixes for ranges)")
	cmd.Flags().StringVarP(&query, "query", "q", "", "free text search")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&size, "size", domain.DefaultPageSize, "page size")
	return cmd
}

func (e entityCommands[T]) getCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: fmt.Sprintf("Show one %s", e.entity),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			store, err := e.open(a, cmd)
			if err != nil {
				return err
			}
			rec, err := store.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return renderTable(a, cmd.OutOrStdout(), []T{rec}, e.columns, rec)
		},
	}
}

func (e entityCommands[T]) deleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: fmt.Sprintf("Delete one %s", e.entity),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			store, err := e.open(a, cmd)
			if err != nil {
				return err
			}
			if err := store.Delete(cmd.Context(), id, nil); err != nil {
				return fmt.Errorf("%w: %v", ErrNotified, err)
			}
			return nil
		},
	}
}

func (e entityCommands[T]) bulkDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bulk-delete ID[,ID...]",
		Short: fmt.Sprintf("Delete several %s at once", e.entity.Label(2)),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			store, err := e.open(a, cmd)
			if err != nil {
				return err
			}
			store.Selection().SelectAll(ids)
			if _, ok := store.BulkDelete(cmd.Context()); !ok {
				return ErrNotified
			}
			return nil
		},
	}
}

func (e entityCommands[T]) exportCommand(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export ID[,ID...]",
		Short: fmt.Sprintf("Export %s to the configured blob store", e.entity.Label(2)),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			f, err := core.ParseExportFormat(format)
			if err != nil {
				return err
			}
			store, err := e.open(a, cmd)
			if err != nil {
				return err
			}
			sink, err := blob.Open(cmd.Context(), a.settings.Export)
			if err != nil {
				return fmt.Errorf("open export store: %w", err)
			}
			store.Selection().SelectAll(ids)
			info, err := store.Export(cmd.Context(), sink, f)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrNotified, err)
			}
			return a.render(cmd.OutOrStdout(), info, func() *uitable.Table {
				tbl := uitable.New()
				tbl.AddRow("key:", info.Key)
				tbl.AddRow("size:", humanize.Bytes(uint64(info.Size)))
				tbl.AddRow("records:", info.Metadata["count"])
				tbl.AddRow("driver:", a.settings.Export.Driver)
				return tbl
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", string(core.ExportJSONLines), "export format: jsonl or csv")
	return cmd
}

// bulkUpdate selects the ids in args and applies update to all of them.
func bulkUpdate[T domain.Record](a *app, cmd *cobra.Command, pick func(*core.Stores) *core.EntityStore[T], args []string, update domain.BulkUpdate[T]) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	stores, err := a.open(cmd.Context())
	if err != nil {
		return err
	}
	store := pick(stores)
	store.Selection().SelectAll(ids)
	if _, ok := store.BulkUpdate(cmd.Context(), update); !ok {
		return ErrNotified
	}
	return nil
}
