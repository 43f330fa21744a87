package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/autotouch-core/internal/catalog"
)

func catalogCmd(flags *globalFlags) *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the template catalog",
	}
	cmd.PersistentFlags().StringVar(&root, "templates", "", "Template directory (default templates.root from configuration)")

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load every template group and report errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := openCatalog(flags, root)
			if err != nil {
				return err
			}
			groups, err := cat.Scan(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTEPS\tSUCCESS IMAGE")
			for _, g := range groups {
				success := "-"
				if g.SuccessImage != nil {
					success = g.SuccessImage.Template
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", g.ID, g.Name, len(g.Steps), success)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d sequence(s) valid in %s\n", len(groups), cat.Root())
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "export <id>",
		Short: "Print the normalised descriptor of one sequence as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := openCatalog(flags, root)
			if err != nil {
				return err
			}
			if _, err := cat.LoadAll(cmd.Context()); err != nil {
				return err
			}
			g, err := cat.Get(args[0])
			if err != nil {
				return err
			}
			data, err := catalog.Encode(g)
			if err != nil {
				return fmt.Errorf("encoding %s: %w", g.ID, err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	return cmd
}

// openCatalog returns an unloaded catalog over root, or over the configured
// template directory when root is empty.
func openCatalog(flags *globalFlags, root string) (*catalog.Catalog, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	if root == "" {
		root = cfg.Templates.Root
	}
	return catalog.New(root, newLogger(cfg, os.Stderr).Component("catalog")), nil
}
