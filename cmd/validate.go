package main

import (
	"errors"
	"fmt"

	"project_chatflow/internal/repository"
	"project_chatflow/internal/workflow"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file or directory...]",
	Short: "Compile workflow definition files",
	Long:  `Loads JSON or YAML workflow definitions and reports graphs that would fail to compile or never start.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		return runValidate(cmd, args, tenant)
	},
}

func init() {
	validateCmd.Flags().String("tenant", "public", "Tenant assigned to definitions that do not name one")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, paths []string, tenant string) error {
	defs, err := repository.LoadDefinitions(paths, tenant)
	if err != nil {
		return err
	}

	var errs []error
	for _, def := range defs {
		g, err := workflow.Compile(def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := g.Start(); err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", def.ID, err))
			continue
		}
		if len(g.Triggers) == 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: workflow %s has no trigger keywords\n", def.ID)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok  %s/%s (%d nodes, triggers: %v)\n", def.TenantID, def.ID, g.Len(), g.Triggers)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d workflows invalid: %w", len(errs), len(defs), errors.Join(errs...))
	}
	return nil
}
