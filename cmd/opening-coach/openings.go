package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/park285/cheese-opening-coach/internal/adapter/coachpresenter"
	"github.com/park285/cheese-opening-coach/internal/chess/openingtree"
	"github.com/park285/cheese-opening-coach/internal/msgcat"
	"github.com/park285/cheese-opening-coach/internal/obslog"
)

func newOpeningsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "openings",
		Short: "List the openings available for practice",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := openingtree.LoadCatalog(cfg.OpeningsDir, obslog.Named("openings"))
			if err != nil {
				return err
			}
			messages, err := msgcat.New(cfg.MessagesDir)
			if err != nil {
				return err
			}
			f := coachpresenter.NewFormatter(messages)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), f.Openings(coachpresenter.ToDTOOpenings(catalog.List())))
			return err
		},
	}
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [opening-id...]",
		Short: "Replay opening lines through the rules engine and report bad data",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := openingtree.LoadCatalog(cfg.OpeningsDir, obslog.Named("openings"))
			if err != nil {
				return err
			}
			defs := catalog.List()
			if len(args) > 0 {
				defs = make([]*openingtree.Definition, 0, len(args))
				for _, id := range args {
					def, err := catalog.Get(id)
					if err != nil {
						return err
					}
					defs = append(defs, def)
				}
			}
			return verifyDefinitions(cmd, defs)
		},
	}
}

func verifyDefinitions(cmd *cobra.Command, defs []*openingtree.Definition) error {
	out := cmd.OutOrStdout()
	total := 0
	for _, def := range defs {
		issues := openingtree.Verify(def)
		total += len(issues)
		if len(issues) == 0 {
			fmt.Fprintf(out, "ok   %s\n", def.ID)
			continue
		}
		fmt.Fprintf(out, "FAIL %s (%d issues)\n", def.ID, len(issues))
		for _, issue := range issues {
			fmt.Fprintf(out, "     %s\n", issue)
		}
	}
	if total > 0 {
		return fmt.Errorf("%d opening data issues", total)
	}
	return nil
}
