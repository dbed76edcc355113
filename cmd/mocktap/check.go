package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/funnyzak/mocktap/internal/config"
	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/internal/project"
	"github.com/funnyzak/mocktap/internal/server"
)

var checkCmd = &cobra.Command{
	Use:          "check",
	Short:        "Compile every server of a project and report mount errors",
	SilenceUsage: true,
	RunE:         runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	proj, err := project.LoadFile(cfg.Project.File, cfg.Project.ID)
	if err != nil {
		return err
	}
	store := project.NewStore(proj)
	ids, err := serverIDs(store, proj.ID, cfg.Project.Server)
	if err != nil {
		return err
	}

	failed := 0
	for _, id := range ids {
		n, err := checkServer(store, proj.ID, id, cfg)
		if err != nil {
			return err
		}
		failed += n
	}
	if failed > 0 {
		return fmt.Errorf("%d route group(s) failed to mount", failed)
	}
	color.New(color.FgGreen, color.Bold).Printf("All %d server(s) compiled\n", len(ids))
	return nil
}

func checkServer(store *project.Store, projectID, serverID string, cfg *config.Config) (int, error) {
	settings, err := store.ServerSettings(projectID, serverID)
	if err != nil {
		return 0, err
	}
	groups, err := store.RouteGroups(projectID, serverID)
	if err != nil {
		return 0, err
	}

	engine, errs := server.NewEngine(logger.Nop(), settings, groups, engineOptions(cfg))
	defer engine.Close()

	rest, gql := engine.Routes()
	fmt.Printf("%s: %d REST route(s), %d GraphQL mount(s)\n", serverID, rest, gql)
	printMountErrors(serverID, errs)
	return len(errs), nil
}
