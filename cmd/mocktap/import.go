package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/funnyzak/mocktap/internal/importer"
	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/internal/project"
	"github.com/funnyzak/mocktap/pkg/routes"
)

const defaultImportPort = 3000

var importCmd = &cobra.Command{
	Use:   "import <swagger-or-openapi>...",
	Short: "Import OpenAPI 3 / Swagger 2 endpoints into a project file",
	Long: `Import reads OpenAPI 3 or Swagger 2 documents from files or URLs, groups their
endpoints into route groups and writes the project file back. A missing project
file is created with a single server.`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.NewLogger(&cfg.Log, cfg.Output.Mode)

	serverID := cfg.Project.Server
	if serverID == "" {
		serverID = "main"
	}

	proj, err := project.LoadFile(cfg.Project.File, cfg.Project.ID)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		proj = &project.Project{ID: cfg.Project.ID, Name: cfg.Project.ID}
	case err != nil:
		return err
	}
	if _, ok := proj.Server(serverID); !ok {
		proj.Servers = append(proj.Servers, project.Server{
			ID:       serverID,
			Settings: routes.ServerSettings{Name: serverID, Port: defaultImportPort},
		})
	}

	endpoints, err := importer.LoadEndpoints(cmd.Context(), args...)
	if err != nil {
		return err
	}

	store := project.NewStore(proj)
	report, err := importer.New(log, store).Import(proj.ID, serverID, endpoints)
	if err != nil {
		return err
	}

	updated, err := store.Project(proj.ID)
	if err != nil {
		return err
	}
	if err := project.SaveFile(cfg.Project.File, updated); err != nil {
		return err
	}

	printReport(report, len(endpoints), cfg.Project.File)
	return nil
}

func printReport(report *importer.Report, endpoints int, file string) {
	ok := color.New(color.FgGreen, color.Bold)
	bad := color.New(color.FgRed)

	ok.Printf("Imported %d of %d endpoint(s) into %s\n", len(report.CreatedRoutes), endpoints, file)
	for _, g := range report.CreatedGroups {
		fmt.Printf("  + group %-24s %s\n", g.Name, g.Path)
	}
	for _, g := range report.ReusedGroups {
		fmt.Printf("  = group %-24s %s\n", g.Name, g.Path)
	}
	for _, f := range report.Failures {
		bad.Printf("  ! %s %s: %s\n", f.Endpoint.Method, f.Endpoint.Path, f.Error)
	}
}
