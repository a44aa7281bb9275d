package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lherron/acctmigrate/internal/cli/appctx"
	"github.com/lherron/acctmigrate/internal/config"
	"github.com/lherron/acctmigrate/internal/migrate"
	"github.com/lherron/acctmigrate/internal/render"
)

var stepsCmd = &cobra.Command{
	Use:   "steps",
	Short: "List migration steps and whether each is enabled",
	RunE:  appctx.WithApp(appctx.Options{}, listSteps),
}

var stepsFormat string

func init() {
	rootCmd.AddCommand(stepsCmd)
	stepsCmd.Flags().StringVarP(&stepsFormat, "output", "o", "", "Output format: table, json, yaml, tsv")
}

type stepInfo struct {
	Position int    `json:"position" yaml:"position"`
	Name     string `json:"name" yaml:"name"`
	Title    string `json:"title" yaml:"title"`
	Variable string `json:"variable" yaml:"variable"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
}

func listSteps(app *appctx.App, cmd *cobra.Command, args []string) error {
	format, err := render.ParseFormat(stepsFormat)
	if err != nil {
		return err
	}

	var infos []stepInfo
	var rows [][]string
	for i, s := range migrate.Steps() {
		info := stepInfo{
			Position: i + 1,
			Name:     s.Name,
			Title:    s.Title,
			Variable: config.StepEnv(s.Name),
			Enabled:  app.Config.Steps[s.Name],
		}
		infos = append(infos, info)

		enabled := "no"
		if info.Enabled {
			enabled = "yes"
		}
		rows = append(rows, []string{strconv.Itoa(info.Position), info.Name, info.Title, info.Variable, enabled})
	}

	r := render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: format})
	return r.Render(infos, []string{"#", "STEP", "TITLE", "VARIABLE", "ENABLED"}, rows)
}
