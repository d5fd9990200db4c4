// Package list provides the models list command code.
package list

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/ardanlabs/unbg/cmd/unbg/config"
	"github.com/ardanlabs/unbg/sdk/tools/installer"
	"github.com/ardanlabs/unbg/sdk/tools/models"
	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "list",
	Short: "List the installed models",
	Long: `List the installed models after verifying them against the lockfile

Environment Variables:
      UNBG_MODELS  (default: $HOME/.unbg/models)  The path to the models directory`,
	Run: main,
}

func init() {
	Cmd.Flags().String("root", "", "The path to the models directory")
	Cmd.Flags().String("format", "table", "Output format: table, json, yaml")
}

func main(cmd *cobra.Command, args []string) {
	if err := run(cmd); err != nil {
		fmt.Println("ERROR:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command) error {
	v, err := config.Load(cmd)
	if err != nil {
		return err
	}

	lock, err := installer.Verify(v.GetString("root"))
	if err != nil {
		return err
	}

	format := v.GetString("format")
	if format != "table" {
		return config.Print(os.Stdout, format, lock.Models)
	}

	printTable(lock.Models)

	return nil
}

func printTable(lms []models.LockModel) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "MODEL\tREVISION\tSOURCE\tFILES\tSIZE")

	for _, lm := range lms {
		var size int64
		for _, f := range lm.Files {
			size += f.Size
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", lm.ModelID, lm.Revision, lm.Source, strings.Join(fileNames(lm), ","), formatSize(size))
	}

	w.Flush()
}

func fileNames(lm models.LockModel) []string {
	names := make([]string, len(lm.Files))
	for i, f := range lm.Files {
		names[i] = f.Path
	}

	return names
}

func formatSize(bytes int64) string {
	const (
		kb = 1000
		mb = kb * 1000
		gb = mb * 1000
	)

	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/gb)
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/mb)
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/kb)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
