package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"mailalias/backend/internal/bootstrap"
	"mailalias/backend/internal/domain"
	"mailalias/backend/internal/service"
	"mailalias/backend/internal/storage/filesystem"
)

// 映射选择
const (
	mapBoth  = "both"
	mapAllow = "allow"
	mapBlock = "block"
)

func (e *offlineEnv) sequencer() *service.Sequencer {
	return bootstrap.NewSequencer(e.cfg, e.backend.Store, bootstrap.NewWriter(e.cfg), e.log)
}

func (e *offlineEnv) service() *service.AliasService {
	return bootstrap.NewAliasService(e.cfg, e.backend.Store, e.sequencer(), e.log)
}

func selectMaps(which string) (doAllow, doBlock bool, err error) {
	switch which {
	case mapBoth:
		return true, true, nil
	case mapAllow:
		return true, false, nil
	case mapBlock:
		return false, true, nil
	}
	return false, false, fmt.Errorf("unknown map %q (want allow, block or both)", which)
}

func newRenderCommand(opts *globalOptions) *cobra.Command {
	var which string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the rendered allow and reject maps without writing them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doAllow, doBlock, err := selectMaps(which)
			if err != nil {
				return failure(cmd.ErrOrStderr(), "Invalid --map value", err.Error())
			}

			env, err := opts.openOffline()
			if err != nil {
				return failure(cmd.ErrOrStderr(), "Failed to open store", err.Error())
			}
			defer env.Close()

			docs, err := env.service().Preview(cmd.Context())
			if err != nil {
				return failure(cmd.ErrOrStderr(), "Failed to read aliases", err.Error())
			}

			out := cmd.OutOrStdout()
			printDoc := func(title, content string) {
				if doAllow && doBlock {
					heading(out, "### %s", title)
				}
				if content != "" {
					fmt.Fprintln(out, content)
				}
			}
			if doAllow {
				printDoc("allow map", docs.Allow)
			}
			if doBlock {
				printDoc("reject map", docs.Block)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&which, "map", mapBoth, "Map to print: allow, block or both")
	return cmd
}

func newReloadCommand(opts *globalOptions) *cobra.Command {
	var which string

	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Write the map files and run the configured reload command",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doAllow, doBlock, err := selectMaps(which)
			if err != nil {
				return failure(cmd.ErrOrStderr(), "Invalid --map value", err.Error())
			}

			env, err := opts.openOffline()
			if err != nil {
				return failure(cmd.ErrOrStderr(), "Failed to open store", err.Error())
			}
			defer env.Close()

			out := cmd.OutOrStdout()
			report, err := env.sequencer().Reload(cmd.Context(), doAllow, doBlock)
			if report != nil {
				for _, path := range report.Written {
					success(out, "wrote %s", path)
				}
			}
			if err != nil {
				return failure(cmd.ErrOrStderr(), "Reload failed", errorLines(err)...)
			}

			switch {
			case len(report.Written) == 0:
				warning(out, "no map paths configured, nothing written")
			case report.Commanded:
				success(out, "reload command finished (%d records)", report.Records)
			default:
				success(out, "%d records rendered, no reload command configured", report.Records)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&which, "map", mapBoth, "Map to rewrite: allow, block or both")
	return cmd
}

func newImportCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import a legacy JSON database keyed by alias into the configured store",
		Long: `Import reads a legacy database file, a JSON object keyed by alias whose
values carry the record fields, validates every record and saves the whole
batch in one step. Nothing is saved if any record is invalid. The map files
are regenerated afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := filesystem.ReadLegacyDatabase(args[0])
			if err != nil {
				return failure(cmd.ErrOrStderr(), "Failed to read legacy database", err.Error())
			}

			env, err := opts.openOffline()
			if err != nil {
				return failure(cmd.ErrOrStderr(), "Failed to open store", err.Error())
			}
			defer env.Close()

			out := cmd.OutOrStdout()
			result, err := env.service().Save(cmd.Context(), service.SaveInput{Aliases: records})
			if err != nil {
				return failure(cmd.ErrOrStderr(), "Import failed", errorLines(err)...)
			}

			success(out, "imported %d aliases", len(result.Saved))
			if result.ReloadErr != nil {
				warning(out, "map reload failed: %v", result.ReloadErr)
			}
			return nil
		},
	}
}

// errorLines 将错误展开为逐行说明
func errorLines(err error) []string {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Lines()
	}

	errs := multierr.Errors(err)
	lines := make([]string, 0, len(errs))
	for _, e := range errs {
		lines = append(lines, e.Error())
	}
	return lines
}
