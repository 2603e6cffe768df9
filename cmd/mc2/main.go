package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mc2/mc2/internal/config"
	"github.com/mc2/mc2/internal/domain/document"
	"github.com/mc2/mc2/internal/domain/dossier"
	"github.com/mc2/mc2/internal/domain/patient"
	"github.com/mc2/mc2/internal/extract"
	"github.com/mc2/mc2/internal/middlecare"
	"github.com/mc2/mc2/internal/platform/csvout"
	"github.com/mc2/mc2/internal/platform/db"
	"github.com/mc2/mc2/internal/platform/oracle"
	"github.com/mc2/mc2/internal/redcap"
	"github.com/mc2/mc2/internal/server"
)

const dateFlagLayout = "2006-01-02"

func main() {
	rootCmd := &cobra.Command{
		Use:   "mc2",
		Short: "MiddleCare extraction pipelines: mirror, CSV and RedCap exports",
	}
	rootCmd.PersistentFlags().String("config", "", "path to the configuration file")

	rootCmd.AddCommand(installCmd())
	rootCmd.AddCommand(mcToDBCmd())
	rootCmd.AddCommand(mcToCSVCmd())
	rootCmd.AddCommand(dbToCSVCmd())
	rootCmd.AddCommand(dbToRCCmd())
	rootCmd.AddCommand(dbToPDFCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if cfg.IsDev() {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
	} else {
		log = zerolog.New(os.Stderr).Level(level)
	}
	log = log.With().Timestamp().Str("run_id", uuid.NewString()).Logger()
	return cfg, log, nil
}

func openMirror(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return db.NewPool(ctx, cfg.Mirror.URL, cfg.Mirror.MaxConns, cfg.Mirror.MinConns)
}

// newManager wires an extraction manager for one site. The source connection
// is only opened when the command reads from MiddleCare, the RedCap client
// only when it pushes to the API.
func newManager(ctx context.Context, cfg *config.Config, log zerolog.Logger, site string, opts csvout.Options, withSource, withRedCap bool) (*extract.Manager, func(), error) {
	siteCfg, err := cfg.Site(site)
	if err != nil {
		return nil, nil, err
	}
	pool, err := openMirror(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	closers := []func(){pool.Close}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var source extract.Source
	if withSource {
		ora, err := oracle.Open(ctx, siteCfg.DSN)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { ora.Close() })
		source = middlecare.NewCatalog(ora, site, log)
	}

	var client *redcap.Client
	if withRedCap {
		if err := cfg.ValidateRedCap(); err != nil {
			cleanup()
			return nil, nil, err
		}
		client = redcap.NewClient(cfg.RedCap.APIURL, cfg.RedCap.APIToken, log)
	}

	m := extract.NewManager(extract.Params{
		Site:       site,
		DocBaseURL: siteCfg.DocBaseURL,
		DataDir:    cfg.DataDir,
		Source:     source,
		Dossiers:   dossier.NewRepoPG(pool),
		Documents:  document.NewRepoPG(pool),
		Patients:   patient.NewRepoPG(pool),
		CSV:        csvout.NewWriter(cfg.DataDir, opts, log),
		RedCap:     client,
		Log:        log,
	})
	return m, cleanup, nil
}

func parseDateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return time.Time{}, fmt.Errorf("--%s is required (format %s)", name, dateFlagLayout)
	}
	t, err := time.Parse(dateFlagLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

func splitFlag(cmd *cobra.Command, name string) []string {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func logDone(log zerolog.Logger, started time.Time) {
	log.Info().Dur("duration", time.Since(started)).Msg("done")
}

func installCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Create the mirror database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openMirror(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.Bootstrap(ctx, pool); err != nil {
				return err
			}
			log.Info().Msg("mirror schema installed")
			return nil
		},
	}
}

func mcToDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mc-to-db",
		Short: "Import dossiers, dictionaries and documents from MiddleCare into the mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			started := time.Now()
			ctx := cmd.Context()
			site, _ := cmd.Flags().GetString("site")
			dsp, _ := cmd.Flags().GetString("dsp")

			m, cleanup, err := newManager(ctx, cfg, log, site, csvout.Options{}, true, false)
			if err != nil {
				return err
			}
			defer cleanup()

			if allDSP, _ := cmd.Flags().GetBool("all-dsp"); allDSP {
				_, err := m.ImportAllDossierMetadata(ctx)
				logDone(log, started)
				return err
			}
			if dsp == "" {
				return fmt.Errorf("--dsp is required")
			}
			if err := m.ImportDictionary(ctx, dsp); err != nil {
				return err
			}
			if dictOnly, _ := cmd.Flags().GetBool("dict"); dictOnly {
				logDone(log, started)
				return nil
			}
			if nipro, _ := cmd.Flags().GetString("nipro"); nipro != "" {
				if err := m.ImportDocument(ctx, dsp, nipro); err != nil {
					return err
				}
				logDone(log, started)
				return nil
			}

			deb, err := parseDateFlag(cmd, "deb")
			if err != nil {
				return err
			}
			fin, err := parseDateFlag(cmd, "fin")
			if err != nil {
				return err
			}
			dateUpdate, _ := cmd.Flags().GetBool("date-update")
			if err := m.ImportData(ctx, dsp, deb, fin, splitFlag(cmd, "items"), dateUpdate); err != nil {
				return err
			}
			logDone(log, started)
			return nil
		},
	}
	cmd.Flags().String("site", "", "MiddleCare site name")
	cmd.Flags().String("dsp", "", "dossier id (e.g. DSP2)")
	cmd.Flags().String("deb", "", "period start (YYYY-MM-DD)")
	cmd.Flags().String("fin", "", "period end, exclusive (YYYY-MM-DD)")
	cmd.Flags().String("items", "", "comma-separated item names to restrict the import")
	cmd.Flags().String("nipro", "", "import a single document by id")
	cmd.Flags().Bool("dict", false, "import the dictionary only")
	cmd.Flags().Bool("all-dsp", false, "import the dossier list only")
	cmd.Flags().Bool("date-update", false, "select the window on publication date instead of exam date")
	return cmd
}

func mcToCSVCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mc-to-csv",
		Short: "Extract a period from MiddleCare straight to CSV files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			started := time.Now()
			ctx := cmd.Context()
			site, _ := cmd.Flags().GetString("site")
			dsp, _ := cmd.Flags().GetString("dsp")
			excel, _ := cmd.Flags().GetBool("excel")

			m, cleanup, err := newManager(ctx, cfg, log, site, csvout.Options{ExcelFriendly: excel, RemoveHTML: true}, true, false)
			if err != nil {
				return err
			}
			defer cleanup()

			deb, err := parseDateFlag(cmd, "deb")
			if err != nil {
				return err
			}
			fin, err := parseDateFlag(cmd, "fin")
			if err != nil {
				return err
			}
			files, err := m.ExportSourceDataCSV(ctx, dsp, deb, fin, splitFlag(cmd, "items"))
			if err != nil {
				return err
			}
			log.Info().Strs("files", files).Msg("source data exported")
			logDone(log, started)
			return nil
		},
	}
	cmd.Flags().String("site", "", "MiddleCare site name")
	cmd.Flags().String("dsp", "", "dossier id")
	cmd.Flags().String("deb", "", "period start (YYYY-MM-DD)")
	cmd.Flags().String("fin", "", "period end, exclusive (YYYY-MM-DD)")
	cmd.Flags().String("items", "", "comma-separated item names")
	cmd.Flags().Bool("excel", false, "write Excel-friendly CSV")
	return cmd
}

func dbToCSVCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db-to-csv",
		Short: "Export mirrored dossiers and documents as CSV files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			started := time.Now()
			ctx := cmd.Context()
			site, _ := cmd.Flags().GetString("site")
			dsp, _ := cmd.Flags().GetString("dsp")
			excel, _ := cmd.Flags().GetBool("excel")

			m, cleanup, err := newManager(ctx, cfg, log, site, csvout.Options{ExcelFriendly: excel, RemoveHTML: true}, false, false)
			if err != nil {
				return err
			}
			defer cleanup()

			if list, _ := cmd.Flags().GetBool("list"); list {
				name, err := m.ExportDossierListCSV(ctx)
				if err != nil {
					return err
				}
				log.Info().Str("file", name).Msg("dossier list exported")
				logDone(log, started)
				return nil
			}
			if dsp == "" {
				return fmt.Errorf("--dsp is required")
			}
			if dictOnly, _ := cmd.Flags().GetBool("dict"); dictOnly {
				name, err := m.ExportDictionaryCSV(ctx, dsp)
				if err != nil {
					return err
				}
				log.Info().Str("file", name).Msg("dictionary exported")
				logDone(log, started)
				return nil
			}

			deb, err := parseDateFlag(cmd, "deb")
			if err != nil {
				return err
			}
			fin, err := parseDateFlag(cmd, "fin")
			if err != nil {
				return err
			}
			page, _ := cmd.Flags().GetString("page")
			docType, _ := cmd.Flags().GetString("type")
			files, err := m.ExportDataCSV(ctx, dsp, extract.DataExportOptions{
				Start:        deb,
				End:          fin,
				ItemNames:    splitFlag(cmd, "items"),
				PageLabel:    page,
				DocumentType: docType,
				PatientIDs:   splitFlag(cmd, "nip"),
			})
			if err != nil {
				return err
			}
			log.Info().Strs("files", files).Msg("data exported")
			logDone(log, started)
			return nil
		},
	}
	cmd.Flags().String("site", "", "MiddleCare site name")
	cmd.Flags().String("dsp", "", "dossier id")
	cmd.Flags().String("deb", "", "period start (YYYY-MM-DD)")
	cmd.Flags().String("fin", "", "period end, exclusive (YYYY-MM-DD)")
	cmd.Flags().String("items", "", "comma-separated item names")
	cmd.Flags().String("page", "", "restrict to one page and its detail sheets")
	cmd.Flags().String("type", "", "restrict to one document type")
	cmd.Flags().String("nip", "", "comma-separated internal patient ids")
	cmd.Flags().Bool("dict", false, "export the dictionary only")
	cmd.Flags().Bool("list", false, "export the dossier list only")
	cmd.Flags().Bool("excel", false, "write Excel-friendly CSV")
	return cmd
}

func dbToRCCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db-to-rc",
		Short: "Export mirrored documents as a RedCap dictionary and import records",
		Long: `Builds a RedCap data dictionary from a dossier's mirrored dictionary and
transcodes its documents into importable records. Longitudinal repeat
instances are numbered from document creation order, so re-exports are only
stable when they share the same start date.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			started := time.Now()
			ctx := cmd.Context()
			site, _ := cmd.Flags().GetString("site")
			dsp, _ := cmd.Flags().GetString("dsp")
			noAPICall, _ := cmd.Flags().GetBool("noapicall")

			m, cleanup, err := newManager(ctx, cfg, log, site, csvout.Options{}, false, !noAPICall)
			if err != nil {
				return err
			}
			defer cleanup()
			if dsp == "" {
				return fmt.Errorf("--dsp is required")
			}

			long, _ := cmd.Flags().GetBool("long")
			byDocType, _ := cmd.Flags().GetBool("bydoctype")
			inst, _ := cmd.Flags().GetString("inst")
			instOnly, _ := cmd.Flags().GetBool("inst_only")
			project := redcap.Project{
				ArmName:             cfg.RedCap.ArmName,
				SharedEventName:     cfg.RedCap.SharedEventName,
				RepeatableEventName: cfg.RedCap.RepeatableEventName,
				Longitudinal:        long,
				MainInstrument:      redcap.Instrument{Name: inst, ItemNames: splitFlag(cmd, "items")},
				MainInstrumentOnly:  instOnly,
				EventAsDocumentType: byDocType,
			}

			name, _, err := m.ExportDictionaryRedCap(ctx, dsp, project)
			if err != nil {
				return err
			}
			log.Info().Str("file", name).Msg("redcap dictionary exported")
			if dictOnly, _ := cmd.Flags().GetBool("dict"); dictOnly {
				logDone(log, started)
				return nil
			}

			deb, err := parseDateFlag(cmd, "deb")
			if err != nil {
				return err
			}
			fin, err := parseDateFlag(cmd, "fin")
			if err != nil {
				return err
			}
			overwrite, _ := cmd.Flags().GetBool("overwrite")
			files, err := m.ExportDataRedCap(ctx, dsp, project, extract.RedCapExportOptions{
				Start:     deb,
				End:       fin,
				ItemNames: splitFlag(cmd, "items"),
				APICall:   !noAPICall,
				Overwrite: overwrite,
			})
			if err != nil {
				return err
			}
			log.Info().Strs("files", files).Msg("redcap data exported")
			logDone(log, started)
			return nil
		},
	}
	cmd.Flags().String("site", "", "MiddleCare site name")
	cmd.Flags().String("dsp", "", "dossier id")
	cmd.Flags().String("deb", "", "period start (YYYY-MM-DD)")
	cmd.Flags().String("fin", "", "period end, exclusive (YYYY-MM-DD)")
	cmd.Flags().String("items", "", "comma-separated item names")
	cmd.Flags().Bool("dict", false, "export the dictionary only")
	cmd.Flags().String("inst", "", "main instrument name; with --items, items outside the list keep their own page's form")
	cmd.Flags().Bool("inst_only", false, "drop items outside the main instrument's --items list")
	cmd.Flags().Bool("long", false, "longitudinal layout (shared patient event + repeating document event)")
	cmd.Flags().Bool("bydoctype", false, "one event per document type")
	cmd.Flags().Bool("noapicall", false, "write files only, do not call the RedCap API")
	cmd.Flags().Bool("overwrite", false, "blank cells erase existing RedCap values")
	return cmd
}

func dbToPDFCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db-to-pdf",
		Short: "Download the files of mirrored documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			started := time.Now()
			ctx := cmd.Context()
			site, _ := cmd.Flags().GetString("site")
			dsp, _ := cmd.Flags().GetString("dsp")
			nipro, _ := cmd.Flags().GetString("nipro")
			rev, _ := cmd.Flags().GetInt("rev")
			if dsp == "" {
				return fmt.Errorf("--dsp is required")
			}

			opts := extract.PDFExportOptions{DocumentID: nipro, Revision: rev}
			if nipro == "" {
				if opts.Start, err = parseDateFlag(cmd, "deb"); err != nil {
					return err
				}
				if opts.End, err = parseDateFlag(cmd, "fin"); err != nil {
					return err
				}
				opts.PatientIDs = splitFlag(cmd, "nip")
			}

			m, cleanup, err := newManager(ctx, cfg, log, site, csvout.Options{}, false, false)
			if err != nil {
				return err
			}
			defer cleanup()

			files, err := m.ExportPDF(ctx, dsp, opts)
			if err != nil {
				return err
			}
			log.Info().Strs("files", files).Msg("document files downloaded")
			logDone(log, started)
			return nil
		},
	}
	cmd.Flags().String("site", "", "MiddleCare site name")
	cmd.Flags().String("dsp", "", "dossier id")
	cmd.Flags().String("deb", "", "period start (YYYY-MM-DD)")
	cmd.Flags().String("fin", "", "period end, exclusive (YYYY-MM-DD)")
	cmd.Flags().String("nip", "", "comma-separated internal patient ids")
	cmd.Flags().String("nipro", "", "download a single document by id instead of a period")
	cmd.Flags().Int("rev", 0, "fetch one revision only; out-of-range requests clamp to the current one")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only browse API over the mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			site, _ := cmd.Flags().GetString("site")

			pool, err := openMirror(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			srv := server.New(site, dossier.NewRepoPG(pool), document.NewRepoPG(pool), log)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(cfg.Serve.Addr) }()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case <-quit:
				log.Info().Msg("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}
	cmd.Flags().String("site", "", "MiddleCare site name")
	return cmd
}
