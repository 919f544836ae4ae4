package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/avc/patientforms/internal/config"
	"github.com/avc/patientforms/internal/domain/patientform"
	"github.com/avc/patientforms/internal/platform/hipaa"
	"github.com/avc/patientforms/internal/screen"
)

const exportPageSize = 100

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export selected patient forms to a CSV or XLSX file",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			ids, _ := flags.GetStringSlice("ids")
			profileName, _ := flags.GetString("profile")
			formatName, _ := flags.GetString("format")
			out, _ := flags.GetString("out")
			actor, _ := flags.GetString("actor")
			purpose, _ := flags.GetString("purpose")

			if len(ids) == 0 {
				return fmt.Errorf("--ids is required")
			}
			profile, err := screen.ParseProfile(profileName)
			if err != nil {
				return err
			}
			format, err := screen.ParseFormat(formatName)
			if err != nil {
				return err
			}
			if out == "" {
				out = format.FileName()
			}
			if !hipaa.IsValidDisclosurePurpose(purpose) {
				return fmt.Errorf("invalid disclosure purpose %q", purpose)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)

			records, err := openRecordStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer records.close()

			pseudo, err := newPseudonymizer(cfg)
			if err != nil {
				return err
			}
			store := records.factory(screen.Owner{UserID: actor, Superuser: true})

			loaded, err := loadSelected(cmd.Context(), store, ids)
			if err != nil {
				return err
			}
			payload, err := screen.NewExporter(patientform.Columns(), pseudo).Export(profile, ids, loaded)
			if err != nil {
				return err
			}
			data, err := screen.Encode(payload, format)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}

			d, err := recordFileDisclosure(logger, hipaa.NewDisclosureStore(), payload, out, actor, purpose)
			if err != nil {
				os.Remove(out)
				return err
			}

			logExport(logger, payload, profile, out, actor)
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d row(s) to %s.\n", len(payload.Rows), out)
			if d != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Disclosure %s recorded for %d record(s).\n", d.ID, len(d.RecordIDs))
			}
			if len(payload.Missing) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Not found: %s\n", strings.Join(payload.Missing, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("ids", nil, "Record ids to export (comma separated)")
	cmd.Flags().String("profile", screen.Identified.OptionName(), "Export profile option name")
	cmd.Flags().String("format", string(screen.FormatCSV), "Output format: csv or xlsx")
	cmd.Flags().String("out", "", "Output path (defaults to the standard export file name)")
	cmd.Flags().String("actor", "cli", "User recorded as the exporter")
	cmd.Flags().String("purpose", hipaa.PurposeOther, "Disclosure purpose: "+strings.Join(hipaa.ValidDisclosurePurposes(), ", "))
	return cmd
}

// loadSelected pages through the store until every id has been seen or the
// store runs out of records.
func loadSelected(ctx context.Context, store screen.RecordStore, ids []string) ([]screen.Record, error) {
	pending := make(map[string]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}

	var loaded []screen.Record
	for page := 1; len(pending) > 0; page++ {
		res, err := store.Fetch(ctx, screen.FetchRequest{Limit: exportPageSize, Page: page})
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		for _, rec := range res.Records {
			if pending[rec.ID] {
				loaded = append(loaded, rec)
				delete(pending, rec.ID)
			}
		}
		if len(res.Records) == 0 || page*exportPageSize >= res.Total {
			break
		}
	}
	return loaded, nil
}

func logExport(logger zerolog.Logger, p *screen.Payload, profile screen.Profile, out, actor string) {
	ev := logger.Info()
	if len(p.Missing) > 0 {
		ev = logger.Warn().Strs("missing", p.Missing)
	}
	ev.Str("profile", profile.String()).
		Int("rows", len(p.Rows)).
		Str("out", out).
		Str("actor", actor).
		Msg("cli export written")
}

// recordFileDisclosure accounts for an export written to a local file. The
// CLI has no running disclosure log, so the entry is validated by store and
// emitted as a structured log line for the log pipeline to retain.
func recordFileDisclosure(logger zerolog.Logger, store *hipaa.DisclosureStore, p *screen.Payload, out, actor, purpose string) (*hipaa.Disclosure, error) {
	if len(p.RecordIDs) == 0 {
		return nil, nil
	}
	d := &hipaa.Disclosure{
		RecordIDs:   append([]string(nil), p.RecordIDs...),
		Profile:     p.Profile.String(),
		Purpose:     purpose,
		Method:      "file",
		ArtifactID:  out,
		DisclosedBy: actor,
	}
	if err := store.Record(d); err != nil {
		return nil, fmt.Errorf("record disclosure: %w", err)
	}
	logger.Info().
		Str("disclosure_id", d.ID.String()).
		Strs("record_ids", d.RecordIDs).
		Str("profile", d.Profile).
		Str("purpose", d.Purpose).
		Str("method", d.Method).
		Str("artifact", d.ArtifactID).
		Str("disclosed_by", d.DisclosedBy).
		Time("date_disclosed", d.DateDisclosed).
		Msg("disclosure recorded")
	return d, nil
}
