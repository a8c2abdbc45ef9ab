package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/yuxki/dytrust"
	"github.com/yuxki/dytrust/pkg/certs"
	"github.com/yuxki/dytrust/pkg/check"
	"github.com/yuxki/dytrust/pkg/date"
	"github.com/yuxki/dytrust/pkg/embedded"
	"github.com/yuxki/dytrust/pkg/revocation"
)

// ErrNotPassed is returned by the validate command when the conclusion is
// not PASSED.
var ErrNotPassed = errors.New("validation did not pass")

type validateFlags struct {
	cms bool
	at  string
}

func newValidateCmd(root *rootFlags) *cobra.Command {
	flags := &validateFlags{}

	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a certificate bundle once and print the audit trail",
		Long: "Validate the first certificate of a PEM bundle with the other certificates " +
			"as issuers. With --cms, FILE is a DER CMS SignedData: its signer is validated " +
			"with the certificates and the revocation data it carries.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), cmd.OutOrStdout(), root.config, args[0], flags)
		},
	}

	cmd.Flags().BoolVar(&flags.cms, "cms", false, "FILE is a DER encoded CMS SignedData")
	cmd.Flags().StringVar(&flags.at, "at", "", "control time in RFC 3339 (default: validation.control_time or now)")

	return cmd
}

// readTarget returns the certificate to validate, its issuers and the
// offline revocation data found in the file.
func readTarget(path string, cms bool) (*certs.Certificate, []*certs.Certificate, *revocation.Offline, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, err
	}

	logger := roleLogger(validatorRole)
	if !cms {
		leaf, issuers, err := dytrust.ParseBundle(raw)
		return leaf, issuers, revocation.NewOffline(revocation.WithOfflineLogger(logger)), err
	}

	material, err := embedded.Extract(raw, embedded.WithLogger(logger))
	if err != nil {
		return nil, nil, nil, err
	}
	if material.Signer == nil {
		return nil, nil, nil, dytrust.ErrEmptyBundle
	}

	return material.Signer, material.Certificates, material.Offline(revocation.WithOfflineLogger(logger)), nil
}

func runValidate(ctx context.Context, w io.Writer, cfgPath, path string, flags *validateFlags) error {
	cfg, errs := loadConfig(cfgPath)
	if errs != nil {
		return errors.Join(errs...)
	}
	setupLogger(cfg, os.Stderr)
	logger := roleLogger(validatorRole)

	at := cfg.ControlTime
	if flags.at != "" {
		t, err := time.Parse(time.RFC3339, flags.at)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		at = t.UTC()
	}

	trust, err := loadTrustAnchors(cfg.TrustAnchors)
	if err != nil {
		return err
	}

	leaf, issuers, offline, err := readTarget(path, flags.cms)
	if err != nil {
		return err
	}

	repos, err := newRepositories(ctx, cfg)
	if err != nil {
		return err
	}
	defer repos.close()

	var source revocation.Source = offline
	var freshness revocation.Freshness
	if online := newRepositorySource(cfg, repos.repo, logger); online != nil {
		freshness = online.Freshness()
		now := date.Now(date.NowGMT)
		if !at.IsZero() {
			now = date.Fixed(at)
		}
		// Embedded data that is not fresh at the control time falls through
		// to the online source.
		source = revocation.NewComposite(
			[]revocation.Source{offline, online},
			revocation.WithCompositeLogger(logger),
			revocation.WithCompositeFreshness(freshness, now),
		)
	}

	validator := newValidator(cfg, trust, source, freshness, logger)
	conclusion := validator.Validate(logger.WithContext(ctx), leaf, issuers, at)

	if err := renderConclusion(w, conclusion); err != nil {
		return err
	}
	log.Debug().Str("indication", string(conclusion.Indication)).Msg("Validation completed.")

	if !conclusion.IsPassed() {
		return ErrNotPassed
	}
	return nil
}

// renderConclusion writes the audit trail as a table followed by the
// indication.
func renderConclusion(w io.Writer, c check.Conclusion) error {
	table := tablewriter.NewTable(w)
	table.Header("#", "Subject", "Check", "Status", "Level", "Indication")

	rows := make([][]string, 0, len(c.Results))
	for i, r := range c.Results {
		indication := string(r.Indication)
		if r.SubIndication != check.NoSubIndication {
			indication += "/" + string(r.SubIndication)
		}
		message := r.MessageTag
		if r.ErrorTag != "" {
			message += " " + r.ErrorTag
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			r.Subject,
			message,
			string(r.Status),
			r.Level.String(),
			indication,
		})
	}
	if err := table.Bulk(rows); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	indication := string(c.Indication)
	if c.SubIndication != check.NoSubIndication {
		indication += "/" + string(c.SubIndication)
	}
	_, err := fmt.Fprintf(w, "Indication: %s\n", indication)
	return err
}
