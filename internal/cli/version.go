package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mrz1836/mwcbridge/internal/output"
	"github.com/mrz1836/mwcbridge/internal/version"
)

// releaseChecker is replaced in tests.
//
//nolint:gochecknoglobals // test hook
var releaseChecker = version.NewChecker()

type versionReport struct {
	version.Info

	Latest          string `json:"latest,omitempty"`
	UpdateAvailable bool   `json:"update_available,omitempty"`
	ReleaseURL      string `json:"release_url,omitempty"`
}

func newVersionCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := GetCmdContext(cmd)
			report := versionReport{Info: version.Current()}

			if check {
				ctx, cancel := contextWithTimeout(cmd, version.DefaultTimeout)
				defer cancel()
				rel, err := releaseChecker.Latest(ctx)
				if err != nil {
					output.Warn(cc.Err, "could not check for updates: %v", err)
				} else {
					report.Latest = rel.TagName
					report.ReleaseURL = rel.URL
					report.UpdateAvailable = version.IsNewer(report.Version, rel.TagName)
				}
			}

			return cc.Fmt.Result(report, func(w io.Writer) error {
				if _, err := fmt.Fprintf(w, "mwcbridge %s (commit %s, built %s, %s, %s)\n",
					report.Version, report.Commit, report.Date, report.GoVersion, report.Platform); err != nil {
					return err
				}
				switch {
				case report.UpdateAvailable:
					_, err := fmt.Fprintf(w, "A newer release is available: %s\n  %s\n", report.Latest, report.ReleaseURL)
					return err
				case report.Latest != "":
					_, err := fmt.Fprintln(w, "You are running the latest release.")
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "check for a newer release")
	return cmd
}
