package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mrz1836/mwcbridge/internal/backup"
	"github.com/mrz1836/mwcbridge/internal/output"
	"github.com/mrz1836/mwcbridge/internal/walletcrypto"
)

type backupReport struct {
	Path     string          `json:"path"`
	Manifest backup.Manifest `json:"manifest"`
}

func newWalletBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <name>",
		Short: "Write an encrypted backup of a wallet",
		Long: `Write the wallet seed, its metadata and its tracked outputs to a backup
file under the home backups directory, encrypted with the wallet password.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := GetCmdContext(cmd)
			password, err := readPassword(cc.Err, fmt.Sprintf("Password for %q: ", args[0]))
			if err != nil {
				return err
			}
			defer walletcrypto.ZeroBytes(password)

			b, path, err := cc.Backups().Create(args[0], password)
			if err != nil {
				return err
			}
			cc.Log.WithField("wallet", args[0]).WithField("path", path).Info("wallet backup written")

			res := backupReport{Path: path, Manifest: b.Manifest}
			return cc.Fmt.Result(res, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Backup of %q written to %s (%d outputs).\n", args[0], path, b.Manifest.Outputs)
				return err
			})
		},
	}
}

func newWalletRestoreBackupCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "restore-backup <file>",
		Short: "Recreate a wallet from a backup file",
		Long: `Recreate a wallet from a backup file. A bare file name is looked up in the
backups directory. The wallet keeps the password the backup was made with and
an existing wallet is never overwritten.`,
		Example: "  mwcbridge wallet restore-backup main-2026-01-02-150405.000.mwcbackup --name main2",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := GetCmdContext(cmd)
			svc := cc.Backups()
			// Check integrity before asking for the password.
			if _, err := svc.Verify(args[0]); err != nil {
				return err
			}
			password, err := readPassword(cc.Err, "Backup password: ")
			if err != nil {
				return err
			}
			defer walletcrypto.ZeroBytes(password)

			m, err := svc.Restore(args[0], password, name)
			if err != nil {
				return err
			}
			return cc.Fmt.Result(m, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Wallet %q restored with %d outputs.\n", m.WalletName, m.Outputs)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "restore under this wallet name instead of the original")
	return cmd
}

func newWalletBackupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List backup files and check their integrity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := GetCmdContext(cmd)
			svc := cc.Backups()
			names, err := svc.List()
			if err != nil {
				return err
			}

			reports := make([]backupReport, 0, len(names))
			for _, n := range names {
				m, err := svc.Verify(n)
				if err != nil {
					cc.Log.WithError(err).WithField("file", n).Warn("skipping unreadable backup")
					continue
				}
				reports = append(reports, backupReport{Path: svc.Path(n), Manifest: *m})
			}
			return cc.Fmt.Result(map[string][]backupReport{"backups": reports}, func(w io.Writer) error {
				if len(reports) == 0 {
					_, err := fmt.Fprintf(w, "No backups in %s\n", svc.Dir())
					return err
				}
				tbl := output.NewTable("WALLET", "CREATED", "OUTPUTS", "FILE").AlignRight(2)
				for _, r := range reports {
					tbl.AddRow(r.Manifest.WalletName, r.Manifest.CreatedAt.Format("2006-01-02 15:04:05"),
						strconv.Itoa(r.Manifest.Outputs), r.Path)
				}
				return tbl.Render(w)
			})
		},
	}
}
