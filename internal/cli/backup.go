package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/infraguys/genesis-devtools/pkg/backup"
	"github.com/infraguys/genesis-devtools/pkg/hypervisor"
)

var (
	backupDir       string
	backupCompress  bool
	backupFormat    string
	backupEncrypt   bool
	backupMaxCount  int
	backupMinFreeGB uint64
	backupPeriod    string
)

var backupCmd = &cobra.Command{
	Use:   "backup DOMAIN...",
	Short: "Back up libvirt domains, optionally on a schedule",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := backup.Config{
			Dir:       backupDir,
			Domains:   args,
			Compress:  backupCompress,
			Format:    backup.Format(backupFormat),
			MaxCount:  backupMaxCount,
			MinFreeGB: backupMinFreeGB,
		}

		if backupEncrypt {
			creds, err := backup.CredsFromEnv()
			if err != nil {
				return err
			}
			cfg.Creds = creds
		}

		hv, err := hypervisor.Connect()
		if err != nil {
			return err
		}
		defer hv.Close()

		engine := backup.NewEngine(hv, os.Stdout)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if backupPeriod != "" {
			period, err := str2duration.ParseDuration(backupPeriod)
			if err != nil {
				return err
			}
			return engine.RunPeriodic(ctx, cfg, period)
		}

		_, err = engine.Run(ctx, cfg)
		return err
	},
}

func init() {
	backupCmd.Flags().StringVar(&backupDir, "dir", "backups",
		"Directory where backups are stored")
	backupCmd.Flags().BoolVar(&backupCompress, "compress", false,
		"Compress the backup into a tar archive")
	backupCmd.Flags().StringVar(&backupFormat, "format", string(backup.FormatGzip),
		"Archive format: gzip or xz")
	backupCmd.Flags().BoolVar(&backupEncrypt, "encrypt", false,
		"Encrypt the archive with the key from the environment")
	backupCmd.Flags().IntVar(&backupMaxCount, "max-count", 0,
		"Number of backups to retain, 0 keeps all")
	backupCmd.Flags().Uint64Var(&backupMinFreeGB, "min-free-gb", backup.DefaultMinFreeGB,
		"Abort when free disk space drops below this many GiB")
	backupCmd.Flags().StringVar(&backupPeriod, "period", "",
		"Repeat the backup every period, e.g. 1d12h")
	rootCmd.AddCommand(backupCmd)
}
