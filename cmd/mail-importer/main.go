package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/google/mail-importer/internal/config"
	"github.com/google/mail-importer/internal/runtime"
)

// app carries state resolved once the command line is parsed.
type app struct {
	cfgPath string
	cfg     config.Config
	logger  *slog.Logger
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		runtime.DefaultLogger().Error("mail-importer failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd(&app{})
	root.SetArgs(args)
	root.SetOut(out)
	return root.ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "mail-importer",
		Short:         "Import a Thunderbird mailbox into Gmail, preserving folders and flags",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd.Flags())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "YAML config file (default ~/.mailimporter/config.yaml)")
	pf.String("user", "me", "Gmail account to import into")
	pf.String("client-secret", "", "OAuth client secret JSON (default ~/.mailimporter/client_secret.json)")
	pf.String("token-dir", "", "directory for the file keyring backend")
	pf.String("ledger", "", "SQLite outcome ledger path (default ~/.mailimporter/ledger.db)")
	pf.BoolP("verbose", "v", false, "log at debug level")

	root.AddCommand(newImportCmd(a), newAuthCmd(a), newReportCmd(a))
	return root
}

// load reads config sources and binds every changed flag over them.
func (a *app) load(flags *pflag.FlagSet) error {
	v, err := config.New(a.cfgPath)
	if err != nil {
		return err
	}
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "help" || !f.Changed {
			return
		}
		if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
			bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
		}
	})
	if bindErr != nil {
		return bindErr
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = runtime.NewLogger(cfg.Verbose)
	return nil
}
