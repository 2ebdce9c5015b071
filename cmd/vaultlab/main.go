// X1-Vaultlab: security labs for a ledger vault program.
//
// vaultlab runs the lab scenarios against an in-process runtime, derives
// program addresses, and inspects the transaction journal and account
// snapshots the runtime produces.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
	"github.com/fortiblox/X1-Vaultlab/pkg/accounts"
	"github.com/fortiblox/X1-Vaultlab/pkg/journal"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

const envPrefix = "VAULTLAB"

// cli is the state one command tree runs with: its merged configuration and
// the logger built from it.
type cli struct {
	v   *viper.Viper
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New(), log: zap.NewNop()}
	cmd := &cobra.Command{
		Use:           "vaultlab",
		Short:         "Ledger vault security labs",
		Version:       fmt.Sprintf("%s (%s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.loadConfig(cmd); err != nil {
				return err
			}
			l, err := newLogger(c.v.GetString("log-level"))
			if err != nil {
				return err
			}
			c.log = l
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "YAML config file")
	flags.String("log-level", "warn", "Log level: debug, info, warn, error")
	flags.String("db", "", "Badger accounts directory (default: in-memory)")
	flags.String("journal", "", "Transaction journal file (default: none)")
	flags.String("program-id", types.VaultLabProgramAddr.String(), "Vault program id")

	cmd.AddCommand(
		c.newDeriveCmd(),
		c.newScenarioCmd(),
		c.newJournalCmd(),
		c.newSnapshotCmd(),
	)
	return cmd
}

// loadConfig merges flags, VAULTLAB_* environment variables and the optional
// config file. Flags win over the environment, which wins over the file.
func (c *cli) loadConfig(cmd *cobra.Command) error {
	c.v.SetEnvPrefix(envPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()
	if err := c.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	path := c.v.GetString("config")
	if path == "" {
		return nil
	}
	c.v.SetConfigFile(path)
	c.v.SetConfigType("yaml")
	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %s not found", path)
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	return cfg.Build()
}

func (c *cli) programID() (types.Pubkey, error) {
	id, err := types.PubkeyFromBase58(c.v.GetString("program-id"))
	if err != nil {
		return types.Pubkey{}, fmt.Errorf("program id: %w", err)
	}
	return id, nil
}

// openLedger opens the accounts store selected by --db. The in-memory store
// is used when no directory is configured.
func (c *cli) openLedger() (accounts.DB, error) {
	path := c.v.GetString("db")
	if path == "" {
		return accounts.NewMemoryDB(), nil
	}
	cfg := accounts.DefaultBadgerDBConfig(path)
	cfg.Logger = badgerLogger{c.log.Named("badger").Sugar()}
	db, err := accounts.NewBadgerDB(cfg)
	if err != nil {
		return nil, err
	}
	c.log.Info("opened ledger", zap.String("path", path))
	return db, nil
}

func (c *cli) requireLedgerPath() (string, error) {
	path := c.v.GetString("db")
	if path == "" {
		return "", errors.New("--db is required")
	}
	return path, nil
}

// openJournal opens the journal selected by --journal, or returns nil.
func (c *cli) openJournal(readOnly bool) (*journal.Journal, error) {
	path := c.v.GetString("journal")
	if path == "" {
		return nil, nil
	}
	cfg := journal.DefaultConfig(path)
	cfg.ReadOnly = readOnly
	cfg.Logger = c.log
	return journal.Open(cfg)
}

// badgerLogger routes badger's internal logs to zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
