package main

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ldd69/anvil/pkg/config"
	werrors "github.com/ldd69/anvil/pkg/errors"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
	envFile    string
	verbose    bool

	// v layers flags and ANVIL_* environment variables over the config file.
	v *viper.Viper
}

// override binds a command-line flag to a config key.
type override struct {
	key   string
	flag  string
	usage string
}

var overrides = []override{
	{"training.executable", "trainer", "training executable"},
	{"training.runcard", "training-runcard", "training runcard path"},
	{"training.resume", "resume", "value passed after -r when continuing a run"},
	{"training.epochs_per_iteration", "epochs", "epochs per training call (0 reads the runcard)"},
	{"sampling.executable", "sampler", "sampling executable"},
	{"sampling.runcard", "sampling-runcard", "sampling runcard path"},
	{"sampling.output", "run-dir", "run directory (empty reads the sampling runcard)"},
	{"loop.target_acceptance", "target", "target mean acceptance"},
	{"loop.n_sample", "n-sample", "sampling calls per iteration"},
	{"loop.max_iterations", "max-iterations", "stop after this many iterations (0 is unbounded)"},
	{"monitor.enabled", "monitor", "serve the live monitor"},
	{"monitor.addr", "monitor-addr", "live monitor listen address"},
	{"ledger.path", "ledger", "SQLite ledger file (empty disables it)"},
	{"logging.level", "log-level", "log level: debug, info, warn, error"},
	{"logging.format", "log-format", "log format: text, json"},
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	var bindErr error
	cmd := &cobra.Command{
		Use:   "anvil-loop",
		Short: "Train until the sampler's acceptance reaches a target",
		Long: `anvil-loop drives an external training executable and an external sampling
executable in a loop. Each iteration trains for a fixed number of epochs,
samples n times, aggregates acceptance and autocorrelation time, and appends
the result to the run directory. The loop stops once the mean acceptance
reaches the target. An interrupted run resumes from its last recorded row.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if bindErr != nil {
				return bindErr
			}
			return loadEnvFile(opts.envFile)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", config.DefaultConfigPath(), "Configuration file path")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Environment file loaded when present")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging and live process output")

	bindErr = bindOverrides(flags, opts.v)

	cmd.AddCommand(
		newRunCmd(opts),
		newStatusCmd(opts),
		newHistoryCmd(opts),
		newExportCmd(opts),
		newInitCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// bindOverrides registers one flag per override on flags and binds them, plus
// the matching ANVIL_* environment variables, into v.
func bindOverrides(flags *pflag.FlagSet, v *viper.Viper) error {
	flags.String("trainer", "", "")
	flags.String("training-runcard", "", "")
	flags.String("resume", "", "")
	flags.Int("epochs", 0, "")
	flags.String("sampler", "", "")
	flags.String("sampling-runcard", "", "")
	flags.String("run-dir", "", "")
	flags.Float64("target", 0, "")
	flags.Int("n-sample", 0, "")
	flags.Int("max-iterations", 0, "")
	flags.Bool("monitor", false, "")
	flags.String("monitor-addr", "", "")
	flags.String("ledger", "", "")
	flags.String("log-level", "", "")
	flags.String("log-format", "", "")

	for _, o := range overrides {
		if err := bindOverride(flags, v, o); err != nil {
			return err
		}
	}
	v.SetEnvPrefix("ANVIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return nil
}

func bindOverride(flags *pflag.FlagSet, v *viper.Viper, o override) error {
	f := flags.Lookup(o.flag)
	if f == nil {
		return werrors.New(werrors.ErrInternal, werrors.CategoryInternal, "override flag is not defined").
			WithContext("flag", o.flag).
			WithContext("key", o.key)
	}
	f.Usage = o.usage + " (overrides config)"
	if err := v.BindPFlag(o.key, f); err != nil {
		return werrors.Wrap(err, werrors.ErrInternal, werrors.CategoryInternal, "cannot bind override flag").
			WithContext("flag", o.flag)
	}
	return nil
}

// loadEnvFile loads variables from path without overriding ones already
// set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// loadConfig reads the config file (defaults when absent), applies flag and
// environment overrides, and validates the result.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(o.configPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, o.v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOverrides copies every key set by a changed flag or an environment
// variable into cfg.
func applyOverrides(cfg *config.Config, v *viper.Viper) {
	set := func(key string, apply func()) {
		if v.IsSet(key) {
			apply()
		}
	}
	set("training.executable", func() { cfg.Training.Executable = v.GetString("training.executable") })
	set("training.runcard", func() { cfg.Training.Runcard = v.GetString("training.runcard") })
	set("training.resume", func() { cfg.Training.Resume = v.GetString("training.resume") })
	set("training.epochs_per_iteration", func() {
		cfg.Training.EpochsPerIteration = v.GetInt("training.epochs_per_iteration")
	})
	set("sampling.executable", func() { cfg.Sampling.Executable = v.GetString("sampling.executable") })
	set("sampling.runcard", func() { cfg.Sampling.Runcard = v.GetString("sampling.runcard") })
	set("sampling.output", func() { cfg.Sampling.Output = v.GetString("sampling.output") })
	set("loop.target_acceptance", func() { cfg.Loop.TargetAcceptance = v.GetFloat64("loop.target_acceptance") })
	set("loop.n_sample", func() { cfg.Loop.NSample = v.GetInt("loop.n_sample") })
	set("loop.max_iterations", func() { cfg.Loop.MaxIterations = v.GetInt("loop.max_iterations") })
	set("monitor.enabled", func() { cfg.Monitor.Enabled = v.GetBool("monitor.enabled") })
	set("monitor.addr", func() { cfg.Monitor.Addr = v.GetString("monitor.addr") })
	set("ledger.path", func() { cfg.Ledger.Path = v.GetString("ledger.path") })
	set("logging.level", func() { cfg.Logging.Level = v.GetString("logging.level") })
	set("logging.format", func() { cfg.Logging.Format = v.GetString("logging.format") })
}
