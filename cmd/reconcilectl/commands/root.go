package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/openfroyo/reconcilectl/pkg/config"
)

// envPrefix namespaces environment overrides, e.g. RECONCILECTL_STATE_DB.
const envPrefix = "RECONCILECTL"

// Settings keys. Flags bound to a key share its name unless noted.
const (
	keyLogLevel          = "log-level"
	keyActor             = "actor"
	keyEvaluationTimeout = "evaluation-timeout"
	keyJSON              = "json"
	keyNoColor           = "no-color"
	keyStateDB           = "state-db"
	keyMaxDeletes        = "policy.max-deletes"    // --max-deletes
	keyProtectedKeys     = "policy.protected-keys" // --protected-key
	keyPolicyPaths       = "policy.paths"          // --policy
	keyTracingExporter   = "tracing.exporter"
	keyTracingEndpoint   = "tracing.endpoint"
)

// settings is the merged view of flags, the settings file and the
// environment, in that order of precedence.
type settings struct {
	LogLevel          string
	Actor             string
	EvaluationTimeout time.Duration
	JSON              bool
	NoColor           bool
	StateDB           string
	MaxDeletes        int
	ProtectedKeys     []string
	PolicyPaths       []string
	PolicyConfigured  bool
	TracingExporter   string
	TracingEndpoint   string
}

// app carries per-invocation state so that every root command is
// independent of the others.
type app struct {
	version    string
	v          *viper.Viper
	configPath string
	verbose    bool
	vars       map[string]string
	settings   settings
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	a := &app{version: version, v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "reconcilectl",
		Short: "Check and apply reconciler modules",
		Long: `reconcilectl loads a module of reconcilers and compares the desired state
each one declares against the external system it manages.

Modules can be written as:
  - Starlark scripts (.star) that call register()
  - CUE documents (.cue) with an elements struct
  - YAML documents (.yaml) with an elements list

check reports the aggregate difference without changing anything; apply
reconciles every element and reports what changed.`,
		Version:           fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.initSettings,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "settings file path (default ./.reconcilectl.yaml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.Bool(keyJSON, false, "output in JSON format")
	flags.Bool(keyNoColor, false, "disable colored diff output")
	flags.String(keyStateDB, "", "SQLite database recording run history")
	flags.String(keyLogLevel, "", "log level (trace, debug, info, warn, error)")
	flags.StringToStringVar(&a.vars, "var", nil, "predeclare a Starlark global, as name=value")

	rootCmd.AddCommand(newCheckCommand(a))
	rootCmd.AddCommand(newApplyCommand(a))
	rootCmd.AddCommand(newValidateCommand(a))
	rootCmd.AddCommand(newHistoryCommand(a))

	return rootCmd
}

// initSettings reads the settings file, binds flags and the environment,
// and applies the logging settings.
func (a *app) initSettings(cmd *cobra.Command, _ []string) error {
	v := a.v
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault(keyActor, "")
	v.SetDefault(keyEvaluationTimeout, config.DefaultEvaluationTimeout)
	v.SetDefault(keyTracingExporter, "none")

	if a.configPath != "" {
		v.SetConfigFile(a.configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read settings file %s: %w", a.configPath, err)
		}
	} else {
		v.SetConfigName(".reconcilectl")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("failed to read settings file: %w", err)
			}
		}
	}

	bindings := map[string]string{
		keyLogLevel:      keyLogLevel,
		keyJSON:          keyJSON,
		keyNoColor:       keyNoColor,
		keyStateDB:       keyStateDB,
		keyMaxDeletes:    "max-deletes",
		keyProtectedKeys: "protected-key",
		keyPolicyPaths:   "policy",
	}
	for key, name := range bindings {
		if err := bindFlag(v, key, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}

	a.settings = settings{
		LogLevel:          v.GetString(keyLogLevel),
		Actor:             v.GetString(keyActor),
		EvaluationTimeout: v.GetDuration(keyEvaluationTimeout),
		JSON:              v.GetBool(keyJSON),
		NoColor:           v.GetBool(keyNoColor),
		StateDB:           v.GetString(keyStateDB),
		MaxDeletes:        v.GetInt(keyMaxDeletes),
		ProtectedKeys:     v.GetStringSlice(keyProtectedKeys),
		PolicyPaths:       v.GetStringSlice(keyPolicyPaths),
		TracingExporter:   v.GetString(keyTracingExporter),
		TracingEndpoint:   v.GetString(keyTracingEndpoint),
	}
	a.settings.PolicyConfigured = len(a.settings.PolicyPaths) > 0 ||
		len(a.settings.ProtectedKeys) > 0 ||
		v.IsSet(keyMaxDeletes)

	if a.verbose {
		a.settings.LogLevel = zerolog.LevelDebugValue
	}
	if a.settings.LogLevel != "" {
		level, err := zerolog.ParseLevel(a.settings.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", a.settings.LogLevel, err)
		}
		zerolog.SetGlobalLevel(level)
	}
	if a.settings.NoColor {
		color.NoColor = true
	}

	return nil
}

// bindFlag binds a flag to key when the running command defines it.
func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) error {
	if flag == nil {
		return nil
	}
	if err := v.BindPFlag(key, flag); err != nil {
		return fmt.Errorf("failed to bind flag %s: %w", flag.Name, err)
	}
	return nil
}

// moduleVars converts --var values for the Starlark loader.
func (a *app) moduleVars() map[string]any {
	if len(a.vars) == 0 {
		return nil
	}
	vars := make(map[string]any, len(a.vars))
	for k, val := range a.vars {
		vars[k] = val
	}
	return vars
}
