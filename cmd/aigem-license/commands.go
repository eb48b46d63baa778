package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"aigem/internal/app"
	"aigem/internal/config"
	"aigem/internal/infrastructure"
	"aigem/pkg/contracts"
	apiv1 "aigem/pkg/contracts/api/v1"
	"aigem/pkg/contracts/domain"
)

// errAccessDenied makes `check` exit with status 2 without printing an error.
var errAccessDenied = errors.New("access denied")

// cliOptions carries what tests need to replace.
type cliOptions struct {
	configFile string
	verbose    bool
	appOptions []app.Option
}

func newRootCommand(appOptions []app.Option) *cobra.Command {
	opts := &cliOptions{appOptions: appOptions}

	root := &cobra.Command{
		Use:           "aigem-license",
		Short:         "Activate and inspect the AIGEM license of this device",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default is the application config.yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr at debug level")

	root.AddCommand(
		runStatusCommand(opts),
		runActivateCommand(opts),
		runHeartbeatCommand(opts),
		runDeactivateCommand(opts),
		runFingerprintCommand(opts),
		runCheckCommand(opts),
		runServeCommand(opts),
		runVersionCommand(),
	)
	return root
}

// build loads configuration and constructs the application. Only serve keeps
// telemetry exporters; one-shot commands run with no-op providers.
func (o *cliOptions) build(cmd *cobra.Command, serve bool) (*app.Application, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configFile != "" {
		cfg, err = config.LoadFrom(o.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	var logger *slog.Logger
	if serve {
		logger, err = infrastructure.InitializeLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	} else {
		cfg.Telemetry.TraceExporter = "none"
		cfg.Telemetry.MetricExporter = "none"
		logging := cfg.Logging
		logging.Level = "error"
		if o.verbose {
			logging.Level = "debug"
		}
		logger = infrastructure.NewLogger(logging, cmd.ErrOrStderr())
	}

	return app.New(cfg, logger, o.appOptions...)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runStatusCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Validate the stored activation offline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.build(cmd, false)
			if err != nil {
				return err
			}
			status := a.Validator.Validate(cmd.Context())
			return printJSON(cmd.OutOrStdout(), apiv1.LicenseStatusResponse{
				ValidationStatus: status,
				Features:         domain.FeaturesFor(status.Tier),
				Limits:           domain.DefaultLimits[status.Tier],
			})
		},
	}
}

func runActivateCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <license-key>",
		Short: "Activate this device with a license key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.build(cmd, false)
			if err != nil {
				return err
			}
			result, err := a.Validator.Activate(cmd.Context(), args[0])
			if err != nil {
				if printErr := printJSON(cmd.OutOrStdout(), apiv1.LicenseActivateResponse{
					Success: false,
					Tier:    domain.TierFree,
					Message: err.Error(),
				}); printErr != nil {
					return printErr
				}
				return err
			}
			return printJSON(cmd.OutOrStdout(), apiv1.LicenseActivateResponse{
				Success: result.Success,
				Tier:    result.Tier,
				Message: result.Message,
			})
		},
	}
}

func runHeartbeatCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat",
		Short: "Refresh the activation with the licensing server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.build(cmd, false)
			if err != nil {
				return err
			}
			result := a.Validator.Heartbeat(cmd.Context())
			return printJSON(cmd.OutOrStdout(), apiv1.HeartbeatResultResponse{
				Outcome: string(result.Outcome),
				Reason:  result.Reason,
			})
		},
	}
}

func runDeactivateCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate",
		Short: "Remove the activation record from this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.build(cmd, false)
			if err != nil {
				return err
			}
			if err := a.Validator.Deactivate(cmd.Context()); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]bool{"deactivated": true})
		},
	}
}

func runFingerprintCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the device ID to quote in support requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.build(cmd, false)
			if err != nil {
				return err
			}
			fp := a.Fingerprinter.Derive(cmd.Context())
			return printJSON(cmd.OutOrStdout(), apiv1.FingerprintResponse{
				ID:         fp.ID,
				Confidence: string(fp.Confidence),
				Platform:   a.Platform.Name(),
			})
		},
	}
}

func runCheckCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <tier|feature>",
		Short: "Exit 0 if the current license unlocks a tier or feature, 2 otherwise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.build(cmd, false)
			if err != nil {
				return err
			}

			resp := apiv1.AccessCheckResponse{}
			if tier, ok := domain.ParseTier(args[0]); ok {
				resp.RequiredTier = tier
			} else {
				feature := domain.Feature(strings.ToLower(strings.TrimSpace(args[0])))
				required, ok := domain.RequiredTier(feature)
				if !ok {
					return fmt.Errorf("unknown tier or feature: %q", args[0])
				}
				resp.RequiredTier = required
				resp.Feature = string(feature)
			}

			status := a.Validator.Validate(cmd.Context())
			resp.CurrentTier = status.Tier
			resp.Allowed = domain.HasAccess(status.Tier, resp.RequiredTier)

			if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
				return err
			}
			if !resp.Allowed {
				return errAccessDenied
			}
			return nil
		},
	}
}

func runServeCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the local license API and send periodic heartbeats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.build(cmd, true)
			if err != nil {
				return err
			}
			return a.RunUntilSignal()
		},
	}
}

func runVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd.OutOrStdout(), contracts.GetVersionInfo())
		},
	}
}
