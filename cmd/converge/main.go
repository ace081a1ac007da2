package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/atomikpanda/converge/internal/actions"
	"github.com/atomikpanda/converge/internal/ageutil"
	"github.com/atomikpanda/converge/internal/audit"
	"github.com/atomikpanda/converge/internal/color"
	"github.com/atomikpanda/converge/internal/config"
	"github.com/atomikpanda/converge/internal/dbadmin"
	"github.com/atomikpanda/converge/internal/fsys"
	"github.com/atomikpanda/converge/internal/host"
	"github.com/atomikpanda/converge/internal/keygen"
	"github.com/atomikpanda/converge/internal/logging"
	"github.com/atomikpanda/converge/internal/platform"
	"github.com/atomikpanda/converge/internal/runner"
	"github.com/atomikpanda/converge/internal/sequencer"
	"github.com/atomikpanda/converge/internal/spec"
	"github.com/atomikpanda/converge/internal/tags"
)

var (
	manifestFile string
	verbose      bool
	logLevel     string
	logFormat    string
	historyPath  string

	logger = logging.Discard()
)

func main() {
	color.Init()
	root := buildRoot()
	if err := root.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for a rejected manifest and 1 for anything else.
func exitCode(err error) int {
	var verr *spec.ValidationError
	if errors.As(err, &verr) {
		return 2
	}
	return 1
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "converge",
		Short: "Idempotent declarative host provisioning",
		Long: `converge brings a machine to the state described by a manifest of actions:
packages, files, templates, links, git checkouts, commands, services, accounts
and databases. Every action is guarded, so running a manifest twice is safe.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = logging.New(cmd.ErrOrStderr(), logLevel, logFormat)
			return nil
		},
	}

	addGlobalFlags(root.PersistentFlags())

	root.AddCommand(
		applyCmd(),
		planCmd(),
		validateCmd(),
		logCmd(),
		keygenCmd(),
		encryptCmd(),
		decryptCmd(),
		tagCmd(),
		platformCmd(),
	)
	return root
}

func addGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&manifestFile, "file", "f", "converge.yaml", "path to the manifest (.yaml, .yml, .json or .jsonc)")
	fs.BoolVarP(&verbose, "verbose", "v", false, "show skipped actions and the full trace")
	fs.StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	fs.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	fs.StringVar(&historyPath, "history", "", "run history database (default $"+audit.EnvPath+" or ~/.local/share/converge/history.db)")
}

// loadSpecs reads the manifest and returns the specs that apply to this
// machine.
func loadSpecs() (*config.Manifest, []spec.Spec, error) {
	m, err := config.Load(manifestFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load manifest %q: %w", manifestFile, err)
	}
	machine, err := tags.Load(tags.Path())
	if err != nil {
		return nil, nil, err
	}
	specs, dropped, err := m.Specs(machine.Tags, platform.Current())
	if err != nil {
		return nil, nil, err
	}
	for _, key := range dropped {
		logger.Debug("action not for this machine", "key", key)
	}
	return m, specs, nil
}

func openHistory() (*audit.Store, error) {
	path := historyPath
	if path == "" {
		var err error
		if path, err = audit.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return audit.Open(path)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// --- apply -------------------------------------------------------------------

func applyCmd() *cobra.Command {
	var (
		timeout       time.Duration
		actionTimeout time.Duration
		noHistory     bool
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Converge this machine to the manifest",
		Example: `  converge apply
  converge apply -f vagrant.yaml --action-timeout 10m -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			m, specs, err := loadSpecs()
			if err != nil {
				return err
			}
			// ordering problems are reported before any key is generated
			if _, err := sequencer.Order(specs); err != nil {
				return err
			}
			mat, err := m.LoadSecrets(nil)
			if err != nil {
				return err
			}
			for _, name := range mat.Generated {
				logger.Info("generated keypair", "name", name)
			}

			dbs := dbadmin.NewPool(os.Getenv)
			defer dbs.Close()
			h := host.Local(os.DirFS(m.TemplateDir()), dbs)

			r := runner.New(h, &actions.Executor{Vars: m.Vars, Keys: mat.Keys, Secrets: mat.Vault})
			r.ActionTimeout = actionTimeout
			r.Manifest = absPath(manifestFile)
			r.Log = logger
			r.Out = cmd.OutOrStdout()
			r.Verbose = verbose
			if !noHistory {
				store, err := openHistory()
				if err != nil {
					logger.Warn("run history unavailable", "err", err)
				} else {
					defer store.Close()
					r.History = store
				}
			}

			rec, runErr := r.Run(ctx, specs)
			if rec != nil {
				if err := rec.Render(cmd.OutOrStdout(), verbose); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "bound the whole run (0 = none)")
	cmd.Flags().DurationVar(&actionTimeout, "action-timeout", 0, "bound each action unless it sets its own timeout (0 = none)")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record the run")
	return cmd
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// --- plan / validate ---------------------------------------------------------

func planCmd() *cobra.Command {
	var graph bool
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what apply would do, without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, specs, err := loadSpecs()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if graph {
				return writeGraph(out, specs)
			}

			ctx, stop := signalContext()
			defer stop()
			dbs := dbadmin.NewPool(os.Getenv)
			defer dbs.Close()
			h := host.Local(os.DirFS(m.TemplateDir()), dbs)
			r := runner.New(h, &actions.Executor{Vars: m.Vars})
			r.Log = logger
			steps, err := r.Plan(ctx, specs)
			if err != nil {
				return err
			}
			return runner.WritePlan(out, steps)
		},
	}
	cmd.Flags().BoolVar(&graph, "graph", false, "print dependency edges instead of guard verdicts")
	return cmd
}

func writeGraph(w io.Writer, specs []spec.Spec) error {
	edges, err := sequencer.Graph(specs)
	if err != nil {
		return err
	}
	if len(edges) == 0 {
		fmt.Fprintln(w, "(no dependencies)")
		return nil
	}
	for _, e := range edges {
		if _, err := fmt.Fprintf(w, "%s %s %s\n", e.From, color.Dim("->"), e.To); err != nil {
			return err
		}
	}
	return nil
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the manifest and its dependency graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, specs, err := loadSpecs()
			if err != nil {
				return err
			}
			ordered, err := sequencer.Order(specs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d actions\n", color.BoldGreen("valid"), manifestFile, len(ordered))
			if verbose {
				for i, s := range ordered {
					fmt.Fprintf(cmd.OutOrStdout(), "%3d. %s\n", i+1, s.Key())
				}
			}
			return nil
		},
	}
}

// --- log ---------------------------------------------------------------------

func logCmd() *cobra.Command {
	var (
		runID  string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show run history",
		Example: `  converge log
  converge log --limit 5
  converge log --run 3f2a --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory()
			if err != nil {
				return fmt.Errorf("open run history: %w", err)
			}
			defer store.Close()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			out := cmd.OutOrStdout()

			if runID != "" {
				run, rec, err := store.Record(ctx, runID)
				if err != nil {
					return err
				}
				if asJSON {
					return rec.WriteNDJSON(out)
				}
				fmt.Fprintf(out, "%s %s  %s\n", color.Bold(run.Command), run.Manifest, run.StartedAt.Local().Format(time.DateTime))
				return rec.Render(out, true)
			}

			runs, err := store.Runs(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "(no runs recorded)")
				return nil
			}
			fmt.Fprintln(out, color.Bold(fmt.Sprintf("%-36s  %-19s  %-7s  %-22s  %s",
				"RUN", "STARTED", "COMMAND", "APPLIED/SKIPPED/FAILED", "MANIFEST")))
			fmt.Fprintln(out, color.Dim(strings.Repeat("-", 110)))
			for _, r := range runs {
				counts := fmt.Sprintf("%-22s", fmt.Sprintf("%d/%d/%d", r.Summary.Applied, r.Summary.Skipped, r.Summary.Failed))
				if r.Summary.Failed > 0 {
					counts = color.BoldRed(counts)
				} else {
					counts = color.Green(counts)
				}
				fmt.Fprintf(out, "%-36s  %-19s  %-7s  %s  %s\n",
					r.ID, r.StartedAt.Local().Format(time.DateTime), r.Command, counts, r.Manifest)
			}
			fmt.Fprintf(out, "\nhistory: %s\n", store.Path())
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "show the full trace of one run (id or unique prefix)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "with --run, print the trace as NDJSON")
	return cmd
}

// --- keygen ------------------------------------------------------------------

func keygenCmd() *cobra.Command {
	var (
		algorithm string
		bits      int
		comment   string
		out       string
		force     bool
	)
	cmd := &cobra.Command{
		Use:     "keygen",
		Short:   "Write a new SSH keypair (PATH and PATH.pub)",
		Example: `  converge keygen --out ~/.ssh/id_ed25519 --algorithm ed25519 --comment vagrant@gitlab`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := platform.ExpandPath(out)
			files := fsys.OS{}
			if exists, err := files.Exists(path); err != nil {
				return err
			} else if exists && !force {
				return fmt.Errorf("%s already exists (use --force to replace it)", path)
			}
			kp, err := keygen.Generate(keygen.Options{Algorithm: keygen.Algorithm(algorithm), Bits: bits, Comment: comment})
			if err != nil {
				return err
			}
			defer kp.Close()
			if err := files.WriteFile(path, kp.PrivateKey.Bytes(), "", "", 0o600); err != nil {
				return err
			}
			if err := files.WriteFile(path+".pub", []byte(kp.PublicKey+"\n"), "", "", 0o644); err != nil {
				return err
			}
			logger.Info("wrote keypair", "path", path, "algorithm", algorithm)
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s.pub\n", path, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&algorithm, "algorithm", string(keygen.RSA), "rsa or ed25519")
	cmd.Flags().IntVar(&bits, "bits", keygen.DefaultRSABits, "rsa key size")
	cmd.Flags().StringVar(&comment, "comment", "", "key comment")
	cmd.Flags().StringVar(&out, "out", "id_rsa", "private key path")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing key")
	return cmd
}

// --- encrypt / decrypt -------------------------------------------------------

func encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <file>",
		Short: "Encrypt a secrets file with the configured age key (writes <file>.age)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := ageKey()
			if err != nil {
				return err
			}
			src := args[0]
			dst := ageutil.EncryptedPath(src)
			fmt.Fprintf(cmd.OutOrStdout(), "encrypting %s -> %s\n", src, dst)
			return key.EncryptFile(src, dst)
		},
	}
}

func decryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt <file.age>",
		Short: "Decrypt an age-encrypted file (writes without the .age extension)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := ageKey()
			if err != nil {
				return err
			}
			src := args[0]
			dst := ageutil.PlainPath(src)
			if dst == src {
				return fmt.Errorf("%s does not end in .age", src)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "decrypting %s -> %s\n", src, dst)
			return key.DecryptFile(src, dst)
		},
	}
}

func ageKey() (*ageutil.Key, error) {
	key := ageutil.KeyFromEnv()
	if key == nil {
		return nil, fmt.Errorf("no age key configured; set %s or %s", ageutil.EnvPassphrase, ageutil.EnvIdentity)
	}
	return key, nil
}

// --- tag ---------------------------------------------------------------------

func tagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Manage the machine tags that select actions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Print this machine's tags",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := tags.Load(tags.Path())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "machine file: %s\n", tags.Path())
				if len(m.Tags) == 0 {
					fmt.Fprintln(out, "(no tags)")
					return nil
				}
				for _, t := range m.Tags {
					fmt.Fprintf(out, "  - %s\n", t)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "add <tag>",
			Short: "Add a tag to this machine",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := tags.Add(tags.Path(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added tag %q\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <tag>",
			Short: "Remove a tag from this machine",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := tags.Remove(tags.Path(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed tag %q\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

// --- platform ----------------------------------------------------------------

func platformCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "platform",
		Short: "Print the detected OS and default package manager",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			goos := platform.Current()
			manager := platform.DefaultPackageManager(goos)
			if manager == "" {
				manager = "(none found)"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "os:              %s\n", goos)
			fmt.Fprintf(out, "package manager: %s\n", manager)
			logger.Debug("platform detected", "os", goos, "manager", manager)
			return nil
		},
	}
}
