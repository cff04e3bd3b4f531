package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kolect-core/internal/audit"
	"github.com/kolect-core/internal/classify"
	"github.com/kolect-core/internal/config"
	"github.com/kolect-core/internal/db"
	"github.com/kolect-core/internal/debug"
	"github.com/kolect-core/internal/intake"
	"github.com/kolect-core/internal/match"
	"github.com/kolect-core/internal/scan"
	"github.com/kolect-core/internal/store"
	"github.com/kolect-core/internal/store/memory"
	"github.com/kolect-core/internal/store/postgres"
	"github.com/kolect-core/internal/verify"
	"github.com/kolect-core/internal/web"
)

// backend is what both store implementations provide
type backend interface {
	store.ScanStore
	audit.Log
}

var (
	policy     config.Policy
	useMemory  bool
	localDebug bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kolect",
		Short: "Signature scan verification and matching",
		Long:  `Classifies signature-sheet scans, matches validation sheets to field scans and records reviewer decisions`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnv(); err != nil {
				return fmt.Errorf("failed to load .env: %w", err)
			}
			debug.SetLevel(config.GetEnv("LOG_LEVEL", "info"))
			if localDebug {
				debug.SetLevel("debug")
			}

			var err error
			policy, err = config.LoadPolicy()
			return err
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVar(&useMemory, "memory", false, "use an in-process store instead of PostgreSQL (nothing is persisted)")
	rootCmd.PersistentFlags().BoolVar(&localDebug, "debug", false, "verbose debug output")

	rootCmd.AddCommand(createServeCmd())
	rootCmd.AddCommand(createMigrateCmd())
	rootCmd.AddCommand(createPingCmd())
	rootCmd.AddCommand(createClassifyCmd())
	rootCmd.AddCommand(createMatchCmd())
	rootCmd.AddCommand(createVerifyCmd())
	rootCmd.AddCommand(createPendingCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openBackend connects to PostgreSQL, or returns an empty in-memory store with --memory
func openBackend(ctx context.Context) (backend, func(), error) {
	if useMemory {
		return memory.New(), func() {}, nil
	}

	conn, err := db.NewConnection(ctx)
	if err != nil {
		return nil, nil, err
	}
	return postgres.New(conn.DB), func() { conn.Close() }, nil
}

func newVerifyService(b backend) *verify.Service {
	return verify.NewService(verify.Config{
		Store:       b,
		Tracker:     audit.NewTracker(b),
		Timeout:     policy.StorageTimeout,
		Concurrency: policy.BulkConcurrency,
		Debug:       localDebug,
	})
}

func newEngine(b backend) *match.Engine {
	return match.NewEngine(match.EngineConfig{
		Store:       b,
		Weights:     &policy.Weights,
		Tiers:       &policy.Tiers,
		Window:      &policy.Window,
		Timeout:     policy.StorageTimeout,
		Concurrency: policy.BulkConcurrency,
	})
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// createServeCmd starts the HTTP API
func createServeCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			webConfig := web.ConfigFromEnv()
			if configFile != "" {
				var err error
				if webConfig, err = web.LoadConfig(configFile); err != nil {
					return fmt.Errorf("failed to load %s: %w", configFile, err)
				}
			}
			webConfig.Debug = webConfig.Debug || localDebug

			ctx := cmd.Context()
			b, closeFn, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			tracker := audit.NewTracker(b)
			classifier := classify.NewClassifier(policy.Classifier)

			services := web.Services{
				Verify: newVerifyService(b),
				Intake: intake.NewService(intake.Config{
					Store:      b,
					Classifier: classifier,
					Tracker:    tracker,
					Timeout:    policy.StorageTimeout,
					Debug:      localDebug,
				}),
				Engine:     newEngine(b),
				Classifier: classifier,
				Tracker:    tracker,
			}

			return web.NewServer(webConfig, services).Start(ctx)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "JSON server config (defaults come from HTTP_* variables)")
	return cmd
}

// createMigrateCmd creates the schema
func createMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create database tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.NewConnection(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := db.CreateSchema(cmd.Context(), conn.DB); err != nil {
				return err
			}
			fmt.Println("Schema is up to date")
			return nil
		},
	}
}

// createPingCmd tests database connectivity
func createPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test database connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, closeFn, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			stats, err := b.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("connected but failed to read scans: %w", err)
			}

			fmt.Println("Database connection successful!")
			fmt.Printf("Scans: %d (unverified %d, pending %d, approved %d, rejected %d)\n",
				stats.Total(), stats.Unverified, stats.Pending, stats.Approved, stats.Rejected)
			return nil
		},
	}
}

// createClassifyCmd runs the doubt rules on the given metrics
func createClassifyCmd() *cobra.Command {
	var signatures int
	var confidence, quality float64

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify a scan's vision metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			metrics := scan.Metrics{ConfidenceScore: confidence}
			if cmd.Flags().Changed("signatures") {
				metrics.TotalSignatures = scan.IntPtr(signatures)
			}
			if cmd.Flags().Changed("quality") {
				metrics.QualityScore = scan.FloatPtr(quality)
			}

			classification := classify.NewClassifier(policy.Classifier).Classify(metrics)
			out := map[string]interface{}{"flagged": classification.Flagged}
			if classification.Reason != nil {
				out["reason"] = *classification.Reason
				out["description"] = classification.Reason.Description()
			}
			return printJSON(out)
		},
	}

	cmd.Flags().IntVar(&signatures, "signatures", 0, "total signatures (omit when unknown)")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "vision confidence, 0 to 1")
	cmd.Flags().Float64Var(&quality, "quality", 0, "image quality score, 0 to 100 (omit when unknown)")
	return cmd
}

// createMatchCmd matches one validation sheet against field scans
func createMatchCmd() *cobra.Command {
	var extracted scan.ExtractedData

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Find the field scan a validation sheet belongs to",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, closeFn, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			result, err := newEngine(b).Match(cmd.Context(), localDebug, extracted)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.Flags().StringVar(&extracted.CollaboratorName, "name", "", "collaborator name read off the sheet")
	cmd.Flags().StringVar(&extracted.Initiative, "initiative", "", "initiative name")
	cmd.Flags().IntVar(&extracted.TotalSignatures, "signatures", 0, "total signatures on the sheet")
	return cmd
}

// createVerifyCmd groups reviewer decisions
func createVerifyCmd() *cobra.Command {
	var reviewer string

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Record reviewer decisions",
	}
	verifyCmd.PersistentFlags().StringVar(&reviewer, "reviewer", os.Getenv("USER"), "reviewer id")

	verifyCmd.AddCommand(createApproveCmd(&reviewer))
	verifyCmd.AddCommand(createRejectCmd(&reviewer))
	verifyCmd.AddCommand(createBulkCmd(&reviewer))
	return verifyCmd
}

func createApproveCmd(reviewer *string) *cobra.Command {
	var total, valid, invalid int
	var correction verify.Correction

	cmd := &cobra.Command{
		Use:   "approve [scan-id]",
		Short: "Approve a scan with corrected values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("total") {
				correction.TotalSignatures = scan.IntPtr(total)
			}
			if cmd.Flags().Changed("valid") {
				correction.ValidSignatures = scan.IntPtr(valid)
			}
			if cmd.Flags().Changed("invalid") {
				correction.InvalidSignatures = scan.IntPtr(invalid)
			}

			b, closeFn, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			outcome, err := newVerifyService(b).Approve(cmd.Context(), args[0], correction, *reviewer)
			if err != nil {
				return err
			}
			return printJSON(outcome)
		},
	}

	cmd.Flags().IntVar(&total, "total", 0, "corrected total signatures")
	cmd.Flags().IntVar(&valid, "valid", 0, "corrected valid signatures")
	cmd.Flags().IntVar(&invalid, "invalid", 0, "corrected invalid signatures")
	cmd.Flags().StringVar(&correction.Initiative, "initiative", "", "corrected initiative")
	cmd.Flags().StringVar(&correction.Notes, "notes", "", "reviewer notes")
	return cmd
}

func createRejectCmd(reviewer *string) *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   "reject [scan-id]",
		Short: "Reject a scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, closeFn, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			outcome, err := newVerifyService(b).Reject(cmd.Context(), args[0], *reviewer, notes)
			if err != nil {
				return err
			}
			return printJSON(outcome)
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "reviewer notes")
	return cmd
}

func createBulkCmd(reviewer *string) *cobra.Command {
	var status, notes string

	cmd := &cobra.Command{
		Use:   "bulk [scan-id...]",
		Short: "Apply one decision to many scans",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, ok := scan.ParseStatus(status)
			if !ok {
				return fmt.Errorf("unknown status %q", status)
			}

			b, closeFn, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			result, err := newVerifyService(b).BulkDecide(cmd.Context(), args, parsed, notes, *reviewer)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.Flags().StringVar(&status, "status", "approved", "approved or rejected")
	cmd.Flags().StringVar(&notes, "notes", "", "reviewer notes (defaults per decision)")
	return cmd
}

// createPendingCmd lists the review queue
func createPendingCmd() *cobra.Command {
	var reason string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List scans awaiting review",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *scan.DoubtReason
			if reason != "" {
				r := scan.DoubtReason(strings.ToUpper(reason))
				if r.Description() == "" {
					return fmt.Errorf("unknown doubt reason %q", reason)
				}
				filter = &r
			}

			b, closeFn, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			page, err := newVerifyService(b).Pending(cmd.Context(), filter, limit, offset)
			if err != nil {
				return err
			}
			return printJSON(page)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "only this doubt reason")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}
