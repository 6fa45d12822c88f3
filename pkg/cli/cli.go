// Package cli implements the ledgerctl operator surface (§6): a cobra
// command tree wiring together every component package (schema detection,
// trigger installation, checkpointing, the four verification protocols,
// state reconstruction, forensic scanning) into the external interface an
// operator actually runs against a live database.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgledger/auditor/pkg/bootstrap"
	"github.com/pgledger/auditor/pkg/checkpoint"
	"github.com/pgledger/auditor/pkg/codec"
	"github.com/pgledger/auditor/pkg/config"
	"github.com/pgledger/auditor/pkg/database"
	"github.com/pgledger/auditor/pkg/forensic"
	"github.com/pgledger/auditor/pkg/ledger"
	"github.com/pgledger/auditor/pkg/metrics"
	"github.com/pgledger/auditor/pkg/reconstruct"
	"github.com/pgledger/auditor/pkg/schema"
	"github.com/pgledger/auditor/pkg/signer"
	"github.com/pgledger/auditor/pkg/trigger"
	"github.com/pgledger/auditor/pkg/verify"
)

// app bundles every component ledgerctl's subcommands wire together against
// a single database connection.
type app struct {
	cfg          *config.Config
	db           *database.Client
	store        *ledger.Store
	introspector *schema.Introspector
	installer    *trigger.Installer
	signer       signer.Signer
	checkpoints  *checkpoint.Service
	verifier     *verify.Verifier
	reconstructor *reconstruct.Reconstructor
	scanner      *forensic.Scanner
	metrics      *metrics.Registry
}

// newApp loads configuration from the environment and connects to the
// database. Every subcommand builds one of these in its RunE rather than at
// package init, so a missing DATABASE_URL surfaces as a command error, not a
// panic at process start.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDevelopment(); err != nil {
		return nil, err
	}

	db, err := database.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	keyPath := cfg.RSAKeyPath
	if cfg.SignerBackend == "bls" {
		keyPath = cfg.BLSKeyPath
	}
	sgn, err := signer.New(cfg.SignerBackend, cfg.SignerID, keyPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("construct signer: %w", err)
	}

	store := ledger.NewStore(db)
	return &app{
		cfg:           cfg,
		db:            db,
		store:         store,
		introspector:  schema.NewIntrospector(db),
		installer:     trigger.NewInstaller(db),
		signer:        sgn,
		checkpoints:   checkpoint.NewService(store, sgn),
		verifier:      verify.NewVerifier(store),
		reconstructor: reconstruct.NewReconstructor(store),
		scanner:       forensic.NewScanner(store),
		metrics:       metrics.NewRegistry(),
	}, nil
}

func (a *app) Close() {
	a.db.Close()
}

// ExitCode maps an error returned by Execute to the process exit code §7
// specifies: 0 on success, 1 when the failure is a security-significant
// integrity failure (chain_break, entry_tampered, checkpoint_stale,
// state_divergence, signature verification failure, pubkey fingerprint
// mismatch, cross-reference mismatch), 2 for everything else (structural
// faults, transient faults, policy failures, cobra usage errors).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	integrityErrs := []error{
		verify.ErrChainBreak,
		verify.ErrEntryTampered,
		verify.ErrCheckpointStale,
		verify.ErrStateDivergence,
		signer.ErrVerificationFailed,
		checkpoint.ErrPubkeyFingerprintMismatch,
		checkpoint.ErrCrossReferenceMismatch,
	}
	for _, target := range integrityErrs {
		if errors.Is(err, target) {
			return 1
		}
	}
	return 2
}

// Execute builds the ledgerctl command tree and runs it against os.Args.
// cmd/ledgerctl/main.go's entire job is calling this.
func Execute() error {
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the hash-chained ledger auditor against a Postgres database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		bootstrapCmd(),
		verifyCheckpointCmd(),
		verifyLiveCmd(),
		verifyRowCmd(),
		reconstructCmd(),
		verifyChainCmd(),
		checkpointCmd(),
		snapshotCmd(),
		timelineCmd(),
		forensicCmd(),
	)
	return root.Execute()
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// printJSON renders v as indented JSON for human consumption. It is used
// for every command except the two that emit a signed manifest (snapshot,
// verify-row), which must use codec.Canonicalize's compact, sorted-key form
// because their output is exactly what a verifier re-hashes.
func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printCanonical(v map[string]interface{}) error {
	b, err := codec.Canonicalize(v)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func bootstrapCmd() *cobra.Command {
	var (
		primaryKey       string
		fields           string
		snapshotExisting bool
		createCheckpoint bool
		fieldsToHash     string
	)
	cmd := &cobra.Command{
		Use:   "bootstrap <table>",
		Short: "Detect a host table's schema, snapshot its rows, and install its ledger trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			orchestrator := bootstrap.NewOrchestrator(a.store, a.introspector, a.installer, a.checkpoints)
			result, err := orchestrator.Bootstrap(cmd.Context(), args[0], bootstrap.Options{
				PrimaryKey:       primaryKey,
				Fields:           splitCSV(fields),
				SnapshotExisting: snapshotExisting,
				CreateCheckpoint: createCheckpoint,
				FieldsToHash:     splitCSV(fieldsToHash),
			})
			if result != nil && result.Success {
				descriptor := &ledger.TableDescriptor{
					TableName:      args[0],
					PrimaryKey:     result.PrimaryKey,
					TrackedColumns: result.ColumnsTracked,
				}
				if mkErr := os.MkdirAll(a.cfg.DescriptorDir, 0o755); mkErr != nil {
					fmt.Fprintf(os.Stderr, "warning: could not create descriptor dir: %v\n", mkErr)
				} else if saveErr := schema.SaveDescriptor(descriptorPath(a.cfg, args[0]), descriptor); saveErr != nil {
					fmt.Fprintf(os.Stderr, "warning: could not save table descriptor: %v\n", saveErr)
				}
			}
			if result != nil {
				_ = printJSON(result)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&primaryKey, "primary-key", "", "primary key column (auto-detected if empty)")
	cmd.Flags().StringVar(&fields, "fields", "", "comma-separated columns to track (default: all columns)")
	cmd.Flags().BoolVar(&snapshotExisting, "snapshot-existing", true, "replay existing rows as synthetic INSERTs")
	cmd.Flags().BoolVar(&createCheckpoint, "create-checkpoint", true, "compute and sign an initial checkpoint")
	cmd.Flags().StringVar(&fieldsToHash, "fields-to-hash", "", "comma-separated columns in the initial checkpoint's scope (default: all tracked columns)")
	return cmd
}

func verifyChainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-chain <table>",
		Short: "Walk the ledger's hash chain and verify prev_hash/chain_hash linkage (P1)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			start := time.Now()
			result, err := a.verifier.VerifyChain(cmd.Context(), args[0])
			a.metrics.ObserveVerify(args[0], "chain", err != nil)
			_ = start
			if result != nil {
				_ = printJSON(result)
			}
			return err
		},
	}
}

func checkpointCmd() *cobra.Command {
	var fieldsToHash string
	cmd := &cobra.Command{
		Use:   "checkpoint <table>",
		Short: "Compute and persist a signed Merkle-root checkpoint over the ledger's current chain-hash stream (C7)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			start := time.Now()
			cp, err := a.checkpoints.Compute(cmd.Context(), args[0], splitCSV(fieldsToHash))
			outcome := "ok"
			if errors.Is(err, checkpoint.ErrEmptyTable) {
				outcome = "empty_table"
			} else if err != nil {
				outcome = "sign_error"
			}
			a.metrics.ObserveCheckpoint(args[0], outcome, time.Since(start))
			if cp != nil {
				_ = printJSON(cp)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&fieldsToHash, "fields-to-hash", "", "comma-separated columns this checkpoint's scope covers (default: all tracked columns)")
	return cmd
}

func verifyCheckpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-checkpoint <table>",
		Short: "Recompute the current Merkle root and compare it to the latest persisted checkpoint (P2)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.verifier.VerifyCheckpoint(cmd.Context(), args[0])
			a.metrics.ObserveVerify(args[0], "checkpoint", err != nil)
			if result != nil {
				_ = printJSON(result)
			}
			return err
		},
	}
}

func verifyLiveCmd() *cobra.Command {
	var (
		primaryKey   string
		columns      string
		fieldsToHash string
	)
	cmd := &cobra.Command{
		Use:   "verify-live <table>",
		Short: "Compare the ledger's reconstructed state against the live host table (P3)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			pk, cols, err := resolveSchema(cmd.Context(), a, args[0], primaryKey, splitCSV(columns))
			if err != nil {
				return err
			}

			result, err := a.verifier.VerifyLive(cmd.Context(), args[0], pk, cols, splitCSV(fieldsToHash))
			a.metrics.ObserveVerify(args[0], "live", err != nil)
			if result != nil {
				_ = printJSON(result)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&primaryKey, "primary-key", "", "primary key column (auto-detected if empty)")
	cmd.Flags().StringVar(&columns, "columns", "", "comma-separated live-table columns to read (default: all non-key tracked columns)")
	cmd.Flags().StringVar(&fieldsToHash, "fields-to-hash", "", "comma-separated columns to include in the comparison (default: all)")
	return cmd
}

func verifyRowCmd() *cobra.Command {
	var (
		fieldsToHash string
		trustedRoot  string
	)
	cmd := &cobra.Command{
		Use:   "verify-row <table> <record-id>",
		Short: "Emit a per-record Merkle inclusion proof against the reconstructed state (P4)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			table, recordID := args[0], args[1]
			fields := splitCSV(fieldsToHash)

			root := trustedRoot
			if root == "" {
				if cp, err := a.checkpoints.Latest(cmd.Context(), table); err == nil {
					root = cp.RootHash
				}
			}

			result, err := a.verifier.VerifyRecord(cmd.Context(), table, recordID, fields, root)
			a.metrics.ObserveVerify(table, "record", err != nil)
			if result == nil {
				return err
			}

			fieldsHashed := interface{}(fields)
			if len(fields) == 0 {
				fieldsHashed = "all"
			}
			manifest := map[string]interface{}{
				"proof_type": "record_state_proof",
				"table_name": table,
				"record_id":  recordID,
				"record_data": result.RecordData,
				"verification": map[string]interface{}{
					"state_root":         result.StateRoot,
					"ledger_chain_root":  nil,
					"timestamp":          codec.FormatTimestamp(time.Now()),
					"fields_hashed":      fieldsHashed,
				},
				"merkle_proof": map[string]interface{}{
					"leaf_hash":   result.Proof.LeafHash,
					"proof_path":  result.Proof.Path,
					"leaf_index":  result.Proof.LeafIndex,
				},
				"trusted_checkpoint": nullableString(root),
			}
			if printErr := printCanonical(manifest); printErr != nil {
				return printErr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&fieldsToHash, "fields-to-hash", "", "comma-separated columns included in the proof's leaf hash (default: all)")
	cmd.Flags().StringVar(&trustedRoot, "trusted-root", "", "independently obtained checkpoint root to verify against (default: the table's latest checkpoint)")
	return cmd
}

func reconstructCmd() *cobra.Command {
	var (
		asOfTx       int64
		recordID     string
		fieldsToHash string
	)
	cmd := &cobra.Command{
		Use:   "reconstruct <table>",
		Short: "Replay the ledger's history into a record_id -> payload state map (C6)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			opts := reconstruct.Options{RecordID: recordID}
			if asOfTx > 0 {
				opts.AsOfTx = &asOfTx
			}
			state, err := a.reconstructor.Reconstruct(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			root, err := reconstruct.StateRoot(state, splitCSV(fieldsToHash))
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"table_name": args[0],
				"state":      state,
				"state_root": root,
			})
		},
	}
	cmd.Flags().Int64Var(&asOfTx, "as-of-tx", 0, "stop replay after this tx_order (inclusive); 0 means latest")
	cmd.Flags().StringVar(&recordID, "record-id", "", "replay only entries for a single record")
	cmd.Flags().StringVar(&fieldsToHash, "fields-to-hash", "", "comma-separated columns in the reported state root (default: all)")
	return cmd
}

func snapshotCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "snapshot <table>",
		Short: "Emit a signed manifest of the ledger's reconstructed state as of its latest entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			table := args[0]
			state, err := a.reconstructor.Reconstruct(cmd.Context(), table, reconstruct.Options{})
			if err != nil {
				return err
			}
			root, err := reconstruct.StateRoot(state, nil)
			if err != nil {
				return err
			}

			entries, err := a.store.StreamEntries(cmd.Context(), table, ledger.EntryFilter{})
			if err != nil {
				return err
			}
			var lastTxOrder int64
			if len(entries) > 0 {
				lastTxOrder = entries[len(entries)-1].TxOrder
			}

			signature, err := a.signer.Sign(root)
			if err != nil {
				return fmt.Errorf("sign snapshot manifest: %w", err)
			}

			manifest := map[string]interface{}{
				"table_name":        table,
				"reconstructed_rows": len(state),
				"last_tx_order":     lastTxOrder,
				"merkle_root":       root,
				"timestamp_utc":     codec.FormatTimestamp(time.Now()),
				"signature":         signature,
			}
			b, err := codec.Canonicalize(manifest)
			if err != nil {
				return err
			}
			if out != "" {
				return os.WriteFile(out, b, 0o644)
			}
			fmt.Println(string(b))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write the manifest to this path instead of stdout")
	return cmd
}

func timelineCmd() *cobra.Command {
	var (
		recordID    string
		fromTx      int64
		toTx        int64
		verifyChain bool
	)
	cmd := &cobra.Command{
		Use:   "timeline <table>",
		Short: "List a table's (or a single record's) ledger entries in tx_order, optionally verifying the sub-chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			filter := ledger.EntryFilter{RecordID: recordID}
			if fromTx > 0 {
				filter.FromTx = &fromTx
			}
			if toTx > 0 {
				filter.ToTx = &toTx
			}
			entries, err := a.store.StreamEntries(cmd.Context(), args[0], filter)
			if err != nil {
				return err
			}

			result := map[string]interface{}{
				"table_name": args[0],
				"entries":    entries,
			}

			// A record-scoped timeline's own chain starts at that record's
			// first entry, not necessarily the global genesis hash: its
			// first row's prev_hash links into entries belonging to other
			// records, which verifyChain here deliberately does not
			// require to be genesis.
			if verifyChain && len(entries) > 0 {
				valid := true
				for i := 1; i < len(entries); i++ {
					if entries[i].PrevHash != entries[i-1].ChainHash {
						valid = false
						break
					}
				}
				result["sub_chain_valid"] = valid
			}

			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&recordID, "record-id", "", "restrict to a single record's entries")
	cmd.Flags().Int64Var(&fromTx, "from-tx", 0, "lower tx_order bound (inclusive)")
	cmd.Flags().Int64Var(&toTx, "to-tx", 0, "upper tx_order bound (inclusive)")
	cmd.Flags().BoolVar(&verifyChain, "verify-chain", false, "check prev_hash/chain_hash linkage within the listed entries")
	return cmd
}

func forensicCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forensic <table>",
		Short: "Scan the ledger for tx_order gaps, duplicate tx_ids, timestamp rewinds, and chain inconsistencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.scanner.Scan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

// descriptorPath is where bootstrap saves, and resolveSchema later loads,
// a table's descriptor: one YAML file per table under cfg.DescriptorDir
// (§6), so an operator doesn't have to repeat --primary-key/--columns on
// every later verify-live invocation.
func descriptorPath(cfg *config.Config, table string) string {
	return filepath.Join(cfg.DescriptorDir, table+".yaml")
}

// resolveSchema fills in primaryKey/columns from a saved descriptor first,
// falling back to live schema introspection when no descriptor exists yet
// or the caller overrides with explicit flags, so verify-live works both
// against a freshly bootstrapped table and one ledgerctl has never been
// told about explicitly.
func resolveSchema(ctx context.Context, a *app, table, primaryKey string, columns []string) (string, []string, error) {
	if primaryKey != "" && len(columns) > 0 {
		return primaryKey, columns, nil
	}

	pk, cols := primaryKey, columns
	if pk == "" || len(cols) == 0 {
		if descriptor, err := schema.LoadDescriptor(descriptorPath(a.cfg, table)); err == nil {
			if pk == "" {
				pk = descriptor.PrimaryKey
			}
			if len(cols) == 0 {
				for _, c := range descriptor.TrackedColumns {
					if c != pk {
						cols = append(cols, c)
					}
				}
			}
		}
	}
	if pk != "" && len(cols) > 0 {
		return pk, cols, nil
	}

	descriptor, err := a.introspector.Detect(ctx, table, pk, nil)
	if err != nil {
		return "", nil, fmt.Errorf("detect schema: %w", err)
	}
	if pk == "" {
		pk = descriptor.PrimaryKey
	}
	if len(cols) == 0 {
		for _, c := range descriptor.TrackedColumns {
			if c != pk {
				cols = append(cols, c)
			}
		}
		sort.Strings(cols)
	}
	return pk, cols, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
