package main

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	babelstorage "github.com/Sonael/Babel-Storage"
	"github.com/Sonael/Babel-Storage/pkg/logging"
	"github.com/Sonael/Babel-Storage/pkg/metadata"
	"github.com/Sonael/Babel-Storage/pkg/progress"
	"github.com/Sonael/Babel-Storage/pkg/signature"
)

// newStorage builds the orchestrator from the config file and the
// shared flags, with a progress tracker wired in unless --quiet.
func newStorage(cmd *cobra.Command) (*babelstorage.Storage, *progress.Tracker, error) {
	configPath, _ := cmd.Flags().GetString("config")
	quiet, _ := cmd.Flags().GetBool("quiet")

	fc, err := babelstorage.LoadFileConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	cfg := babelstorage.Config{}
	if quiet {
		cfg.Logger = logging.Quiet()
	} else {
		cfg.Logger = logging.New(os.Stderr, slog.LevelInfo)
	}

	var tracker *progress.Tracker
	if !quiet {
		tracker = progress.NewTracker()
		cfg.Progress = tracker
	}

	return babelstorage.New(fc.Apply(cfg)), tracker, nil
}

// watchProgress prints a live progress line for one operation until
// done is closed.
func watchProgress(tracker *progress.Tracker, op *progress.Operation, done <-chan struct{}) {
	if tracker == nil {
		<-done
		return
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			fmt.Fprint(os.Stderr, "\r\033[K")
			return
		case <-ticker.C:
			if update, ok := tracker.Get(op.ID()); ok && update.State == progress.StateRunning {
				fmt.Fprintf(os.Stderr, "\r\033[K%5.1f%%  %s", update.Percent, update.Message)
			}
		}
	}
}

func operationContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// configStrict reads the strict default from the config file. Callers
// OR it with the --strict flag, so either one turns strict mode on; the
// flag cannot turn off a strict default set in the config.
func configStrict(cmd *cobra.Command) bool {
	configPath, _ := cmd.Flags().GetString("config")
	fc, err := babelstorage.LoadFileConfig(configPath)
	if err != nil {
		return false
	}
	return fc.Strict
}

func newUploadCommand() *cobra.Command {
	var metadataPath, privkeyPath string

	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Store a file in the library and write its metadata",
		Args:  requireArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if metadataPath == "" {
				return fmt.Errorf("%w: --metadata is required", errUsage)
			}

			input, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			store, tracker, err := newStorage(cmd)
			if err != nil {
				return err
			}

			opts := babelstorage.UploadOptions{}
			if privkeyPath != "" {
				key, err := signature.LoadPrivateKey(privkeyPath)
				if err != nil {
					return err
				}
				opts.PrivateKey = key
			}

			ctx, cancel := operationContext()
			defer cancel()

			op := tracker.Begin("upload")
			opts.Operation = op
			progressDone := make(chan struct{})
			go watchProgress(tracker, op, progressDone)

			rec, err := store.Upload(ctx, input, filepath.Base(args[0]), opts)
			close(progressDone)
			if err != nil {
				return err
			}

			if err := metadata.WriteFile(metadataPath, rec); err != nil {
				return err
			}
			fmt.Printf("stored %s: %d chunks, metadata at %s\n",
				rec.OriginalName, rec.ChunkCount, metadataPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&metadataPath, "metadata", "", "output metadata file")
	cmd.Flags().StringVar(&privkeyPath, "privkey", "", "PKCS#8 PEM private key; enables signing")
	return cmd
}

func newDownloadCommand() *cobra.Command {
	var metadataPath, outputPath, pubkeyPath string
	var strict bool

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Reconstruct a file from its metadata",
		Args:  requireArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if metadataPath == "" || outputPath == "" {
				return fmt.Errorf("%w: --metadata and --output are required", errUsage)
			}

			strict = strict || configStrict(cmd)
			rec, err := metadata.ReadFile(metadataPath, strict)
			if err != nil {
				return err
			}

			store, tracker, err := newStorage(cmd)
			if err != nil {
				return err
			}

			opts := babelstorage.DownloadOptions{Strict: strict}
			if pubkeyPath != "" {
				pub, err := signature.LoadPublicKey(pubkeyPath)
				if err != nil {
					return err
				}
				opts.PublicKey = pub
			}

			ctx, cancel := operationContext()
			defer cancel()

			op := tracker.Begin("download")
			opts.Operation = op
			progressDone := make(chan struct{})
			go watchProgress(tracker, op, progressDone)

			res, err := store.Download(ctx, rec, opts)
			close(progressDone)
			if err != nil {
				return err
			}

			if err := os.WriteFile(outputPath, res.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outputPath, err)
			}

			if res.Verified {
				fmt.Printf("reconstructed %s (%d bytes, verified)\n", outputPath, len(res.Data))
			} else {
				fmt.Printf("reconstructed %s (%d bytes) UNVERIFIED:\n", outputPath, len(res.Data))
				for _, warning := range res.Warnings {
					fmt.Printf("  chunk %d: %v\n", warning.Index, warning.Err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&metadataPath, "metadata", "", "input metadata file")
	cmd.Flags().StringVar(&outputPath, "output", "", "reconstructed file destination")
	cmd.Flags().StringVar(&pubkeyPath, "pubkey", "", "PEM public key; enables signature verification")
	cmd.Flags().BoolVar(&strict, "strict", false, "fatalize every integrity or signature anomaly")
	return cmd
}

func newVerifyMetadataCommand() *cobra.Command {
	var metadataPath, pubkeyPath string
	var strict bool

	cmd := &cobra.Command{
		Use:   "verify-metadata",
		Short: "Offline checks of a metadata file (schema, invariants, signature)",
		Args:  requireArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if metadataPath == "" {
				return fmt.Errorf("%w: --metadata is required", errUsage)
			}

			strict = strict || configStrict(cmd)
			rec, err := metadata.ReadFile(metadataPath, strict)
			if err != nil {
				return err
			}

			store, _, err := newStorage(cmd)
			if err != nil {
				return err
			}

			var pub *rsa.PublicKey
			if pubkeyPath != "" {
				loaded, err := signature.LoadPublicKey(pubkeyPath)
				if err != nil {
					return err
				}
				pub = loaded
			}

			report, err := store.VerifyMetadata(rec, pub, strict)
			for _, problem := range report.Problems {
				if problem.Index >= 0 {
					fmt.Printf("chunk %d: %s\n", problem.Index, problem.Message)
				} else {
					fmt.Printf("record: %s\n", problem.Message)
				}
			}
			if err != nil {
				return err
			}
			if report.OK() {
				if report.SignatureChecked {
					fmt.Println("metadata OK, signature valid")
				} else {
					fmt.Println("metadata OK")
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&metadataPath, "metadata", "", "input metadata file")
	cmd.Flags().StringVar(&pubkeyPath, "pubkey", "", "PEM public key; enables signature verification")
	cmd.Flags().BoolVar(&strict, "strict", false, "fatalize every anomaly, require a signature")
	return cmd
}

func newInfoCommand() *cobra.Command {
	var metadataPath string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print a human-readable summary of a metadata file",
		Args:  requireArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if metadataPath == "" {
				return fmt.Errorf("%w: --metadata is required", errUsage)
			}
			rec, err := metadata.ReadFile(metadataPath, false)
			if err != nil {
				return err
			}
			fmt.Print(babelstorage.Info(rec))
			return nil
		},
	}
	cmd.Flags().StringVar(&metadataPath, "metadata", "", "input metadata file")
	return cmd
}

func newKeygenCommand() *cobra.Command {
	var privkeyPath, pubkeyPath string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an RSA-4096 signing key pair",
		Args:  requireArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(os.Stderr, "generating RSA-4096 key pair, this takes a moment...")
			key, err := signature.GenerateKeyPair()
			if err != nil {
				return err
			}
			if err := signature.WriteKeyPair(key, privkeyPath, pubkeyPath); err != nil {
				return err
			}
			fp, err := signature.Fingerprint(&key.PublicKey)
			if err != nil {
				return err
			}
			fmt.Printf("private key: %s\npublic key:  %s\nfingerprint: %s\n",
				privkeyPath, pubkeyPath, fp)
			return nil
		},
	}
	cmd.Flags().StringVar(&privkeyPath, "privkey", "private.pem", "private key destination")
	cmd.Flags().StringVar(&pubkeyPath, "pubkey", "public.pem", "public key destination")
	return cmd
}

// requireArgs wraps cobra.ExactArgs so argument mistakes map to the
// usage exit code.
func requireArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		return nil
	}
}
