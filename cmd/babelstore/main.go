// Command babelstore is the CLI front-end for Babel Storage: it maps
// the four core operations onto sub-commands, plus key generation and
// the local dashboard server.
//
// Exit codes: 0 success, 2 usage error, 3 integrity or signature
// failure, 4 oracle failure, 1 anything else.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sonael/Babel-Storage/pkg/babelclient"
	"github.com/Sonael/Babel-Storage/pkg/babelcodec"
	"github.com/Sonael/Babel-Storage/pkg/chunker"
	"github.com/Sonael/Babel-Storage/pkg/metadata"
	"github.com/Sonael/Babel-Storage/pkg/signature"
)

// errUsage marks command-line mistakes so they map to exit code 2.
var errUsage = errors.New("usage error")

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "babelstore: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage):
		return 2
	case errors.Is(err, chunker.ErrChunkHashMismatch),
		errors.Is(err, chunker.ErrFileHashMismatch),
		errors.Is(err, chunker.ErrChunkLengthMismatch),
		errors.Is(err, babelcodec.ErrBadAlphabet),
		errors.Is(err, babelcodec.ErrBadVersion),
		errors.Is(err, babelcodec.ErrBadLength),
		errors.Is(err, signature.ErrBadSignature),
		errors.Is(err, signature.ErrMissingSignature),
		errors.Is(err, metadata.ErrSchema),
		errors.Is(err, metadata.ErrUnsupportedProtocolVersion):
		return 3
	case errors.Is(err, babelclient.ErrOracleUnavailable),
		errors.Is(err, babelclient.ErrOracleProtocolError):
		return 4
	default:
		return 1
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "babelstore",
		Short:         "Store files as coordinates into the Library of Babel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	root.PersistentFlags().String("config", "babelstore.yaml", "config file path")
	root.PersistentFlags().Bool("quiet", false, "suppress progress output")

	root.AddCommand(
		newUploadCommand(),
		newDownloadCommand(),
		newVerifyMetadataCommand(),
		newInfoCommand(),
		newKeygenCommand(),
		newServeCommand(),
	)
	return root
}
