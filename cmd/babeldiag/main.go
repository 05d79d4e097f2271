// Command babeldiag diagnoses upload problems: oracle reachability, a
// codec self-test, and a storage estimate for a candidate file.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Sonael/Babel-Storage/pkg/babelclient"
	"github.com/Sonael/Babel-Storage/pkg/babelcodec"
	"github.com/Sonael/Babel-Storage/pkg/chunker"
)

func main() {
	baseURL := flag.String("oracle-url", babelclient.DefaultBaseURL, "oracle base URL")
	skipNetwork := flag.Bool("offline", false, "skip the oracle connection test")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: babeldiag [flags] [FILE]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a codec self-test, checks oracle reachability, and\n")
		fmt.Fprintf(os.Stderr, "prints a storage estimate for FILE if given.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	failed := false

	fmt.Println("codec self-test")
	if err := codecSelfTest(); err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		failed = true
	} else {
		fmt.Println("  ok: round trip, page size, alphabet")
	}

	if !*skipNetwork {
		fmt.Println("oracle connection")
		client := babelclient.New(babelclient.Config{BaseURL: *baseURL})
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := client.Ping(ctx)
		cancel()
		if err != nil {
			fmt.Printf("  FAIL: %v\n", err)
			failed = true
		} else {
			fmt.Printf("  ok: %s reachable\n", *baseURL)
		}
	}

	if flag.NArg() > 0 {
		if err := estimateFile(flag.Arg(0)); err != nil {
			fmt.Printf("  FAIL: %v\n", err)
			failed = true
		}
	}

	if failed {
		os.Exit(1)
	}
}

// codecSelfTest round-trips a handful of payload shapes through the
// page codec.
func codecSelfTest() error {
	payloads := [][]byte{
		{},
		{0x00},
		{0xff},
		[]byte("self test payload"),
		bytes.Repeat([]byte{0xa5}, babelcodec.MaxPayload),
	}
	for _, payload := range payloads {
		page, err := babelcodec.Encode(payload)
		if err != nil {
			return fmt.Errorf("encode %d bytes: %w", len(payload), err)
		}
		if len(page) != babelcodec.PageSize {
			return fmt.Errorf("page is %d symbols, want %d", len(page), babelcodec.PageSize)
		}
		decoded, err := babelcodec.Decode(page)
		if err != nil {
			return fmt.Errorf("decode %d bytes: %w", len(payload), err)
		}
		if !bytes.Equal(decoded, payload) {
			return fmt.Errorf("round trip of %d bytes differs", len(payload))
		}
	}
	return nil
}

func estimateFile(path string) error {
	fmt.Printf("storage estimate for %s\n", path)

	input, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	est, err := chunker.EstimateStorage(input)
	if err != nil {
		return err
	}

	fmt.Printf("  original:    %d bytes\n", est.OriginalSize)
	fmt.Printf("  compressed:  %d bytes\n", est.CompressedSize)
	fmt.Printf("  chunks:      %d\n", est.ChunkCount)
	fmt.Printf("  encoded:     %d symbols (overhead %.4f)\n", est.EncodedSize, est.EncodingOverhead)
	fmt.Printf("  oracle time: ~%ds upload, ~%ds download\n", est.ChunkCount*2, est.ChunkCount)
	return nil
}
