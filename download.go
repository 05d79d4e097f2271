package babelstorage

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Sonael/Babel-Storage/pkg/babelcodec"
	"github.com/Sonael/Babel-Storage/pkg/chunker"
	"github.com/Sonael/Babel-Storage/pkg/metadata"
	"github.com/Sonael/Babel-Storage/pkg/progress"
	"github.com/Sonael/Babel-Storage/pkg/signature"
)

// DownloadOptions tunes one download.
type DownloadOptions struct {
	// PublicKey enables signature verification before any fetch.
	PublicKey *rsa.PublicKey
	// Strict fatalizes every hash, length, schema or signature
	// anomaly. Without it, per-chunk anomalies degrade to warnings and
	// the result is returned marked unverified.
	Strict bool
	// Operation carries progress for this download.
	Operation *progress.Operation
}

// DownloadResult is the decode-side outcome. Verified is false when
// any anomaly was tolerated in non-strict mode.
type DownloadResult struct {
	Data     []byte
	Verified bool
	Warnings []chunker.Warning
}

// Download runs the decode-side pipeline: verify the signature, fetch
// every page by coordinate, decode, check per-chunk and whole-file
// integrity, decompress.
func (s *Storage) Download(ctx context.Context, rec *metadata.FileRecord, opts DownloadOptions) (*DownloadResult, error) {
	op := opts.Operation
	if op == nil {
		op = s.tracker.Begin("download")
	}
	res, err := s.download(ctx, rec, opts, op)
	if err != nil {
		op.Publish(progress.StateError, 0, err.Error())
		return nil, err
	}
	msg := fmt.Sprintf("%d bytes reconstructed", len(res.Data))
	if !res.Verified {
		msg += " (unverified)"
	}
	op.Publish(progress.StateCompleted, 100, msg)
	return res, nil
}

func (s *Storage) download(ctx context.Context, rec *metadata.FileRecord, opts DownloadOptions, op *progress.Operation) (*DownloadResult, error) {
	var warnings []chunker.Warning
	unverified := false
	tolerate := func(index int, err error) error {
		if opts.Strict {
			if index < 0 {
				return err
			}
			return &chunker.ChunkError{Index: index, Err: err}
		}
		unverified = true
		warnings = append(warnings, chunker.Warning{Index: index, Err: err})
		s.log.Warn("integrity anomaly tolerated", "chunk", index, "error", err)
		return nil
	}

	op.Publish(progress.StateRunning, 0, "checking record")

	if opts.PublicKey != nil {
		err := signature.Verify(rec, opts.PublicKey)
		switch {
		case errors.Is(err, signature.ErrMissingSignature):
			// Only strict mode demands a signature.
			if abort := tolerate(-1, err); abort != nil {
				return nil, abort
			}
		case err != nil:
			// A signature that fails to verify is never tolerated.
			return nil, err
		}
	}

	if err := rec.ValidateStructure(); err != nil {
		if abort := tolerate(-1, err); abort != nil {
			return nil, abort
		}
	}

	pages := make([][]byte, len(rec.Chunks))
	// Decode failures found inside the group are collected per index
	// and folded into the warning list after Wait; the goroutines never
	// touch the shared tolerate state.
	decodeErrs := make([]error, len(rec.Chunks))
	var done atomic.Int64

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.config.Concurrency)
	for i, ref := range rec.Chunks {
		i, ref := i, ref
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			text, err := s.client.Fetch(groupCtx, ref.Coordinate)
			if err != nil {
				return &chunker.ChunkError{Index: ref.Index, Err: err}
			}
			data, err := babelcodec.Decode(text)
			if err != nil {
				// A page that no longer decodes is corruption: fatal in
				// strict mode, a warning otherwise. A zero-filled
				// placeholder keeps the assembled stream size-aligned;
				// the hash checks flag it again downstream.
				if opts.Strict {
					return &chunker.ChunkError{Index: ref.Index, Err: err}
				}
				decodeErrs[i] = err
				data = make([]byte, ref.RawLen)
			}
			pages[i] = data

			finished := done.Add(1)
			op.Publish(progress.StateRunning,
				float64(finished)/float64(len(rec.Chunks))*95,
				fmt.Sprintf("chunk %d/%d fetched", finished, len(rec.Chunks)))
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, cancelErr(err)
	}

	for i, decodeErr := range decodeErrs {
		if decodeErr != nil {
			if abort := tolerate(rec.Chunks[i].Index, decodeErr); abort != nil {
				return nil, abort
			}
		}
	}

	op.Publish(progress.StateRunning, 95, "reassembling")
	result, err := chunker.Reassemble(pages, rec, opts.Strict)
	if err != nil {
		return nil, err
	}

	warnings = append(warnings, result.Warnings...)
	return &DownloadResult{
		Data:     result.Data,
		Verified: result.Verified && !unverified,
		Warnings: warnings,
	}, nil
}
