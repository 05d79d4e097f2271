package babelstorage

import (
	"context"
	"crypto/rsa"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Sonael/Babel-Storage/pkg/babelcodec"
	"github.com/Sonael/Babel-Storage/pkg/babelclient"
	"github.com/Sonael/Babel-Storage/pkg/chunker"
	"github.com/Sonael/Babel-Storage/pkg/metadata"
	"github.com/Sonael/Babel-Storage/pkg/progress"
	"github.com/Sonael/Babel-Storage/pkg/signature"
)

// UploadOptions tunes one upload.
type UploadOptions struct {
	// PrivateKey enables signing of the finished record.
	PrivateKey *rsa.PrivateKey
	// Operation carries progress for this upload; s.Progress().Begin
	// is used when nil and a tracker is configured.
	Operation *progress.Operation
}

// Upload runs the encode-side pipeline: compress, split, encode each
// chunk as a page, resolve every page to its coordinate, and assemble
// the signed record. On any fatal error no partial record is returned.
func (s *Storage) Upload(ctx context.Context, input []byte, originalName string, opts UploadOptions) (*metadata.FileRecord, error) {
	op := opts.Operation
	if op == nil {
		op = s.tracker.Begin("upload")
	}
	rec, err := s.upload(ctx, input, originalName, opts, op)
	if err != nil {
		op.Publish(progress.StateError, 0, err.Error())
		return nil, err
	}
	op.Publish(progress.StateCompleted, 100, fmt.Sprintf("%d chunks stored", rec.ChunkCount))
	return rec, nil
}

func (s *Storage) upload(ctx context.Context, input []byte, originalName string, opts UploadOptions, op *progress.Operation) (*metadata.FileRecord, error) {
	if input == nil {
		return nil, fmt.Errorf("%w: nil input", chunker.ErrBadInput)
	}
	if int64(len(input)) > s.config.MaxInputSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds the %d byte cap",
			chunker.ErrBadInput, len(input), s.config.MaxInputSize)
	}

	op.Publish(progress.StateRunning, 0, "compressing")
	compressed := chunker.Compress(input)
	chunks := chunker.Split(compressed)
	s.log.Info("upload planned",
		"name", originalName,
		"originalSize", len(input),
		"compressedSize", len(compressed),
		"chunks", len(chunks))

	coords := make([]metadata.Coordinate, len(chunks))
	var done atomic.Int64

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.config.Concurrency)
	for _, chunk := range chunks {
		chunk := chunk
		group.Go(func() error {
			// Stop scheduling oracle calls once the operation is
			// cancelled or another chunk failed.
			if err := groupCtx.Err(); err != nil {
				return err
			}
			coord, err := s.storeChunk(groupCtx, chunk)
			if err != nil {
				return err
			}
			coords[chunk.Index] = coord

			finished := done.Add(1)
			op.Publish(progress.StateRunning,
				float64(finished)/float64(len(chunks))*100,
				fmt.Sprintf("chunk %d/%d shelved", finished, len(chunks)))
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, cancelErr(err)
	}

	refs := make([]metadata.ChunkRef, len(chunks))
	for i, chunk := range chunks {
		refs[i] = metadata.ChunkRef{
			Index:      chunk.Index,
			Coordinate: coords[i],
			RawLen:     len(chunk.Data),
			SHA256:     chunk.SHA256,
		}
	}

	rec := &metadata.FileRecord{
		ProtocolVersion: metadata.ProtocolVersion,
		OriginalName:    originalName,
		OriginalSize:    int64(len(input)),
		CompressedSize:  int64(len(compressed)),
		Compression: metadata.Compression{
			Algorithm: metadata.CompressionAlgorithm,
			Level:     metadata.CompressionLevel,
		},
		FileSHA256: chunker.HashHex(compressed),
		ChunkCount: len(chunks),
		Chunks:     refs,
		Encoding:   babelcodec.EncodingName,
	}

	if opts.PrivateKey != nil {
		op.Publish(progress.StateRunning, 100, "signing record")
		if err := signature.Sign(rec, opts.PrivateKey); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// storeChunk encodes one chunk as a page, resolves its coordinate and,
// unless disabled, fetches the page back to confirm the oracle shelved
// exactly what was sent.
func (s *Storage) storeChunk(ctx context.Context, chunk chunker.Chunk) (metadata.Coordinate, error) {
	page, err := babelcodec.Encode(chunk.Data)
	if err != nil {
		return metadata.Coordinate{}, &chunker.ChunkError{Index: chunk.Index, Err: err}
	}

	coord, err := s.client.Search(ctx, page)
	if err != nil {
		return metadata.Coordinate{}, &chunker.ChunkError{Index: chunk.Index, Err: err}
	}

	if !s.config.DisableUploadReadback {
		stored, err := s.client.Fetch(ctx, coord)
		if err != nil {
			return metadata.Coordinate{}, &chunker.ChunkError{Index: chunk.Index, Err: err}
		}
		if stored != page {
			return metadata.Coordinate{}, &chunker.ChunkError{
				Index: chunk.Index,
				Err:   fmt.Errorf("%w: page readback differs from upload", babelclient.ErrOracleProtocolError),
			}
		}
	}
	return coord, nil
}
