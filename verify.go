package babelstorage

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/Sonael/Babel-Storage/pkg/metadata"
	"github.com/Sonael/Babel-Storage/pkg/signature"
)

// Problem is one anomaly found by VerifyMetadata. Index is -1 for
// record-level anomalies.
type Problem struct {
	Index   int
	Message string
	Err     error
}

// Report is the outcome of an offline metadata verification.
type Report struct {
	Problems []Problem
	// SignatureChecked is true when a public key was supplied and a
	// signature was present to check.
	SignatureChecked bool
	SignatureValid   bool
}

// OK reports a clean record.
func (r *Report) OK() bool { return len(r.Problems) == 0 }

func (r *Report) add(index int, err error) {
	r.Problems = append(r.Problems, Problem{Index: index, Message: err.Error(), Err: err})
}

// VerifyMetadata runs the offline checks: schema and structural
// invariants, per-chunk coordinate domains, and the signature when a
// public key is supplied (or when strict mode requires one). No
// network, no oracle. In strict mode the first recorded problem is
// also returned as an error.
func (s *Storage) VerifyMetadata(rec *metadata.FileRecord, pub *rsa.PublicKey, strict bool) (*Report, error) {
	report := &Report{}

	if err := rec.ValidateStructure(); err != nil {
		report.add(-1, err)
	}

	for _, ref := range rec.Chunks {
		if err := ref.Coordinate.Validate(); err != nil {
			report.add(ref.Index, fmt.Errorf("coordinate: %w", err))
		}
	}

	if pub != nil {
		err := signature.Verify(rec, pub)
		switch {
		case err == nil:
			report.SignatureChecked = true
			report.SignatureValid = true
		case errors.Is(err, signature.ErrMissingSignature):
			if strict {
				report.add(-1, err)
			}
		default:
			report.SignatureChecked = true
			report.add(-1, err)
		}
	} else if strict && rec.Signature == "" {
		report.add(-1, signature.ErrMissingSignature)
	}

	if strict && !report.OK() {
		return report, report.Problems[0].Err
	}
	return report, nil
}
