package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/ransomeye/core/pkg/merkle"
	"github.com/ransomeye/core/pkg/rerrors"
)

// Bundle is an exported, integrity-proved slice of the audit chain,
// supplementing the linear chain (never replacing it as the authority)
// with a Merkle root over the bundle's records. Checking the root needs
// all of the bundle's records; no single-record membership proof is
// produced.
type Bundle struct {
	BundleID    string   `json:"bundle_id"`
	CreatedAt   time.Time `json:"created_at"`
	StartHash   string   `json:"start_previous_hash"`
	EndHash     string   `json:"end_hash"`
	RecordCount int      `json:"record_count"`
	MerkleRoot  string   `json:"merkle_root"`
	Records     []Record `json:"records"`
}

// ExportRange builds a Bundle over records[from:to) (to exclusive, or -1
// for "through the end").
func ExportRange(path string, from, to int) (*Bundle, error) {
	records, err := ReadAll(path)
	if err != nil {
		return nil, rerrors.New("audit.ExportRange", rerrors.AuditWriteFailed, err)
	}
	if to < 0 || to > len(records) {
		to = len(records)
	}
	if from < 0 || from > to {
		return nil, rerrors.New("audit.ExportRange", rerrors.AuditWriteFailed,
			fmt.Errorf("invalid range [%d,%d) over %d records", from, to, len(records)))
	}
	slice := records[from:to]

	leaves := make([]merkle.Leaf, 0, len(slice))
	for _, r := range slice {
		leaves = append(leaves, merkle.Leaf{RecordID: r.RecordID, Hash: r.Hash})
	}
	tree := merkle.Build(leaves)

	startHash := GenesisHash
	if from > 0 {
		startHash = records[from-1].Hash
	}
	endHash := startHash
	if len(slice) > 0 {
		endHash = slice[len(slice)-1].Hash
	}

	return &Bundle{
		BundleID:    uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		StartHash:   startHash,
		EndHash:     endHash,
		RecordCount: len(slice),
		MerkleRoot:  tree.Root,
		Records:     slice,
	}, nil
}

// VerifyBundle checks internal consistency: the chain within the bundle
// verifies against the stated start hash, and the recomputed Merkle root
// matches the stored one.
func VerifyBundle(b *Bundle, verifierFor ComponentVerifier) error {
	previousHash := b.StartHash
	for i, r := range b.Records {
		if r.PreviousHash != previousHash {
			return fmt.Errorf("bundle record %d: previous_hash mismatch", i)
		}
		previousHash = r.Hash
	}
	if len(b.Records) > 0 && previousHash != b.EndHash {
		return fmt.Errorf("bundle end_hash mismatch")
	}

	leaves := make([]merkle.Leaf, 0, len(b.Records))
	for _, r := range b.Records {
		leaves = append(leaves, merkle.Leaf{RecordID: r.RecordID, Hash: r.Hash})
	}
	tree := merkle.Build(leaves)
	if tree.Root != b.MerkleRoot {
		return fmt.Errorf("merkle root mismatch")
	}

	if verifierFor != nil {
		if _, err := VerifyRecords(b.Records, verifierFor); err != nil {
			return fmt.Errorf("bundle chain verification: %w", err)
		}
	}
	return nil
}

// S3Archiver uploads sealed bundles to a configured bucket for cold,
// immutable archival (AUDIT_ARCHIVE_S3_BUCKET).
type S3Archiver struct {
	Client *s3.Client
	Bucket string
}

// Upload writes the bundle as a single JSON object keyed by bundle ID.
func (a *S3Archiver) Upload(ctx context.Context, b *Bundle) error {
	body, err := json.Marshal(b)
	if err != nil {
		return rerrors.New("audit.S3Archiver.Upload", rerrors.AuditWriteFailed, err)
	}
	key := fmt.Sprintf("audit-bundles/%s.json", b.BundleID)
	_, err = a.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return rerrors.New("audit.S3Archiver.Upload", rerrors.AuditWriteFailed, err)
	}
	return nil
}
