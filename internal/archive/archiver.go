package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/storage"
)

// ObjectPutter is the subset of *s3.Client the archiver uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver writes one JSONL object per UTC day of execution log records.
type Archiver struct {
	s3     ObjectPutter
	bucket string
	prefix string
	log    storage.ExecutionLogStore
	logger zerolog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(client ObjectPutter, bucket, prefix string, execLog storage.ExecutionLogStore, logger zerolog.Logger) *Archiver {
	return &Archiver{
		s3:     client,
		bucket: bucket,
		prefix: prefix,
		log:    execLog,
		logger: logger.With().Str("component", "archive").Logger(),
	}
}

// Line is one archived attempt with its reconciliation, if any.
type Line struct {
	AttemptID         string              `json:"attempt_id"`
	OpportunityID     string              `json:"opportunity_id"`
	Anchor            string              `json:"anchor"`
	RouteKey          string              `json:"route_key"`
	Route             string              `json:"route"`
	Hops              int                 `json:"hops"`
	Tokens            []string            `json:"tokens"`
	InputAmount       float64             `json:"input_amount"`
	ExpectedOutput    float64             `json:"expected_output"`
	ExpectedProfitPct float64             `json:"expected_profit_pct"`
	Slippage          float64             `json:"slippage"`
	Confidence        float64             `json:"confidence"`
	Risk              float64             `json:"risk"`
	State             domain.AttemptState `json:"state"`
	Reason            string              `json:"reason,omitempty"`
	Signature         string              `json:"signature,omitempty"`
	ComputeUnits      uint32              `json:"compute_units"`
	PriorityFee       uint64              `json:"priority_fee"`
	SubmitAttempts    int                 `json:"submit_attempts"`
	FeeLamports       uint64              `json:"fee_lamports"`
	RealizedPnL       decimal.Decimal     `json:"realized_pnl"`
	RealizedPnLUSD    decimal.Decimal     `json:"realized_pnl_usd"`
	PnLKnown          bool                `json:"pnl_known"`
	DetectedAt        int64               `json:"detected_at"`
	SubmittedAt       int64               `json:"submitted_at,omitempty"`
	FinishedAt        int64               `json:"finished_at"`
	Reconciliation    *ReconciliationLine `json:"reconciliation,omitempty"`
}

// ReconciliationLine is the resolution of an expired attempt.
type ReconciliationLine struct {
	Outcome        string          `json:"outcome"`
	Slot           uint64          `json:"slot,omitempty"`
	FeeLamports    uint64          `json:"fee_lamports"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	RealizedPnLUSD decimal.Decimal `json:"realized_pnl_usd"`
	PnLKnown       bool            `json:"pnl_known"`
	ReconciledAt   int64           `json:"reconciled_at"`
}

// Key returns the object key for the UTC day containing day.
func (a *Archiver) Key(day time.Time) string {
	return path.Join(a.prefix, "execution_log", day.UTC().Format("2006/01/02")+".jsonl")
}

// ArchiveDay uploads every record finished on the UTC day containing day.
// Returns the number of records written; an empty day uploads nothing.
// Records are not removed from the log.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) (int, error) {
	start := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1).Add(-time.Millisecond)

	records, err := a.log.GetByTimeRange(ctx, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("archive: query execution log: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		line := newLine(r)
		if r.State == domain.StateExpired {
			recs, err := a.log.GetReconciliations(ctx, r.AttemptID)
			if err != nil {
				return 0, fmt.Errorf("archive: reconciliations for %s: %w", r.AttemptID, err)
			}
			if len(recs) > 0 {
				line.Reconciliation = newReconciliationLine(recs[0])
			}
		}
		if err := enc.Encode(line); err != nil {
			return 0, fmt.Errorf("archive: encode %s: %w", r.AttemptID, err)
		}
	}

	key := a.Key(start)
	_, err = a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return 0, fmt.Errorf("archive: put %s: %w", key, err)
	}

	a.logger.Info().
		Str("bucket", a.bucket).
		Str("key", key).
		Int("records", len(records)).
		Int("bytes", buf.Len()).
		Msg("execution log day archived")
	return len(records), nil
}

func newLine(r *domain.ExecutionRecord) *Line {
	return &Line{
		AttemptID:         r.AttemptID,
		OpportunityID:     r.OpportunityID,
		Anchor:            r.Anchor,
		RouteKey:          r.RouteKey,
		Route:             r.Route,
		Hops:              r.Hops,
		Tokens:            r.Tokens,
		InputAmount:       r.InputAmount,
		ExpectedOutput:    r.ExpectedOutput,
		ExpectedProfitPct: r.ExpectedProfitPct,
		Slippage:          r.Slippage,
		Confidence:        r.Confidence,
		Risk:              r.Risk,
		State:             r.State,
		Reason:            r.Reason,
		Signature:         r.Signature,
		ComputeUnits:      r.ComputeUnits,
		PriorityFee:       r.PriorityFee,
		SubmitAttempts:    r.SubmitAttempts,
		FeeLamports:       r.FeeLamports,
		RealizedPnL:       r.RealizedPnL,
		RealizedPnLUSD:    r.RealizedPnLUSD,
		PnLKnown:          r.PnLKnown,
		DetectedAt:        r.DetectedAt,
		SubmittedAt:       r.SubmittedAt,
		FinishedAt:        r.FinishedAt,
	}
}

func newReconciliationLine(r *domain.ReconciliationRecord) *ReconciliationLine {
	return &ReconciliationLine{
		Outcome:        r.Outcome,
		Slot:           r.Slot,
		FeeLamports:    r.FeeLamports,
		RealizedPnL:    r.RealizedPnL,
		RealizedPnLUSD: r.RealizedPnLUSD,
		PnLKnown:       r.PnLKnown,
		ReconciledAt:   r.ReconciledAt,
	}
}
