package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/klauspost/compress/zstd"

	"tableline/internal/types"
)

// CallRepository provides data access for the call_records table. One row per
// phone call handled by the voice agent, keyed externally by the provider's
// call ID so replayed webhook deliveries converge on the same row.
//
// Transcripts are stored as zstd-compressed JSON in a BYTEA column. Call
// transcripts run to tens of kilobytes of repetitive text, and they are
// write-once/read-rarely, so compressed storage wins over JSONB.
type CallRepository struct {
	db DBTX
}

// NewCallRepository creates a new CallRepository backed by the given database
// connection (pool or transaction).
func NewCallRepository(db DBTX) *CallRepository {
	return &CallRepository{db: db}
}

const callColumns = `id, provider_call_id, restaurant_id, direction, status,
	started_at, ended_at, duration_seconds, transcript, detected_language,
	sentiment, ended_reason, created_at, updated_at`

// Upsert creates the call record at the first webhook event referencing the
// provider call ID, or updates the lifecycle fields when the row already
// exists. Duration, transcript, and end-of-call fields are only written by
// Finalize.
func (r *CallRepository) Upsert(ctx context.Context, call *types.CallRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO call_records (id, provider_call_id, restaurant_id,
		 direction, status, started_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		 ON CONFLICT (provider_call_id)
		 DO UPDATE SET status = EXCLUDED.status,
		               started_at = COALESCE(call_records.started_at, EXCLUDED.started_at),
		               updated_at = NOW()`,
		call.ID,
		call.ProviderCallID,
		call.RestaurantID,
		call.Direction,
		call.Status,
		call.StartedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert call record", err)
	}
	return nil
}

// Finalize writes the end-of-call fields: terminal status, end time, duration,
// compressed transcript, and analysis results. It upserts so an end-of-call
// report arriving before (or without) any earlier lifecycle event still
// produces a complete row. The call record must be durably saved before any
// usage accounting happens, so callers invoke Finalize first and only then
// track minutes.
func (r *CallRepository) Finalize(ctx context.Context, call *types.CallRecord) error {
	transcript, err := encodeTranscript(call.Transcript)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode transcript", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO call_records (id, provider_call_id, restaurant_id,
		 direction, status, started_at, ended_at, duration_seconds, transcript,
		 detected_language, sentiment, ended_reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		 ON CONFLICT (provider_call_id)
		 DO UPDATE SET status = EXCLUDED.status,
		               started_at = COALESCE(call_records.started_at, EXCLUDED.started_at),
		               ended_at = EXCLUDED.ended_at,
		               duration_seconds = EXCLUDED.duration_seconds,
		               transcript = EXCLUDED.transcript,
		               detected_language = EXCLUDED.detected_language,
		               sentiment = EXCLUDED.sentiment,
		               ended_reason = EXCLUDED.ended_reason,
		               updated_at = NOW()`,
		call.ID,
		call.ProviderCallID,
		call.RestaurantID,
		call.Direction,
		call.Status,
		call.StartedAt,
		call.EndedAt,
		call.DurationSeconds,
		transcript,
		nilIfEmpty(call.DetectedLanguage),
		nilIfEmpty(call.Sentiment),
		nilIfEmpty(call.EndedReason),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finalize call record", err)
	}
	return nil
}

// GetByProviderID retrieves a call record by the voice provider's call ID.
func (r *CallRepository) GetByProviderID(ctx context.Context, providerCallID string) (*types.CallRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+callColumns+` FROM call_records WHERE provider_call_id = $1`,
		providerCallID,
	)

	call, err := scanCall(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundCall, "call record not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve call record", err)
	}
	return call, nil
}

// ListByRestaurant retrieves recent calls for one location, newest first.
func (r *CallRepository) ListByRestaurant(ctx context.Context, restaurantID string, since time.Time, limit int) ([]*types.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+callColumns+`
		 FROM call_records
		 WHERE restaurant_id = $1 AND created_at >= $2
		 ORDER BY created_at DESC
		 LIMIT $3`,
		restaurantID,
		since,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query call records", err)
	}
	defer rows.Close()

	var results []*types.CallRecord
	for rows.Next() {
		call, scanErr := scanCall(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan call record row", scanErr)
		}
		results = append(results, call)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating call record rows", err)
	}

	return results, nil
}

// scanCall scans a call record from a pgx.Row or pgx.Rows. Column order must
// match callColumns.
func scanCall(row pgx.Row) (*types.CallRecord, error) {
	var call types.CallRecord
	var transcript []byte
	var language, sentiment, endedReason *string

	err := row.Scan(
		&call.ID,
		&call.ProviderCallID,
		&call.RestaurantID,
		&call.Direction,
		&call.Status,
		&call.StartedAt,
		&call.EndedAt,
		&call.DurationSeconds,
		&transcript,
		&language,
		&sentiment,
		&endedReason,
		&call.CreatedAt,
		&call.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if call.Transcript, err = decodeTranscript(transcript); err != nil {
		return nil, err
	}
	if language != nil {
		call.DetectedLanguage = *language
	}
	if sentiment != nil {
		call.Sentiment = *sentiment
	}
	if endedReason != nil {
		call.EndedReason = *endedReason
	}
	return &call, nil
}

// encodeTranscript serializes transcript entries to zstd-compressed JSON.
// An empty transcript stores NULL.
func encodeTranscript(entries []types.TranscriptEntry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	return enc.EncodeAll(raw, nil), nil
}

// decodeTranscript reverses encodeTranscript. NULL/empty columns yield a nil
// slice.
func decodeTranscript(data []byte) ([]types.TranscriptEntry, error) {
	if len(data) == 0 {
		return nil, nil
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, err
	}

	var entries []types.TranscriptEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
