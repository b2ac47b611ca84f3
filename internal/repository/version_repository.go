package repository

import (
	"context"
	"strconv"

	"github.com/pesio-ai/be-hr-workflows/internal/database"
	"github.com/pesio-ai/be-hr-workflows/internal/errors"
)

// VersionRepository stores immutable request snapshots keyed by
// (request, version number).
type VersionRepository struct {
	db database.Querier
}

// NewVersionRepository creates a new VersionRepository.
func NewVersionRepository(db database.Querier) *VersionRepository {
	return &VersionRepository{db: db}
}

// Append writes a snapshot. The version number must be greater than every
// existing snapshot of the request.
func (r *VersionRepository) Append(ctx context.Context, v *RequestVersion) error {
	query := `
		INSERT INTO request_versions (request_id, version_number, snapshot, created_at)
		SELECT $1::uuid, $2::int, $3::jsonb, $4::timestamptz
		WHERE $2::int > COALESCE((SELECT MAX(version_number) FROM request_versions WHERE request_id = $1::uuid), 0)
	`

	tag, err := r.db.Exec(ctx, query, v.RequestID, v.VersionNumber, v.Snapshot, v.CreatedAt)
	if isUniqueViolation(err) {
		return errors.New(errors.ErrCodeConflict, "snapshot already exists").
			WithDetail("versionNumber", v.VersionNumber)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append request version")
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.ErrCodeConflict, "snapshot version is not increasing").
			WithDetail("versionNumber", v.VersionNumber)
	}
	return nil
}

// List returns every snapshot of a request ordered by version.
func (r *VersionRepository) List(ctx context.Context, requestID string) ([]*RequestVersion, error) {
	query := `
		SELECT request_id, version_number, snapshot, created_at
		FROM request_versions
		WHERE request_id = $1
		ORDER BY version_number ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		if isMissing(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list request versions")
	}
	defer rows.Close()

	var out []*RequestVersion
	for rows.Next() {
		v := &RequestVersion{}
		if err := rows.Scan(&v.RequestID, &v.VersionNumber, &v.Snapshot, &v.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan request version")
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil && !isMissing(err) {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read request versions")
	}
	return out, nil
}

// Get returns one snapshot.
func (r *VersionRepository) Get(ctx context.Context, requestID string, versionNumber int) (*RequestVersion, error) {
	query := `
		SELECT request_id, version_number, snapshot, created_at
		FROM request_versions
		WHERE request_id = $1 AND version_number = $2
	`

	v := &RequestVersion{}
	err := r.db.QueryRow(ctx, query, requestID, versionNumber).
		Scan(&v.RequestID, &v.VersionNumber, &v.Snapshot, &v.CreatedAt)
	if isMissing(err) {
		return nil, errors.NotFound("request_version", requestID+"@"+strconv.Itoa(versionNumber))
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get request version")
	}
	return v, nil
}
