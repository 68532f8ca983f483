package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Repository is the storage collaborator. Getters return (nil, nil) when the
// row does not exist.
type Repository interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context, userID string) ([]*Project, error)
	RenameProject(ctx context.Context, id, name string) error
	UpdateProjectDuration(ctx context.Context, id string, duration int64) error
	DeleteProject(ctx context.Context, id string) error

	CreateClip(ctx context.Context, c *Clip) error
	GetClip(ctx context.Context, id string) (*Clip, error)
	ListClips(ctx context.Context, projectID string) ([]*Clip, error)
	UpdateClip(ctx context.Context, c *Clip) error
	DeleteClip(ctx context.Context, id string) error

	CreateAsset(ctx context.Context, a *MediaAsset) error
	GetAsset(ctx context.Context, id string) (*MediaAsset, error)
	GetAssetByJobID(ctx context.Context, jobID string) (*MediaAsset, error)
	ListAssets(ctx context.Context, userID string) ([]*MediaAsset, error)
	UpdateAssetMetadata(ctx context.Context, id string, metadata map[string]any) error

	CreateJob(ctx context.Context, j *GenerationJob) error
	GetJob(ctx context.Context, id string) (*GenerationJob, error)
	ListJobs(ctx context.Context, userID string, limit int) ([]*GenerationJob, error)
	ListActiveJobs(ctx context.Context) ([]*GenerationJob, error)
	UpdateJobStatus(ctx context.Context, id string, status JobStatus, resultURL, errorMsg string) error
	SetProviderJobID(ctx context.Context, id, providerJobID string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateProject(ctx context.Context, p *Project) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects (id, user_id, name, duration, resolution, fps, thumbnail_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.UserID, p.Name, p.Duration, p.Resolution, p.FPS, nullString(p.ThumbnailURL),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	return err
}

const projectColumns = `id, user_id, name, duration, resolution, fps, thumbnail_url, created_at, updated_at`

func (r *SQLiteRepository) GetProject(ctx context.Context, id string) (*Project, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (r *SQLiteRepository) ListProjects(ctx context.Context, userID string) ([]*Project, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+projectColumns+` FROM projects WHERE user_id = ? ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// RenameProject writes the name column only, so a concurrent duration write
// from an open timeline is never rolled back.
func (r *SQLiteRepository) RenameProject(ctx context.Context, id, name string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE projects SET name = ?, updated_at = ? WHERE id = ?
	`, name, formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) UpdateProjectDuration(ctx context.Context, id string, duration int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE projects SET duration = ?, updated_at = ? WHERE id = ?
	`, duration, formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) DeleteProject(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) CreateClip(ctx context.Context, c *Clip) error {
	props, err := marshalBag(c.Properties)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO timeline_clips (id, project_id, track_index, start_time, duration, clip_type, source_url,
			trim_start, trim_end, properties, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.ProjectID, c.TrackIndex, c.StartTime, c.Duration, string(c.Kind), c.SourceURL,
		c.TrimStart, nullInt(c.TrimEnd), props, formatTime(c.CreatedAt))
	return err
}

const clipColumns = `id, project_id, track_index, start_time, duration, clip_type, source_url, trim_start, trim_end, properties, created_at`

func (r *SQLiteRepository) GetClip(ctx context.Context, id string) (*Clip, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+clipColumns+` FROM timeline_clips WHERE id = ?`, id)
	c, err := scanClip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ListClips returns a project's clips ordered by (track_index, start_time),
// with creation time as the final tie-break so the order is deterministic.
func (r *SQLiteRepository) ListClips(ctx context.Context, projectID string) ([]*Clip, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+clipColumns+` FROM timeline_clips WHERE project_id = ?
		ORDER BY track_index ASC, start_time ASC, created_at ASC
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clips []*Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		clips = append(clips, c)
	}
	return clips, rows.Err()
}

func (r *SQLiteRepository) UpdateClip(ctx context.Context, c *Clip) error {
	props, err := marshalBag(c.Properties)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE timeline_clips SET track_index = ?, start_time = ?, duration = ?, clip_type = ?, source_url = ?,
			trim_start = ?, trim_end = ?, properties = ?
		WHERE id = ?
	`, c.TrackIndex, c.StartTime, c.Duration, string(c.Kind), c.SourceURL, c.TrimStart, nullInt(c.TrimEnd), props, c.ID)
	return err
}

func (r *SQLiteRepository) DeleteClip(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM timeline_clips WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) CreateAsset(ctx context.Context, a *MediaAsset) error {
	meta, err := marshalBag(a.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO media_assets (id, user_id, asset_type, source, url, thumbnail_url, filename, duration,
			metadata, ai_job_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.UserID, string(a.Kind), a.Source, a.URL, nullString(a.ThumbnailURL), a.Filename,
		nullInt(a.Duration), meta, nullString(a.AIJobID), formatTime(a.CreatedAt))
	return err
}

const assetColumns = `id, user_id, asset_type, source, url, thumbnail_url, filename, duration, metadata, ai_job_id, created_at`

func (r *SQLiteRepository) GetAsset(ctx context.Context, id string) (*MediaAsset, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM media_assets WHERE id = ?`, id)
	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (r *SQLiteRepository) GetAssetByJobID(ctx context.Context, jobID string) (*MediaAsset, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+assetColumns+` FROM media_assets WHERE ai_job_id = ? ORDER BY created_at ASC LIMIT 1
	`, jobID)
	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (r *SQLiteRepository) ListAssets(ctx context.Context, userID string) ([]*MediaAsset, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+assetColumns+` FROM media_assets WHERE user_id = ? ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*MediaAsset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (r *SQLiteRepository) UpdateAssetMetadata(ctx context.Context, id string, metadata map[string]any) error {
	meta, err := marshalBag(metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, "UPDATE media_assets SET metadata = ? WHERE id = ?", meta, id)
	return err
}

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *GenerationJob) error {
	params, err := marshalBag(j.Parameters)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO ai_generation_jobs (id, user_id, project_id, provider, job_type, prompt, source_image_url,
			parameters, status, provider_job_id, result_url, error_message, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.UserID, nullString(j.ProjectID), j.Provider, j.JobType, j.Prompt, nullString(j.SourceImageURL),
		params, string(j.Status), nullString(j.ProviderJobID), nullString(j.ResultURL), nullString(j.ErrorMessage),
		formatTime(j.CreatedAt), nullTime(j.CompletedAt))
	return err
}

const jobColumns = `id, user_id, project_id, provider, job_type, prompt, source_image_url, parameters, status,
	provider_job_id, result_url, error_message, created_at, completed_at`

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*GenerationJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM ai_generation_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, userID string, limit int) ([]*GenerationJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM ai_generation_jobs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *SQLiteRepository) ListActiveJobs(ctx context.Context) ([]*GenerationJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM ai_generation_jobs WHERE status IN ('pending', 'processing') ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id string, status JobStatus, resultURL, errorMsg string) error {
	var completedAt sql.NullString
	if status.Terminal() {
		completedAt = sql.NullString{String: formatTime(time.Now()), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE ai_generation_jobs SET status = ?,
			result_url = COALESCE(?, result_url),
			error_message = COALESCE(?, error_message),
			completed_at = COALESCE(?, completed_at)
		WHERE id = ?
	`, string(status), nullString(resultURL), nullString(errorMsg), completedAt, id)
	return err
}

func (r *SQLiteRepository) SetProviderJobID(ctx context.Context, id, providerJobID string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE ai_generation_jobs SET provider_job_id = ? WHERE id = ?", providerJobID, id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(s scanner) (*Project, error) {
	var p Project
	var thumb sql.NullString
	var createdAt, updatedAt string
	if err := s.Scan(&p.ID, &p.UserID, &p.Name, &p.Duration, &p.Resolution, &p.FPS, &thumb, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.ThumbnailURL = thumb.String
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func scanClip(s scanner) (*Clip, error) {
	var c Clip
	var kind, props, createdAt string
	var trimEnd sql.NullInt64
	if err := s.Scan(&c.ID, &c.ProjectID, &c.TrackIndex, &c.StartTime, &c.Duration, &kind, &c.SourceURL,
		&c.TrimStart, &trimEnd, &props, &createdAt); err != nil {
		return nil, err
	}
	c.Kind = ClipKind(kind)
	if trimEnd.Valid {
		v := trimEnd.Int64
		c.TrimEnd = &v
	}
	c.Properties = Properties(unmarshalBag(props))
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func scanAsset(s scanner) (*MediaAsset, error) {
	var a MediaAsset
	var kind, meta, createdAt string
	var thumb, jobID sql.NullString
	var duration sql.NullInt64
	if err := s.Scan(&a.ID, &a.UserID, &kind, &a.Source, &a.URL, &thumb, &a.Filename, &duration, &meta, &jobID, &createdAt); err != nil {
		return nil, err
	}
	a.Kind = ClipKind(kind)
	a.ThumbnailURL = thumb.String
	a.AIJobID = jobID.String
	if duration.Valid {
		v := duration.Int64
		a.Duration = &v
	}
	a.Metadata = unmarshalBag(meta)
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

func scanJob(s scanner) (*GenerationJob, error) {
	var j GenerationJob
	var status, params, createdAt string
	var projectID, sourceImage, providerJobID, resultURL, errMsg, completedAt sql.NullString
	if err := s.Scan(&j.ID, &j.UserID, &projectID, &j.Provider, &j.JobType, &j.Prompt, &sourceImage, &params, &status,
		&providerJobID, &resultURL, &errMsg, &createdAt, &completedAt); err != nil {
		return nil, err
	}
	j.ProjectID = projectID.String
	j.SourceImageURL = sourceImage.String
	j.Parameters = unmarshalBag(params)
	j.Status = JobStatus(status)
	j.ProviderJobID = providerJobID.String
	j.ResultURL = resultURL.String
	j.ErrorMessage = errMsg.String
	j.CreatedAt = parseTime(createdAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		j.CompletedAt = &t
	}
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*GenerationJob, error) {
	var jobs []*GenerationJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func marshalBag[M ~map[string]any](m M) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalBag(s string) map[string]any {
	out := map[string]any{}
	if s == "" {
		return out
	}
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
