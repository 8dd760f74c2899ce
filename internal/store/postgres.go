package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ThreadFilter selects which threads a listing returns. Exactly one of
// CategoryID, TagID, CourseID is normally set; all empty means all threads.
type ThreadFilter struct {
	CategoryID string
	TagID      string
	CourseID   string
	Sort       string // "latest" or "popular"
	Limit      int
	Offset     int
}

// ----- users -----

const userColumns = `
	u.id, u.display_name, u.email, u.password_hash, u.is_email_verified,
	COALESCE(u.verification_token, ''), u.verification_expires_at, u.created_at,
	COALESCE(p.role, 'STUDENT'), COALESCE(p.avatar_url, '')
`

func scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.DisplayName,
		&user.Email,
		&user.PasswordHash,
		&user.IsEmailVerified,
		&user.VerificationToken,
		&user.VerificationExpiresAt,
		&user.CreatedAt,
		&user.Role,
		&user.AvatarURL,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create user: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	role := user.Role
	if role == "" {
		role = "STUDENT"
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO profiles (user_id, role) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, user.ID, role); err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users u LEFT JOIN profiles p ON p.user_id = u.id
		WHERE u.id = $1
	`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users u LEFT JOIN profiles p ON p.user_id = u.id
		WHERE LOWER(u.email) = LOWER($1)
	`, email))
}

func (s *PostgresStore) GetUserByName(ctx context.Context, displayName string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users u LEFT JOIN profiles p ON p.user_id = u.id
		WHERE u.display_name = $1
	`, displayName))
}

// ResolveUsernames returns the users whose display name matches one of the
// given names. Names without an account are simply absent from the result.
func (s *PostgresStore) ResolveUsernames(ctx context.Context, names []string) ([]User, error) {
	if len(names) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users u LEFT JOIN profiles p ON p.user_id = u.id
		WHERE u.display_name = ANY($1)
	`, names)
	if err != nil {
		return nil, fmt.Errorf("resolve usernames: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0, len(names))
	for rows.Next() {
		var user User
		if err := rows.Scan(
			&user.ID,
			&user.DisplayName,
			&user.Email,
			&user.PasswordHash,
			&user.IsEmailVerified,
			&user.VerificationToken,
			&user.VerificationExpiresAt,
			&user.CreatedAt,
			&user.Role,
			&user.AvatarURL,
		); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3 WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateAvatarURL(ctx context.Context, userID, avatarURL string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, avatar_url) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET avatar_url=EXCLUDED.avatar_url
	`, userID, avatarURL)
	if err != nil {
		return fmt.Errorf("update avatar: %w", err)
	}
	return nil
}

// ----- categories -----

func (s *PostgresStore) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, slug, description, created_at
		FROM categories
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	items := make([]Category, 0)
	for rows.Next() {
		var item Category
		if err := rows.Scan(&item.ID, &item.Name, &item.Slug, &item.Description, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetCategoryBySlug(ctx context.Context, slug string) (Category, error) {
	var item Category
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, description, created_at FROM categories WHERE slug=$1
	`, slug).Scan(&item.ID, &item.Name, &item.Slug, &item.Description, &item.CreatedAt)
	if err != nil {
		return Category{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertCategory(ctx context.Context, item Category) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, slug, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (slug) DO NOTHING
	`, item.ID, item.Name, item.Slug, item.Description)
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

// ----- tags -----

func (s *PostgresStore) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, slug FROM tags ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	items := make([]Tag, 0)
	for rows.Next() {
		var item Tag
		if err := rows.Scan(&item.ID, &item.Name, &item.Slug); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetTagBySlug(ctx context.Context, slug string) (Tag, error) {
	var item Tag
	err := s.db.QueryRowContext(ctx, `SELECT id, name, slug FROM tags WHERE slug=$1`, slug).
		Scan(&item.ID, &item.Name, &item.Slug)
	if err != nil {
		return Tag{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetOrCreateTag(ctx context.Context, id, name, slug string) (Tag, error) {
	var item Tag
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tags (id, name, slug) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET name=EXCLUDED.name
		RETURNING id, name, slug
	`, id, name, slug).Scan(&item.ID, &item.Name, &item.Slug)
	if err != nil {
		return Tag{}, fmt.Errorf("get or create tag: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListThreadTags(ctx context.Context, threadID string) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.slug
		FROM tags t JOIN thread_tags tt ON tt.tag_id = t.id
		WHERE tt.thread_id = $1
		ORDER BY t.name ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list thread tags: %w", err)
	}
	defer rows.Close()

	items := make([]Tag, 0)
	for rows.Next() {
		var item Tag
		if err := rows.Scan(&item.ID, &item.Name, &item.Slug); err != nil {
			return nil, fmt.Errorf("scan thread tag: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) AddThreadTag(ctx context.Context, threadID, tagID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO thread_tags (thread_id, tag_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, threadID, tagID)
	if err != nil {
		return fmt.Errorf("add thread tag: %w", err)
	}
	return nil
}

// ----- courses -----

func (s *PostgresStore) ListCourses(ctx context.Context) ([]Course, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, title, slug, department FROM courses ORDER BY code ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	items := make([]Course, 0)
	for rows.Next() {
		var item Course
		if err := rows.Scan(&item.ID, &item.Code, &item.Title, &item.Slug, &item.Department); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetCourseBySlug(ctx context.Context, slug string) (Course, error) {
	var item Course
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, title, slug, department FROM courses WHERE slug=$1
	`, slug).Scan(&item.ID, &item.Code, &item.Title, &item.Slug, &item.Department)
	if err != nil {
		return Course{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetCourseByCode(ctx context.Context, code string) (Course, error) {
	var item Course
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, title, slug, department FROM courses WHERE code=$1
	`, code).Scan(&item.ID, &item.Code, &item.Title, &item.Slug, &item.Department)
	if err != nil {
		return Course{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertCourse(ctx context.Context, item Course) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO courses (id, code, title, slug, department)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO NOTHING
	`, item.ID, item.Code, item.Title, item.Slug, item.Department)
	if err != nil {
		return fmt.Errorf("insert course: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCourseResources(ctx context.Context, courseID string) ([]Resource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(course_id, ''), title, type, url
		FROM resources
		WHERE course_id = $1
		ORDER BY title ASC
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	items := make([]Resource, 0)
	for rows.Next() {
		var item Resource
		if err := rows.Scan(&item.ID, &item.CourseID, &item.Title, &item.Type, &item.URL); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetResource(ctx context.Context, resourceID string) (Resource, error) {
	var item Resource
	err := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(course_id, ''), title, type, url
		FROM resources
		WHERE id = $1
	`, resourceID).Scan(&item.ID, &item.CourseID, &item.Title, &item.Type, &item.URL)
	if err != nil {
		return Resource{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertResource(ctx context.Context, item Resource) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resources (id, course_id, title, type, url)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5)
	`, item.ID, item.CourseID, item.Title, item.Type, item.URL)
	if err != nil {
		return fmt.Errorf("insert resource: %w", err)
	}
	return nil
}

// ----- threads -----

func (s *PostgresStore) InsertThread(ctx context.Context, thread Thread) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (id, category_id, author_id, course_id, title, body)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
	`, thread.ID, thread.CategoryID, thread.AuthorID, thread.CourseID, thread.Title, thread.Body)
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetThread(ctx context.Context, threadID string) (Thread, error) {
	var item Thread
	err := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.category_id, t.author_id, u.display_name, COALESCE(t.course_id, ''),
			t.title, t.body, t.is_locked, t.is_deleted, t.created_at, t.updated_at
		FROM threads t JOIN users u ON u.id = t.author_id
		WHERE t.id = $1
	`, threadID).Scan(
		&item.ID,
		&item.CategoryID,
		&item.AuthorID,
		&item.AuthorName,
		&item.CourseID,
		&item.Title,
		&item.Body,
		&item.IsLocked,
		&item.IsDeleted,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Thread{}, err
	}
	return item, nil
}

// ListThreads returns one page of non-deleted threads matching the filter,
// plus the total match count for pagination.
func (s *PostgresStore) ListThreads(ctx context.Context, filter ThreadFilter) ([]ThreadSummary, int, error) {
	where := "t.is_deleted = FALSE"
	args := []any{}
	argN := 1
	if filter.CategoryID != "" {
		where += fmt.Sprintf(" AND t.category_id = $%d", argN)
		args = append(args, filter.CategoryID)
		argN++
	}
	if filter.TagID != "" {
		where += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM thread_tags tt WHERE tt.thread_id = t.id AND tt.tag_id = $%d)", argN)
		args = append(args, filter.TagID)
		argN++
	}
	if filter.CourseID != "" {
		where += fmt.Sprintf(" AND t.course_id = $%d", argN)
		args = append(args, filter.CourseID)
		argN++
	}

	var total int
	countSQL := "SELECT count(*) FROM threads t WHERE " + where
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count threads: %w", err)
	}

	orderBy := "t.created_at DESC"
	if filter.Sort == "popular" {
		orderBy = "like_count DESC, t.created_at DESC"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
		SELECT t.id, t.category_id, t.author_id, u.display_name, COALESCE(t.course_id, ''),
			t.title, t.body, t.is_locked, t.is_deleted, t.created_at, t.updated_at,
			(SELECT count(*) FROM thread_likes tl WHERE tl.thread_id = t.id) AS like_count,
			(SELECT count(*) FROM replies r WHERE r.thread_id = t.id AND r.is_deleted = FALSE) AS reply_count
		FROM threads t JOIN users u ON u.id = t.author_id
		WHERE %s
		ORDER BY %s
		LIMIT %d OFFSET %d
	`, where, orderBy, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	items := make([]ThreadSummary, 0)
	for rows.Next() {
		var item ThreadSummary
		if err := rows.Scan(
			&item.ID,
			&item.CategoryID,
			&item.AuthorID,
			&item.AuthorName,
			&item.CourseID,
			&item.Title,
			&item.Body,
			&item.IsLocked,
			&item.IsDeleted,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.LikeCount,
			&item.ReplyCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan thread: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate threads: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) SoftDeleteThread(ctx context.Context, threadID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE threads SET is_deleted=TRUE, updated_at=NOW()
		WHERE id=$1 AND is_deleted=FALSE
	`, threadID)
	if err != nil {
		return false, fmt.Errorf("soft delete thread: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("soft delete thread rows: %w", err)
	}
	return affected > 0, nil
}

// ToggleThreadLock flips is_locked and reports the new state.
func (s *PostgresStore) ToggleThreadLock(ctx context.Context, threadID string) (bool, error) {
	var locked bool
	err := s.db.QueryRowContext(ctx, `
		UPDATE threads SET is_locked = NOT is_locked, updated_at=NOW()
		WHERE id=$1
		RETURNING is_locked
	`, threadID).Scan(&locked)
	if err != nil {
		return false, err
	}
	return locked, nil
}

// ----- replies -----

func (s *PostgresStore) InsertReply(ctx context.Context, reply Reply) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO replies (id, thread_id, author_id, body)
		VALUES ($1, $2, $3, $4)
	`, reply.ID, reply.ThreadID, reply.AuthorID, reply.Body)
	if err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReply(ctx context.Context, replyID string) (Reply, error) {
	var item Reply
	err := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.thread_id, r.author_id, u.display_name, r.body, r.is_deleted, r.created_at, r.updated_at
		FROM replies r JOIN users u ON u.id = r.author_id
		WHERE r.id = $1
	`, replyID).Scan(
		&item.ID,
		&item.ThreadID,
		&item.AuthorID,
		&item.AuthorName,
		&item.Body,
		&item.IsDeleted,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Reply{}, err
	}
	return item, nil
}

// ListReplies returns one newest-first page of non-deleted replies with like
// counts and whether the viewer liked each one.
func (s *PostgresStore) ListReplies(ctx context.Context, threadID, viewerID string, limit, offset int) ([]ReplySummary, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.thread_id, r.author_id, u.display_name, r.body, r.is_deleted, r.created_at, r.updated_at,
			(SELECT count(*) FROM reply_likes rl WHERE rl.reply_id = r.id) AS like_count,
			EXISTS(SELECT 1 FROM reply_likes rl WHERE rl.reply_id = r.id AND rl.user_id = $2) AS viewer_liked
		FROM replies r JOIN users u ON u.id = r.author_id
		WHERE r.thread_id = $1 AND r.is_deleted = FALSE
		ORDER BY r.created_at DESC
		LIMIT $3 OFFSET $4
	`, threadID, viewerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	items := make([]ReplySummary, 0)
	for rows.Next() {
		var item ReplySummary
		if err := rows.Scan(
			&item.ID,
			&item.ThreadID,
			&item.AuthorID,
			&item.AuthorName,
			&item.Body,
			&item.IsDeleted,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.LikeCount,
			&item.ViewerLiked,
		); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) CountReplies(ctx context.Context, threadID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM replies WHERE thread_id=$1 AND is_deleted=FALSE
	`, threadID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count replies: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SoftDeleteReply(ctx context.Context, replyID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE replies SET is_deleted=TRUE, updated_at=NOW()
		WHERE id=$1 AND is_deleted=FALSE
	`, replyID)
	if err != nil {
		return false, fmt.Errorf("soft delete reply: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("soft delete reply rows: %w", err)
	}
	return affected > 0, nil
}

// ----- likes -----

// ToggleThreadLike inserts a like, or removes the existing one when the
// unique (thread, user) pair already holds. Returns the resulting state.
func (s *PostgresStore) ToggleThreadLike(ctx context.Context, threadID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO thread_likes (thread_id, user_id) VALUES ($1, $2)
		ON CONFLICT (thread_id, user_id) DO NOTHING
	`, threadID, userID)
	if err != nil {
		return false, fmt.Errorf("insert thread like: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("thread like rows: %w", err)
	}
	if affected > 0 {
		return true, nil
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM thread_likes WHERE thread_id=$1 AND user_id=$2
	`, threadID, userID); err != nil {
		return false, fmt.Errorf("delete thread like: %w", err)
	}
	return false, nil
}

func (s *PostgresStore) ToggleReplyLike(ctx context.Context, replyID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO reply_likes (reply_id, user_id) VALUES ($1, $2)
		ON CONFLICT (reply_id, user_id) DO NOTHING
	`, replyID, userID)
	if err != nil {
		return false, fmt.Errorf("insert reply like: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reply like rows: %w", err)
	}
	if affected > 0 {
		return true, nil
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM reply_likes WHERE reply_id=$1 AND user_id=$2
	`, replyID, userID); err != nil {
		return false, fmt.Errorf("delete reply like: %w", err)
	}
	return false, nil
}

func (s *PostgresStore) ThreadLikeState(ctx context.Context, threadID, viewerID string) (int, bool, error) {
	var count int
	var liked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM thread_likes WHERE thread_id=$1),
			EXISTS(SELECT 1 FROM thread_likes WHERE thread_id=$1 AND user_id=$2)
	`, threadID, viewerID).Scan(&count, &liked)
	if err != nil {
		return 0, false, fmt.Errorf("thread like state: %w", err)
	}
	return count, liked, nil
}

// ----- reports -----

func (s *PostgresStore) InsertReport(ctx context.Context, report Report) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, reporter_id, thread_id, reply_id, reason, status)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, 'PENDING')
	`, report.ID, report.ReporterID, report.ThreadID, report.ReplyID, report.Reason)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReport(ctx context.Context, reportID string) (Report, error) {
	var item Report
	err := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.reporter_id, u.display_name, COALESCE(r.thread_id, ''), COALESCE(r.reply_id, ''),
			r.reason, r.status, r.created_at
		FROM reports r JOIN users u ON u.id = r.reporter_id
		WHERE r.id = $1
	`, reportID).Scan(
		&item.ID,
		&item.ReporterID,
		&item.ReporterName,
		&item.ThreadID,
		&item.ReplyID,
		&item.Reason,
		&item.Status,
		&item.CreatedAt,
	)
	if err != nil {
		return Report{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListPendingReports(ctx context.Context) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.reporter_id, u.display_name, COALESCE(r.thread_id, ''), COALESCE(r.reply_id, ''),
			r.reason, r.status, r.created_at
		FROM reports r JOIN users u ON u.id = r.reporter_id
		WHERE r.status = 'PENDING'
		ORDER BY r.created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending reports: %w", err)
	}
	defer rows.Close()

	items := make([]Report, 0)
	for rows.Next() {
		var item Report
		if err := rows.Scan(
			&item.ID,
			&item.ReporterID,
			&item.ReporterName,
			&item.ThreadID,
			&item.ReplyID,
			&item.Reason,
			&item.Status,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ResolveReportSafe marks a pending report reviewed without touching its target.
func (s *PostgresStore) ResolveReportSafe(ctx context.Context, reportID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reports SET status='RESOLVED' WHERE id=$1 AND status='PENDING'
	`, reportID)
	if err != nil {
		return false, fmt.Errorf("resolve report: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve report rows: %w", err)
	}
	return affected > 0, nil
}

// ResolveReportDelete marks the report resolved and soft-deletes its target
// in one transaction; either both changes land or neither does.
func (s *PostgresStore) ResolveReportDelete(ctx context.Context, reportID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin resolve report: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var threadID, replyID sql.NullString
	err = tx.QueryRowContext(ctx, `
		UPDATE reports SET status='RESOLVED'
		WHERE id=$1 AND status='PENDING'
		RETURNING thread_id, reply_id
	`, reportID).Scan(&threadID, &replyID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve report: %w", err)
	}

	switch {
	case threadID.Valid:
		if _, err := tx.ExecContext(ctx, `
			UPDATE threads SET is_deleted=TRUE, updated_at=NOW() WHERE id=$1
		`, threadID.String); err != nil {
			return false, fmt.Errorf("delete reported thread: %w", err)
		}
	case replyID.Valid:
		if _, err := tx.ExecContext(ctx, `
			UPDATE replies SET is_deleted=TRUE, updated_at=NOW() WHERE id=$1
		`, replyID.String); err != nil {
			return false, fmt.Errorf("delete reported reply: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit resolve report: %w", err)
	}
	return true, nil
}

// ----- mentions -----

func (s *PostgresStore) InsertMention(ctx context.Context, mention Mention) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mentions (id, mentioned_user_id, thread_id, reply_id)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))
	`, mention.ID, mention.MentionedUserID, mention.ThreadID, mention.ReplyID)
	if err != nil {
		return fmt.Errorf("insert mention: %w", err)
	}
	return nil
}
