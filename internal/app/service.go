package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"campusforum/api/internal/auth"
	"campusforum/api/internal/authpw"
	"campusforum/api/internal/config"
	"campusforum/api/internal/email"
	"campusforum/api/internal/media"
	"campusforum/api/internal/mention"
	"campusforum/api/internal/rbac"
	"campusforum/api/internal/search"
	"campusforum/api/internal/session"
	"campusforum/api/internal/store"
	"campusforum/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type CreateThreadInput struct {
	CategorySlug string   `json:"categorySlug"`
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	CourseCode   string   `json:"courseCode"`
	Tags         []string `json:"tags"`
}

type CreateReplyInput struct {
	Body string `json:"body"`
}

type ReportInput struct {
	ThreadID string `json:"threadId"`
	ReplyID  string `json:"replyId"`
	Reason   string `json:"reason"`
}

type ThreadListInput struct {
	CategorySlug string
	TagSlug      string
	CourseSlug   string
	Sort         string
	Page         int
}

var allowedThreadSorts = map[string]struct{}{
	"latest":  {},
	"popular": {},
}

var allowedResourceTypes = map[string]struct{}{
	"DOCUMENT": {},
	"VIDEO":    {},
	"LINK":     {},
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByName(context.Context, string) (store.User, error)
	ResolveUsernames(context.Context, []string) ([]store.User, error)
	UpdateAvatarURL(context.Context, string, string) error

	ListCategories(context.Context) ([]store.Category, error)
	GetCategoryBySlug(context.Context, string) (store.Category, error)
	InsertCategory(context.Context, store.Category) error

	ListTags(context.Context) ([]store.Tag, error)
	GetTagBySlug(context.Context, string) (store.Tag, error)
	GetOrCreateTag(context.Context, string, string, string) (store.Tag, error)
	ListThreadTags(context.Context, string) ([]store.Tag, error)
	AddThreadTag(context.Context, string, string) error

	ListCourses(context.Context) ([]store.Course, error)
	GetCourseBySlug(context.Context, string) (store.Course, error)
	GetCourseByCode(context.Context, string) (store.Course, error)
	InsertCourse(context.Context, store.Course) error
	ListCourseResources(context.Context, string) ([]store.Resource, error)
	GetResource(context.Context, string) (store.Resource, error)
	InsertResource(context.Context, store.Resource) error

	InsertThread(context.Context, store.Thread) error
	GetThread(context.Context, string) (store.Thread, error)
	ListThreads(context.Context, store.ThreadFilter) ([]store.ThreadSummary, int, error)
	SoftDeleteThread(context.Context, string) (bool, error)
	ToggleThreadLock(context.Context, string) (bool, error)

	InsertReply(context.Context, store.Reply) error
	GetReply(context.Context, string) (store.Reply, error)
	ListReplies(context.Context, string, string, int, int) ([]store.ReplySummary, error)
	CountReplies(context.Context, string) (int, error)
	SoftDeleteReply(context.Context, string) (bool, error)

	ToggleThreadLike(context.Context, string, string) (bool, error)
	ToggleReplyLike(context.Context, string, string) (bool, error)
	ThreadLikeState(context.Context, string, string) (int, bool, error)

	InsertReport(context.Context, store.Report) error
	GetReport(context.Context, string) (store.Report, error)
	ListPendingReports(context.Context) ([]store.Report, error)
	ResolveReportSafe(context.Context, string) (bool, error)
	ResolveReportDelete(context.Context, string) (bool, error)

	InsertMention(context.Context, store.Mention) error

	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(context.Context, string, session.TokenData, time.Time) error
	LookupRefreshSession(context.Context, string) (session.TokenData, error)
	RevokeRefreshSession(context.Context, string) error
	Ping(context.Context) error
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexThread(t search.ThreadRecord)
	DeleteThread(id string)
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendMentionEmail(to []string, authorName, threadTitle, excerpt, threadURL string) error
	SendReplyNoticeEmail(to, userName, authorName, threadTitle, excerpt, threadURL string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	search   searchIndex
	mail     mailer
	media    *media.Service
	authpw   *authpw.Service

	// dispatch runs notification work off the request path. Tests
	// replace it with a synchronous variant.
	dispatch func(fn func())
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, searchSvc *search.Service, mail *email.Service, mediaSvc *media.Service, authSvc *authpw.Service) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		search:   searchSvc,
		media:    mediaSvc,
		authpw:   authSvc,
		dispatch: func(fn func()) { go fn() },
	}
	if mail != nil {
		svc.mail = mail
	}
	return svc
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// ----- sessions -----

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user.ID, user.DisplayName, user.Role)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, data.UserID, data.DisplayName, data.Role)
}

func (s *Service) issueSession(ctx context.Context, userID, userName, role string) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), userID, userName, role, jti, expiresAt)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), session.TokenData{
		UserID:      userID,
		DisplayName: userName,
		Role:        role,
	}, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       userID,
		UserName:     userName,
		Role:         role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    claims.Subject,
		UserName:  claims.Name,
		Role:      claims.Role,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ----- categories -----

func (s *Service) ListCategories(ctx context.Context) ([]map[string]any, error) {
	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(categories))
	for _, category := range categories {
		items = append(items, map[string]any{
			"id":          category.ID,
			"name":        category.Name,
			"slug":        category.Slug,
			"description": category.Description,
		})
	}
	return items, nil
}

func (s *Service) CreateCategory(ctx context.Context, sess Session, name, description string) (map[string]any, error) {
	if !s.Can(sess.Role, rbac.ActionDeleteAny) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	category := store.Category{
		ID:          util.NewID("cat"),
		Name:        name,
		Slug:        slugify(name),
		Description: strings.TrimSpace(description),
	}
	if err := s.store.InsertCategory(ctx, category); err != nil {
		return nil, err
	}
	return map[string]any{
		"id":          category.ID,
		"name":        category.Name,
		"slug":        category.Slug,
		"description": category.Description,
	}, nil
}

// ----- threads -----

func (s *Service) ListThreads(ctx context.Context, input ThreadListInput) (map[string]any, error) {
	sort := input.Sort
	if sort == "" {
		sort = "latest"
	}
	if _, ok := allowedThreadSorts[sort]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "sort must be latest or popular", nil)
	}

	filter := store.ThreadFilter{Sort: sort, Limit: s.pageSize()}
	if input.CategorySlug != "" {
		category, err := s.store.GetCategoryBySlug(ctx, input.CategorySlug)
		if err != nil {
			return nil, err
		}
		filter.CategoryID = category.ID
	}
	if input.TagSlug != "" {
		tag, err := s.store.GetTagBySlug(ctx, input.TagSlug)
		if err != nil {
			return nil, err
		}
		filter.TagID = tag.ID
	}
	if input.CourseSlug != "" {
		course, err := s.store.GetCourseBySlug(ctx, input.CourseSlug)
		if err != nil {
			return nil, err
		}
		filter.CourseID = course.ID
	}

	page := input.Page
	if page < 1 {
		page = 1
	}
	filter.Offset = (page - 1) * filter.Limit

	threads, total, err := s.store.ListThreads(ctx, filter)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(threads))
	for _, thread := range threads {
		tags, err := s.store.ListThreadTags(ctx, thread.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, threadSummaryPayload(thread, tags))
	}

	return map[string]any{
		"threads":   items,
		"total":     total,
		"page":      page,
		"pageCount": pageCount(total, s.pageSize()),
	}, nil
}

func (s *Service) CreateThread(ctx context.Context, sess Session, input CreateThreadInput) (map[string]any, error) {
	if !s.Can(sess.Role, rbac.ActionPost) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	title := strings.TrimSpace(input.Title)
	body := strings.TrimSpace(input.Body)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if body == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}

	category, err := s.store.GetCategoryBySlug(ctx, input.CategorySlug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown category", nil)
		}
		return nil, err
	}

	thread := store.Thread{
		ID:         util.NewID("thr"),
		CategoryID: category.ID,
		AuthorID:   sess.UserID,
		AuthorName: sess.UserName,
		Title:      title,
		Body:       body,
	}

	if code := strings.TrimSpace(input.CourseCode); code != "" {
		course, err := s.store.GetCourseByCode(ctx, code)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown course", nil)
			}
			return nil, err
		}
		thread.CourseID = course.ID
	}

	if err := s.store.InsertThread(ctx, thread); err != nil {
		return nil, err
	}

	tags := make([]store.Tag, 0, len(input.Tags))
	for _, raw := range input.Tags {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		tag, err := s.store.GetOrCreateTag(ctx, util.NewID("tag"), name, slugify(name))
		if err != nil {
			return nil, err
		}
		if err := s.store.AddThreadTag(ctx, thread.ID, tag.ID); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}

	s.notifyMentions(ctx, sess, body, thread, "")

	s.search.IndexThread(search.ThreadRecord{
		ID:         thread.ID,
		Title:      thread.Title,
		Body:       thread.Body,
		CategoryID: thread.CategoryID,
		CourseID:   thread.CourseID,
		AuthorName: sess.UserName,
	})

	payload := threadPayload(thread, tags)
	payload["likeCount"] = 0
	payload["replyCount"] = 0
	return payload, nil
}

// GetThread returns a thread with one page of replies. Soft-deleted threads
// are visible to moderators only; everyone else gets a not-found.
func (s *Service) GetThread(ctx context.Context, sess Session, threadID string, page int) (map[string]any, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.IsDeleted && !s.Can(sess.Role, rbac.ActionViewReports) {
		return nil, sql.ErrNoRows
	}

	tags, err := s.store.ListThreadTags(ctx, thread.ID)
	if err != nil {
		return nil, err
	}

	likeCount, viewerLiked, err := s.store.ThreadLikeState(ctx, thread.ID, sess.UserID)
	if err != nil {
		return nil, err
	}

	replyTotal, err := s.store.CountReplies(ctx, thread.ID)
	if err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	replies, err := s.store.ListReplies(ctx, thread.ID, sess.UserID, s.pageSize(), (page-1)*s.pageSize())
	if err != nil {
		return nil, err
	}

	replyItems := make([]map[string]any, 0, len(replies))
	for _, reply := range replies {
		replyItems = append(replyItems, replyPayload(reply))
	}

	payload := threadPayload(thread, tags)
	payload["likeCount"] = likeCount
	payload["viewerLiked"] = viewerLiked
	payload["replyCount"] = replyTotal
	payload["replies"] = replyItems
	payload["page"] = page
	payload["pageCount"] = pageCount(replyTotal, s.pageSize())
	return payload, nil
}

func (s *Service) DeleteThread(ctx context.Context, sess Session, threadID string) error {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	if thread.AuthorID != sess.UserID && !s.Can(sess.Role, rbac.ActionDeleteAny) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	deleted, err := s.store.SoftDeleteThread(ctx, threadID)
	if err != nil {
		return err
	}
	if !deleted {
		return sql.ErrNoRows
	}
	s.search.DeleteThread(threadID)
	return nil
}

// LockThread toggles the lock flag and returns the new state.
func (s *Service) LockThread(ctx context.Context, sess Session, threadID string) (map[string]any, error) {
	if !s.Can(sess.Role, rbac.ActionLock) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	locked, err := s.store.ToggleThreadLock(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": threadID, "isLocked": locked}, nil
}

// ----- replies -----

// CreateReply posts a reply. Locked threads reject replies; deleted threads
// look like they never existed.
func (s *Service) CreateReply(ctx context.Context, sess Session, threadID string, input CreateReplyInput) (map[string]any, error) {
	if !s.Can(sess.Role, rbac.ActionPost) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}

	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.IsDeleted {
		return nil, sql.ErrNoRows
	}
	if thread.IsLocked {
		return nil, domainError(http.StatusForbidden, "THREAD_LOCKED", "Thread is locked", nil)
	}

	reply := store.Reply{
		ID:         util.NewID("rpl"),
		ThreadID:   thread.ID,
		AuthorID:   sess.UserID,
		AuthorName: sess.UserName,
		Body:       body,
	}
	if err := s.store.InsertReply(ctx, reply); err != nil {
		return nil, err
	}

	total, err := s.store.CountReplies(ctx, thread.ID)
	if err != nil {
		return nil, err
	}

	s.notifyMentions(ctx, sess, body, thread, reply.ID)
	s.notifyThreadAuthor(ctx, sess, thread, body)

	payload := map[string]any{
		"id":         reply.ID,
		"threadId":   reply.ThreadID,
		"authorId":   reply.AuthorID,
		"authorName": reply.AuthorName,
		"body":       reply.Body,
		"page":       pageCount(total, s.pageSize()),
	}
	return payload, nil
}

func (s *Service) DeleteReply(ctx context.Context, sess Session, replyID string) error {
	reply, err := s.store.GetReply(ctx, replyID)
	if err != nil {
		return err
	}
	if reply.AuthorID != sess.UserID && !s.Can(sess.Role, rbac.ActionDeleteAny) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	deleted, err := s.store.SoftDeleteReply(ctx, replyID)
	if err != nil {
		return err
	}
	if !deleted {
		return sql.ErrNoRows
	}
	return nil
}

// ----- likes -----

func (s *Service) ToggleThreadLike(ctx context.Context, sess Session, threadID string) (map[string]any, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.IsDeleted {
		return nil, sql.ErrNoRows
	}
	liked, err := s.store.ToggleThreadLike(ctx, thread.ID, sess.UserID)
	if err != nil {
		return nil, err
	}
	count, _, err := s.store.ThreadLikeState(ctx, thread.ID, sess.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"threadId": thread.ID, "liked": liked, "likeCount": count}, nil
}

func (s *Service) ToggleReplyLike(ctx context.Context, sess Session, replyID string) (map[string]any, error) {
	reply, err := s.store.GetReply(ctx, replyID)
	if err != nil {
		return nil, err
	}
	if reply.IsDeleted {
		return nil, sql.ErrNoRows
	}
	liked, err := s.store.ToggleReplyLike(ctx, reply.ID, sess.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"replyId": reply.ID, "liked": liked}, nil
}

// ----- reports -----

func (s *Service) ReportContent(ctx context.Context, sess Session, input ReportInput) (map[string]any, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "reason is required", nil)
	}
	if (input.ThreadID == "") == (input.ReplyID == "") {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "exactly one of threadId or replyId is required", nil)
	}

	if input.ThreadID != "" {
		thread, err := s.store.GetThread(ctx, input.ThreadID)
		if err != nil {
			return nil, err
		}
		if thread.IsDeleted {
			return nil, sql.ErrNoRows
		}
	} else {
		reply, err := s.store.GetReply(ctx, input.ReplyID)
		if err != nil {
			return nil, err
		}
		if reply.IsDeleted {
			return nil, sql.ErrNoRows
		}
	}

	report := store.Report{
		ID:         util.NewID("rpt"),
		ReporterID: sess.UserID,
		ThreadID:   input.ThreadID,
		ReplyID:    input.ReplyID,
		Reason:     reason,
	}
	if err := s.store.InsertReport(ctx, report); err != nil {
		return nil, err
	}
	return map[string]any{"id": report.ID, "status": "PENDING"}, nil
}

func (s *Service) ListReports(ctx context.Context, sess Session) ([]map[string]any, error) {
	if !s.Can(sess.Role, rbac.ActionViewReports) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	reports, err := s.store.ListPendingReports(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(reports))
	for _, report := range reports {
		items = append(items, map[string]any{
			"id":           report.ID,
			"reporterId":   report.ReporterID,
			"reporterName": report.ReporterName,
			"threadId":     report.ThreadID,
			"replyId":      report.ReplyID,
			"reason":       report.Reason,
			"status":       report.Status,
			"createdAt":    report.CreatedAt,
		})
	}
	return items, nil
}

// ResolveReport closes a pending report. action "safe" keeps the content,
// "delete" also soft-deletes the reported thread or reply atomically.
func (s *Service) ResolveReport(ctx context.Context, sess Session, reportID, action string) (map[string]any, error) {
	if !s.Can(sess.Role, rbac.ActionResolveReports) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report.Status != "PENDING" {
		return nil, domainError(http.StatusConflict, "ALREADY_RESOLVED", "Report already resolved", nil)
	}

	var resolved bool
	switch action {
	case "safe":
		resolved, err = s.store.ResolveReportSafe(ctx, reportID)
	case "delete":
		resolved, err = s.store.ResolveReportDelete(ctx, reportID)
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "action must be safe or delete", nil)
	}
	if err != nil {
		return nil, err
	}
	if !resolved {
		return nil, domainError(http.StatusConflict, "ALREADY_RESOLVED", "Report already resolved", nil)
	}

	if action == "delete" && report.ThreadID != "" {
		s.search.DeleteThread(report.ThreadID)
	}

	return map[string]any{"id": reportID, "status": "RESOLVED", "action": action}, nil
}

// ----- tags and courses -----

func (s *Service) ListTags(ctx context.Context) ([]map[string]any, error) {
	tags, err := s.store.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(tags))
	for _, tag := range tags {
		items = append(items, map[string]any{"id": tag.ID, "name": tag.Name, "slug": tag.Slug})
	}
	return items, nil
}

func (s *Service) ListCourses(ctx context.Context) ([]map[string]any, error) {
	courses, err := s.store.ListCourses(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(courses))
	for _, course := range courses {
		items = append(items, coursePayload(course))
	}
	return items, nil
}

func (s *Service) GetCourse(ctx context.Context, slug string) (map[string]any, error) {
	course, err := s.store.GetCourseBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	resources, err := s.store.ListCourseResources(ctx, course.ID)
	if err != nil {
		return nil, err
	}
	resourceItems := make([]map[string]any, 0, len(resources))
	for _, resource := range resources {
		resourceItems = append(resourceItems, map[string]any{
			"id":    resource.ID,
			"title": resource.Title,
			"type":  resource.Type,
			"url":   resource.URL,
		})
	}
	payload := coursePayload(course)
	payload["resources"] = resourceItems
	return payload, nil
}

func (s *Service) CreateCourse(ctx context.Context, sess Session, code, title, department string) (map[string]any, error) {
	if !s.Can(sess.Role, rbac.ActionDeleteAny) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	code = strings.TrimSpace(code)
	title = strings.TrimSpace(title)
	if code == "" || title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "code and title are required", nil)
	}
	course := store.Course{
		ID:         util.NewID("crs"),
		Code:       code,
		Title:      title,
		Slug:       slugify(code),
		Department: strings.TrimSpace(department),
	}
	if err := s.store.InsertCourse(ctx, course); err != nil {
		return nil, err
	}
	return coursePayload(course), nil
}

func (s *Service) AddCourseResource(ctx context.Context, sess Session, courseSlug, title, resourceType, url string) (map[string]any, error) {
	if !s.Can(sess.Role, rbac.ActionDeleteAny) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if _, ok := allowedResourceTypes[resourceType]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be DOCUMENT, VIDEO or LINK", nil)
	}
	title = strings.TrimSpace(title)
	url = strings.TrimSpace(url)
	if title == "" || url == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title and url are required", nil)
	}
	course, err := s.store.GetCourseBySlug(ctx, courseSlug)
	if err != nil {
		return nil, err
	}
	resource := store.Resource{
		ID:       util.NewID("res"),
		CourseID: course.ID,
		Title:    title,
		Type:     resourceType,
		URL:      url,
	}
	if err := s.store.InsertResource(ctx, resource); err != nil {
		return nil, err
	}
	return map[string]any{
		"id":    resource.ID,
		"title": resource.Title,
		"type":  resource.Type,
		"url":   resource.URL,
	}, nil
}

// UploadCourseResource stores an uploaded file in object storage and records
// it as a course resource. The stored URL is the object key; download links
// are presigned on demand.
func (s *Service) UploadCourseResource(ctx context.Context, sess Session, courseSlug, title, resourceType, filename string, r io.Reader, size int64, contentType string) (map[string]any, error) {
	if !s.Can(sess.Role, rbac.ActionDeleteAny) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if resourceType != "DOCUMENT" && resourceType != "VIDEO" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "uploaded resources must be DOCUMENT or VIDEO", nil)
	}
	title = strings.TrimSpace(title)
	filename = strings.TrimSpace(filename)
	if title == "" || filename == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title and file are required", nil)
	}
	if s.media == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Media storage not configured", nil)
	}

	course, err := s.store.GetCourseBySlug(ctx, courseSlug)
	if err != nil {
		return nil, err
	}

	resource := store.Resource{
		ID:       util.NewID("res"),
		CourseID: course.ID,
		Title:    title,
		Type:     resourceType,
	}
	key, err := s.media.UploadResource(ctx, resource.ID, filename, r, size, contentType)
	if err != nil {
		return nil, err
	}
	resource.URL = key

	if err := s.store.InsertResource(ctx, resource); err != nil {
		if removeErr := s.media.RemoveObject(ctx, key); removeErr != nil {
			log.Printf("media: orphan cleanup %s: %v", key, removeErr)
		}
		return nil, err
	}

	return map[string]any{
		"id":    resource.ID,
		"title": resource.Title,
		"type":  resource.Type,
		"url":   resource.URL,
	}, nil
}

// ResourceDownloadURL resolves a resource to a usable link. Externally
// hosted resources return their URL as-is; stored files get a short-lived
// presigned link.
func (s *Service) ResourceDownloadURL(ctx context.Context, resourceID string) (map[string]any, error) {
	resource, err := s.store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(resource.URL, "http://") || strings.HasPrefix(resource.URL, "https://") {
		return map[string]any{"id": resource.ID, "url": resource.URL}, nil
	}
	if s.media == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Media storage not configured", nil)
	}
	link, err := s.media.PresignedURL(ctx, resource.URL, 15*time.Minute)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": resource.ID, "url": link}, nil
}

// ----- search -----

// SearchThreads returns similarity-ranked threads. An empty query matches
// nothing.
func (s *Service) SearchThreads(ctx context.Context, query, categorySlug string, page int) (map[string]any, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return map[string]any{
			"results": []map[string]any{},
			"total":   0,
			"query":   "",
		}, nil
	}

	var categoryID string
	if categorySlug != "" {
		category, err := s.store.GetCategoryBySlug(ctx, categorySlug)
		if err != nil {
			return nil, err
		}
		categoryID = category.ID
	}

	if page < 1 {
		page = 1
	}
	resp := s.search.Search(ctx, search.Query{
		Text:             query,
		FilterCategoryID: categoryID,
		Limit:            s.pageSize(),
		Offset:           (page - 1) * s.pageSize(),
	})

	return map[string]any{
		"results": resp.Results,
		"total":   resp.Total,
		"query":   resp.Query,
		"page":    page,
	}, nil
}

// ----- profile -----

func (s *Service) GetProfile(ctx context.Context, sess Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":          user.ID,
		"displayName": user.DisplayName,
		"email":       user.Email,
		"role":        user.Role,
		"avatarUrl":   user.AvatarURL,
	}, nil
}

// UploadAvatar stores the image in object storage and records its URL.
func (s *Service) UploadAvatar(ctx context.Context, sess Session, r io.Reader, size int64, contentType string) (map[string]any, error) {
	if s.media == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Media storage not configured", nil)
	}
	key, err := s.media.UploadAvatar(ctx, sess.UserID, r, size, contentType)
	if err != nil {
		return nil, err
	}
	avatarURL := key
	if s.cfg.MinioPublicURL != "" {
		avatarURL = strings.TrimRight(s.cfg.MinioPublicURL, "/") + "/" + key
	}
	if err := s.store.UpdateAvatarURL(ctx, sess.UserID, avatarURL); err != nil {
		return nil, err
	}
	return map[string]any{"avatarUrl": avatarURL}, nil
}

// ----- notifications -----

// notifyMentions resolves @username tokens in text, records a mention row
// for each matched user, and emails them. Unknown names and self-mentions
// are skipped. Email failures never surface to the caller.
func (s *Service) notifyMentions(ctx context.Context, sess Session, text string, thread store.Thread, replyID string) {
	names := mention.Extract(text)
	if len(names) == 0 {
		return
	}

	users, err := s.store.ResolveUsernames(ctx, names)
	if err != nil {
		log.Printf("mentions: resolve usernames: %v", err)
		return
	}

	threadID := ""
	if replyID == "" {
		threadID = thread.ID
	}

	notified := make([]store.User, 0, len(users))
	for _, user := range users {
		if user.ID == sess.UserID {
			continue
		}
		if err := s.store.InsertMention(ctx, store.Mention{
			ID:              util.NewID("men"),
			MentionedUserID: user.ID,
			ThreadID:        threadID,
			ReplyID:         replyID,
		}); err != nil {
			log.Printf("mentions: insert mention for %s: %v", user.DisplayName, err)
			continue
		}
		notified = append(notified, user)
	}

	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}

	recipients := make([]string, 0, len(notified))
	for _, user := range notified {
		if user.Email != "" {
			recipients = append(recipients, user.Email)
		}
	}
	if len(recipients) == 0 {
		return
	}

	excerpt := excerptOf(text)
	threadURL := s.threadURL(thread.ID)
	authorName := sess.UserName
	title := thread.Title
	mail := s.mail
	s.dispatch(func() {
		// One message per creation event, all mentioned users on it.
		if err := mail.SendMentionEmail(recipients, authorName, title, excerpt, threadURL); err != nil {
			log.Printf("mentions: send email: %v", err)
		}
	})
}

// notifyThreadAuthor emails the thread author about a new reply, unless
// they wrote it themselves.
func (s *Service) notifyThreadAuthor(ctx context.Context, sess Session, thread store.Thread, body string) {
	if thread.AuthorID == sess.UserID {
		return
	}
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}

	author, err := s.store.GetUserByID(ctx, thread.AuthorID)
	if err != nil {
		log.Printf("reply notice: load thread author: %v", err)
		return
	}

	excerpt := excerptOf(body)
	threadURL := s.threadURL(thread.ID)
	replierName := sess.UserName
	title := thread.Title
	mail := s.mail
	s.dispatch(func() {
		if err := mail.SendReplyNoticeEmail(author.Email, author.DisplayName, replierName, title, excerpt, threadURL); err != nil {
			log.Printf("reply notice: send email to %s: %v", author.Email, err)
		}
	})
}

// sendVerification emails the sign-up verification link. Best effort: when
// SMTP is not configured the HTTP layer exposes the token directly instead.
func (s *Service) sendVerification(ctx context.Context, resp *authpw.SignUpResponse) {
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}
	user, err := s.store.GetUserByID(ctx, resp.UserID)
	if err != nil {
		log.Printf("verification: load user %s: %v", resp.UserID, err)
		return
	}
	verifyURL := s.frontendURL() + "/verify-email?token=" + resp.VerificationToken
	mail := s.mail
	s.dispatch(func() {
		if err := mail.SendVerificationEmail(user.Email, user.DisplayName, verifyURL); err != nil {
			log.Printf("verification: send email to %s: %v", user.Email, err)
		}
	})
}

// ----- helpers -----

func (s *Service) pageSize() int {
	if s.cfg.PageSize > 0 {
		return s.cfg.PageSize
	}
	return 10
}

func (s *Service) frontendURL() string {
	origin := s.cfg.CORSOrigin
	if origin == "" || origin == "*" {
		origin = "http://localhost:3000"
	}
	return strings.TrimRight(origin, "/")
}

func (s *Service) threadURL(threadID string) string {
	return s.frontendURL() + "/threads/" + threadID
}

func pageCount(total, pageSize int) int {
	if total <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}

func excerptOf(text string) string {
	const max = 160
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max]) + "…"
}

func slugify(value string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(value)) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func coursePayload(course store.Course) map[string]any {
	return map[string]any{
		"id":         course.ID,
		"code":       course.Code,
		"title":      course.Title,
		"slug":       course.Slug,
		"department": course.Department,
	}
}

func threadPayload(thread store.Thread, tags []store.Tag) map[string]any {
	tagItems := make([]map[string]any, 0, len(tags))
	for _, tag := range tags {
		tagItems = append(tagItems, map[string]any{"id": tag.ID, "name": tag.Name, "slug": tag.Slug})
	}
	return map[string]any{
		"id":         thread.ID,
		"categoryId": thread.CategoryID,
		"authorId":   thread.AuthorID,
		"authorName": thread.AuthorName,
		"courseId":   thread.CourseID,
		"title":      thread.Title,
		"body":       thread.Body,
		"isLocked":   thread.IsLocked,
		"isDeleted":  thread.IsDeleted,
		"createdAt":  thread.CreatedAt,
		"tags":       tagItems,
	}
}

func threadSummaryPayload(thread store.ThreadSummary, tags []store.Tag) map[string]any {
	payload := threadPayload(thread.Thread, tags)
	payload["likeCount"] = thread.LikeCount
	payload["replyCount"] = thread.ReplyCount
	delete(payload, "body")
	payload["excerpt"] = excerptOf(thread.Body)
	return payload
}

func replyPayload(reply store.ReplySummary) map[string]any {
	return map[string]any{
		"id":          reply.ID,
		"threadId":    reply.ThreadID,
		"authorId":    reply.AuthorID,
		"authorName":  reply.AuthorName,
		"body":        reply.Body,
		"createdAt":   reply.CreatedAt,
		"likeCount":   reply.LikeCount,
		"viewerLiked": reply.ViewerLiked,
	}
}
