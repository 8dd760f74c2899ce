package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"campusforum/api/internal/config"
	"campusforum/api/internal/search"
	"campusforum/api/internal/session"
	"campusforum/api/internal/store"
)

type fakeStore struct {
	getUserByIDFn       func(context.Context, string) (store.User, error)
	resolveUsernamesFn  func(context.Context, []string) ([]store.User, error)
	getCategoryBySlugFn func(context.Context, string) (store.Category, error)
	getThreadFn         func(context.Context, string) (store.Thread, error)
	listThreadsFn       func(context.Context, store.ThreadFilter) ([]store.ThreadSummary, int, error)
	insertThreadFn      func(context.Context, store.Thread) error
	softDeleteThreadFn  func(context.Context, string) (bool, error)
	toggleThreadLockFn  func(context.Context, string) (bool, error)
	insertReplyFn       func(context.Context, store.Reply) error
	getReplyFn          func(context.Context, string) (store.Reply, error)
	countRepliesFn      func(context.Context, string) (int, error)
	listRepliesFn       func(context.Context, string, string, int, int) ([]store.ReplySummary, error)
	softDeleteReplyFn   func(context.Context, string) (bool, error)
	toggleThreadLikeFn  func(context.Context, string, string) (bool, error)
	toggleReplyLikeFn   func(context.Context, string, string) (bool, error)
	threadLikeStateFn   func(context.Context, string, string) (int, bool, error)
	insertReportFn      func(context.Context, store.Report) error
	getReportFn         func(context.Context, string) (store.Report, error)
	resolveSafeFn       func(context.Context, string) (bool, error)
	resolveDeleteFn     func(context.Context, string) (bool, error)
	insertMentionFn     func(context.Context, store.Mention) error
	getResourceFn       func(context.Context, string) (store.Resource, error)
	insertCourseFn      func(context.Context, store.Course) error
	getOrCreateTagFn    func(context.Context, string, string, string) (store.Tag, error)
	addThreadTagFn      func(context.Context, string, string) error
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) GetUserByName(context.Context, string) (store.User, error) {
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) ResolveUsernames(ctx context.Context, names []string) ([]store.User, error) {
	if f.resolveUsernamesFn != nil {
		return f.resolveUsernamesFn(ctx, names)
	}
	return nil, nil
}
func (f *fakeStore) UpdateAvatarURL(context.Context, string, string) error { return nil }

func (f *fakeStore) ListCategories(context.Context) ([]store.Category, error) { return nil, nil }
func (f *fakeStore) GetCategoryBySlug(ctx context.Context, slug string) (store.Category, error) {
	if f.getCategoryBySlugFn != nil {
		return f.getCategoryBySlugFn(ctx, slug)
	}
	return store.Category{}, sql.ErrNoRows
}
func (f *fakeStore) InsertCategory(context.Context, store.Category) error { return nil }

func (f *fakeStore) ListTags(context.Context) ([]store.Tag, error) { return nil, nil }
func (f *fakeStore) GetTagBySlug(context.Context, string) (store.Tag, error) {
	return store.Tag{}, sql.ErrNoRows
}
func (f *fakeStore) GetOrCreateTag(ctx context.Context, id, name, slug string) (store.Tag, error) {
	if f.getOrCreateTagFn != nil {
		return f.getOrCreateTagFn(ctx, id, name, slug)
	}
	return store.Tag{ID: id, Name: name, Slug: slug}, nil
}
func (f *fakeStore) ListThreadTags(context.Context, string) ([]store.Tag, error) { return nil, nil }
func (f *fakeStore) AddThreadTag(ctx context.Context, threadID, tagID string) error {
	if f.addThreadTagFn != nil {
		return f.addThreadTagFn(ctx, threadID, tagID)
	}
	return nil
}

func (f *fakeStore) ListCourses(context.Context) ([]store.Course, error) { return nil, nil }
func (f *fakeStore) GetCourseBySlug(context.Context, string) (store.Course, error) {
	return store.Course{}, sql.ErrNoRows
}
func (f *fakeStore) GetCourseByCode(context.Context, string) (store.Course, error) {
	return store.Course{}, sql.ErrNoRows
}
func (f *fakeStore) InsertCourse(ctx context.Context, course store.Course) error {
	if f.insertCourseFn != nil {
		return f.insertCourseFn(ctx, course)
	}
	return nil
}
func (f *fakeStore) ListCourseResources(context.Context, string) ([]store.Resource, error) {
	return nil, nil
}
func (f *fakeStore) GetResource(ctx context.Context, resourceID string) (store.Resource, error) {
	if f.getResourceFn != nil {
		return f.getResourceFn(ctx, resourceID)
	}
	return store.Resource{}, sql.ErrNoRows
}
func (f *fakeStore) InsertResource(context.Context, store.Resource) error { return nil }

func (f *fakeStore) InsertThread(ctx context.Context, thread store.Thread) error {
	if f.insertThreadFn != nil {
		return f.insertThreadFn(ctx, thread)
	}
	return nil
}
func (f *fakeStore) GetThread(ctx context.Context, threadID string) (store.Thread, error) {
	if f.getThreadFn != nil {
		return f.getThreadFn(ctx, threadID)
	}
	return store.Thread{}, sql.ErrNoRows
}
func (f *fakeStore) ListThreads(ctx context.Context, filter store.ThreadFilter) ([]store.ThreadSummary, int, error) {
	if f.listThreadsFn != nil {
		return f.listThreadsFn(ctx, filter)
	}
	return nil, 0, nil
}
func (f *fakeStore) SoftDeleteThread(ctx context.Context, threadID string) (bool, error) {
	if f.softDeleteThreadFn != nil {
		return f.softDeleteThreadFn(ctx, threadID)
	}
	return false, nil
}
func (f *fakeStore) ToggleThreadLock(ctx context.Context, threadID string) (bool, error) {
	if f.toggleThreadLockFn != nil {
		return f.toggleThreadLockFn(ctx, threadID)
	}
	return false, sql.ErrNoRows
}

func (f *fakeStore) InsertReply(ctx context.Context, reply store.Reply) error {
	if f.insertReplyFn != nil {
		return f.insertReplyFn(ctx, reply)
	}
	return nil
}
func (f *fakeStore) GetReply(ctx context.Context, replyID string) (store.Reply, error) {
	if f.getReplyFn != nil {
		return f.getReplyFn(ctx, replyID)
	}
	return store.Reply{}, sql.ErrNoRows
}
func (f *fakeStore) ListReplies(ctx context.Context, threadID, viewerID string, limit, offset int) ([]store.ReplySummary, error) {
	if f.listRepliesFn != nil {
		return f.listRepliesFn(ctx, threadID, viewerID, limit, offset)
	}
	return nil, nil
}
func (f *fakeStore) CountReplies(ctx context.Context, threadID string) (int, error) {
	if f.countRepliesFn != nil {
		return f.countRepliesFn(ctx, threadID)
	}
	return 0, nil
}
func (f *fakeStore) SoftDeleteReply(ctx context.Context, replyID string) (bool, error) {
	if f.softDeleteReplyFn != nil {
		return f.softDeleteReplyFn(ctx, replyID)
	}
	return false, nil
}

func (f *fakeStore) ToggleThreadLike(ctx context.Context, threadID, userID string) (bool, error) {
	if f.toggleThreadLikeFn != nil {
		return f.toggleThreadLikeFn(ctx, threadID, userID)
	}
	return false, nil
}
func (f *fakeStore) ToggleReplyLike(ctx context.Context, replyID, userID string) (bool, error) {
	if f.toggleReplyLikeFn != nil {
		return f.toggleReplyLikeFn(ctx, replyID, userID)
	}
	return false, nil
}
func (f *fakeStore) ThreadLikeState(ctx context.Context, threadID, viewerID string) (int, bool, error) {
	if f.threadLikeStateFn != nil {
		return f.threadLikeStateFn(ctx, threadID, viewerID)
	}
	return 0, false, nil
}

func (f *fakeStore) InsertReport(ctx context.Context, report store.Report) error {
	if f.insertReportFn != nil {
		return f.insertReportFn(ctx, report)
	}
	return nil
}
func (f *fakeStore) GetReport(ctx context.Context, reportID string) (store.Report, error) {
	if f.getReportFn != nil {
		return f.getReportFn(ctx, reportID)
	}
	return store.Report{}, sql.ErrNoRows
}
func (f *fakeStore) ListPendingReports(context.Context) ([]store.Report, error) { return nil, nil }
func (f *fakeStore) ResolveReportSafe(ctx context.Context, reportID string) (bool, error) {
	if f.resolveSafeFn != nil {
		return f.resolveSafeFn(ctx, reportID)
	}
	return false, nil
}
func (f *fakeStore) ResolveReportDelete(ctx context.Context, reportID string) (bool, error) {
	if f.resolveDeleteFn != nil {
		return f.resolveDeleteFn(ctx, reportID)
	}
	return false, nil
}

func (f *fakeStore) InsertMention(ctx context.Context, m store.Mention) error {
	if f.insertMentionFn != nil {
		return f.insertMentionFn(ctx, m)
	}
	return nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeSessions struct {
	saved map[string]session.TokenData
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{saved: make(map[string]session.TokenData)}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, hash string, data session.TokenData, _ time.Time) error {
	f.saved[hash] = data
	return nil
}
func (f *fakeSessions) LookupRefreshSession(_ context.Context, hash string) (session.TokenData, error) {
	data, ok := f.saved[hash]
	if !ok {
		return session.TokenData{}, session.ErrSessionNotFound
	}
	return data, nil
}
func (f *fakeSessions) RevokeRefreshSession(_ context.Context, hash string) error {
	delete(f.saved, hash)
	return nil
}
func (f *fakeSessions) Ping(context.Context) error { return nil }

type fakeSearch struct {
	indexed  []search.ThreadRecord
	deleted  []string
	response search.Response
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	resp := f.response
	resp.Query = q.Text
	return resp
}
func (f *fakeSearch) IndexThread(t search.ThreadRecord) { f.indexed = append(f.indexed, t) }
func (f *fakeSearch) DeleteThread(id string)            { f.deleted = append(f.deleted, id) }

type sentMail struct {
	kind string
	to   string
}

type fakeMailer struct {
	configured     bool
	sent           []sentMail
	mentionBatches [][]string
}

func (f *fakeMailer) IsConfigured() bool { return f.configured }
func (f *fakeMailer) SendVerificationEmail(to, _, _ string) error {
	f.sent = append(f.sent, sentMail{kind: "verification", to: to})
	return nil
}
func (f *fakeMailer) SendMentionEmail(to []string, _, _, _, _ string) error {
	f.mentionBatches = append(f.mentionBatches, to)
	return nil
}
func (f *fakeMailer) SendReplyNoticeEmail(to, _, _, _, _, _ string) error {
	f.sent = append(f.sent, sentMail{kind: "reply", to: to})
	return nil
}

func newTestService(dataStore *fakeStore) (*Service, *fakeSearch, *fakeMailer) {
	searchFake := &fakeSearch{}
	mailFake := &fakeMailer{configured: true}
	svc := &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 24 * time.Hour,
			PageSize:   10,
		},
		store:    dataStore,
		sessions: newFakeSessions(),
		search:   searchFake,
		mail:     mailFake,
		dispatch: func(fn func()) { fn() },
	}
	return svc, searchFake, mailFake
}

func studentSession() Session {
	return Session{UserID: "usr_student", UserName: "carol", Role: "STUDENT"}
}

func moderatorSession() Session {
	return Session{UserID: "usr_mod", UserName: "mallory", Role: "MODERATOR"}
}

func domainCode(t *testing.T, err error) string {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return domainErr.Code
}

func TestSessionRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "carol", Role: "STUDENT"}, nil
		},
	})
	ctx := context.Background()

	created, err := svc.CreateSession(ctx, "usr_1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	parsed, err := svc.SessionFromToken(ctx, created.Token)
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	if parsed.UserID != "usr_1" || parsed.UserName != "carol" || parsed.Role != "STUDENT" {
		t.Errorf("unexpected session: %+v", parsed)
	}

	refreshed, err := svc.Refresh(ctx, created.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if refreshed.UserID != "usr_1" {
		t.Errorf("expected refreshed session for usr_1, got %s", refreshed.UserID)
	}

	// The old refresh token is single-use.
	if _, err := svc.Refresh(ctx, created.RefreshToken); err == nil {
		t.Error("expected error reusing a rotated refresh token")
	}
}

func TestCreateReplyLockedThread(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{
		getThreadFn: func(context.Context, string) (store.Thread, error) {
			return store.Thread{ID: "thr_1", AuthorID: "usr_other", IsLocked: true}, nil
		},
	})

	_, err := svc.CreateReply(context.Background(), studentSession(), "thr_1", CreateReplyInput{Body: "hello"})
	if code := domainCode(t, err); code != "THREAD_LOCKED" {
		t.Errorf("expected THREAD_LOCKED, got %s", code)
	}
}

func TestCreateReplyDeletedThreadLooksMissing(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{
		getThreadFn: func(context.Context, string) (store.Thread, error) {
			return store.Thread{ID: "thr_1", IsDeleted: true}, nil
		},
	})

	_, err := svc.CreateReply(context.Background(), studentSession(), "thr_1", CreateReplyInput{Body: "hello"})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows for deleted thread, got %v", err)
	}
}

func TestCreateReplyMentions(t *testing.T) {
	var mentions []store.Mention
	svc, _, mail := newTestService(&fakeStore{
		getThreadFn: func(context.Context, string) (store.Thread, error) {
			return store.Thread{ID: "thr_1", Title: "Lab 3", AuthorID: "usr_student"}, nil
		},
		resolveUsernamesFn: func(_ context.Context, names []string) ([]store.User, error) {
			users := make([]store.User, 0)
			for _, name := range names {
				switch name {
				case "alice":
					users = append(users, store.User{ID: "usr_alice", DisplayName: "alice", Email: "alice@student.university.edu"})
				case "bob":
					users = append(users, store.User{ID: "usr_bob", DisplayName: "bob", Email: "bob@student.university.edu"})
				case "carol":
					users = append(users, store.User{ID: "usr_student", DisplayName: "carol", Email: "carol@student.university.edu"})
				}
			}
			return users, nil
		},
		insertMentionFn: func(_ context.Context, m store.Mention) error {
			mentions = append(mentions, m)
			return nil
		},
	})

	_, err := svc.CreateReply(context.Background(), studentSession(), "thr_1", CreateReplyInput{
		Body: "hey @alice and @bob, also @ghost and @carol and @alice again",
	})
	if err != nil {
		t.Fatalf("CreateReply failed: %v", err)
	}

	// ghost has no account, carol is the author, alice deduplicated.
	if len(mentions) != 2 {
		t.Fatalf("expected 2 mention rows, got %d", len(mentions))
	}
	for _, m := range mentions {
		if m.ReplyID == "" || m.ThreadID != "" {
			t.Errorf("mention should target the reply only: %+v", m)
		}
	}

	// One message per reply, every mentioned user on the recipient list.
	if len(mail.mentionBatches) != 1 {
		t.Fatalf("expected a single mention dispatch, got %d", len(mail.mentionBatches))
	}
	recipients := mail.mentionBatches[0]
	if len(recipients) != 2 {
		t.Errorf("expected 2 recipients on the mention email, got %v", recipients)
	}
	seen := map[string]bool{}
	for _, to := range recipients {
		seen[to] = true
	}
	if !seen["alice@student.university.edu"] || !seen["bob@student.university.edu"] {
		t.Errorf("unexpected mention recipients: %v", recipients)
	}
}

func TestCreateReplyNotifiesThreadAuthor(t *testing.T) {
	svc, _, mail := newTestService(&fakeStore{
		getThreadFn: func(context.Context, string) (store.Thread, error) {
			return store.Thread{ID: "thr_1", Title: "Lab 3", AuthorID: "usr_author"}, nil
		},
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "dana", Email: "dana@student.university.edu"}, nil
		},
	})

	if _, err := svc.CreateReply(context.Background(), studentSession(), "thr_1", CreateReplyInput{Body: "nice"}); err != nil {
		t.Fatalf("CreateReply failed: %v", err)
	}

	found := false
	for _, sent := range mail.sent {
		if sent.kind == "reply" && sent.to == "dana@student.university.edu" {
			found = true
		}
	}
	if !found {
		t.Error("expected a reply notice to the thread author")
	}
}

func TestCreateReplySelfNoNotice(t *testing.T) {
	svc, _, mail := newTestService(&fakeStore{
		getThreadFn: func(context.Context, string) (store.Thread, error) {
			return store.Thread{ID: "thr_1", AuthorID: "usr_student"}, nil
		},
	})

	if _, err := svc.CreateReply(context.Background(), studentSession(), "thr_1", CreateReplyInput{Body: "bump"}); err != nil {
		t.Fatalf("CreateReply failed: %v", err)
	}
	for _, sent := range mail.sent {
		if sent.kind == "reply" {
			t.Error("self-reply should not email the author")
		}
	}
}

func TestCreateReplyPageNumber(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{
		getThreadFn: func(context.Context, string) (store.Thread, error) {
			return store.Thread{ID: "thr_1", AuthorID: "usr_student"}, nil
		},
		countRepliesFn: func(context.Context, string) (int, error) {
			return 21, nil
		},
	})

	payload, err := svc.CreateReply(context.Background(), studentSession(), "thr_1", CreateReplyInput{Body: "the 21st"})
	if err != nil {
		t.Fatalf("CreateReply failed: %v", err)
	}
	if payload["page"] != 3 {
		t.Errorf("expected the 21st reply to land on page 3, got %v", payload["page"])
	}
}

func TestToggleThreadLikeOff(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{
		getThreadFn: func(context.Context, string) (store.Thread, error) {
			return store.Thread{ID: "thr_1"}, nil
		},
		toggleThreadLikeFn: func(context.Context, string, string) (bool, error) {
			return false, nil
		},
		threadLikeStateFn: func(context.Context, string, string) (int, bool, error) {
			return 4, false, nil
		},
	})

	payload, err := svc.ToggleThreadLike(context.Background(), studentSession(), "thr_1")
	if err != nil {
		t.Fatalf("ToggleThreadLike failed: %v", err)
	}
	if payload["liked"] != false {
		t.Error("expected like removed on second toggle")
	}
	if payload["likeCount"] != 4 {
		t.Errorf("expected likeCount 4, got %v", payload["likeCount"])
	}
}

func TestGetThreadDeletedVisibility(t *testing.T) {
	dataStore := &fakeStore{
		getThreadFn: func(context.Context, string) (store.Thread, error) {
			return store.Thread{ID: "thr_1", IsDeleted: true}, nil
		},
	}
	svc, _, _ := newTestService(dataStore)
	ctx := context.Background()

	if _, err := svc.GetThread(ctx, studentSession(), "thr_1", 1); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected student to get not-found for deleted thread, got %v", err)
	}

	payload, err := svc.GetThread(ctx, moderatorSession(), "thr_1", 1)
	if err != nil {
		t.Fatalf("moderator should see deleted thread: %v", err)
	}
	if payload["isDeleted"] != true {
		t.Error("expected isDeleted flag for moderator view")
	}
}

func TestLockThreadRequiresModerator(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{
		toggleThreadLockFn: func(context.Context, string) (bool, error) {
			return true, nil
		},
	})
	ctx := context.Background()

	_, err := svc.LockThread(ctx, studentSession(), "thr_1")
	if code := domainCode(t, err); code != "FORBIDDEN" {
		t.Errorf("expected FORBIDDEN for student, got %s", code)
	}

	payload, err := svc.LockThread(ctx, moderatorSession(), "thr_1")
	if err != nil {
		t.Fatalf("LockThread failed: %v", err)
	}
	if payload["isLocked"] != true {
		t.Error("expected lock toggled on")
	}
}

func TestDeleteThreadPermissions(t *testing.T) {
	dataStore := &fakeStore{
		getThreadFn: func(context.Context, string) (store.Thread, error) {
			return store.Thread{ID: "thr_1", AuthorID: "usr_student"}, nil
		},
		softDeleteThreadFn: func(context.Context, string) (bool, error) {
			return true, nil
		},
	}
	svc, searchFake, _ := newTestService(dataStore)
	ctx := context.Background()

	other := Session{UserID: "usr_other", UserName: "eve", Role: "STUDENT"}
	err := svc.DeleteThread(ctx, other, "thr_1")
	if code := domainCode(t, err); code != "FORBIDDEN" {
		t.Errorf("expected FORBIDDEN for non-author student, got %s", code)
	}

	if err := svc.DeleteThread(ctx, studentSession(), "thr_1"); err != nil {
		t.Fatalf("author delete failed: %v", err)
	}
	if err := svc.DeleteThread(ctx, moderatorSession(), "thr_1"); err != nil {
		t.Fatalf("moderator delete failed: %v", err)
	}
	if len(searchFake.deleted) != 2 {
		t.Errorf("expected search index cleanup on delete, got %d calls", len(searchFake.deleted))
	}
}

func TestReportValidation(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{})
	ctx := context.Background()

	_, err := svc.ReportContent(ctx, studentSession(), ReportInput{Reason: "spam"})
	if code := domainCode(t, err); code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR without target, got %s", code)
	}

	_, err = svc.ReportContent(ctx, studentSession(), ReportInput{ThreadID: "thr_1", ReplyID: "rpl_1", Reason: "spam"})
	if code := domainCode(t, err); code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR with both targets, got %s", code)
	}

	_, err = svc.ReportContent(ctx, studentSession(), ReportInput{ThreadID: "thr_1", Reason: "  "})
	if code := domainCode(t, err); code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR for blank reason, got %s", code)
	}
}

func TestResolveReport(t *testing.T) {
	var deleteCalled bool
	dataStore := &fakeStore{
		getReportFn: func(context.Context, string) (store.Report, error) {
			return store.Report{ID: "rpt_1", ThreadID: "thr_1", Status: "PENDING"}, nil
		},
		resolveSafeFn: func(context.Context, string) (bool, error) {
			return true, nil
		},
		resolveDeleteFn: func(context.Context, string) (bool, error) {
			deleteCalled = true
			return true, nil
		},
	}
	svc, searchFake, _ := newTestService(dataStore)
	ctx := context.Background()

	if _, err := svc.ResolveReport(ctx, studentSession(), "rpt_1", "safe"); err == nil {
		t.Error("expected student to be forbidden")
	}

	payload, err := svc.ResolveReport(ctx, moderatorSession(), "rpt_1", "delete")
	if err != nil {
		t.Fatalf("ResolveReport failed: %v", err)
	}
	if !deleteCalled {
		t.Error("expected ResolveReportDelete to run")
	}
	if payload["status"] != "RESOLVED" {
		t.Errorf("expected RESOLVED, got %v", payload["status"])
	}
	if len(searchFake.deleted) != 1 || searchFake.deleted[0] != "thr_1" {
		t.Errorf("expected reported thread removed from search index, got %v", searchFake.deleted)
	}

	_, err = svc.ResolveReport(ctx, moderatorSession(), "rpt_1", "escalate")
	if code := domainCode(t, err); code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR for unknown action, got %s", code)
	}
}

func TestResolveReportAlreadyResolved(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{
		getReportFn: func(context.Context, string) (store.Report, error) {
			return store.Report{ID: "rpt_1", ThreadID: "thr_1", Status: "RESOLVED"}, nil
		},
	})

	_, err := svc.ResolveReport(context.Background(), moderatorSession(), "rpt_1", "safe")
	if code := domainCode(t, err); code != "ALREADY_RESOLVED" {
		t.Errorf("expected ALREADY_RESOLVED, got %s", code)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	svc, searchFake, _ := newTestService(&fakeStore{})
	searchFake.response = search.Response{
		Results: []search.Result{{ID: "thr_1"}},
		Total:   1,
	}

	payload, err := svc.SearchThreads(context.Background(), "   ", "", 1)
	if err != nil {
		t.Fatalf("SearchThreads failed: %v", err)
	}
	if payload["total"] != 0 {
		t.Errorf("expected empty query to match nothing, got total %v", payload["total"])
	}
}

func TestCreateThread(t *testing.T) {
	var inserted store.Thread
	var tagSlugs []string
	dataStore := &fakeStore{
		getCategoryBySlugFn: func(_ context.Context, slug string) (store.Category, error) {
			if slug == "general" {
				return store.Category{ID: "cat_1", Name: "General", Slug: "general"}, nil
			}
			return store.Category{}, sql.ErrNoRows
		},
		insertThreadFn: func(_ context.Context, thread store.Thread) error {
			inserted = thread
			return nil
		},
		getOrCreateTagFn: func(_ context.Context, id, name, slug string) (store.Tag, error) {
			tagSlugs = append(tagSlugs, slug)
			return store.Tag{ID: id, Name: name, Slug: slug}, nil
		},
	}
	svc, searchFake, _ := newTestService(dataStore)
	ctx := context.Background()

	_, err := svc.CreateThread(ctx, studentSession(), CreateThreadInput{
		CategorySlug: "missing",
		Title:        "t",
		Body:         "b",
	})
	if code := domainCode(t, err); code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR for unknown category, got %s", code)
	}

	payload, err := svc.CreateThread(ctx, studentSession(), CreateThreadInput{
		CategorySlug: "general",
		Title:        "Midterm review",
		Body:         "Anyone up for a study group?",
		Tags:         []string{"Study Group", "  ", "exams"},
	})
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	if inserted.CategoryID != "cat_1" || inserted.AuthorID != "usr_student" {
		t.Errorf("unexpected thread insert: %+v", inserted)
	}
	if len(tagSlugs) != 2 || tagSlugs[0] != "study-group" || tagSlugs[1] != "exams" {
		t.Errorf("unexpected tag slugs: %v", tagSlugs)
	}
	if len(searchFake.indexed) != 1 || searchFake.indexed[0].Title != "Midterm review" {
		t.Errorf("expected thread indexed for search, got %v", searchFake.indexed)
	}
	if payload["likeCount"] != 0 {
		t.Errorf("expected fresh thread with zero likes, got %v", payload["likeCount"])
	}
}

func TestListThreadsRejectsUnknownSort(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{})

	_, err := svc.ListThreads(context.Background(), ThreadListInput{Sort: "hottest"})
	if code := domainCode(t, err); code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR for unknown sort, got %s", code)
	}
}

func TestPageCount(t *testing.T) {
	tests := []struct {
		total    int
		expected int
	}{
		{0, 1},
		{1, 1},
		{10, 1},
		{11, 2},
		{21, 3},
	}
	for _, tt := range tests {
		if got := pageCount(tt.total, 10); got != tt.expected {
			t.Errorf("pageCount(%d, 10) = %d, want %d", tt.total, got, tt.expected)
		}
	}
}

func TestCreateCourse(t *testing.T) {
	var inserted store.Course
	svc, _, _ := newTestService(&fakeStore{
		insertCourseFn: func(_ context.Context, course store.Course) error {
			inserted = course
			return nil
		},
	})
	ctx := context.Background()

	_, err := svc.CreateCourse(ctx, studentSession(), "CS101", "Intro to CS", "Computer Science")
	if code := domainCode(t, err); code != "FORBIDDEN" {
		t.Errorf("expected FORBIDDEN for student, got %s", code)
	}

	payload, err := svc.CreateCourse(ctx, moderatorSession(), "CS101", "Intro to CS", "Computer Science")
	if err != nil {
		t.Fatalf("CreateCourse failed: %v", err)
	}
	if inserted.Slug != "cs101" {
		t.Errorf("expected slug derived from code, got %q", inserted.Slug)
	}
	if payload["code"] != "CS101" || payload["title"] != "Intro to CS" || payload["department"] != "Computer Science" {
		t.Errorf("unexpected course payload: %v", payload)
	}
	if payload["id"] != inserted.ID || payload["slug"] != "cs101" {
		t.Errorf("payload should echo the stored course: %v", payload)
	}
}

func TestExcerptKeepsRuneBoundaries(t *testing.T) {
	long := strings.Repeat("ё", 200)
	got := excerptOf(long)
	if !utf8.ValidString(got) {
		t.Fatalf("excerpt is not valid UTF-8: %q", got)
	}
	if utf8.RuneCountInString(got) != 161 {
		t.Errorf("expected 160 runes plus ellipsis, got %d", utf8.RuneCountInString(got))
	}

	short := "résumé tips"
	if excerptOf(short) != short {
		t.Errorf("short text should pass through unchanged")
	}
}

func TestResourceDownloadExternalURL(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{
		getResourceFn: func(context.Context, string) (store.Resource, error) {
			return store.Resource{ID: "res_1", URL: "https://example.edu/syllabus.pdf"}, nil
		},
	})

	payload, err := svc.ResourceDownloadURL(context.Background(), "res_1")
	if err != nil {
		t.Fatalf("ResourceDownloadURL failed: %v", err)
	}
	if payload["url"] != "https://example.edu/syllabus.pdf" {
		t.Errorf("expected external URL passthrough, got %v", payload["url"])
	}
}

func TestResourceDownloadStoredFileUnconfigured(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{
		getResourceFn: func(context.Context, string) (store.Resource, error) {
			return store.Resource{ID: "res_1", URL: "resources/res_1/notes.pdf"}, nil
		},
	})

	_, err := svc.ResourceDownloadURL(context.Background(), "res_1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "MEDIA_UNAVAILABLE" {
		t.Errorf("expected MEDIA_UNAVAILABLE for stored file without media store, got %v", err)
	}
}

func TestUploadAvatarUnconfigured(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{})

	_, err := svc.UploadAvatar(context.Background(), studentSession(), nil, 0, "image/png")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusServiceUnavailable {
		t.Errorf("expected 503 MEDIA_UNAVAILABLE, got %v", err)
	}
}
