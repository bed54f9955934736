package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"gorm.io/datatypes"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryRepo is a map-backed Repository for service tests. It is meant for
// single-goroutine use; WithTransaction runs the function against the same
// store without rollback.
type memoryRepo struct {
	nextID uint

	questions    map[uint]*models.Question
	versions     map[uint]*models.QuestionVersion
	attempts     map[uint]*models.Attempt
	items        map[uint]*models.AttemptItem
	responses    map[uint]*models.Response // keyed by attempt item id
	links        map[uint]*models.PublicLink
	rubricScores map[uint]*models.RubricScore // keyed by attempt item id
	aiGradings   map[uint]*models.AIGrading
	decisions    map[uint]*models.RegradeDecision
	appeals      map[uint]*models.Appeal
	assessments  map[uint]*models.Assessment
	termGrades   map[string]*models.StudentTermGrade // keyed by "term:student"
	profiles     map[string]*models.StudentProfile
	snapshots    []*models.LeaderboardSnapshot
	audits       []*models.AuditEvent
	users        map[string]*models.User

	// resolvedRows backs ListResolvedScores; tests set it directly instead of
	// emulating the SQL aggregation.
	resolvedRows []*repositories.ResolvedScoreRow
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		questions:    make(map[uint]*models.Question),
		versions:     make(map[uint]*models.QuestionVersion),
		attempts:     make(map[uint]*models.Attempt),
		items:        make(map[uint]*models.AttemptItem),
		responses:    make(map[uint]*models.Response),
		links:        make(map[uint]*models.PublicLink),
		rubricScores: make(map[uint]*models.RubricScore),
		aiGradings:   make(map[uint]*models.AIGrading),
		decisions:    make(map[uint]*models.RegradeDecision),
		appeals:      make(map[uint]*models.Appeal),
		assessments:  make(map[uint]*models.Assessment),
		termGrades:   make(map[string]*models.StudentTermGrade),
		profiles:     make(map[string]*models.StudentProfile),
		users:        make(map[string]*models.User),
	}
}

func (r *memoryRepo) id() uint {
	r.nextID++
	return r.nextID
}

func (r *memoryRepo) Question() repositories.QuestionRepository   { return &memQuestionRepo{r} }
func (r *memoryRepo) Attempt() repositories.AttemptRepository     { return &memAttemptRepo{r} }
func (r *memoryRepo) Grading() repositories.GradingRepository     { return &memGradingRepo{r} }
func (r *memoryRepo) Gradebook() repositories.GradebookRepository { return &memGradebookRepo{r} }
func (r *memoryRepo) Audit() repositories.AuditRepository         { return &memAuditRepo{r} }
func (r *memoryRepo) User() repositories.UserRepository           { return &memUserRepo{r} }

func (r *memoryRepo) WithTransaction(ctx context.Context, fn func(tx repositories.Repository) error) error {
	return fn(r)
}

func (r *memoryRepo) Ping(ctx context.Context) error { return nil }
func (r *memoryRepo) Close() error                   { return nil }

// ===== SEED HELPERS =====

func (r *memoryRepo) addUser(id string, role models.UserRole) *models.User {
	user := &models.User{ID: id, FullName: id, Email: id + "@example.com", Role: role}
	r.users[id] = user
	return user
}

// addVersion creates a question with a single version carrying the given
// type, answer key and rubric (either may be empty).
func (r *memoryRepo) addVersion(qType models.QuestionType, answerKey, rubric string) *models.QuestionVersion {
	question := &models.Question{ID: r.id(), Status: models.QuestionActive, CreatedBy: "teacher-1"}
	r.questions[question.ID] = question

	version := &models.QuestionVersion{
		ID:            r.id(),
		QuestionID:    question.ID,
		VersionNumber: 1,
		Type:          qType,
		Content:       datatypes.JSON(`{"text":"q"}`),
		CreatedBy:     "teacher-1",
		CreatedAt:     time.Now().UTC(),
	}
	if answerKey != "" {
		version.AnswerKey = datatypes.JSON(answerKey)
	}
	if rubric != "" {
		version.Rubric = datatypes.JSON(rubric)
	}
	r.versions[version.ID] = version
	return version
}

func (r *memoryRepo) addStudentAttempt(studentID string, examID uint) *models.Attempt {
	attempt := &models.Attempt{
		ID:         r.id(),
		ExamID:     examID,
		StudentID:  &studentID,
		GradeState: models.GradePending,
		StartedAt:  time.Now().UTC().Add(-time.Hour),
	}
	r.attempts[attempt.ID] = attempt
	return attempt
}

func (r *memoryRepo) addItem(attempt *models.Attempt, version *models.QuestionVersion, maxPoints float64) *models.AttemptItem {
	position := 0
	for _, it := range r.items {
		if it.AttemptID == attempt.ID {
			position++
		}
	}
	item := &models.AttemptItem{
		ID:                r.id(),
		AttemptID:         attempt.ID,
		QuestionVersionID: version.ID,
		Position:          position,
		MaxPoints:         maxPoints,
	}
	r.items[item.ID] = item
	return item
}

func (r *memoryRepo) addResponse(itemID uint, payload string) *models.Response {
	resp := &models.Response{
		ID:            r.id(),
		AttemptItemID: itemID,
		Payload:       datatypes.JSON(payload),
		SubmittedAt:   time.Now().UTC(),
	}
	r.responses[itemID] = resp
	return resp
}

func (r *memoryRepo) addAssessment(termID, classID, examID uint, title string, weight float64) *models.Assessment {
	assessment := &models.Assessment{
		ID:        r.id(),
		TermID:    termID,
		ClassID:   classID,
		ExamID:    examID,
		Title:     title,
		Category:  models.CategoryQuiz,
		Weight:    weight,
		Published: true,
	}
	r.assessments[assessment.ID] = assessment
	return assessment
}

func (r *memoryRepo) addProfile(studentID, nickname string, show bool) *models.StudentProfile {
	profile := &models.StudentProfile{
		ID:                r.id(),
		StudentID:         studentID,
		Nickname:          nickname,
		ShowOnLeaderboard: show,
	}
	r.profiles[studentID] = profile
	return profile
}

// release marks the attempt submitted and released so its grades are visible.
func release(attempt *models.Attempt) *models.Attempt {
	now := time.Now().UTC().Add(-time.Minute)
	attempt.SubmittedAt = &now
	attempt.GradeState = models.GradeReleased
	return attempt
}

func termGradeKey(termID uint, studentID string) string {
	return fmt.Sprintf("%d:%s", termID, studentID)
}

// ===== QUESTION DOMAIN =====

type memQuestionRepo struct{ r *memoryRepo }

func (m *memQuestionRepo) Create(ctx context.Context, question *models.Question) error {
	if question.ID == 0 {
		question.ID = m.r.id()
	}
	m.r.questions[question.ID] = question
	return nil
}

func (m *memQuestionRepo) GetByID(ctx context.Context, id uint) (*models.Question, error) {
	question, ok := m.r.questions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return question, nil
}

func (m *memQuestionRepo) CreateVersion(ctx context.Context, version *models.QuestionVersion) error {
	if version.ID == 0 {
		version.ID = m.r.id()
	}
	m.r.versions[version.ID] = version
	return nil
}

func (m *memQuestionRepo) GetVersion(ctx context.Context, id uint) (*models.QuestionVersion, error) {
	version, ok := m.r.versions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return version, nil
}

func (m *memQuestionRepo) GetLatestVersion(ctx context.Context, questionID uint) (*models.QuestionVersion, error) {
	var latest *models.QuestionVersion
	for _, v := range m.r.versions {
		if v.QuestionID != questionID {
			continue
		}
		if latest == nil || v.VersionNumber > latest.VersionNumber {
			latest = v
		}
	}
	if latest == nil {
		return nil, repositories.ErrNotFound
	}
	return latest, nil
}

// ===== ATTEMPT DOMAIN =====

type memAttemptRepo struct{ r *memoryRepo }

func (m *memAttemptRepo) Create(ctx context.Context, attempt *models.Attempt) error {
	if attempt.ID == 0 {
		attempt.ID = m.r.id()
	}
	m.r.attempts[attempt.ID] = attempt
	return nil
}

func (m *memAttemptRepo) GetByID(ctx context.Context, id uint) (*models.Attempt, error) {
	attempt, ok := m.r.attempts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return attempt, nil
}

// loadedItem returns a copy of the item with its associations attached.
func (m *memAttemptRepo) loadedItem(item *models.AttemptItem, withAttempt bool) models.AttemptItem {
	loaded := *item
	if withAttempt {
		loaded.Attempt = m.r.attempts[item.AttemptID]
	}
	loaded.QuestionVersion = m.r.versions[item.QuestionVersionID]
	loaded.Response = m.r.responses[item.ID]
	loaded.RubricScore = m.r.rubricScores[item.ID]
	return loaded
}

func (m *memAttemptRepo) GetWithItems(ctx context.Context, id uint) (*models.Attempt, error) {
	stored, ok := m.r.attempts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}

	attempt := *stored
	attempt.Items = nil
	for _, item := range m.r.items {
		if item.AttemptID == id {
			attempt.Items = append(attempt.Items, m.loadedItem(item, false))
		}
	}
	sort.Slice(attempt.Items, func(i, j int) bool {
		return attempt.Items[i].Position < attempt.Items[j].Position
	})
	return &attempt, nil
}

func (m *memAttemptRepo) Update(ctx context.Context, attempt *models.Attempt) error {
	if _, ok := m.r.attempts[attempt.ID]; !ok {
		return repositories.ErrNotFound
	}
	m.r.attempts[attempt.ID] = attempt
	return nil
}

func (m *memAttemptRepo) ListByStudentAndExams(ctx context.Context, studentID string, examIDs []uint) ([]*models.Attempt, error) {
	wanted := make(map[uint]struct{}, len(examIDs))
	for _, id := range examIDs {
		wanted[id] = struct{}{}
	}

	var out []*models.Attempt
	for id, attempt := range m.r.attempts {
		if attempt.StudentID == nil || *attempt.StudentID != studentID {
			continue
		}
		if _, ok := wanted[attempt.ExamID]; !ok {
			continue
		}
		loaded, err := m.GetWithItems(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, loaded)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].SubmittedAt, out[j].SubmittedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return out, nil
}

func (m *memAttemptRepo) GetItem(ctx context.Context, id uint) (*models.AttemptItem, error) {
	item, ok := m.r.items[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	loaded := m.loadedItem(item, true)
	return &loaded, nil
}

func (m *memAttemptRepo) UpdateItemMaxPoints(ctx context.Context, itemID uint, maxPoints float64) error {
	item, ok := m.r.items[itemID]
	if !ok {
		return repositories.ErrNotFound
	}
	item.MaxPoints = maxPoints
	return nil
}

func (m *memAttemptRepo) UpdateItemVersion(ctx context.Context, itemID, versionID uint) error {
	item, ok := m.r.items[itemID]
	if !ok {
		return repositories.ErrNotFound
	}
	item.QuestionVersionID = versionID
	return nil
}

func (m *memAttemptRepo) ListItemIDsByVersion(ctx context.Context, versionID uint, offset, limit int) ([]uint, error) {
	var ids []uint
	for id, item := range m.r.items {
		if item.QuestionVersionID == versionID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if offset >= len(ids) {
		return nil, nil
	}
	ids = ids[offset:]
	if limit < len(ids) {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *memAttemptRepo) CountItemsByVersion(ctx context.Context, versionID uint) (int64, error) {
	var count int64
	for _, item := range m.r.items {
		if item.QuestionVersionID == versionID {
			count++
		}
	}
	return count, nil
}

func (m *memAttemptRepo) ListExamIDsByVersion(ctx context.Context, versionID uint) ([]uint, error) {
	seen := make(map[uint]struct{})
	var out []uint
	for _, item := range m.r.items {
		if item.QuestionVersionID != versionID {
			continue
		}
		attempt, ok := m.r.attempts[item.AttemptID]
		if !ok {
			continue
		}
		if _, dup := seen[attempt.ExamID]; dup {
			continue
		}
		seen[attempt.ExamID] = struct{}{}
		out = append(out, attempt.ExamID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *memAttemptRepo) UpsertResponse(ctx context.Context, response *models.Response) error {
	if existing, ok := m.r.responses[response.AttemptItemID]; ok {
		response.ID = existing.ID
	} else if response.ID == 0 {
		response.ID = m.r.id()
	}
	m.r.responses[response.AttemptItemID] = response
	return nil
}

func (m *memAttemptRepo) CreateLink(ctx context.Context, link *models.PublicLink) error {
	if link.ID == 0 {
		link.ID = m.r.id()
	}
	m.r.links[link.ID] = link
	return nil
}

func (m *memAttemptRepo) GetLinkByTokenForUpdate(ctx context.Context, token string) (*models.PublicLink, error) {
	for _, link := range m.r.links {
		if link.Token == token {
			return link, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *memAttemptRepo) CountAttemptsByLink(ctx context.Context, linkID uint) (int64, error) {
	var count int64
	for _, attempt := range m.r.attempts {
		if attempt.PublicLinkID != nil && *attempt.PublicLinkID == linkID {
			count++
		}
	}
	return count, nil
}

// ===== GRADING DOMAIN =====

type memGradingRepo struct{ r *memoryRepo }

func (m *memGradingRepo) UpsertRubricScore(ctx context.Context, score *models.RubricScore) error {
	if existing, ok := m.r.rubricScores[score.AttemptItemID]; ok {
		score.ID = existing.ID
	} else if score.ID == 0 {
		score.ID = m.r.id()
	}
	m.r.rubricScores[score.AttemptItemID] = score
	return nil
}

func (m *memGradingRepo) GetRubricScore(ctx context.Context, attemptItemID uint) (*models.RubricScore, error) {
	score, ok := m.r.rubricScores[attemptItemID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return score, nil
}

func (m *memGradingRepo) UpsertAIGrading(ctx context.Context, grading *models.AIGrading) error {
	if grading.ID == 0 {
		if existing, err := m.GetAIGradingByItem(ctx, grading.AttemptItemID); err == nil {
			grading.ID = existing.ID
		} else {
			grading.ID = m.r.id()
		}
	}
	m.r.aiGradings[grading.ID] = grading
	return nil
}

func (m *memGradingRepo) GetAIGrading(ctx context.Context, id uint) (*models.AIGrading, error) {
	grading, ok := m.r.aiGradings[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return grading, nil
}

func (m *memGradingRepo) GetAIGradingByItem(ctx context.Context, attemptItemID uint) (*models.AIGrading, error) {
	for _, grading := range m.r.aiGradings {
		if grading.AttemptItemID == attemptItemID {
			return grading, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *memGradingRepo) CreateDecision(ctx context.Context, decision *models.RegradeDecision) error {
	if decision.ID == 0 {
		decision.ID = m.r.id()
	}
	m.r.decisions[decision.ID] = decision
	return nil
}

func (m *memGradingRepo) GetDecision(ctx context.Context, id uint) (*models.RegradeDecision, error) {
	decision, ok := m.r.decisions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return decision, nil
}

func (m *memGradingRepo) ListDecisionsForItem(ctx context.Context, attemptItemID, questionVersionID uint) ([]*models.RegradeDecision, error) {
	var out []*models.RegradeDecision
	for _, d := range m.r.decisions {
		switch {
		case d.AttemptItemID != nil && *d.AttemptItemID == attemptItemID:
			out = append(out, d)
		case d.QuestionVersionID != nil && *d.QuestionVersionID == questionVersionID:
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memGradingRepo) ListResolvedScores(ctx context.Context, filter repositories.ResolvedScoreFilter) ([]*repositories.ResolvedScoreRow, error) {
	return m.r.resolvedRows, nil
}

func (m *memGradingRepo) CreateAppeal(ctx context.Context, appeal *models.Appeal) error {
	if appeal.ID == 0 {
		appeal.ID = m.r.id()
	}
	m.r.appeals[appeal.ID] = appeal
	return nil
}

func (m *memGradingRepo) GetAppeal(ctx context.Context, id uint) (*models.Appeal, error) {
	appeal, ok := m.r.appeals[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return appeal, nil
}

func (m *memGradingRepo) UpdateAppeal(ctx context.Context, appeal *models.Appeal) error {
	if _, ok := m.r.appeals[appeal.ID]; !ok {
		return repositories.ErrNotFound
	}
	m.r.appeals[appeal.ID] = appeal
	return nil
}

func (m *memGradingRepo) ListAppealsByStudent(ctx context.Context, studentID string) ([]*models.Appeal, error) {
	var out []*models.Appeal
	for _, appeal := range m.r.appeals {
		if appeal.StudentID == studentID {
			out = append(out, appeal)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// ===== GRADEBOOK DOMAIN =====

type memGradebookRepo struct{ r *memoryRepo }

func (m *memGradebookRepo) ListPublishedAssessments(ctx context.Context, termID uint, classID *uint) ([]*models.Assessment, error) {
	var out []*models.Assessment
	for _, a := range m.r.assessments {
		if !a.Published || a.TermID != termID {
			continue
		}
		if classID != nil && a.ClassID != *classID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.ScheduledAt == nil && b.ScheduledAt == nil:
			return a.Title < b.Title
		case a.ScheduledAt == nil:
			return false
		case b.ScheduledAt == nil:
			return true
		case !a.ScheduledAt.Equal(*b.ScheduledAt):
			return a.ScheduledAt.Before(*b.ScheduledAt)
		default:
			return a.Title < b.Title
		}
	})
	return out, nil
}

func (m *memGradebookRepo) GetAssessmentByExam(ctx context.Context, examID uint) (*models.Assessment, error) {
	for _, a := range m.r.assessments {
		if a.ExamID == examID {
			return a, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *memGradebookRepo) ListClassIDsByExamIDs(ctx context.Context, examIDs []uint) ([]uint, error) {
	seen := make(map[uint]struct{})
	var out []uint
	for _, examID := range examIDs {
		for _, a := range m.r.assessments {
			if a.ExamID != examID {
				continue
			}
			if _, dup := seen[a.ClassID]; dup {
				continue
			}
			seen[a.ClassID] = struct{}{}
			out = append(out, a.ClassID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *memGradebookRepo) UpsertTermGrade(ctx context.Context, grade *models.StudentTermGrade) error {
	key := termGradeKey(grade.TermID, grade.StudentID)
	if existing, ok := m.r.termGrades[key]; ok {
		grade.ID = existing.ID
	} else if grade.ID == 0 {
		grade.ID = m.r.id()
	}
	m.r.termGrades[key] = grade
	return nil
}

func (m *memGradebookRepo) GetTermGrade(ctx context.Context, termID uint, studentID string) (*models.StudentTermGrade, error) {
	grade, ok := m.r.termGrades[termGradeKey(termID, studentID)]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return grade, nil
}

func (m *memGradebookRepo) ListTermGrades(ctx context.Context, termID uint) ([]*models.StudentTermGrade, error) {
	var out []*models.StudentTermGrade
	for _, grade := range m.r.termGrades {
		if grade.TermID == termID {
			out = append(out, grade)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (m *memGradebookRepo) GetProfile(ctx context.Context, studentID string) (*models.StudentProfile, error) {
	profile, ok := m.r.profiles[studentID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return profile, nil
}

func (m *memGradebookRepo) GetProfilesByStudentIDs(ctx context.Context, studentIDs []string) (map[string]*models.StudentProfile, error) {
	out := make(map[string]*models.StudentProfile)
	for _, id := range studentIDs {
		if profile, ok := m.r.profiles[id]; ok {
			out[id] = profile
		}
	}
	return out, nil
}

func sameClassID(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameWindowStart(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (m *memGradebookRepo) UpsertSnapshot(ctx context.Context, snapshot *models.LeaderboardSnapshot) error {
	for i, existing := range m.r.snapshots {
		if sameClassID(existing.ClassID, snapshot.ClassID) &&
			existing.Period == snapshot.Period &&
			sameWindowStart(existing.WindowStart, snapshot.WindowStart) {
			snapshot.ID = existing.ID
			m.r.snapshots[i] = snapshot
			return nil
		}
	}
	if snapshot.ID == 0 {
		snapshot.ID = m.r.id()
	}
	m.r.snapshots = append(m.r.snapshots, snapshot)
	return nil
}

func (m *memGradebookRepo) GetSnapshot(ctx context.Context, classID *uint, period models.LeaderboardPeriod, windowStart *time.Time) (*models.LeaderboardSnapshot, error) {
	for _, snapshot := range m.r.snapshots {
		if sameClassID(snapshot.ClassID, classID) &&
			snapshot.Period == period &&
			sameWindowStart(snapshot.WindowStart, windowStart) {
			return snapshot, nil
		}
	}
	return nil, repositories.ErrNotFound
}

// ===== AUDIT DOMAIN =====

type memAuditRepo struct{ r *memoryRepo }

func (m *memAuditRepo) Record(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == 0 {
		event.ID = m.r.id()
	}
	m.r.audits = append(m.r.audits, event)
	return nil
}

func (m *memAuditRepo) ExistsIdentical(ctx context.Context, event *models.AuditEvent) (bool, error) {
	for _, existing := range m.r.audits {
		if existing.EventType == event.EventType &&
			existing.EntityType == event.EntityType &&
			existing.EntityID == event.EntityID &&
			bytes.Equal(existing.Meta, event.Meta) {
			return true, nil
		}
	}
	return false, nil
}

// auditEvents returns recorded facts of one type, in insertion order.
func (r *memoryRepo) auditEvents(eventType string) []*models.AuditEvent {
	var out []*models.AuditEvent
	for _, event := range r.audits {
		if event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}

// ===== USER DOMAIN =====

type memUserRepo struct{ r *memoryRepo }

func (m *memUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := m.r.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return user, nil
}
