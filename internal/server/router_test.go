package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cityquest/backend/internal/achievements"
	"github.com/cityquest/backend/internal/auth"
	"github.com/cityquest/backend/internal/geo"
	"github.com/cityquest/backend/internal/ledger"
	"github.com/cityquest/backend/internal/realtime"
	"github.com/cityquest/backend/internal/tasks"
	"github.com/gin-gonic/gin"
	githubsqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type serverFixture struct {
	server *httptest.Server
	tokens *auth.TokenManager
	cells  *geo.BucketIndex
	hub    *realtime.Hub
}

type discardQueue struct{}

func (discardQueue) Enqueue(string, achievements.Event) {}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(githubsqlite.Open(fmt.Sprintf("file:server-%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&tasks.Category{}, &tasks.Task{}, &tasks.Submission{}, &ledger.Entry{}, &ledger.AccountTotal{}, &achievements.Record{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	tokenManager, err := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "cityquest-auth",
		Audience:      "cityquest-api",
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to build token manager: %v", err)
	}

	ledgerService, err := ledger.NewService(ledger.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build ledger: %v", err)
	}

	hub := realtime.NewHub(zap.NewNop())
	cells := geo.NewBucketIndex(geo.DefaultCellScale)
	events, err := realtime.NewRouter(realtime.RouterConfig{Registry: hub, Cells: cells})
	if err != nil {
		t.Fatalf("failed to build event router: %v", err)
	}

	taskService, err := tasks.NewService(tasks.ServiceConfig{
		Database:     db,
		Ledger:       ledgerService,
		Achievements: discardQueue{},
		Events:       events,
	})
	if err != nil {
		t.Fatalf("failed to build task service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: tokenManager,
		TaskService:  taskService,
		Ledger:       ledgerService,
		Stats:        tasks.NewStatsRepository(db),
		Hub:          hub,
		Cells:        cells,
		Events:       events,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &serverFixture{server: server, tokens: tokenManager, cells: cells, hub: hub}
}

func (f *serverFixture) token(t *testing.T, userID string, admin bool) string {
	t.Helper()
	token, _, err := f.tokens.IssueToken(auth.Identity{UserID: userID, Admin: admin})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (f *serverFixture) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buffer bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buffer).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	request, err := http.NewRequest(method, f.server.URL+path, &buffer)
	if err != nil {
		t.Fatalf("failed to construct request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	request.Header.Set("Content-Type", "application/json")
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = response.Body.Close() })
	return response
}

func decodeBody(t *testing.T, response *http.Response, target any) {
	t.Helper()
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	fixture := newServerFixture(t)

	response := fixture.request(t, http.MethodGet, "/tasks", "", nil)
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", response.StatusCode)
	}
}

func TestAdminRoutesRejectNonAdmins(t *testing.T) {
	fixture := newServerFixture(t)
	token := fixture.token(t, "user-1", false)

	response := fixture.request(t, http.MethodPost, "/tasks", token, map[string]any{"title": "x"})
	if response.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", response.StatusCode)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	fixture := newServerFixture(t)
	adminToken := fixture.token(t, "admin-1", true)
	userToken := fixture.token(t, "user-1", false)

	categoryResponse := fixture.request(t, http.MethodPost, "/categories", adminToken, map[string]any{
		"name": "Photography",
		"icon": "📷",
	})
	if categoryResponse.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 creating category, got %d", categoryResponse.StatusCode)
	}
	var category tasks.Category
	decodeBody(t, categoryResponse, &category)

	taskResponse := fixture.request(t, http.MethodPost, "/tasks", adminToken, map[string]any{
		"title":        "Photograph the old mill",
		"description":  "One wide shot from the footbridge",
		"category_id":  category.CategoryID,
		"location_lat": 52.5200,
		"location_lng": 13.4050,
		"points_value": 40,
	})
	if taskResponse.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 creating task, got %d", taskResponse.StatusCode)
	}
	var task tasks.Task
	decodeBody(t, taskResponse, &task)

	listResponse := fixture.request(t, http.MethodGet, "/tasks", userToken, nil)
	if listResponse.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 listing tasks, got %d", listResponse.StatusCode)
	}

	nearbyResponse := fixture.request(t, http.MethodGet, "/tasks/nearby?lat=52.5201&lng=13.4051&radius=500", userToken, nil)
	if nearbyResponse.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for nearby search, got %d", nearbyResponse.StatusCode)
	}
	var nearby struct {
		Tasks []nearbyTaskPayload `json:"tasks"`
	}
	decodeBody(t, nearbyResponse, &nearby)
	if len(nearby.Tasks) != 1 {
		t.Fatalf("expected one nearby task, got %d", len(nearby.Tasks))
	}

	submitResponse := fixture.request(t, http.MethodPost, "/tasks/"+task.TaskID+"/submissions", userToken, map[string]any{
		"submission_lat": 52.5200,
		"submission_lng": 13.4050,
	})
	if submitResponse.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 submitting, got %d", submitResponse.StatusCode)
	}
	var submission tasks.Submission
	decodeBody(t, submitResponse, &submission)

	duplicateResponse := fixture.request(t, http.MethodPost, "/tasks/"+task.TaskID+"/submissions", userToken, map[string]any{
		"submission_lat": 52.5200,
		"submission_lng": 13.4050,
	})
	if duplicateResponse.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate submission, got %d", duplicateResponse.StatusCode)
	}

	approveResponse := fixture.request(t, http.MethodPost, "/submissions/"+submission.SubmissionID+"/approve", adminToken, map[string]any{
		"validation_notes": "looks good",
	})
	if approveResponse.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 approving, got %d", approveResponse.StatusCode)
	}
	var approval struct {
		PointsAwarded int64 `json:"points_awarded"`
		TotalPoints   int64 `json:"total_points"`
	}
	decodeBody(t, approveResponse, &approval)
	if approval.PointsAwarded != 40 || approval.TotalPoints != 40 {
		t.Fatalf("unexpected approval payload: %+v", approval)
	}

	reapproveResponse := fixture.request(t, http.MethodPost, "/submissions/"+submission.SubmissionID+"/approve", adminToken, nil)
	if reapproveResponse.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 re-approving, got %d", reapproveResponse.StatusCode)
	}

	pointsResponse := fixture.request(t, http.MethodGet, "/points", userToken, nil)
	var points struct {
		TotalPoints int64 `json:"total_points"`
	}
	decodeBody(t, pointsResponse, &points)
	if points.TotalPoints != 40 {
		t.Fatalf("expected 40 total points, got %d", points.TotalPoints)
	}

	historyResponse := fixture.request(t, http.MethodGet, "/points/history", userToken, nil)
	var history struct {
		Entries []ledger.Entry `json:"entries"`
	}
	decodeBody(t, historyResponse, &history)
	if len(history.Entries) != 1 || history.Entries[0].Delta != 40 {
		t.Fatalf("unexpected points history: %+v", history.Entries)
	}

	leaderboardResponse := fixture.request(t, http.MethodGet, "/leaderboard", userToken, nil)
	var leaderboard struct {
		Leaderboard []ledger.AccountTotal `json:"leaderboard"`
	}
	decodeBody(t, leaderboardResponse, &leaderboard)
	if len(leaderboard.Leaderboard) != 1 || leaderboard.Leaderboard[0].UserID != "user-1" {
		t.Fatalf("unexpected leaderboard: %+v", leaderboard.Leaderboard)
	}
}

func TestRejectRequiresNotesOverHTTP(t *testing.T) {
	fixture := newServerFixture(t)
	adminToken := fixture.token(t, "admin-1", true)
	userToken := fixture.token(t, "user-1", false)

	categoryResponse := fixture.request(t, http.MethodPost, "/categories", adminToken, map[string]any{"name": "History"})
	var category tasks.Category
	decodeBody(t, categoryResponse, &category)

	taskResponse := fixture.request(t, http.MethodPost, "/tasks", adminToken, map[string]any{
		"title":        "Find the plaque",
		"description":  "Front of the town hall",
		"category_id":  category.CategoryID,
		"location_lat": 48.8566,
		"location_lng": 2.3522,
		"points_value": 15,
	})
	var task tasks.Task
	decodeBody(t, taskResponse, &task)

	submitResponse := fixture.request(t, http.MethodPost, "/tasks/"+task.TaskID+"/submissions", userToken, map[string]any{
		"submission_lat": 48.8566,
		"submission_lng": 2.3522,
	})
	var submission tasks.Submission
	decodeBody(t, submitResponse, &submission)

	missingNotes := fixture.request(t, http.MethodPost, "/submissions/"+submission.SubmissionID+"/reject", adminToken, map[string]any{})
	if missingNotes.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 rejecting without notes, got %d", missingNotes.StatusCode)
	}

	rejected := fixture.request(t, http.MethodPost, "/submissions/"+submission.SubmissionID+"/reject", adminToken, map[string]any{
		"validation_notes": "photo is blurry",
	})
	if rejected.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 rejecting with notes, got %d", rejected.StatusCode)
	}
}
