package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/segmentio/encoding/json"
	"github.com/storyvault/storyvault/pkg/auth"
	"github.com/storyvault/storyvault/pkg/config"
	"github.com/storyvault/storyvault/pkg/database"
	"github.com/storyvault/storyvault/pkg/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t      *testing.T
	e      *echo.Echo
	admin  string
	reader string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.NewForTest()
	db, err := database.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	e, err := newEcho(cfg, db)
	require.NoError(t, err)

	m := auth.NewMiddleware(cfg.JWTSecret)
	admin, err := m.IssueToken(1, auth.RoleAdmin, time.Hour)
	require.NoError(t, err)
	reader, err := m.IssueToken(7, auth.RoleReader, time.Hour)
	require.NoError(t, err)

	return &testServer{t: t, e: e, admin: admin, reader: reader}
}

func (ts *testServer) do(method, path, token string, body interface{}) (int, map[string]interface{}) {
	ts.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)

	resp := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec.Code, resp
}

func errorCode(resp map[string]interface{}) string {
	body, ok := resp["error"].(map[string]interface{})
	if !ok {
		return ""
	}
	code, _ := body["code"].(string)
	return code
}

func id(resp map[string]interface{}) int {
	v, _ := resp["id"].(float64)
	return int(v)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotFound(t *testing.T) {
	ts := newTestServer(t)

	status, resp := ts.do(http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", errorCode(resp))
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	ts := newTestServer(t)

	status, resp := ts.do(http.MethodPost, "/admin/chapters/bulk", "", map[string]interface{}{})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.NotEmpty(t, errorCode(resp))

	status, resp = ts.do(http.MethodPost, "/admin/chapters/bulk", ts.reader, map[string]interface{}{})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", errorCode(resp))

	status, _ = ts.do(http.MethodPost, "/stories", ts.reader, map[string]interface{}{"title": "Nope"})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestChapterPurchaseFlow(t *testing.T) {
	ts := newTestServer(t)

	status, story := ts.do(http.MethodPost, "/stories", ts.admin, map[string]interface{}{
		"title":        "Night Shift",
		"is_published": true,
	})
	require.Equal(t, http.StatusCreated, status, story)
	storyID := id(story)
	assert.Equal(t, "night-shift", story["slug"])
	assert.Equal(t, false, story["has_paid_chapters"])

	status, chapter := ts.do(http.MethodPost, fmt.Sprintf("/stories/%d/chapters", storyID), ts.admin, map[string]interface{}{
		"title":        "One",
		"is_paid":      true,
		"price":        50,
		"is_published": true,
	})
	require.Equal(t, http.StatusCreated, status, chapter)
	chapterID := id(chapter)

	status, story = ts.do(http.MethodGet, fmt.Sprintf("/stories/%d", storyID), "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, story["has_paid_chapters"])

	accessPath := fmt.Sprintf("/stories/%d/access?chapter_id=%d", storyID, chapterID)
	status, decision := ts.do(http.MethodGet, accessPath, "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, decision["granted"])
	assert.Equal(t, "chapter_not_purchased", decision["reason"])
	assert.Equal(t, "authentication_required", decision["refinement"])
	assert.Equal(t, map[string]interface{}{"chapter": float64(50)}, decision["prices"])

	purchasePath := fmt.Sprintf("/chapters/%d/purchase", chapterID)
	status, resp := ts.do(http.MethodPost, purchasePath, ts.reader, nil)
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, "insufficient_funds", errorCode(resp))

	status, resp = ts.do(http.MethodPost, "/admin/wallets/7/credit", ts.admin, map[string]interface{}{"amount": 80})
	require.Equal(t, http.StatusOK, status, resp)

	status, receipt := ts.do(http.MethodPost, purchasePath, ts.reader, nil)
	require.Equal(t, http.StatusCreated, status, receipt)
	assert.Equal(t, float64(50), receipt["amount_charged"])
	assert.Equal(t, float64(30), receipt["balance"])

	status, resp = ts.do(http.MethodPost, purchasePath, ts.reader, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_purchased", errorCode(resp))

	status, decision = ts.do(http.MethodGet, accessPath, ts.reader, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, decision["granted"])
	assert.Equal(t, "chapter_purchased", decision["reason"])

	status, balance := ts.do(http.MethodGet, "/me/balance", ts.reader, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(30), balance["balance"])

	status, txns := ts.do(http.MethodGet, "/me/transactions", ts.reader, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), txns["total"])
}

func TestStoryRuleViolationPayload(t *testing.T) {
	ts := newTestServer(t)

	status, story := ts.do(http.MethodPost, "/stories", ts.admin, map[string]interface{}{"title": "Split"})
	require.Equal(t, http.StatusCreated, status, story)
	storyID := id(story)

	status, chapter := ts.do(http.MethodPost, fmt.Sprintf("/stories/%d/chapters", storyID), ts.admin, map[string]interface{}{
		"title":   "Paid",
		"is_paid": true,
		"price":   25,
	})
	require.Equal(t, http.StatusCreated, status, chapter)

	status, resp := ts.do(http.MethodPatch, fmt.Sprintf("/stories/%d", storyID), ts.admin, map[string]interface{}{
		"is_paid": true,
		"price":   300,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	body, ok := resp["error"].(map[string]interface{})
	require.True(t, ok, resp)
	assert.Equal(t, "MUTUAL_EXCLUSION_VIOLATION", body["code"])
	assert.Equal(t, float64(http.StatusUnprocessableEntity), body["status_code"])
	assert.NotEmpty(t, body["message"])
	assert.NotEmpty(t, body["hint"])
}

func TestBulkUpdateAndReconcile(t *testing.T) {
	ts := newTestServer(t)

	status, story := ts.do(http.MethodPost, "/stories", ts.admin, map[string]interface{}{"title": "Serial"})
	require.Equal(t, http.StatusCreated, status, story)
	storyID := id(story)

	for i := 0; i < 3; i++ {
		status, chapter := ts.do(http.MethodPost, fmt.Sprintf("/stories/%d/chapters", storyID), ts.admin, map[string]interface{}{
			"title": fmt.Sprintf("Chapter %d", i+1),
			"price": 10,
		})
		require.Equal(t, http.StatusCreated, status, chapter)
	}

	status, result := ts.do(http.MethodPost, "/admin/chapters/bulk", ts.admin, map[string]interface{}{
		"story_id": storyID,
		"fields":   map[string]interface{}{"isPaid": true},
	})
	require.Equal(t, http.StatusOK, status, result)
	assert.Equal(t, float64(3), result["matched"])
	assert.Equal(t, float64(3), result["modified"])
	assert.Equal(t, []interface{}{float64(storyID)}, result["repaired_story_ids"])

	status, story = ts.do(http.MethodGet, fmt.Sprintf("/stories/%d", storyID), ts.admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, story["has_paid_chapters"])

	status, resp := ts.do(http.MethodPost, "/admin/chapters/bulk", ts.admin, map[string]interface{}{
		"chapter_ids": []int{},
		"fields":      map[string]interface{}{"is_paid": false},
	})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "no_matching_chapters", errorCode(resp))

	status, job := ts.do(http.MethodPost, "/admin/reconcile", ts.admin, nil)
	require.Equal(t, http.StatusAccepted, status, job)
	assert.Equal(t, "reconcile", job["type"])

	status, resp = ts.do(http.MethodPost, "/admin/reconcile", ts.admin, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", errorCode(resp))

	status, resp = ts.do(http.MethodGet, fmt.Sprintf("/admin/jobs/%d", id(job)), ts.admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pending", resp["status"])

	status, resp = ts.do(http.MethodGet, fmt.Sprintf("/admin/jobs/%d/logs", id(job)), ts.admin, nil)
	require.Equal(t, http.StatusOK, status, resp)
	assert.Equal(t, []interface{}{}, resp["logs"])
}

func TestAccessHidesUnpublishedStories(t *testing.T) {
	ts := newTestServer(t)

	status, story := ts.do(http.MethodPost, "/stories", ts.admin, map[string]interface{}{"title": "Draft"})
	require.Equal(t, http.StatusCreated, status, story)
	accessPath := fmt.Sprintf("/stories/%d/access", id(story))

	status, resp := ts.do(http.MethodGet, accessPath, "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", errorCode(resp))

	status, resp = ts.do(http.MethodGet, accessPath, ts.reader, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", errorCode(resp))

	status, decision := ts.do(http.MethodGet, accessPath, ts.admin, nil)
	require.Equal(t, http.StatusOK, status, decision)
	assert.Equal(t, true, decision["granted"])

	status, resp = ts.do(http.MethodGet, "/stories/999/access", ts.admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", errorCode(resp))
}
