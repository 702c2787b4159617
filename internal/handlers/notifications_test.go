package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"inbox-service/internal/mocks"
	"inbox-service/internal/models"
	"inbox-service/internal/notifstore"
)

func setupNotificationRouter(handler *NotificationHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.GET("/notifications", handler.ListNotifications)
	r.GET("/notifications/more", handler.MoreNotifications)
	r.POST("/notifications", handler.PostNotification)
	r.POST("/notifications/:id/read", handler.MarkNotificationRead)
	r.POST("/notifications/read-all", handler.MarkAllNotificationsRead)
	r.POST("/proposals/:id/viewed", handler.ProposalViewed)
	return r
}

// expectViewerLookup covers the registry's lazy notification store build.
func expectViewerLookup(b *mocks.BackendMock) {
	b.On("Query", mock.Anything, mock.Anything, "users", mock.Anything, mock.Anything, 0, 0).
		Run(func(args mock.Arguments) {
			dest := args.Get(1).(*[]models.UserSummary)
			*dest = []models.UserSummary{{ID: 1, Name: "alice"}}
		}).
		Return(nil)
}

func TestListNotificationsSuccess(t *testing.T) {
	b := new(mocks.BackendMock)
	expectViewerLookup(b)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.On("Query", mock.Anything, mock.Anything, "notifications", mock.Anything, mock.Anything, 0, notifstore.PageSize-1).
		Run(func(args mock.Arguments) {
			dest := args.Get(1).(*[]models.Notification)
			*dest = []models.Notification{
				{ID: 2, TargetUserID: 1, Kind: models.NotificationMessage, Content: "New message from bob", CreatedAt: at},
			}
		}).
		Return(nil).Once()

	handler := NewNotificationHandler(NewRegistry(b, nil), nil)
	router := setupNotificationRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Notifications []models.Notification `json:"notifications"`
		UnreadCount   int                   `json:"unread_count"`
		HasMore       bool                  `json:"has_more"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Notifications, 1)
	assert.Equal(t, 1, resp.UnreadCount)
	assert.False(t, resp.HasMore)
}

func TestListNotificationsBackendError(t *testing.T) {
	b := new(mocks.BackendMock)
	expectViewerLookup(b)
	b.On("Query", mock.Anything, mock.Anything, "notifications", mock.Anything, mock.Anything, 0, notifstore.PageSize-1).
		Return(assert.AnError).Once()

	handler := NewNotificationHandler(NewRegistry(b, nil), nil)
	router := setupNotificationRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPostNotificationSuccess(t *testing.T) {
	b := new(mocks.BackendMock)
	expectViewerLookup(b)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.On("Insert", mock.Anything, mock.Anything, "notifications", mock.Anything).
		Run(func(args mock.Arguments) {
			dest := args.Get(1).(*models.Notification)
			*dest = models.Notification{ID: 31, TargetUserID: 2, Kind: models.NotificationSystem, Content: "hello", CreatedAt: at}
		}).
		Return(nil).Once()

	publisher := new(mocks.PublisherMock)
	publisher.On("Publish", mock.Anything, "audit.inbox", mock.Anything).Return(nil).Once()

	handler := NewNotificationHandler(NewRegistry(b, nil), telemetryEmitter(publisher))
	router := setupNotificationRouter(handler)

	body := bytes.NewBufferString(`{"target_user_id":2,"kind":"system","content":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/notifications", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var n models.Notification
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&n))
	assert.Equal(t, 31, n.ID)
	publisher.AssertExpectations(t)
}

func TestPostNotificationInvalidKind(t *testing.T) {
	b := new(mocks.BackendMock)
	expectViewerLookup(b)

	handler := NewNotificationHandler(NewRegistry(b, nil), nil)
	router := setupNotificationRouter(handler)

	body := bytes.NewBufferString(`{"target_user_id":2,"kind":"spam","content":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/notifications", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	b.AssertNumberOfCalls(t, "Insert", 0)
}

func TestMarkNotificationReadInvalidID(t *testing.T) {
	handler := NewNotificationHandler(NewRegistry(new(mocks.BackendMock), nil), nil)
	router := setupNotificationRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/notifications/abc/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkNotificationReadSuccess(t *testing.T) {
	b := new(mocks.BackendMock)
	expectViewerLookup(b)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.On("Query", mock.Anything, mock.Anything, "notifications", mock.Anything, mock.Anything, 0, notifstore.PageSize-1).
		Run(func(args mock.Arguments) {
			dest := args.Get(1).(*[]models.Notification)
			*dest = []models.Notification{
				{ID: 2, TargetUserID: 1, Kind: models.NotificationMessage, Content: "unread", CreatedAt: at},
			}
		}).
		Return(nil).Once()
	b.On("Update", mock.Anything, "notifications", mock.Anything, mock.Anything).Return(nil).Once()

	handler := NewNotificationHandler(NewRegistry(b, nil), nil)
	router := setupNotificationRouter(handler)

	// Load the cache first, the way a client session would.
	listReq := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)

	req := httptest.NewRequest(http.MethodPost, "/notifications/2/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	b.AssertExpectations(t)
}

func TestMarkAllNotificationsReadSuccess(t *testing.T) {
	b := new(mocks.BackendMock)
	expectViewerLookup(b)
	b.On("Update", mock.Anything, "notifications", mock.Anything, mock.Anything).Return(nil).Once()

	handler := NewNotificationHandler(NewRegistry(b, nil), nil)
	router := setupNotificationRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/notifications/read-all", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	b.AssertExpectations(t)
}

func TestProposalViewedSuccess(t *testing.T) {
	b := new(mocks.BackendMock)
	expectStoreBootstrap(b)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Token pre-check finds nothing; the insert follows.
	b.On("Query", mock.Anything, mock.Anything, "notifications", mock.Anything, mock.Anything, 0, 0).
		Return(nil).Once()
	b.On("Insert", mock.Anything, mock.Anything, "notifications", mock.Anything).
		Run(func(args mock.Arguments) {
			row := args.Get(3).(map[string]any)
			assert.Equal(t, models.NotificationViewed, row["kind"])
			assert.Contains(t, row["content"], "alice viewed your proposal")
			dest := args.Get(1).(*models.Notification)
			*dest = models.Notification{ID: 31, TargetUserID: 2, Kind: models.NotificationViewed, Content: row["content"].(string), CreatedAt: at}
		}).
		Return(nil).Once()

	handler := NewNotificationHandler(NewRegistry(b, nil), nil)
	router := setupNotificationRouter(handler)

	body := bytes.NewBufferString(`{"owner_id":2,"job_id":12}`)
	req := httptest.NewRequest(http.MethodPost, "/proposals/77/viewed", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	b.AssertExpectations(t)

	// A second view of the same proposal in this session sends nothing new.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/proposals/77/viewed", bytes.NewBufferString(`{"owner_id":2,"job_id":12}`))
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	b.AssertNumberOfCalls(t, "Insert", 1)
}
