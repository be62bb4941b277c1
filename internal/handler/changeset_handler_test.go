package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/evr-admin-api/internal/dto"
	"github.com/noah-isme/evr-admin-api/internal/middleware"
	"github.com/noah-isme/evr-admin-api/internal/models"
	"github.com/noah-isme/evr-admin-api/internal/service"
	appErrors "github.com/noah-isme/evr-admin-api/pkg/errors"
)

type changesetServiceStub struct {
	queueErr error
	lastReq  *dto.CreateChangesetRequest
}

func (s *changesetServiceStub) Create(ctx context.Context, req dto.CreateChangesetRequest, actor *models.JWTClaims) (*models.Changeset, error) {
	s.lastReq = &req
	return &models.Changeset{ID: "cs-1", Name: req.Name, Kind: req.Kind, Status: models.ChangesetStatusNew}, nil
}

func (s *changesetServiceStub) Get(ctx context.Context, id string, actor *models.JWTClaims) (*dto.ChangesetResponse, error) {
	if id != "cs-1" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "changeset not found")
	}
	return &dto.ChangesetResponse{
		Changeset:      models.Changeset{ID: id, Status: models.ChangesetStatusSuccessful},
		RecordsChanged: 3,
	}, nil
}

func (s *changesetServiceStub) List(ctx context.Context, query dto.ChangesetQuery, actor *models.JWTClaims) ([]models.Changeset, int, error) {
	return []models.Changeset{{ID: "cs-1"}}, 1, nil
}

func (s *changesetServiceStub) Update(ctx context.Context, id string, req dto.UpdateChangesetRequest, actor *models.JWTClaims) (*models.Changeset, error) {
	return &models.Changeset{ID: id}, nil
}

func (s *changesetServiceStub) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	return nil
}

func (s *changesetServiceStub) Approve(ctx context.Context, id string, actor *models.JWTClaims) (*models.Changeset, error) {
	return &models.Changeset{ID: id, Status: models.ChangesetStatusApproved, ApprovalCount: 2}, nil
}

func (s *changesetServiceStub) RevokeApproval(ctx context.Context, id string, actor *models.JWTClaims) (*models.Changeset, error) {
	return &models.Changeset{ID: id, Status: models.ChangesetStatusNew, ApprovalCount: 1}, nil
}

func (s *changesetServiceStub) Queue(ctx context.Context, id string, actor *models.JWTClaims) (*models.Changeset, error) {
	if s.queueErr != nil {
		return nil, s.queueErr
	}
	return &models.Changeset{ID: id, Status: models.ChangesetStatusQueued}, nil
}

func (s *changesetServiceStub) Records(ctx context.Context, id string, actor *models.JWTClaims) ([]models.ChangeRecord, error) {
	return []models.ChangeRecord{{ID: "rec-1", ChangesetID: id, CitizenID: "cit-1", Changed: true}}, nil
}

func (s *changesetServiceStub) Approvers(ctx context.Context, id string, actor *models.JWTClaims) ([]models.ChangesetApproval, error) {
	return []models.ChangesetApproval{{ChangesetID: id, UserID: "admin-1"}}, nil
}

type exporterStub struct{}

func (exporterStub) ExportRecords(ctx context.Context, changesetID, format string) (*service.ExportResult, error) {
	return &service.ExportResult{
		Content:     []byte("citizen_id,kind\n"),
		ContentType: "text/csv",
		Filename:    "changeset-" + changesetID + "-records.csv",
	}, nil
}

func buildChangesetRouter(svc *changesetServiceStub) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if role := c.GetHeader("X-Test-Role"); role != "" {
			c.Set(middleware.ContextUserKey, &models.JWTClaims{
				UserID: "test-user",
				Role:   models.UserRole(role),
			})
		}
		c.Next()
	})

	h := NewChangesetHandler(svc, exporterStub{})
	editors := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleOperator)
	approvers := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)

	group := router.Group("/changesets")
	group.GET("", h.List)
	group.POST("", editors, h.Create)
	group.GET("/:id", h.Get)
	group.POST("/:id/approve", approvers, h.Approve)
	group.POST("/:id/queue", approvers, h.Queue)
	group.GET("/:id/records", h.Records)
	group.GET("/:id/records/export", h.ExportRecords)
	return router
}

func performRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestChangesetRoutes(t *testing.T) {
	svc := &changesetServiceStub{}
	router := buildChangesetRouter(svc)

	t.Run("create success", func(t *testing.T) {
		payload := `{"name":"block fraud list","kind":"BLOCK","selection_mode":"BY_UPLOADED_IDS",
			"selected_citizen_ids":["cit-1"],"justification":"court order"}`
		req, _ := http.NewRequest(http.MethodPost, "/changesets", bytes.NewBufferString(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleOperator))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusCreated, resp.Code)
		require.NotNil(t, svc.lastReq)
		require.Equal(t, models.ChangeKindBlock, svc.lastReq.Kind)
	})

	t.Run("create rejects malformed payload", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/changesets", bytes.NewBufferString(`{"name":`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleAdmin))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("create forbidden for viewer", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/changesets", bytes.NewBufferString(`{}`))
		req.Header.Set("X-Test-Role", string(models.RoleViewer))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("approve requires authentication", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/changesets/cs-1/approve", nil)
		resp := performRequest(router, req)
		require.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("approve forbidden for operator", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/changesets/cs-1/approve", nil)
		req.Header.Set("X-Test-Role", string(models.RoleOperator))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("approve success", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/changesets/cs-1/approve", nil)
		req.Header.Set("X-Test-Role", string(models.RoleAdmin))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"approval_count":2`)
	})

	t.Run("queue conflict surfaces status error", func(t *testing.T) {
		svc.queueErr = appErrors.Clone(appErrors.ErrInvalidStatus, "changeset is not approved")
		defer func() { svc.queueErr = nil }()
		req, _ := http.NewRequest(http.MethodPost, "/changesets/cs-1/queue", nil)
		req.Header.Set("X-Test-Role", string(models.RoleAdmin))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusConflict, resp.Code)
		require.Contains(t, resp.Body.String(), "INVALID_STATUS")
	})

	t.Run("list parses filters", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/changesets?status=new,approved&kind=block&page=2", nil)
		req.Header.Set("X-Test-Role", string(models.RoleViewer))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"pagination"`)
	})

	t.Run("get detail includes ledger counts", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/changesets/cs-1", nil)
		req.Header.Set("X-Test-Role", string(models.RoleViewer))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"records_changed":3`)
	})

	t.Run("get missing changeset", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/changesets/cs-404", nil)
		req.Header.Set("X-Test-Role", string(models.RoleViewer))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("export sets download headers", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/changesets/cs-1/records/export?format=csv", nil)
		req.Header.Set("X-Test-Role", string(models.RoleViewer))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Equal(t, "text/csv", resp.Header().Get("Content-Type"))
		require.Contains(t, resp.Header().Get("Content-Disposition"), "changeset-cs-1-records.csv")
	})
}
