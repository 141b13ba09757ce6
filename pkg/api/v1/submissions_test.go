package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/CSCfi/sd-submit/pkg/auth"
	"github.com/CSCfi/sd-submit/pkg/storage"
	"github.com/CSCfi/sd-submit/pkg/storage/mocks"
)

func authedRequest(method, target string, body string) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	user := &storage.User{
		UserID:   "user-1",
		UserName: "test-user",
		Projects: []storage.Project{{ProjectID: "project-1"}},
	}
	return r.WithContext(auth.WithUser(r.Context(), user))
}

func TestCreateSubmission(t *testing.T) {
	ctrl := gomock.NewController(t)
	submissions := mocks.NewMockSubmissionStore(ctrl)
	router := SubmissionRouter(submissions, mocks.NewMockRegistrationStore(ctrl))

	var created *storage.Submission
	submissions.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, s *storage.Submission) error {
			created = s
			return nil
		})

	body := `{"name":"trial","title":"T","description":"D","projectId":"project-1","workflow":"SD"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/", body))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, created)
	assert.NotEmpty(t, created.SubmissionID)
	assert.Equal(t, storage.WorkflowSD, created.Workflow)
	assert.False(t, created.DateCreated.IsZero())

	var response storage.Submission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, created.SubmissionID, response.SubmissionID)
}

func TestCreateSubmissionDuplicateName(t *testing.T) {
	ctrl := gomock.NewController(t)
	submissions := mocks.NewMockSubmissionStore(ctrl)
	router := SubmissionRouter(submissions, mocks.NewMockRegistrationStore(ctrl))

	submissions.EXPECT().Create(gomock.Any(), gomock.Any()).Return(storage.ErrAlreadyExists)

	body := `{"name":"trial","projectId":"project-1","workflow":"SD"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "already exists")
}

func TestCreateSubmissionRejections(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"garbage body", `{not json`, http.StatusBadRequest},
		{"missing name", `{"projectId":"project-1","workflow":"SD"}`, http.StatusBadRequest},
		{"unknown workflow", `{"name":"n","projectId":"project-1","workflow":"XX"}`, http.StatusBadRequest},
		{"foreign project", `{"name":"n","projectId":"project-9","workflow":"SD"}`, http.StatusForbidden},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			router := SubmissionRouter(mocks.NewMockSubmissionStore(ctrl), mocks.NewMockRegistrationStore(ctrl))

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, authedRequest(http.MethodPost, "/", tc.body))
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestListSubmissionsPagination(t *testing.T) {
	ctrl := gomock.NewController(t)
	submissions := mocks.NewMockSubmissionStore(ctrl)
	router := SubmissionRouter(submissions, mocks.NewMockRegistrationStore(ctrl))

	page := make([]*storage.Submission, 10)
	for i := range page {
		page[i] = &storage.Submission{SubmissionID: fmt.Sprintf("sub-%d", i), ProjectID: "project-1"}
	}
	submissions.EXPECT().List(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, filter storage.SubmissionFilter) ([]*storage.Submission, int, error) {
			assert.Equal(t, "project-1", filter.ProjectID)
			assert.Equal(t, 2, filter.Page)
			assert.Equal(t, 10, filter.PerPage)
			return page, 35, nil
		})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/?projectId=project-1&page=2&per_page=10", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "35", rec.Header().Get("X-Total-Count"))

	link := rec.Header().Get("Link")
	assert.Contains(t, link, `page=1&per_page=10&projectId=project-1>; rel="first"`)
	assert.Contains(t, link, `page=1&per_page=10&projectId=project-1>; rel="prev"`)
	assert.Contains(t, link, `page=3&per_page=10&projectId=project-1>; rel="next"`)
	assert.Contains(t, link, `page=4&per_page=10&projectId=project-1>; rel="last"`)

	var items []*storage.Submission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	assert.Len(t, items, 10)
}

func TestListSubmissionsBadParams(t *testing.T) {
	ctrl := gomock.NewController(t)
	router := SubmissionRouter(mocks.NewMockSubmissionStore(ctrl), mocks.NewMockRegistrationStore(ctrl))

	for _, target := range []string{
		"/?projectId=project-1&page=-1",
		"/?projectId=project-1&published=maybe",
		"/?projectId=project-1&date_created_start=yesterday",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest(http.MethodGet, target, ""))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestGetSubmissionNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	submissions := mocks.NewMockSubmissionStore(ctrl)
	router := SubmissionRouter(submissions, mocks.NewMockRegistrationStore(ctrl))

	submissions.EXPECT().Get(gomock.Any(), "missing").Return(nil, storage.ErrNotFound)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/missing", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSubmissionForeignProject(t *testing.T) {
	ctrl := gomock.NewController(t)
	submissions := mocks.NewMockSubmissionStore(ctrl)
	router := SubmissionRouter(submissions, mocks.NewMockRegistrationStore(ctrl))

	submissions.EXPECT().Get(gomock.Any(), "sub-1").
		Return(&storage.Submission{SubmissionID: "sub-1", ProjectID: "project-9"}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/sub-1", ""))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPatchPublishedSubmission(t *testing.T) {
	ctrl := gomock.NewController(t)
	submissions := mocks.NewMockSubmissionStore(ctrl)
	router := SubmissionRouter(submissions, mocks.NewMockRegistrationStore(ctrl))

	submissions.EXPECT().Get(gomock.Any(), "sub-1").
		Return(&storage.Submission{SubmissionID: "sub-1", ProjectID: "project-1", Published: true}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPatch, "/sub-1", `{"title":"new"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "already published")
}

func TestPatchSubmission(t *testing.T) {
	ctrl := gomock.NewController(t)
	submissions := mocks.NewMockSubmissionStore(ctrl)
	router := SubmissionRouter(submissions, mocks.NewMockRegistrationStore(ctrl))

	stored := &storage.Submission{
		SubmissionID: "sub-1",
		ProjectID:    "project-1",
		Name:         "trial",
		Title:        "old title",
	}
	submissions.EXPECT().Get(gomock.Any(), "sub-1").Return(stored, nil)
	submissions.EXPECT().Update(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, s *storage.Submission) error {
			assert.Equal(t, "new title", s.Title)
			assert.Equal(t, "trial", s.Name)
			assert.False(t, s.LastModified.IsZero())
			return nil
		})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPatch, "/sub-1", `{"title":"new title"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteSubmission(t *testing.T) {
	ctrl := gomock.NewController(t)
	submissions := mocks.NewMockSubmissionStore(ctrl)
	router := SubmissionRouter(submissions, mocks.NewMockRegistrationStore(ctrl))

	submissions.EXPECT().Get(gomock.Any(), "sub-1").
		Return(&storage.Submission{SubmissionID: "sub-1", ProjectID: "project-1"}, nil)
	submissions.EXPECT().Delete(gomock.Any(), "sub-1").Return(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodDelete, "/sub-1", ""))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestListRegistrations(t *testing.T) {
	ctrl := gomock.NewController(t)
	submissions := mocks.NewMockSubmissionStore(ctrl)
	registrations := mocks.NewMockRegistrationStore(ctrl)
	router := SubmissionRouter(submissions, registrations)

	submissions.EXPECT().Get(gomock.Any(), "sub-1").
		Return(&storage.Submission{SubmissionID: "sub-1", ProjectID: "project-1", Published: true}, nil)
	registrations.EXPECT().ListBySubmission(gomock.Any(), "sub-1").
		Return([]*storage.Registration{{SubmissionID: "sub-1", DOI: "10.80869/sd-1"}}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/sub-1/registrations", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	var items []*storage.Registration
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "10.80869/sd-1", items[0].DOI)
}

func TestUnauthenticatedRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	router := SubmissionRouter(mocks.NewMockSubmissionStore(ctrl), mocks.NewMockRegistrationStore(ctrl))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?projectId=project-1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
