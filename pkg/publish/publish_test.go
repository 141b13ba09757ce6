package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/CSCfi/sd-submit/pkg/clients"
	"github.com/CSCfi/sd-submit/pkg/datacite"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/files"
	"github.com/CSCfi/sd-submit/pkg/metax"
	"github.com/CSCfi/sd-submit/pkg/storage"
	"github.com/CSCfi/sd-submit/pkg/storage/mocks"
)

const discoveryTemplate = "https://etsin.example/dataset/<PID>"

type registryPublish struct {
	doi       string
	discovery string
	findable  bool
	metadata  *datacite.Metadata
}

type fakeRegistry struct {
	nextDOI    string
	draftErr   error
	publishErr error
	draftCalls int
	published  []registryPublish
}

func (f *fakeRegistry) CreateDraftDOI(_ context.Context) (string, error) {
	if f.draftErr != nil {
		return "", f.draftErr
	}
	f.draftCalls++
	return fmt.Sprintf("%s-%d", f.nextDOI, f.draftCalls), nil
}

func (f *fakeRegistry) Publish(_ context.Context, doi string, md *datacite.Metadata, discoveryURL string, publish bool) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, registryPublish{doi, discoveryURL, publish, md})
	return nil
}

type fakeCatalog struct {
	metaxID      string
	patched      []any
	descriptions []string
	publishCalls int
}

func (f *fakeCatalog) CreateDraftDataset(_ context.Context, _, _, _ string) (string, error) {
	return f.metaxID, nil
}

func (f *fakeCatalog) GetDataset(_ context.Context, metaxID string) (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`{"id":%q,"state":"draft"}`, metaxID)), nil
}

func (f *fakeCatalog) Patch(_ context.Context, _ string, partial any) error {
	f.patched = append(f.patched, partial)
	return nil
}

func (f *fakeCatalog) UpdateDescription(_ context.Context, _, description string) error {
	f.descriptions = append(f.descriptions, description)
	return nil
}

func (f *fakeCatalog) Publish(_ context.Context, _ string) (json.RawMessage, error) {
	f.publishCalls++
	return json.RawMessage(`{"state":"published"}`), nil
}

type fakeAccess struct {
	resourceID  int
	catalogueID int
	resources   []string
	items       []string
}

func (f *fakeAccess) CreateResource(_ context.Context, _ string, _ int, _ []int, doi string) (int, error) {
	f.resources = append(f.resources, doi)
	return f.resourceID, nil
}

func (f *fakeAccess) CreateCatalogueItem(_ context.Context, _ string, _, _ int, _, discoveryURL string) (int, error) {
	f.items = append(f.items, discoveryURL)
	return f.catalogueID, nil
}

func (f *fakeAccess) ApplicationURL(catalogueID int) string {
	return fmt.Sprintf("https://rems.example/application?items=%d", catalogueID)
}

type fakeArchive struct {
	ingested []string
	released []string
}

func (f *fakeArchive) IngestFile(_ context.Context, _, filepath string) error {
	f.ingested = append(f.ingested, filepath)
	return nil
}

func (f *fakeArchive) ReleaseDataset(_ context.Context, datasetID string) error {
	f.released = append(f.released, datasetID)
	return nil
}

type fakeMapper struct {
	calls int
}

func (f *fakeMapper) Map(_ context.Context, _ json.RawMessage, _ *datacite.Metadata) (*metax.Fields, error) {
	f.calls++
	return &metax.Fields{}, nil
}

type fakeLister struct {
	entries []clients.FieldOfScience
}

func (f *fakeLister) GetFieldsOfScience(_ context.Context) ([]clients.FieldOfScience, error) {
	return f.entries, nil
}

type fakeProvider struct {
	buckets map[string][]files.FileInfo
	granted []string
}

func (f *fakeProvider) ListBuckets(_ context.Context) ([]string, error) {
	var names []string
	for name := range f.buckets {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeProvider) ListFiles(_ context.Context, bucket string) ([]files.FileInfo, error) {
	return f.buckets[bucket], nil
}

func (f *fakeProvider) GrantReadPolicy(_ context.Context, bucket string) error {
	f.granted = append(f.granted, bucket)
	return nil
}

func (f *fakeProvider) HasReadPolicy(_ context.Context, _ string) (bool, error) {
	return false, nil
}

type testEnv struct {
	orchestrator *Orchestrator
	pid          *fakeRegistry
	datacite     *fakeRegistry
	catalog      *fakeCatalog
	access       *fakeAccess
	archive      *fakeArchive
	mapper       *fakeMapper
	provider     *fakeProvider

	submissions   *mocks.MockSubmissionStore
	objects       *mocks.MockObjectStore
	files         *mocks.MockFileStore
	registrations *mocks.MockRegistrationStore
}

func newTestEnv(ctrl *gomock.Controller) *testEnv {
	env := &testEnv{
		pid:      &fakeRegistry{nextDOI: "10.80869/sd"},
		datacite: &fakeRegistry{nextDOI: "10.80869/bp"},
		catalog:  &fakeCatalog{metaxID: "metax-1"},
		access:   &fakeAccess{resourceID: 1, catalogueID: 1},
		archive:  &fakeArchive{},
		mapper:   &fakeMapper{},
		provider: &fakeProvider{buckets: map[string][]files.FileInfo{
			"bucket-1": {{Path: "data/a.bam", Bytes: 42, Checksum: "abc"}},
		}},
		submissions:   mocks.NewMockSubmissionStore(ctrl),
		objects:       mocks.NewMockObjectStore(ctrl),
		files:         mocks.NewMockFileStore(ctrl),
		registrations: mocks.NewMockRegistrationStore(ctrl),
	}
	lister := &fakeLister{entries: []clients.FieldOfScience{
		{ID: "ta111", URL: "http://www.yso.fi/onto/okm-tieteenala/ta111", Code: "ta111",
			PrefLabel: map[string]string{"en": "Mathematics", "fi": "Matematiikka"}},
	}}
	env.orchestrator = New(
		Stores{
			Submissions:   env.submissions,
			Objects:       env.objects,
			Files:         env.files,
			Registrations: env.registrations,
		},
		env.pid, env.datacite, env.catalog, env.access, env.archive,
		env.mapper, lister, env.provider, discoveryTemplate,
	)
	return env
}

func testUser() *storage.User {
	return &storage.User{
		UserID:   "user-1",
		UserName: "test-user",
		Projects: []storage.Project{{ProjectID: "project-1"}},
	}
}

func sdSubmission() *storage.Submission {
	return &storage.Submission{
		SubmissionID: "sub-1",
		ProjectID:    "project-1",
		Workflow:     storage.WorkflowSD,
		Name:         "trial",
		Title:        "Clinical trial data",
		Description:  "Data from trial",
		Bucket:       "bucket-1",
		Metadata: &datacite.Metadata{
			Creators:  []datacite.Creator{{Name: "Last, First"}},
			Publisher: &datacite.Publisher{Name: "CSC"},
			Subjects:  []datacite.Subject{{Subject: "111 - Mathematics"}},
		},
		Rems: &storage.RemsSpec{OrganizationID: "csc", WorkflowID: 4, Licenses: []int{7}},
	}
}

func TestPublishSD(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(ctrl)
	submission := sdSubmission()

	env.submissions.EXPECT().Get(gomock.Any(), "sub-1").Return(submission, nil)
	env.submissions.EXPECT().MarkPublished(gomock.Any(), "sub-1").Return(nil)

	var registration *storage.Registration
	env.registrations.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, r *storage.Registration) error {
			registration = r
			return nil
		})

	err := env.orchestrator.Publish(context.Background(), testUser(), "sub-1")
	require.NoError(t, err)

	require.NotNil(t, registration)
	assert.Equal(t, "sub-1", registration.SubmissionID)
	assert.Equal(t, "10.80869/sd-1", registration.DOI)
	assert.Equal(t, "metax-1", registration.MetaxID)
	assert.Equal(t, 1, registration.RemsResourceID)
	assert.Equal(t, 1, registration.RemsCatalogueID)
	assert.Equal(t, "https://rems.example/application?items=1", registration.RemsURL)

	// DOI is registered against the Metax landing page but left unfindable.
	require.Len(t, env.pid.published, 1)
	published := env.pid.published[0]
	assert.Equal(t, "10.80869/sd-1", published.doi)
	assert.Equal(t, "https://etsin.example/dataset/metax-1", published.discovery)
	assert.False(t, published.findable)

	// The registered metadata is an enriched copy of the submission's.
	require.Len(t, published.metadata.Subjects, 1)
	subject := published.metadata.Subjects[0]
	assert.Equal(t, "ta111", subject.ClassificationCode)
	assert.Equal(t, "http://www.yso.fi/onto/okm-tieteenala/ta111", subject.ValueURI)
	assert.NotEmpty(t, subject.SubjectScheme)
	require.Len(t, published.metadata.Titles, 1)
	assert.Equal(t, "Clinical trial data", published.metadata.Titles[0].Title)
	require.Len(t, published.metadata.AlternateIdentifiers, 1)
	assert.Equal(t, "sub-1", published.metadata.AlternateIdentifiers[0].AlternateIdentifier)
	assert.Empty(t, submission.Metadata.Subjects[0].ValueURI, "stored metadata must stay untouched")

	// Mapped fields are patched in, and the description gains the apply link.
	assert.Equal(t, 1, env.mapper.calls)
	assert.Len(t, env.catalog.patched, 1)
	require.Len(t, env.catalog.descriptions, 1)
	assert.Equal(t, "Data from trial\n\nSD Apply Application link: https://rems.example/application?items=1",
		env.catalog.descriptions[0])
	assert.Equal(t, 1, env.catalog.publishCalls)

	assert.Equal(t, []string{"bucket-1"}, env.provider.granted)
	assert.Equal(t, []string{"10.80869/sd-1"}, env.access.resources)
}

func TestPublishSDWithoutRems(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(ctrl)
	submission := sdSubmission()
	submission.Rems = nil

	env.submissions.EXPECT().Get(gomock.Any(), "sub-1").Return(submission, nil)
	env.submissions.EXPECT().MarkPublished(gomock.Any(), "sub-1").Return(nil)

	var registration *storage.Registration
	env.registrations.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, r *storage.Registration) error {
			registration = r
			return nil
		})

	err := env.orchestrator.Publish(context.Background(), testUser(), "sub-1")
	require.NoError(t, err)

	require.NotNil(t, registration)
	assert.Zero(t, registration.RemsResourceID)
	assert.Empty(t, registration.RemsURL)
	assert.Empty(t, env.access.resources)
	assert.Empty(t, env.catalog.descriptions)
}

func TestPublishSDMissingSubjects(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(ctrl)
	submission := sdSubmission()
	submission.Metadata.Subjects = nil

	env.submissions.EXPECT().Get(gomock.Any(), "sub-1").Return(submission, nil)

	err := env.orchestrator.Publish(context.Background(), testUser(), "sub-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsUser(err))
	assert.Contains(t, err.Error(), "Missing DataCite subjects")
	assert.Zero(t, env.pid.draftCalls, "no DOI may be minted")
}

func TestPublishSDUnknownSubject(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(ctrl)
	submission := sdSubmission()
	submission.Metadata.Subjects = []datacite.Subject{{Subject: "999 - Alchemy"}}

	env.submissions.EXPECT().Get(gomock.Any(), "sub-1").Return(submission, nil)

	err := env.orchestrator.Publish(context.Background(), testUser(), "sub-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsUser(err))
	assert.Zero(t, env.pid.draftCalls)
}

func TestPublishPreconditions(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*storage.Submission)
		user     *storage.User
		check    func(error) bool
		contains string
	}{
		{
			name:     "not a project member",
			mutate:   func(_ *storage.Submission) {},
			user:     &storage.User{UserID: "other", Projects: []storage.Project{{ProjectID: "project-2"}}},
			check:    apperrors.IsForbidden,
			contains: "not a member",
		},
		{
			name:     "already published",
			mutate:   func(s *storage.Submission) { s.Published = true },
			check:    apperrors.IsUser,
			contains: "already published",
		},
		{
			name:     "missing bucket",
			mutate:   func(s *storage.Submission) { s.Bucket = "" },
			check:    apperrors.IsUser,
			contains: "no data bucket",
		},
		{
			name:     "empty bucket",
			mutate:   func(s *storage.Submission) { s.Bucket = "bucket-empty" },
			check:    apperrors.IsUser,
			contains: "holds no files",
		},
		{
			name:     "missing creators",
			mutate:   func(s *storage.Submission) { s.Metadata.Creators = nil },
			check:    apperrors.IsUser,
			contains: "creators",
		},
		{
			name:     "missing publisher",
			mutate:   func(s *storage.Submission) { s.Metadata.Publisher = nil },
			check:    apperrors.IsUser,
			contains: "publisher",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			env := newTestEnv(ctrl)
			submission := sdSubmission()
			tc.mutate(submission)

			env.submissions.EXPECT().Get(gomock.Any(), "sub-1").Return(submission, nil)

			user := tc.user
			if user == nil {
				user = testUser()
			}
			err := env.orchestrator.Publish(context.Background(), user, "sub-1")
			require.Error(t, err)
			assert.True(t, tc.check(err), "unexpected error type: %v", err)
			assert.Contains(t, err.Error(), tc.contains)
			assert.Zero(t, env.pid.draftCalls)
		})
	}
}

func TestPublishUnknownSubmission(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(ctrl)

	env.submissions.EXPECT().Get(gomock.Any(), "missing").Return(nil, storage.ErrNotFound)

	err := env.orchestrator.Publish(context.Background(), testUser(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func bpSubmission() *storage.Submission {
	submission := sdSubmission()
	submission.Workflow = storage.WorkflowBP
	submission.Rems = nil
	return submission
}

func bpDataset(id string) *storage.MetadataObject {
	return &storage.MetadataObject{
		ObjectID:     id,
		SubmissionID: "sub-1",
		ObjectType:   "dataset",
		Title:        "Slide set " + id,
		Description:  "Whole-slide images",
	}
}

func TestPublishBP(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(ctrl)
	submission := bpSubmission()
	datasets := []*storage.MetadataObject{bpDataset("obj-1"), bpDataset("obj-2")}

	env.submissions.EXPECT().Get(gomock.Any(), "sub-1").Return(submission, nil)
	env.submissions.EXPECT().MarkPublished(gomock.Any(), "sub-1").Return(nil)
	env.objects.EXPECT().ListBySubmission(gomock.Any(), "sub-1").Return(datasets, nil).Times(2)
	env.files.EXPECT().ListByObject(gomock.Any(), "obj-1").
		Return([]*storage.File{{FileID: "f1", Path: "a.tiff"}}, nil)

	var registrations []*storage.Registration
	env.registrations.EXPECT().Create(gomock.Any(), gomock.Any()).Times(2).
		DoAndReturn(func(_ context.Context, r *storage.Registration) error {
			registrations = append(registrations, r)
			return nil
		})

	err := env.orchestrator.Publish(context.Background(), testUser(), "sub-1")
	require.NoError(t, err)

	require.Len(t, registrations, 2)
	assert.Equal(t, "obj-1", registrations[0].ObjectID)
	assert.Equal(t, "10.80869/bp-1", registrations[0].DOI)
	assert.Equal(t, "https://doi.org/10.80869/bp-1", registrations[0].DataciteURL)
	assert.Equal(t, "obj-2", registrations[1].ObjectID)
	assert.Equal(t, "10.80869/bp-2", registrations[1].DOI)

	// BP DOIs go findable immediately, landing on the DOI itself.
	require.Len(t, env.datacite.published, 2)
	assert.True(t, env.datacite.published[0].findable)
	assert.Equal(t, "https://doi.org/10.80869/bp-1", env.datacite.published[0].discovery)
	require.Len(t, env.datacite.published[0].metadata.Titles, 1)
	assert.Equal(t, "Slide set obj-1", env.datacite.published[0].metadata.Titles[0].Title)
}

func TestPublishBPDataciteFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(ctrl)
	env.datacite.draftErr = apperrors.NewUpstreamServerError("datacite: 500 Internal Server Error", nil)
	submission := bpSubmission()
	datasets := []*storage.MetadataObject{bpDataset("obj-1")}

	env.submissions.EXPECT().Get(gomock.Any(), "sub-1").Return(submission, nil)
	env.objects.EXPECT().ListBySubmission(gomock.Any(), "sub-1").Return(datasets, nil).Times(2)
	env.files.EXPECT().ListByObject(gomock.Any(), "obj-1").
		Return([]*storage.File{{FileID: "f1", Path: "a.tiff"}}, nil)

	err := env.orchestrator.Publish(context.Background(), testUser(), "sub-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstreamServer(err))
	// No expectation on registrations.Create or MarkPublished: the
	// controller fails the test if either is reached.
}

func TestPublishBPNoDatasetObjects(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(ctrl)
	submission := bpSubmission()

	env.submissions.EXPECT().Get(gomock.Any(), "sub-1").Return(submission, nil)
	env.objects.EXPECT().ListBySubmission(gomock.Any(), "sub-1").
		Return([]*storage.MetadataObject{{ObjectID: "obj-1", ObjectType: "study"}}, nil)

	err := env.orchestrator.Publish(context.Background(), testUser(), "sub-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsUser(err))
	assert.Contains(t, err.Error(), "no dataset objects")
}

func fegaSubmission() *storage.Submission {
	submission := sdSubmission()
	submission.Workflow = storage.WorkflowFEGA
	submission.Bucket = ""
	submission.Rems = nil
	return submission
}

func fegaObjects() []*storage.MetadataObject {
	return []*storage.MetadataObject{
		{ObjectID: "obj-study", SubmissionID: "sub-1", ObjectType: "study"},
		{ObjectID: "obj-dac", SubmissionID: "sub-1", ObjectType: "dac"},
		{ObjectID: "obj-policy", SubmissionID: "sub-1", ObjectType: "policy"},
		{ObjectID: "obj-dataset", SubmissionID: "sub-1", ObjectType: "dataset", Title: "Sequencing run"},
	}
}

func TestPublishFEGA(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(ctrl)
	submission := fegaSubmission()

	env.submissions.EXPECT().Get(gomock.Any(), "sub-1").Return(submission, nil)
	env.submissions.EXPECT().MarkPublished(gomock.Any(), "sub-1").Return(nil)
	env.objects.EXPECT().ListBySubmission(gomock.Any(), "sub-1").Return(fegaObjects(), nil).Times(2)
	env.files.EXPECT().ListBySubmission(gomock.Any(), "sub-1").
		Return([]*storage.File{{FileID: "f1", Path: "reads/r1.c4gh"}}, nil)
	env.files.EXPECT().SetStatus(gomock.Any(), "f1", storage.FileIngested).Return(nil)

	var registration *storage.Registration
	env.registrations.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, r *storage.Registration) error {
			registration = r
			return nil
		})

	err := env.orchestrator.Publish(context.Background(), testUser(), "sub-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"reads/r1.c4gh"}, env.archive.ingested)
	assert.Equal(t, []string{"obj-dataset"}, env.archive.released)
	require.NotNil(t, registration)
	assert.Equal(t, "obj-dataset", registration.ObjectID)
	assert.Equal(t, "10.80869/sd-1", registration.DOI)
}

func TestPublishFEGAMissingObjects(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(ctrl)
	submission := fegaSubmission()

	env.submissions.EXPECT().Get(gomock.Any(), "sub-1").Return(submission, nil)
	env.objects.EXPECT().ListBySubmission(gomock.Any(), "sub-1").
		Return([]*storage.MetadataObject{{ObjectID: "obj-study", ObjectType: "study"}}, nil)

	err := env.orchestrator.Publish(context.Background(), testUser(), "sub-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsUser(err))
	assert.Contains(t, err.Error(), "missing a dac object")
}

func TestPublishAlreadyPublishedRace(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(ctrl)
	submission := sdSubmission()
	submission.Rems = nil

	env.submissions.EXPECT().Get(gomock.Any(), "sub-1").Return(submission, nil)
	env.registrations.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	env.submissions.EXPECT().MarkPublished(gomock.Any(), "sub-1").
		Return(storage.ErrAlreadyPublished)

	err := env.orchestrator.Publish(context.Background(), testUser(), "sub-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsUser(err))
	assert.Contains(t, err.Error(), "Submission already published")
}
