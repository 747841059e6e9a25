package phrase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tinloof/sanity-plugin-phrase/internal/tmd"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var logins int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&logins, 1)
		var req loginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"errorCode":"AuthInvalidCredentials"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(loginResponse{Token: "tok", Expires: "2999-01-01T00:00:00Z"})
	})
	mux.HandleFunc("/", handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := NewClient(Credentials{UserName: "user", Password: "secret"}, WithBaseURL(server.URL))
	return client, &logins
}

func TestClientCachesToken(t *testing.T) {
	t.Parallel()

	client, logins := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "ApiToken tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(Project{UID: "p1", Name: "[Sanity.io] post"})
	})

	for i := 0; i < 3; i++ {
		project, err := client.GetProject(context.Background(), "p1")
		if err != nil {
			t.Fatalf("GetProject returned error: %v", err)
		}
		if project.UID != "p1" {
			t.Fatalf("unexpected project: %+v", project)
		}
	}
	if got := atomic.LoadInt32(logins); got != 1 {
		t.Fatalf("unexpected login count: got %d want 1", got)
	}
}

func TestClientInvalidCredentials(t *testing.T) {
	t.Parallel()

	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	client.credentials.Password = "wrong"

	_, err := client.GetProject(context.Background(), "p1")
	if !IsInvalidCredentials(err) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Tag() != "PhraseInvalidCredentialsError" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClientRetriesOnceAfterExpiredToken(t *testing.T) {
	t.Parallel()

	var calls int32
	client, logins := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(Project{UID: "p1"})
	})

	if _, err := client.GetProject(context.Background(), "p1"); err != nil {
		t.Fatalf("GetProject returned error: %v", err)
	}
	if got := atomic.LoadInt32(logins); got != 2 {
		t.Fatalf("unexpected login count: got %d want 2", got)
	}
}

func TestCreateJobsSendsFileAndHeaders(t *testing.T) {
	t.Parallel()

	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api2/v1/projects/p1/jobs" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var meta memsourceHeader
		if err := json.Unmarshal([]byte(r.Header.Get("Memsource")), &meta); err != nil {
			t.Errorf("bad Memsource header: %v", err)
		}
		if diff := cmp.Diff([]string{"pt-BR", "es"}, meta.TargetLangs); diff != "" {
			t.Errorf("unexpected target langs (-want +got):\n%s", diff)
		}
		if got := r.Header.Get("Content-Disposition"); got != "filename*=UTF-8''%5BSanity.io%5D%20post.json" {
			t.Errorf("unexpected content disposition: %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"a":1}` {
			t.Errorf("unexpected body: %s", body)
		}
		_, _ = w.Write([]byte(`{"jobs":[{"uid":"j1","targetLang":"pt-BR"},{"uid":"j2","targetLang":"es"}]}`))
	})

	jobs, err := client.CreateJobs(context.Background(), "p1", "[Sanity.io] post.json", []string{"pt-BR", "es"}, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("CreateJobs returned error: %v", err)
	}
	if len(jobs) != 2 || jobs[1].TargetLang != "es" {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
}

func TestListJobPartsPaginates(t *testing.T) {
	t.Parallel()

	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("pageNumber") {
		case "0":
			_, _ = w.Write([]byte(`{"content":[{"uid":"j1"}],"totalPages":2}`))
		case "1":
			_, _ = w.Write([]byte(`{"content":[{"uid":"j2"}],"totalPages":2}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	jobs, err := client.ListJobParts(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ListJobParts returned error: %v", err)
	}
	if len(jobs) != 2 || jobs[1].UID != "j2" {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
}

func TestClientErrorKinds(t *testing.T) {
	t.Parallel()

	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api2/v1/projects/broken" {
			_, _ = w.Write([]byte(`not json`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`boom`))
	})

	_, err := client.GetProject(context.Background(), "broken")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Kind != ErrorMalformedResponse {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = client.DownloadTargetFile(context.Background(), "p1", "j1")
	if !errors.As(err, &apiErr) || apiErr.Kind != ErrorUnknownClient || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected error: %v", err)
	}
}

func level(n int) *int { return &n }

func TestJobHelpers(t *testing.T) {
	t.Parallel()

	jobs := []tmd.JobInfo{
		JobInfo(JobPart{UID: "translate", Status: "COMPLETED", WorkflowLevel: level(1), WorkflowStep: &WorkflowStep{Name: "Translation"}}),
		JobInfo(JobPart{UID: "review", Status: "ASSIGNED", WorkflowLevel: level(2), WorkflowStep: &WorkflowStep{Name: "Review"}, DateDue: "2024-06-01T00:00:00Z"}),
		JobInfo(JobPart{UID: "qa", Status: "CANCELLED", WorkflowLevel: level(3)}),
		JobInfo(JobPart{UID: "loose", Status: "NEW"}),
	}

	sorted := SortJobsByWorkflowLevel(jobs)
	var order []string
	for _, job := range sorted {
		order = append(order, job.UID)
	}
	if diff := cmp.Diff([]string{"qa", "review", "translate", "loose"}, order); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}

	last, ok := LastValidJobInWorkflow(jobs)
	if !ok || last.UID != "review" {
		t.Fatalf("unexpected last valid job: %+v", last)
	}
	if JobsReadyToMerge(jobs) {
		t.Fatalf("review is still ongoing")
	}
	jobs[1].Status = "COMPLETED_BY_LINGUIST"
	if !JobsReadyToMerge(jobs) {
		t.Fatalf("last valid step is complete")
	}

	meta := ExtractJobsMetadata([]tmd.JobInfo{jobs[0], JobInfo(JobPart{UID: "review", Status: "ASSIGNED", WorkflowLevel: level(2), WorkflowStep: &WorkflowStep{Name: "Review"}, DateDue: "2024-06-01T00:00:00Z"})})
	want := JobsMetadata{StepName: "Review", StepStatus: "ASSIGNED", Due: "2024-06-01T00:00:00Z", ActiveJobUID: "review"}
	if diff := cmp.Diff(want, meta); diff != "" {
		t.Fatalf("unexpected metadata (-want +got):\n%s", diff)
	}
}

func TestURLsAndNames(t *testing.T) {
	t.Parallel()

	if got := ProjectURL(RegionUS, "p1"); got != "https://us.cloud.memsource.com/web/project2/show/p1" {
		t.Fatalf("unexpected project url: %q", got)
	}
	if got := JobEditorURL(RegionEU, "j1"); got != "https://cloud.memsource.com/web/job/j1/translate/" {
		t.Fatalf("unexpected job url: %q", got)
	}
	if !ComesFromSanity("[Sanity.io] Post") || ComesFromSanity("Manual project") {
		t.Fatalf("unexpected ComesFromSanity result")
	}
}
