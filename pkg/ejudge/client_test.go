package ejudge

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/beam-cloud/contestfs/pkg/common"
	"github.com/jarcoal/httpmock"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://judge.example.com"

func newTestClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()

	transport := httpmock.NewMockTransport()
	client, err := New(Options{
		BaseURL:    testBaseURL + "/",
		Login:      "alice",
		Password:   "secret",
		HTTPClient: &http.Client{Transport: transport},
	})
	require.NoError(t, err)
	return client, transport
}

func okEnvelope(result any) map[string]any {
	return map[string]any{"ok": true, "result": result}
}

var testSession = Session{ContestID: 7, SID: "sid-1", EJSID: "ejsid-1"}

func TestNewValidatesBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"empty", "", true},
		{"no scheme", "judge.example.com", true},
		{"ftp", "ftp://judge.example.com", true},
		{"https", "https://judge.example.com", false},
		{"http with path", "http://localhost:8080/cgi-bin", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(Options{BaseURL: tc.baseURL})
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnterContest(t *testing.T) {
	client, transport := newTestClient(t)

	transport.RegisterResponder(http.MethodPost, testBaseURL+"/ej/client/login-json",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseForm())
			assert.Equal(t, "alice", req.PostForm.Get("login"))
			assert.Equal(t, "secret", req.PostForm.Get("password"))
			assert.Equal(t, "7", req.PostForm.Get("contest_id"))
			assert.NotEmpty(t, req.Header.Get("X-Request-Id"))
			return httpmock.NewJsonResponse(http.StatusOK, okEnvelope(map[string]any{
				"SID":    "sid-1",
				"EJSID":  "ejsid-1",
				"expire": 1700000000,
			}))
		})

	s, err := client.EnterContest(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, testSession.SID, s.SID)
	assert.Equal(t, testSession.EJSID, s.EJSID)
	assert.Equal(t, 7, s.ContestID)
	assert.Equal(t, int64(1700000000), s.ExpiresAt().Unix())
}

func TestEnterContestWithoutSID(t *testing.T) {
	client, transport := newTestClient(t)

	transport.RegisterResponder(http.MethodPost, testBaseURL+"/ej/client/login-json",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, okEnvelope(map[string]any{})))

	_, err := client.EnterContest(context.Background(), 7)
	require.ErrorIs(t, err, common.ErrNoSession)
}

func TestListContests(t *testing.T) {
	client, transport := newTestClient(t)

	transport.RegisterResponder(http.MethodPost, testBaseURL+"/ej/client/contests-json",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, okEnvelope(map[string]any{
			"contests": []map[string]any{
				{"id": 1, "name": "Warmup"},
				{"id": 7, "name": "Final"},
			},
		})))

	contests, err := client.ListContests(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ContestBrief{{ID: 1, Name: "Warmup"}, {ID: 7, Name: "Final"}}, contests)
}

func TestSessionRequestsCarryCredentials(t *testing.T) {
	client, transport := newTestClient(t)

	transport.RegisterResponder(http.MethodGet, testBaseURL+"/ej/client/run-status-json",
		func(req *http.Request) (*http.Response, error) {
			q := req.URL.Query()
			assert.Equal(t, "sid-1", q.Get("SID"))
			assert.Equal(t, "7", q.Get("contest_id"))
			assert.Equal(t, "12", q.Get("run_id"))

			cookie, err := req.Cookie("EJSID")
			require.NoError(t, err)
			assert.Equal(t, "ejsid-1", cookie.Value)

			return httpmock.NewJsonResponse(http.StatusOK, okEnvelope(map[string]any{
				"run_id": 12,
				"status": StatusWrongAnswer,
				"tests": []map[string]any{
					{"num": 1, "status": StatusOK, "files": []int{0, 1, 2}},
					{"num": 2, "status": StatusWrongAnswer},
				},
			}))
		})

	info, err := client.RunStatus(context.Background(), testSession, 12)
	require.NoError(t, err)
	assert.Equal(t, 12, info.RunID)
	assert.True(t, info.Settled())

	test, ok := info.Test(1)
	require.True(t, ok)
	assert.Equal(t, []int{0, 1, 2}, test.Files)
	_, ok = info.Test(3)
	assert.False(t, ok)
}

func TestServerErrorEnvelope(t *testing.T) {
	client, transport := newTestClient(t)

	transport.RegisterResponder(http.MethodGet, testBaseURL+"/ej/client/contest-status-json",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
			"ok":    false,
			"error": map[string]any{"num": 42, "message": "contest is not started"},
		}))

	_, err := client.ContestStatus(context.Background(), testSession)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 42, apiErr.Num)
	assert.Equal(t, "contest is not started", apiErr.Message)
	assert.False(t, apiErr.SessionExpired())
	assert.Contains(t, err.Error(), "contest-status-json")
}

func TestSessionExpired(t *testing.T) {
	client, transport := newTestClient(t)

	transport.RegisterResponder(http.MethodGet, testBaseURL+"/ej/client/list-runs-json",
		httpmock.NewStringResponder(http.StatusForbidden, "denied"))

	_, err := client.ListRuns(context.Background(), testSession)
	require.Error(t, err)
	assert.True(t, IsSessionExpired(err))
}

func TestRawDownloads(t *testing.T) {
	client, transport := newTestClient(t)

	transport.RegisterResponder(http.MethodGet, testBaseURL+"/ej/client/download-run",
		httpmock.NewStringResponder(http.StatusOK, "int main() { return 0; }\n"))
	transport.RegisterResponder(http.MethodGet, testBaseURL+"/ej/client/run-test-json",
		func(req *http.Request) (*http.Response, error) {
			q := req.URL.Query()
			assert.Equal(t, "3", q.Get("num"))
			assert.Equal(t, "1", q.Get("index"))
			return httpmock.NewStringResponse(http.StatusOK, "42\n"), nil
		})

	src, err := client.RunSource(context.Background(), testSession, 5)
	require.NoError(t, err)
	assert.Equal(t, "int main() { return 0; }\n", string(src))

	out, err := client.RunTestData(context.Background(), testSession, 5, 3, common.TestOutput)
	require.NoError(t, err)
	assert.Equal(t, "42\n", string(out))
}

func TestZstdDownload(t *testing.T) {
	client, transport := newTestClient(t)

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	want := strings.Repeat("1 2 3\n", 1000)
	compressed := enc.EncodeAll([]byte(want), nil)
	require.NoError(t, enc.Close())

	transport.RegisterResponder(http.MethodGet, testBaseURL+"/ej/client/run-test-json",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "zstd", req.Header.Get("Accept-Encoding"))
			resp := httpmock.NewBytesResponse(http.StatusOK, compressed)
			resp.Header.Set("Content-Encoding", "zstd")
			return resp, nil
		})

	out, err := client.RunTestData(context.Background(), testSession, 5, 1, common.TestInput)
	require.NoError(t, err)
	assert.Equal(t, want, string(out))
}

func TestOversizedResponseFails(t *testing.T) {
	transport := httpmock.NewMockTransport()
	client, err := New(Options{
		BaseURL:         testBaseURL,
		HTTPClient:      &http.Client{Transport: transport},
		MaxResponseSize: 16,
	})
	require.NoError(t, err)

	body := "0123456789abcdef"
	transport.RegisterResponder(http.MethodGet, testBaseURL+"/ej/client/run-test-json",
		func(req *http.Request) (*http.Response, error) {
			return httpmock.NewStringResponse(http.StatusOK, body), nil
		})

	out, err := client.RunTestData(context.Background(), testSession, 5, 1, common.TestInput)
	require.NoError(t, err)
	assert.Equal(t, body, string(out), "a body of exactly the limit is accepted")

	body += "!"
	out, err = client.RunTestData(context.Background(), testSession, 5, 1, common.TestInput)
	require.ErrorIs(t, err, common.ErrResponseTooLarge)
	assert.Nil(t, out)
}

func TestSubmitRun(t *testing.T) {
	client, transport := newTestClient(t)

	transport.RegisterResponder(http.MethodPost, testBaseURL+"/ej/client/submit-run",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseMultipartForm(1<<20))
			assert.Equal(t, "sid-1", req.FormValue("SID"))
			assert.Equal(t, "3", req.FormValue("prob_id"))
			assert.Equal(t, "2", req.FormValue("lang_id"))

			f, hdr, err := req.FormFile("file")
			require.NoError(t, err)
			defer f.Close()
			data, err := io.ReadAll(f)
			require.NoError(t, err)
			assert.Equal(t, "sol.cpp", hdr.Filename)
			assert.Equal(t, "int main() {}", string(data))

			return httpmock.NewJsonResponse(http.StatusOK, okEnvelope(map[string]any{"run_id": 99}))
		})

	runID, err := client.SubmitRun(context.Background(), testSession, 3, 2, "sol.cpp", []byte("int main() {}"))
	require.NoError(t, err)
	assert.Equal(t, 99, runID)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestTransportError(t *testing.T) {
	client, _ := newTestClient(t)

	// No responder registered: the mock transport fails the request.
	_, err := client.ProblemStatus(context.Background(), testSession, 1)
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}
