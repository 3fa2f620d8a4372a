package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/splitmerge/internal/assembly"
	"github.com/local/splitmerge/internal/plan"
	"github.com/local/splitmerge/internal/preview"
)

func TestExecute(t *testing.T) {
	var got plan.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/split_merge/", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode([]string{"r1", "r2"})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second)
	ws := assembly.New(assembly.Doc("1", 1, 2), assembly.Separator(), assembly.Doc("2"))
	ids, err := c.Execute(context.Background(), plan.NewRequest(ws, plan.MetadataCopyFirst, false, true))
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, ids)
	assert.Equal(t, plan.ExecutionPlan{{{Document: "1", Pages: "1-2"}}, {{Document: "2"}}}, got.Plan)
	assert.Equal(t, plan.MetadataCopyFirst, got.Metadata)
	assert.True(t, got.Preview)
}

func TestExecuteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "group 0, document 9: document not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Execute(context.Background(), plan.Request{})
	var he *HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusBadRequest, he.StatusCode)
	assert.Equal(t, "group 0, document 9: document not found", he.Body)
}

func TestPreviewURLAndDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/split_merge/abc/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("%PDF"))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	assert.Equal(t, srv.URL+"/split_merge/abc/", c.PreviewURL("abc"))

	var buf bytes.Buffer
	require.NoError(t, c.Download(context.Background(), "abc", &buf))
	assert.Equal(t, "%PDF", buf.String())

	err := c.Download(context.Background(), "gone", &buf)
	var he *HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusNotFound, he.StatusCode)
}

func TestJobStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/split_merge/jobs/j1", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"success","attempt":1,"message":"published 1 outputs","outputs":["s3://b/x.pdf"]}`))
	}))
	defer srv.Close()

	st, err := New(srv.URL, time.Second).JobStatus(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, "success", st.Status)
	assert.Equal(t, []string{"s3://b/x.pdf"}, st.Outputs)
}

func TestClientDrivesPreviewController(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req plan.Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		ids := make([]string, len(req.Plan))
		for i := range ids {
			ids[i] = string(rune('a' + i))
		}
		_ = json.NewEncoder(w).Encode(ids)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	ws := assembly.New(assembly.Doc("1"), assembly.Separator(), assembly.Doc("2"))
	ctl := preview.New(ws, c, preview.Options{Delay: 10 * time.Millisecond, URL: c.PreviewURL})
	defer ctl.Close()

	ctl.Trigger()
	require.Eventually(t, func() bool { return len(ctl.State().Results) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{srv.URL + "/split_merge/a/", srv.URL + "/split_merge/b/"}, ctl.State().URLs)
}
