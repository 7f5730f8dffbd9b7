package proxmox_test

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/platform/proxmox"
)

const uploadPattern = "POST /nodes/pve/storage/local/upload"

func writeUploadSource(t *testing.T, payload []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guest.iso")
	require.NoError(t, os.WriteFile(path, payload, 0o600))
	return path
}

// readUploadForm parses the multipart body and returns the content field,
// the remote filename and the file payload. Runs inside server handlers, so
// failures are reported with assert.
func readUploadForm(t *testing.T, r *http.Request) (content, filename string, payload []byte, ok bool) {
	if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
		return "", "", nil, false
	}
	files := r.MultipartForm.File["filename"]
	if !assert.Len(t, files, 1) {
		return "", "", nil, false
	}
	f, err := files[0].Open()
	if !assert.NoError(t, err) {
		return "", "", nil, false
	}
	defer f.Close()
	payload, err = io.ReadAll(f)
	if !assert.NoError(t, err) {
		return "", "", nil, false
	}
	return r.FormValue("content"), files[0].Filename, payload, true
}

func TestUploadFile_StreamsMultipart(t *testing.T) {
	t.Parallel()
	payload := []byte("not really an iso image")
	src := writeUploadSource(t, payload)
	srv := newAPIServer(t)

	var mu sync.Mutex
	var gotContent, gotFilename string
	var gotPayload []byte
	srv.mux.HandleFunc(uploadPattern, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, hasSessionCookie(r))
		assert.Equal(t, testCSRF, r.Header.Get("CSRFPreventionToken"))
		content, filename, body, ok := readUploadForm(t, r)
		if !ok {
			http.Error(w, "bad multipart", http.StatusBadRequest)
			return
		}
		mu.Lock()
		gotContent, gotFilename, gotPayload = content, filename, body
		mu.Unlock()
		writeData(w, "UPID:pve:0002:0:imgcopy:0:root@pam:")
	})

	client := newTestClient(t, srv)
	upid, err := client.UploadFile(context.Background(), "pve", "local", "iso", src, "guest.iso")
	require.NoError(t, err)
	assert.Equal(t, proxmox.UPID("UPID:pve:0002:0:imgcopy:0:root@pam:"), upid)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "iso", gotContent)
	assert.Equal(t, "guest.iso", gotFilename)
	assert.Equal(t, payload, gotPayload)
}

func TestUploadFile_RecoversExpiredSession(t *testing.T) {
	t.Parallel()
	payload := []byte("payload that must arrive whole on the repeat")
	src := writeUploadSource(t, payload)
	srv := newAPIServer(t)

	var uploads atomic.Int64
	var mu sync.Mutex
	var repeatPayload []byte
	srv.mux.HandleFunc(uploadPattern, func(w http.ResponseWriter, r *http.Request) {
		if uploads.Add(1) == 1 {
			http.Error(w, "invalid ticket", http.StatusUnauthorized)
			return
		}
		_, _, body, ok := readUploadForm(t, r)
		if !ok {
			http.Error(w, "bad multipart", http.StatusBadRequest)
			return
		}
		mu.Lock()
		repeatPayload = body
		mu.Unlock()
		writeData(w, "UPID:pve:0003:0:imgcopy:0:root@pam:")
	})

	client := newTestClient(t, srv)
	upid, err := client.UploadFile(context.Background(), "pve", "local", "iso", src, "guest.iso")
	require.NoError(t, err)
	assert.Equal(t, proxmox.UPID("UPID:pve:0003:0:imgcopy:0:root@pam:"), upid)

	assert.Equal(t, int64(2), uploads.Load(), "one rejected attempt, one repeat")
	assert.Equal(t, int64(2), srv.logins.Load(), "fresh login between the attempts")

	// The source was rewound, so the repeat carried the whole body.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, payload, repeatPayload)
}

func TestUploadFile_PersistentUnauthorized(t *testing.T) {
	t.Parallel()
	src := writeUploadSource(t, []byte("ignored"))
	srv := newAPIServer(t)

	var uploads atomic.Int64
	srv.mux.HandleFunc(uploadPattern, func(w http.ResponseWriter, r *http.Request) {
		uploads.Add(1)
		http.Error(w, "invalid ticket", http.StatusUnauthorized)
	})

	client := newTestClient(t, srv)
	_, err := client.UploadFile(context.Background(), "pve", "local", "iso", src, "guest.iso")
	require.Error(t, err)
	assert.True(t, proxmox.IsAuth(err), "got %v", err)
	assert.Equal(t, int64(2), uploads.Load(), "exactly one repeat before giving up")
}
