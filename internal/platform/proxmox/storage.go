package proxmox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
)

// ListContent returns storage content, optionally filtered by content type
// ("iso", "import", "vztmpl", ...). Empty contentType means everything.
func (c *RealClient) ListContent(ctx context.Context, node, storage, contentType string) ([]StorageContent, error) {
	path := fmt.Sprintf("/nodes/%s/storage/%s/content", url.PathEscape(node), url.PathEscape(storage))
	if contentType != "" {
		path += "?content=" + url.QueryEscape(contentType)
	}
	var content []StorageContent
	if err := c.getJSON(ctx, path, &content); err != nil {
		return nil, err
	}
	return content, nil
}

// UploadFile streams a local file into storage as the given content type and
// filename. Transient failures are not retried; a half-sent body is not
// safely repeatable. The session contract is the same as for the JSON
// transport: a stale ticket gets one fresh login and one repeat of the
// upload, with the source rewound. Returns the UPID of the server-side
// import task.
func (c *RealClient) UploadFile(ctx context.Context, node, storage, contentType, localPath, filename string) (UPID, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening upload source: %w", err)
	}
	defer f.Close()

	if ticket, _ := c.session(); ticket == "" {
		if err := c.login(ctx); err != nil {
			return "", err
		}
	}

	resp, respBody, err := c.uploadOnce(ctx, f, node, storage, contentType, filename)
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.log.V(1).Info("session rejected, re-authenticating", "upload", filename)
		if err := c.login(ctx); err != nil {
			return "", err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return "", fmt.Errorf("rewinding upload source: %w", err)
		}
		resp, respBody, err = c.uploadOnce(ctx, f, node, storage, contentType, filename)
		if err != nil {
			return "", err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return "", &AuthError{Status: resp.StatusCode, Message: bodyMessage(resp, respBody)}
		}
	}
	if err := responseError(resp, respBody); err != nil {
		return "", err
	}

	var parsed struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	return UPID(parsed.Data), nil
}

func (c *RealClient) uploadOnce(ctx context.Context, f *os.File, node, storage, contentType, filename string) (*http.Response, []byte, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			if err := mw.WriteField("content", contentType); err != nil {
				return err
			}
			part, err := mw.CreateFormFile("filename", filename)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, f); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	path := fmt.Sprintf("/nodes/%s/storage/%s/upload", url.PathEscape(node), url.PathEscape(storage))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		return nil, nil, fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req, http.MethodPost)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, &TransientError{Err: fmt.Errorf("uploading %s: %w", filename, err)}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &TransientError{Err: fmt.Errorf("reading upload response: %w", err)}
	}
	return resp, respBody, nil
}

// DeleteContent removes a volume from storage.
func (c *RealClient) DeleteContent(ctx context.Context, node, storage, volid string) (UPID, error) {
	path := fmt.Sprintf("/nodes/%s/storage/%s/content/%s",
		url.PathEscape(node), url.PathEscape(storage), url.PathEscape(volid))
	return c.doTask(ctx, http.MethodDelete, path, nil)
}
