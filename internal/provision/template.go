package provision

import (
	"context"
	"fmt"
)

// TemplateUpload describes a local image or ISO to make available on the
// host's storage.
type TemplateUpload struct {
	Storage     string
	ContentType string
	LocalPath   string
	Filename    string
	// Overwrite replaces an existing volume instead of skipping the upload.
	Overwrite bool
}

func (u TemplateUpload) volid() string {
	return fmt.Sprintf("%s:%s/%s", u.Storage, u.ContentType, u.Filename)
}

// EnsureTemplateFile uploads the file unless a volume with the same id is
// already present. Returns the volid either way.
func (o *Orchestrator) EnsureTemplateFile(ctx context.Context, up TemplateUpload) (string, error) {
	volid := up.volid()
	content, err := o.api.ListContent(ctx, o.host.Node, up.Storage, up.ContentType)
	if err != nil {
		return "", fmt.Errorf("listing storage %s: %w", up.Storage, err)
	}
	exists := false
	for _, item := range content {
		if item.VolID == volid {
			exists = true
			break
		}
	}
	if exists {
		if !up.Overwrite {
			o.log.V(1).Info("template already present", "volid", volid)
			return volid, nil
		}
		upid, err := o.api.DeleteContent(ctx, o.host.Node, up.Storage, volid)
		if err != nil {
			return "", fmt.Errorf("replacing %s: %w", volid, err)
		}
		if err := o.api.AwaitTask(ctx, o.host.Node, upid, o.timeouts.TaskWait); err != nil {
			return "", fmt.Errorf("replacing %s: %w", volid, err)
		}
	}

	upid, err := o.api.UploadFile(ctx, o.host.Node, up.Storage, up.ContentType, up.LocalPath, up.Filename)
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", up.Filename, err)
	}
	if err := o.api.AwaitTask(ctx, o.host.Node, upid, o.timeouts.TaskWait); err != nil {
		return "", fmt.Errorf("uploading %s: %w", up.Filename, err)
	}
	o.log.Info("template uploaded", "volid", volid)
	return volid, nil
}
