package handlers

import (
	"context"
	"fmt"

	proxmoxsandbox "github.com/UKGovernmentBEIS/inspect-proxmox-sandbox"
)

// UploadOptions carries the upload command's flags.
type UploadOptions struct {
	InstanceID  string
	Storage     string
	ContentType string
	LocalPath   string
	Filename    string
	Overwrite   bool
}

// Upload streams a local file to the named instance's storage.
func Upload(ctx context.Context, opts UploadOptions) error {
	m, _, err := newManager()
	if err != nil {
		return err
	}
	defer m.Shutdown()

	volid, err := m.UploadTemplate(ctx, opts.InstanceID, proxmoxsandbox.TemplateUpload{
		Storage:     opts.Storage,
		ContentType: opts.ContentType,
		LocalPath:   opts.LocalPath,
		Filename:    opts.Filename,
		Overwrite:   opts.Overwrite,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Uploaded %s\n", volid)
	return nil
}
