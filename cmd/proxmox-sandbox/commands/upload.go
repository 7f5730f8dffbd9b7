package commands

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/cmd/proxmox-sandbox/handlers"
)

// Upload returns the upload command.
func Upload() *cobra.Command {
	var opts handlers.UploadOptions

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a VM template image or ISO to a host's storage",
		Long: `Upload streams a local file into the named instance's storage. If a
volume with the same name already exists the upload is skipped unless
--overwrite is given.

Example:
  proxmox-sandbox upload ubuntu-24.04.iso --instance pve-1 --storage local`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.LocalPath = args[0]
			if opts.Filename == "" {
				opts.Filename = filepath.Base(args[0])
			}
			return handlers.Upload(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.InstanceID, "instance", "", "Instance id to upload to (required)")
	cmd.Flags().StringVar(&opts.Storage, "storage", "local", "Target storage id")
	cmd.Flags().StringVar(&opts.ContentType, "content-type", "iso", "Storage content type (iso, import, vztmpl)")
	cmd.Flags().StringVar(&opts.Filename, "filename", "", "Remote filename (defaults to the local basename)")
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "Replace an existing volume with the same name")
	_ = cmd.MarkFlagRequired("instance")

	return cmd
}
