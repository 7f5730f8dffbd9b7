package proxmox

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// CreateVM creates a new QEMU guest from scratch.
func (c *RealClient) CreateVM(ctx context.Context, node string, opts VMCreateOpts) (UPID, error) {
	body := url.Values{}
	body.Set("vmid", strconv.Itoa(opts.VMID))
	if opts.Name != "" {
		body.Set("name", opts.Name)
	}
	if opts.MemoryMB > 0 {
		body.Set("memory", strconv.Itoa(opts.MemoryMB))
	}
	if opts.Cores > 0 {
		body.Set("cores", strconv.Itoa(opts.Cores))
	}
	if opts.Sockets > 0 {
		body.Set("sockets", strconv.Itoa(opts.Sockets))
	}
	if opts.OSType != "" {
		body.Set("ostype", opts.OSType)
	}
	if opts.Agent {
		body.Set("agent", "enabled=1")
	}
	if len(opts.Tags) > 0 {
		body.Set("tags", strings.Join(opts.Tags, ";"))
	}
	for i, nic := range opts.NICs {
		body.Set(fmt.Sprintf("net%d", i), nic)
	}
	for k, v := range opts.Extra {
		body.Set(k, v)
	}
	return c.doTask(ctx, http.MethodPost, c.qemuPath(node), body)
}

// CloneVM clones an existing guest or template into a new vmid.
func (c *RealClient) CloneVM(ctx context.Context, node string, opts CloneOpts) (UPID, error) {
	body := url.Values{}
	body.Set("newid", strconv.Itoa(opts.NewVMID))
	if opts.Name != "" {
		body.Set("name", opts.Name)
	}
	if opts.Full {
		body.Set("full", "1")
	}
	path := fmt.Sprintf("%s/%d/clone", c.qemuPath(node), opts.TemplateVMID)
	return c.doTask(ctx, http.MethodPost, path, body)
}

// SetVMConfig updates guest configuration parameters synchronously.
func (c *RealClient) SetVMConfig(ctx context.Context, node string, vmid int, params map[string]string) error {
	body := url.Values{}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		body.Set(k, params[k])
	}
	path := fmt.Sprintf("%s/%d/config", c.qemuPath(node), vmid)
	_, err := c.do(ctx, http.MethodPut, path, body)
	return err
}

// DeleteVM destroys a guest and its disks.
func (c *RealClient) DeleteVM(ctx context.Context, node string, vmid int) (UPID, error) {
	path := fmt.Sprintf("%s/%d?destroy-unreferenced-disks=1&purge=1", c.qemuPath(node), vmid)
	return c.doTask(ctx, http.MethodDelete, path, nil)
}

// StartVM powers on a guest.
func (c *RealClient) StartVM(ctx context.Context, node string, vmid int) (UPID, error) {
	path := fmt.Sprintf("%s/%d/status/start", c.qemuPath(node), vmid)
	return c.doTask(ctx, http.MethodPost, path, nil)
}

// StopVM hard-stops a guest.
func (c *RealClient) StopVM(ctx context.Context, node string, vmid int) (UPID, error) {
	path := fmt.Sprintf("%s/%d/status/stop", c.qemuPath(node), vmid)
	return c.doTask(ctx, http.MethodPost, path, nil)
}

// ListVMs returns all QEMU guests on the node, templates included.
func (c *RealClient) ListVMs(ctx context.Context, node string) ([]VM, error) {
	var vms []VM
	if err := c.getJSON(ctx, c.qemuPath(node), &vms); err != nil {
		return nil, err
	}
	return vms, nil
}

func (c *RealClient) qemuPath(node string) string {
	return "/nodes/" + url.PathEscape(node) + "/qemu"
}
