package proxmox

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// CreateZone stages a new simple zone.
func (c *RealClient) CreateZone(ctx context.Context, zone string) error {
	body := url.Values{}
	body.Set("type", "simple")
	body.Set("zone", zone)
	_, err := c.do(ctx, http.MethodPost, "/cluster/sdn/zones", body)
	return err
}

// DeleteZone stages removal of a zone. The zone must hold no vnets.
func (c *RealClient) DeleteZone(ctx context.Context, zone string) error {
	_, err := c.do(ctx, http.MethodDelete, "/cluster/sdn/zones/"+url.PathEscape(zone), nil)
	return err
}

// ListZones returns all SDN zones in the cluster.
func (c *RealClient) ListZones(ctx context.Context) ([]Zone, error) {
	var zones []Zone
	if err := c.getJSON(ctx, "/cluster/sdn/zones", &zones); err != nil {
		return nil, err
	}
	return zones, nil
}

// CreateVNet stages a new vnet inside a zone.
func (c *RealClient) CreateVNet(ctx context.Context, vnet, zone, alias string) error {
	body := url.Values{}
	body.Set("vnet", vnet)
	body.Set("zone", zone)
	if alias != "" {
		body.Set("alias", alias)
	}
	_, err := c.do(ctx, http.MethodPost, "/cluster/sdn/vnets", body)
	return err
}

// DeleteVNet stages removal of a vnet. The vnet must hold no subnets.
func (c *RealClient) DeleteVNet(ctx context.Context, vnet string) error {
	_, err := c.do(ctx, http.MethodDelete, "/cluster/sdn/vnets/"+url.PathEscape(vnet), nil)
	return err
}

// ListVNets returns all SDN vnets in the cluster.
func (c *RealClient) ListVNets(ctx context.Context) ([]VNet, error) {
	var vnets []VNet
	if err := c.getJSON(ctx, "/cluster/sdn/vnets", &vnets); err != nil {
		return nil, err
	}
	return vnets, nil
}

// CreateSubnet stages a new subnet on a vnet.
func (c *RealClient) CreateSubnet(ctx context.Context, vnet string, opts SubnetCreateOpts) error {
	body := url.Values{}
	body.Set("subnet", opts.CIDR)
	body.Set("type", "subnet")
	body.Set("vnet", vnet)
	if opts.Gateway != "" {
		body.Set("gateway", opts.Gateway)
	}
	if opts.SNAT {
		body.Set("snat", "1")
	}
	for _, r := range opts.DHCPRanges {
		body.Add("dhcp-range", r.wire())
	}
	path := fmt.Sprintf("/cluster/sdn/vnets/%s/subnets", url.PathEscape(vnet))
	_, err := c.do(ctx, http.MethodPost, path, body)
	return err
}

// DeleteSubnet stages removal of a subnet by its zone-qualified id.
func (c *RealClient) DeleteSubnet(ctx context.Context, vnet, subnetID string) error {
	path := fmt.Sprintf("/cluster/sdn/vnets/%s/subnets/%s", url.PathEscape(vnet), url.PathEscape(subnetID))
	_, err := c.do(ctx, http.MethodDelete, path, nil)
	return err
}

// ListSubnets returns the subnets attached to a vnet.
func (c *RealClient) ListSubnets(ctx context.Context, vnet string) ([]Subnet, error) {
	var subnets []Subnet
	path := fmt.Sprintf("/cluster/sdn/vnets/%s/subnets", url.PathEscape(vnet))
	if err := c.getJSON(ctx, path, &subnets); err != nil {
		return nil, err
	}
	return subnets, nil
}

// ApplySDN commits all staged SDN changes cluster-wide. Returns the UPID of
// the reload task.
func (c *RealClient) ApplySDN(ctx context.Context) (UPID, error) {
	return c.doTask(ctx, http.MethodPut, "/cluster/sdn", nil)
}
