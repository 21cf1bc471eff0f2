package ipam

import (
	"context"
	"errors"
	"fmt"

	"github.com/jbweber/homelab/ipamd/internal/domain"
	"github.com/jbweber/homelab/ipamd/internal/repository"
	"gopkg.in/yaml.v3"
)

// SubnetPlan is the YAML document accepted by ImportSubnets:
//
//	subnets:
//	  - name: prod
//	    network: 10.0.1.0/24
//	    gateway: 10.0.1.1
//	    vlan_id: 100
//	    static_pools: ["10.0.1.10-10.0.1.20"]
type SubnetPlan struct {
	Subnets []PlannedSubnet `yaml:"subnets"`
}

// PlannedSubnet is one subnet of a SubnetPlan
type PlannedSubnet struct {
	Name        string   `yaml:"name"`
	Network     string   `yaml:"network"`
	VLANID      *int64   `yaml:"vlan_id,omitempty"`
	Gateway     string   `yaml:"gateway,omitempty"`
	Description string   `yaml:"description,omitempty"`
	StaticPools []string `yaml:"static_pools,omitempty"`
}

// ImportResult reports what happened to one planned subnet
type ImportResult struct {
	Name    string `json:"name"`
	ID      int64  `json:"id,omitempty"`
	Created bool   `json:"created"`
	Report  Report `json:"report"`
	Error   string `json:"error,omitempty"`
}

// ParseSubnetPlan decodes a YAML subnet plan
func ParseSubnetPlan(data []byte) (SubnetPlan, error) {
	var plan SubnetPlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return SubnetPlan{}, fmt.Errorf("%w: failed to parse subnet plan: %v", repository.ErrInvalidEntity, err)
	}
	return plan, nil
}

// ExportSubnetPlan renders the stored subnets as a YAML plan that ImportSubnets accepts
func (s *Service) ExportSubnetPlan(ctx context.Context) ([]byte, error) {
	subnets, err := s.ds.Subnets.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	plan := SubnetPlan{Subnets: make([]PlannedSubnet, 0, len(subnets))}
	for _, subnet := range subnets {
		plan.Subnets = append(plan.Subnets, PlannedSubnet{
			Name:        subnet.Name,
			Network:     subnet.Network,
			VLANID:      subnet.VLANID,
			Gateway:     subnet.Gateway,
			Description: subnet.Description,
			StaticPools: subnet.StaticPools,
		})
	}
	return yaml.Marshal(plan)
}

// ImportSubnets creates or updates, by name, every subnet of the plan. Each
// subnet is saved on its own; one bad entry does not stop the rest.
func (s *Service) ImportSubnets(ctx context.Context, plan SubnetPlan, actor Actor) ([]ImportResult, error) {
	results := make([]ImportResult, 0, len(plan.Subnets))
	for _, p := range plan.Subnets {
		result := ImportResult{Name: p.Name}
		subnet := domain.Subnet{
			Name:        p.Name,
			Network:     p.Network,
			VLANID:      p.VLANID,
			Gateway:     p.Gateway,
			Description: p.Description,
			StaticPools: p.StaticPools,
		}

		existing, err := s.ds.Subnets.FindByName(ctx, p.Name)
		switch {
		case err == nil:
			subnet.ID = existing.ID
		case errors.Is(err, repository.ErrNotFound):
			result.Created = true
		default:
			return results, err
		}

		saved, report, err := s.SaveSubnet(ctx, subnet, actor)
		if err != nil {
			result.Created = false
			result.Error = err.Error()
		} else {
			result.ID = saved.ID
			result.Report = report
		}
		results = append(results, result)
	}
	return results, nil
}
