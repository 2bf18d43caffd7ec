package resourcegroup

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/clustermantle/poolctl/internal/resources"
)

// SFRKind is the registry kind name for the spot-fleet-request backend.
const SFRKind = "sfr"

func init() {
	Register("sfr", SFRKind, newSFRResourceGroups)
}

// sfrAPI is the slice of *ec2.Client the spot-fleet-request backend calls,
// beyond the shared describeInstanceTypesAPI used for shape resolution.
type sfrAPI interface {
	describeInstanceTypesAPI
	DescribeSpotFleetRequests(ctx context.Context, params *ec2.DescribeSpotFleetRequestsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSpotFleetRequestsOutput, error)
	DescribeSpotFleetInstances(ctx context.Context, params *ec2.DescribeSpotFleetInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSpotFleetInstancesOutput, error)
	ModifySpotFleetRequest(ctx context.Context, params *ec2.ModifySpotFleetRequestInput, optFns ...func(*ec2.Options)) (*ec2.ModifySpotFleetRequestOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// SFRResourceGroup is a ResourceGroup backed by a single AWS Spot Fleet
// Request. MarketCapacities groups the fleet's active instances by their
// reported instance type (in the configured zone) and counts each one at the
// configured instance type's shape.
type SFRResourceGroup struct {
	groupID      string
	ec2Client    sfrAPI
	instanceType string
	zone         string
	minCapacity  resources.Vector
	maxCapacity  resources.Vector
	stale        bool

	cache sfrCache
}

type sfrCache struct {
	targetCapacity int32
	instances      []InstanceMetadata
	shape          resources.Vector
}

func newSFRResourceGroups(ctx context.Context, cluster, pool string, cfg Config) (map[string]ResourceGroup, error) {
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("sfr resource group: group_id is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("sfr resource group %q: load aws config: %w", cfg.GroupID, err)
	}

	g := &SFRResourceGroup{
		groupID:      cfg.GroupID,
		ec2Client:    ec2.NewFromConfig(awsCfg),
		instanceType: cfg.InstanceType,
		zone:         cfg.Zone,
		minCapacity:  resources.Vector{CPUs: cfg.MinCapacity},
		maxCapacity:  resources.Vector{CPUs: cfg.MaxCapacity},
	}
	if err := g.refresh(ctx); err != nil {
		return nil, err
	}
	return map[string]ResourceGroup{g.groupID: g}, nil
}

func (g *SFRResourceGroup) refresh(ctx context.Context) error {
	shape, err := instanceShape(ctx, g.ec2Client, g.instanceType)
	if err != nil {
		return &ResourceGroupError{GroupID: g.groupID, Op: "describe_instance_types", Err: err}
	}

	reqOut, err := g.ec2Client.DescribeSpotFleetRequests(ctx, &ec2.DescribeSpotFleetRequestsInput{
		SpotFleetRequestIds: []string{g.groupID},
	})
	if err != nil {
		return &ResourceGroupError{GroupID: g.groupID, Op: "describe_spot_fleet_requests", Err: err}
	}
	if len(reqOut.SpotFleetRequestConfigs) == 0 {
		return &ResourceGroupError{GroupID: g.groupID, Op: "describe_spot_fleet_requests", Err: fmt.Errorf("SFR %q not found", g.groupID)}
	}
	target := int32(0)
	if cfg := reqOut.SpotFleetRequestConfigs[0].SpotFleetRequestConfig; cfg != nil && cfg.TargetCapacity != nil {
		target = *cfg.TargetCapacity
	}

	instOut, err := g.ec2Client.DescribeSpotFleetInstances(ctx, &ec2.DescribeSpotFleetInstancesInput{
		SpotFleetRequestId: awssdk.String(g.groupID),
	})
	if err != nil {
		return &ResourceGroupError{GroupID: g.groupID, Op: "describe_spot_fleet_instances", Err: err}
	}

	instances := make([]InstanceMetadata, 0, len(instOut.ActiveInstances))
	for _, inst := range instOut.ActiveInstances {
		if inst.InstanceId == nil {
			continue
		}
		instances = append(instances, InstanceMetadata{
			InstanceID: *inst.InstanceId,
			GroupID:    g.groupID,
			Market:     Market{InstanceType: awssdk.ToString(inst.InstanceType), Zone: g.zone},
			IsStale:    g.stale,
			AWSState:   "running",
			Weight:     1,
		})
	}

	g.cache = sfrCache{targetCapacity: target, instances: instances, shape: shape}
	return nil
}

func (g *SFRResourceGroup) ID() string                    { return g.groupID }
func (g *SFRResourceGroup) IsStale() bool                 { return g.stale }
func (g *SFRResourceGroup) MinCapacity() resources.Vector { return g.minCapacity }
func (g *SFRResourceGroup) MaxCapacity() resources.Vector { return g.maxCapacity }

// TargetCapacity, FulfilledCapacity and MarketCapacities are pure reads of
// the snapshot taken by the last refresh; they never call out to AWS.
func (g *SFRResourceGroup) TargetCapacity() resources.Vector {
	return g.cache.shape.Scale(float64(g.cache.targetCapacity))
}

func (g *SFRResourceGroup) FulfilledCapacity() resources.Vector {
	return g.cache.shape.Scale(float64(len(g.cache.instances)))
}

func (g *SFRResourceGroup) MarketCapacities() map[Market]resources.Vector {
	totals := make(map[Market]resources.Vector)
	for _, inst := range g.cache.instances {
		totals[inst.Market] = totals[inst.Market].Add(g.cache.shape)
	}
	return totals
}

func (g *SFRResourceGroup) ScaleUpOptions(ctx context.Context) ([]NodeMetadata, error) {
	if err := g.refresh(ctx); err != nil {
		return nil, err
	}
	return []NodeMetadata{{
		Instance: InstanceMetadata{
			GroupID: g.groupID,
			Market:  Market{InstanceType: g.instanceType, Zone: g.zone},
			Weight:  1,
		},
		Agent: AgentMetadata{TotalResources: g.cache.shape},
	}}, nil
}

func (g *SFRResourceGroup) InstanceMetadatas(ctx context.Context, stateFilter map[string]bool) ([]InstanceMetadata, error) {
	if err := g.refresh(ctx); err != nil {
		return nil, err
	}
	if stateFilter == nil {
		return g.cache.instances, nil
	}
	filtered := make([]InstanceMetadata, 0, len(g.cache.instances))
	for _, inst := range g.cache.instances {
		if stateFilter[inst.AWSState] {
			filtered = append(filtered, inst)
		}
	}
	return filtered, nil
}

// ModifyTargetCapacity adjusts the spot fleet's TargetCapacity by the net
// unit-weight delta of the plan and explicitly terminates chosen instances
// (ExcessCapacityTerminationPolicy would otherwise pick arbitrarily).
func (g *SFRResourceGroup) ModifyTargetCapacity(ctx context.Context, actions ResourceGroupActions, dryRun bool) error {
	delta := int32(len(actions.ToLaunch) - len(actions.ToTerminate))
	newTarget := g.cache.targetCapacity + delta
	if newTarget < 0 {
		newTarget = 0
	}

	if dryRun {
		return nil
	}

	_, err := g.ec2Client.ModifySpotFleetRequest(ctx, &ec2.ModifySpotFleetRequestInput{
		SpotFleetRequestId:              awssdk.String(g.groupID),
		TargetCapacity:                  awssdk.Int32(newTarget),
		ExcessCapacityTerminationPolicy: ec2types.ExcessCapacityTerminationPolicyNoTermination,
	})
	if err != nil {
		return &ResourceGroupError{GroupID: g.groupID, Op: "modify_spot_fleet_request", Err: err}
	}

	if len(actions.ToTerminate) > 0 {
		ids := make([]string, 0, len(actions.ToTerminate))
		for _, n := range actions.ToTerminate {
			ids = append(ids, n.Instance.InstanceID)
		}
		if err := g.TerminateInstancesByID(ctx, ids, 500); err != nil {
			return err
		}
	}
	return nil
}

func (g *SFRResourceGroup) TerminateInstancesByID(ctx context.Context, instanceIDs []string, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	for start := 0; start < len(instanceIDs); start += batchSize {
		end := start + batchSize
		if end > len(instanceIDs) {
			end = len(instanceIDs)
		}
		batch := instanceIDs[start:end]
		if _, err := g.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: batch}); err != nil {
			return &ResourceGroupError{GroupID: g.groupID, Op: "terminate_instances", Err: err}
		}
	}
	return nil
}

// MarkStale flips the local staleness bit for a spot fleet request (the
// fleet itself cannot be "paused" in place, so this is informational only)
// so the planner zeroes its target.
func (g *SFRResourceGroup) MarkStale(ctx context.Context, dryRun bool) error {
	if !dryRun {
		g.stale = true
	}
	return nil
}

var _ ResourceGroup = (*SFRResourceGroup)(nil)
