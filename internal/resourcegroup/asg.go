package resourcegroup

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/clustermantle/poolctl/internal/resources"
)

// ASGKind is the registry kind name for the auto-scaling-group backend, and
// also the value sent as the drain queue's Sender attribute for hosts that
// belong to an ASG.
const ASGKind = "asg"

func init() {
	Register("asg", ASGKind, newASGResourceGroups)
}

// asgAPI is the slice of *autoscaling.Client the ASG backend calls; using an
// interface here (rather than the concrete client) lets tests supply a fake
// without standing up a real AWS account.
type asgAPI interface {
	DescribeAutoScalingGroups(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
	SetDesiredCapacity(ctx context.Context, params *autoscaling.SetDesiredCapacityInput, optFns ...func(*autoscaling.Options)) (*autoscaling.SetDesiredCapacityOutput, error)
	TerminateInstanceInAutoScalingGroup(ctx context.Context, params *autoscaling.TerminateInstanceInAutoScalingGroupInput, optFns ...func(*autoscaling.Options)) (*autoscaling.TerminateInstanceInAutoScalingGroupOutput, error)
}

// ASGResourceGroup is a ResourceGroup backed by a single AWS Auto Scaling
// Group. Its target capacity knob is the ASG's DesiredCapacity; each
// instance has unit weight (the planner's resources.Vector weighting is
// carried per-launch via the configured instance shape, not via ASG
// weighted capacity, since ASGs do not support multiple instance type
// weights the way spot fleets do).
type ASGResourceGroup struct {
	groupID      string
	cluster      string
	pool         string
	asgClient    asgAPI
	ec2Client    describeInstanceTypesAPI
	instanceType string
	zone         string
	minCapacity  resources.Vector
	maxCapacity  resources.Vector
	stale        bool

	cache asgCache
}

type asgCache struct {
	desiredCapacity int32
	runningCount    int32
	instances       []InstanceMetadata
	shape           resources.Vector
}

func newASGResourceGroups(ctx context.Context, cluster, pool string, cfg Config) (map[string]ResourceGroup, error) {
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("asg resource group: group_id is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("asg resource group %q: load aws config: %w", cfg.GroupID, err)
	}

	g := &ASGResourceGroup{
		groupID:      cfg.GroupID,
		cluster:      cluster,
		pool:         pool,
		asgClient:    autoscaling.NewFromConfig(awsCfg),
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

func (g *ASGResourceGroup) refresh(ctx context.Context) error {
	shape, err := instanceShape(ctx, g.ec2Client, g.instanceType)
	if err != nil {
		return &ResourceGroupError{GroupID: g.groupID, Op: "describe_instance_types", Err: err}
	}

	out, err := g.asgClient.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{g.groupID},
	})
	if err != nil {
		return &ResourceGroupError{GroupID: g.groupID, Op: "describe", Err: err}
	}
	if len(out.AutoScalingGroups) == 0 {
		return &ResourceGroupError{GroupID: g.groupID, Op: "describe", Err: fmt.Errorf("ASG %q not found", g.groupID)}
	}
	asg := out.AutoScalingGroups[0]

	instances := make([]InstanceMetadata, 0, len(asg.Instances))
	for _, inst := range asg.Instances {
		if inst.InstanceId == nil {
			continue
		}
		instances = append(instances, InstanceMetadata{
			InstanceID: *inst.InstanceId,
			GroupID:    g.groupID,
			Market:     Market{InstanceType: g.instanceType, Zone: awssdk.ToString(inst.AvailabilityZone)},
			IsStale:    g.stale,
			AWSState:   lifecycleStateToAWSState(inst.LifecycleState),
			Weight:     1,
		})
	}

	g.cache = asgCache{
		desiredCapacity: awssdk.ToInt32(asg.DesiredCapacity),
		runningCount:    int32(len(instances)),
		instances:       instances,
		shape:           shape,
	}
	return nil
}

func lifecycleStateToAWSState(state asgtypes.LifecycleState) string {
	switch state {
	case asgtypes.LifecycleStateInService:
		return "running"
	case asgtypes.LifecycleStateTerminating, asgtypes.LifecycleStateTerminatingWait, asgtypes.LifecycleStateTerminatingProceed, asgtypes.LifecycleStateTerminated:
		return "terminated"
	default:
		return "pending"
	}
}

func (g *ASGResourceGroup) ID() string                    { return g.groupID }
func (g *ASGResourceGroup) IsStale() bool                 { return g.stale }
func (g *ASGResourceGroup) MinCapacity() resources.Vector { return g.minCapacity }
func (g *ASGResourceGroup) MaxCapacity() resources.Vector { return g.maxCapacity }

// TargetCapacity, FulfilledCapacity and MarketCapacities are pure reads of
// the snapshot taken by the last refresh; they never call out to AWS, so the
// planner and pruner can read them freely inside their bounded algorithms.
func (g *ASGResourceGroup) TargetCapacity() resources.Vector {
	return g.cache.shape.Scale(float64(g.cache.desiredCapacity))
}

func (g *ASGResourceGroup) FulfilledCapacity() resources.Vector {
	return g.cache.shape.Scale(float64(g.cache.runningCount))
}

func (g *ASGResourceGroup) MarketCapacities() map[Market]resources.Vector {
	return map[Market]resources.Vector{
		{InstanceType: g.instanceType, Zone: g.zone}: g.cache.shape.Scale(float64(g.cache.runningCount)),
	}
}

// ScaleUpOptions returns a single candidate launch of this group's
// configured instance type, repeated by the planner until constraints stop
// it. It refreshes first so a stale cache never hands the planner a shape
// from before a config change.
func (g *ASGResourceGroup) ScaleUpOptions(ctx context.Context) ([]NodeMetadata, error) {
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

func (g *ASGResourceGroup) InstanceMetadatas(ctx context.Context, stateFilter map[string]bool) ([]InstanceMetadata, error) {
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

// ModifyTargetCapacity sets the ASG's DesiredCapacity to reflect the launches
// and terminations in actions, and terminates instances explicitly chosen
// for removal so the ASG does not pick the wrong ones.
func (g *ASGResourceGroup) ModifyTargetCapacity(ctx context.Context, actions ResourceGroupActions, dryRun bool) error {
	delta := len(actions.ToLaunch) - len(actions.ToTerminate)
	newDesired := g.cache.desiredCapacity + int32(delta)
	if newDesired < 0 {
		newDesired = 0
	}

	if dryRun {
		return nil
	}

	if _, err := g.asgClient.SetDesiredCapacity(ctx, &autoscaling.SetDesiredCapacityInput{
		AutoScalingGroupName: awssdk.String(g.groupID),
		DesiredCapacity:      awssdk.Int32(newDesired),
	}); err != nil {
		return &ResourceGroupError{GroupID: g.groupID, Op: "set_desired_capacity", Err: err}
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

func (g *ASGResourceGroup) TerminateInstancesByID(ctx context.Context, instanceIDs []string, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	for start := 0; start < len(instanceIDs); start += batchSize {
		end := start + batchSize
		if end > len(instanceIDs) {
			end = len(instanceIDs)
		}
		for _, id := range instanceIDs[start:end] {
			_, err := g.asgClient.TerminateInstanceInAutoScalingGroup(ctx, &autoscaling.TerminateInstanceInAutoScalingGroupInput{
				InstanceId:                     awssdk.String(id),
				ShouldDecrementDesiredCapacity: awssdk.Bool(true),
			})
			if err != nil {
				return &ResourceGroupError{GroupID: g.groupID, Op: "terminate_instance", Err: err}
			}
		}
	}
	return nil
}

// MarkStale marks the group for replacement. ASGs have no native "stale"
// flag, so this just flips the in-memory bit the planner reads; it is
// nonetheless "supported" because a subsequent modify_target_capacity will
// correctly drive it to zero.
func (g *ASGResourceGroup) MarkStale(ctx context.Context, dryRun bool) error {
	if !dryRun {
		g.stale = true
	}
	return nil
}

var _ ResourceGroup = (*ASGResourceGroup)(nil)
