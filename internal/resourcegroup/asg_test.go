package resourcegroup

import (
	"context"
	"sync"
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/clustermantle/poolctl/internal/resources"
)

// fakeASGAPI implements asgAPI in memory for tests.
type fakeASGAPI struct {
	mu sync.Mutex

	groupName       string
	desiredCapacity int32
	instances       []asgtypes.Instance

	setDesiredCalls     []int32
	terminatedInstances []string
}

func (f *fakeASGAPI) DescribeAutoScalingGroups(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &autoscaling.DescribeAutoScalingGroupsOutput{
		AutoScalingGroups: []asgtypes.AutoScalingGroup{{
			AutoScalingGroupName: awssdk.String(f.groupName),
			DesiredCapacity:      awssdk.Int32(f.desiredCapacity),
			Instances:            f.instances,
		}},
	}, nil
}

func (f *fakeASGAPI) SetDesiredCapacity(ctx context.Context, params *autoscaling.SetDesiredCapacityInput, optFns ...func(*autoscaling.Options)) (*autoscaling.SetDesiredCapacityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.desiredCapacity = awssdk.ToInt32(params.DesiredCapacity)
	f.setDesiredCalls = append(f.setDesiredCalls, f.desiredCapacity)
	return &autoscaling.SetDesiredCapacityOutput{}, nil
}

func (f *fakeASGAPI) TerminateInstanceInAutoScalingGroup(ctx context.Context, params *autoscaling.TerminateInstanceInAutoScalingGroupInput, optFns ...func(*autoscaling.Options)) (*autoscaling.TerminateInstanceInAutoScalingGroupOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminatedInstances = append(f.terminatedInstances, awssdk.ToString(params.InstanceId))
	kept := f.instances[:0]
	for _, inst := range f.instances {
		if awssdk.ToString(inst.InstanceId) != awssdk.ToString(params.InstanceId) {
			kept = append(kept, inst)
		}
	}
	f.instances = kept
	return &autoscaling.TerminateInstanceInAutoScalingGroupOutput{}, nil
}

// fakeEC2ShapeAPI implements describeInstanceTypesAPI with a single shape.
type fakeEC2ShapeAPI struct {
	vcpus  int32
	memMiB int64
	gpus   int32
}

func (f *fakeEC2ShapeAPI) DescribeInstanceTypes(ctx context.Context, params *ec2.DescribeInstanceTypesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceTypesOutput, error) {
	info := ec2types.InstanceTypeInfo{
		VCpuInfo:   &ec2types.VCpuInfo{DefaultVCpus: awssdk.Int32(f.vcpus)},
		MemoryInfo: &ec2types.MemoryInfo{SizeInMiB: awssdk.Int64(f.memMiB)},
	}
	if f.gpus > 0 {
		info.GpuInfo = &ec2types.GpuInfo{Gpus: []ec2types.GpuDeviceInfo{{Count: awssdk.Int32(f.gpus)}}}
	}
	return &ec2.DescribeInstanceTypesOutput{InstanceTypes: []ec2types.InstanceTypeInfo{info}}, nil
}

func newTestASGResourceGroup(t *testing.T) (*ASGResourceGroup, *fakeASGAPI) {
	t.Helper()
	asgFake := &fakeASGAPI{
		groupName:       "test-asg",
		desiredCapacity: 2,
		instances: []asgtypes.Instance{
			{InstanceId: awssdk.String("i-1"), LifecycleState: asgtypes.LifecycleStateInService, AvailabilityZone: awssdk.String("us-east-1a")},
			{InstanceId: awssdk.String("i-2"), LifecycleState: asgtypes.LifecycleStateInService, AvailabilityZone: awssdk.String("us-east-1a")},
		},
	}
	g := &ASGResourceGroup{
		groupID:      "test-asg",
		asgClient:    asgFake,
		ec2Client:    &fakeEC2ShapeAPI{vcpus: 4, memMiB: 16384},
		instanceType: "m5.xlarge",
		zone:         "us-east-1a",
		minCapacity:  resources.Vector{CPUs: 0},
		maxCapacity:  resources.Vector{CPUs: 40},
	}
	if err := g.refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return g, asgFake
}

func TestASGResourceGroup_Accessors(t *testing.T) {
	g, _ := newTestASGResourceGroup(t)

	want := resources.Vector{CPUs: 8, Mem: 32}
	if got := g.TargetCapacity(); got != want {
		t.Errorf("TargetCapacity = %+v, want %+v", got, want)
	}
	if got := g.FulfilledCapacity(); got != want {
		t.Errorf("FulfilledCapacity = %+v, want %+v", got, want)
	}
	markets := g.MarketCapacities()
	if len(markets) != 1 {
		t.Fatalf("MarketCapacities: got %d entries, want 1", len(markets))
	}
}

func TestASGResourceGroup_InstanceMetadatas(t *testing.T) {
	g, _ := newTestASGResourceGroup(t)

	all, err := g.InstanceMetadatas(context.Background(), nil)
	if err != nil {
		t.Fatalf("InstanceMetadatas: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d instances, want 2", len(all))
	}

	running, err := g.InstanceMetadatas(context.Background(), map[string]bool{"running": true})
	if err != nil {
		t.Fatalf("InstanceMetadatas filtered: %v", err)
	}
	if len(running) != 2 {
		t.Errorf("got %d running instances, want 2", len(running))
	}

	none, err := g.InstanceMetadatas(context.Background(), map[string]bool{"terminated": true})
	if err != nil {
		t.Fatalf("InstanceMetadatas filtered: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("got %d terminated instances, want 0", len(none))
	}
}

func TestASGResourceGroup_ModifyTargetCapacity(t *testing.T) {
	g, fake := newTestASGResourceGroup(t)

	actions := ResourceGroupActions{
		ToLaunch: []NodeMetadata{{}},
		ToTerminate: []NodeMetadata{
			{Instance: InstanceMetadata{InstanceID: "i-1"}},
		},
	}
	if err := g.ModifyTargetCapacity(context.Background(), actions, false); err != nil {
		t.Fatalf("ModifyTargetCapacity: %v", err)
	}

	if len(fake.setDesiredCalls) != 1 || fake.setDesiredCalls[0] != 2 {
		t.Errorf("SetDesiredCapacity calls = %v, want a single call to 2", fake.setDesiredCalls)
	}
	if len(fake.terminatedInstances) != 1 || fake.terminatedInstances[0] != "i-1" {
		t.Errorf("terminated instances = %v, want [i-1]", fake.terminatedInstances)
	}
}

func TestASGResourceGroup_ModifyTargetCapacity_DryRun(t *testing.T) {
	g, fake := newTestASGResourceGroup(t)

	actions := ResourceGroupActions{ToTerminate: []NodeMetadata{{Instance: InstanceMetadata{InstanceID: "i-1"}}}}
	if err := g.ModifyTargetCapacity(context.Background(), actions, true); err != nil {
		t.Fatalf("ModifyTargetCapacity dry run: %v", err)
	}
	if len(fake.setDesiredCalls) != 0 {
		t.Errorf("dry run should not call SetDesiredCapacity, got %v", fake.setDesiredCalls)
	}
	if len(fake.terminatedInstances) != 0 {
		t.Errorf("dry run should not terminate instances, got %v", fake.terminatedInstances)
	}
}

func TestASGResourceGroup_MarkStale(t *testing.T) {
	g, _ := newTestASGResourceGroup(t)
	if g.IsStale() {
		t.Fatal("new group should not start stale")
	}
	if err := g.MarkStale(context.Background(), false); err != nil {
		t.Fatalf("MarkStale: %v", err)
	}
	if !g.IsStale() {
		t.Error("MarkStale should flip IsStale to true")
	}
}

func TestASGResourceGroup_ModifyTargetCapacity_NeverNegative(t *testing.T) {
	asgFake := &fakeASGAPI{groupName: "empty-asg", desiredCapacity: 1}
	g := &ASGResourceGroup{
		groupID:   "empty-asg",
		asgClient: asgFake,
		ec2Client: &fakeEC2ShapeAPI{vcpus: 2, memMiB: 4096},
	}
	if err := g.refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	actions := ResourceGroupActions{ToTerminate: make([]NodeMetadata, 5)}
	if err := g.ModifyTargetCapacity(context.Background(), actions, false); err != nil {
		t.Fatalf("ModifyTargetCapacity: %v", err)
	}
	if got := asgFake.setDesiredCalls[len(asgFake.setDesiredCalls)-1]; got != 0 {
		t.Errorf("desired capacity clamped to %d, want 0", got)
	}
}

var _ ResourceGroup = (*ASGResourceGroup)(nil)
