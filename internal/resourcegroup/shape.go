package resourcegroup

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/clustermantle/poolctl/internal/resources"
)

// diskGiBPerInstance is used when an instance type reports no instance
// store; EBS-backed disk capacity is accounted for by the cluster connector,
// not the resource group, so the planner treats group-reported disk as zero
// in that common case.
const diskGiBPerInstance = 0

// describeInstanceTypesAPI is the slice of *ec2.Client that instanceShape
// needs; both backends depend on this narrow interface rather than the
// concrete client so tests can substitute a fake.
type describeInstanceTypesAPI interface {
	DescribeInstanceTypes(ctx context.Context, params *ec2.DescribeInstanceTypesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceTypesOutput, error)
}

// instanceShape resolves the weighted resource vector a single instance of
// instanceType contributes, by asking EC2 for its vCPU/memory/GPU counts.
// Both the ASG and spot-fleet-request backends share this helper since both
// ultimately launch EC2 instances.
func instanceShape(ctx context.Context, client describeInstanceTypesAPI, instanceType string) (resources.Vector, error) {
	out, err := client.DescribeInstanceTypes(ctx, &ec2.DescribeInstanceTypesInput{
		InstanceTypes: []ec2types.InstanceType{ec2types.InstanceType(instanceType)},
	})
	if err != nil {
		return resources.Vector{}, fmt.Errorf("describe instance type %q: %w", instanceType, err)
	}
	if len(out.InstanceTypes) == 0 {
		return resources.Vector{}, fmt.Errorf("instance type %q not found", instanceType)
	}
	info := out.InstanceTypes[0]

	var vcpus float64
	if info.VCpuInfo != nil && info.VCpuInfo.DefaultVCpus != nil {
		vcpus = float64(*info.VCpuInfo.DefaultVCpus)
	}
	var memMiB float64
	if info.MemoryInfo != nil && info.MemoryInfo.SizeInMiB != nil {
		memMiB = float64(*info.MemoryInfo.SizeInMiB)
	}
	var gpus float64
	if info.GpuInfo != nil {
		for _, g := range info.GpuInfo.Gpus {
			if g.Count != nil {
				gpus += float64(*g.Count)
			}
		}
	}

	return resources.Vector{
		CPUs: vcpus,
		Mem:  memMiB / 1024,
		Disk: diskGiBPerInstance,
		GPUs: gpus,
	}, nil
}
