package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/openfroyo/hostgate/pkg/engine"
)

type fakeEC2 struct {
	describe *ec2.DescribeInstancesOutput
	err      error
	started  []string
	stopped  []string
}

func (f *fakeEC2) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.describe, nil
}

func (f *fakeEC2) StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.started = append(f.started, params.InstanceIds...)
	return &ec2.StartInstancesOutput{}, nil
}

func (f *fakeEC2) StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.stopped = append(f.stopped, params.InstanceIds...)
	return &ec2.StopInstancesOutput{}, nil
}

func TestEC2API_Describe(t *testing.T) {
	launched := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	fake := &fakeEC2{
		describe: &ec2.DescribeInstancesOutput{
			Reservations: []types.Reservation{{
				Instances: []types.Instance{{
					InstanceId: aws.String(testTarget),
					State:      &types.InstanceState{Name: types.InstanceStateNameStopped},
					LaunchTime: &launched,
				}},
			}},
		},
	}

	inst, err := NewEC2APIFromClient(fake).Describe(context.Background(), testTarget)
	if err != nil {
		t.Fatalf("describe failed: %v", err)
	}
	if inst.State != "stopped" {
		t.Errorf("expected stopped, got %s", inst.State)
	}
	if inst.LaunchTime == nil || !inst.LaunchTime.Equal(launched) {
		t.Errorf("unexpected launch time %v", inst.LaunchTime)
	}
}

func TestEC2API_DescribeEmpty(t *testing.T) {
	fake := &fakeEC2{describe: &ec2.DescribeInstancesOutput{}}

	_, err := NewEC2APIFromClient(fake).Describe(context.Background(), testTarget)
	if engine.CodeOf(err) != engine.ErrCodeResourceNotFound {
		t.Errorf("expected %s, got %v", engine.ErrCodeResourceNotFound, err)
	}
}

func TestEC2API_Commands(t *testing.T) {
	fake := &fakeEC2{}
	api := NewEC2APIFromClient(fake)

	if err := api.Start(context.Background(), testTarget); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := api.Stop(context.Background(), testTarget); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if len(fake.started) != 1 || fake.started[0] != testTarget {
		t.Errorf("unexpected start calls %v", fake.started)
	}
	if len(fake.stopped) != 1 || fake.stopped[0] != testTarget {
		t.Errorf("unexpected stop calls %v", fake.stopped)
	}
}

func TestClassifyEC2Error(t *testing.T) {
	tests := []struct {
		code      string
		wantCode  string
		wantClass engine.ErrorClass
	}{
		{"InvalidInstanceID.NotFound", engine.ErrCodeResourceNotFound, engine.ErrorClassPermanent},
		{"RequestLimitExceeded", engine.ErrCodeRateLimited, engine.ErrorClassThrottled},
		{"IncorrectInstanceState", engine.ErrCodeIncorrectState, engine.ErrorClassConflict},
		{"UnauthorizedOperation", engine.ErrCodeRemoteFailed, engine.ErrorClassPermanent},
		{"InternalError", engine.ErrCodeRemoteUnavailable, engine.ErrorClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := classifyEC2Error(&smithy.GenericAPIError{Code: tt.code, Message: "raw remote text"})
			if got := engine.CodeOf(err); got != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, got)
			}
			if got := engine.ClassOf(err); got != tt.wantClass {
				t.Errorf("expected class %s, got %s", tt.wantClass, got)
			}
		})
	}

	plain := errors.New("plain")
	if got := classifyEC2Error(plain); got != plain {
		t.Errorf("expected unrecognized errors to pass through, got %v", got)
	}
}
