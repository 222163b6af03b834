package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/smithy-go"

	"github.com/openfroyo/hostgate/pkg/engine"
)

// EC2Client is the subset of the EC2 SDK client used by EC2API.
type EC2Client interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
}

// EC2API implements ControlAPI for a single EC2 instance.
type EC2API struct {
	client EC2Client
}

var _ ControlAPI = (*EC2API)(nil)

// NewEC2API loads credentials from the default AWS chain for region. SDK-level
// retries are disabled because the coordinator applies its own retry policy.
func NewEC2API(ctx context.Context, region string) (*EC2API, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return NewEC2APIFromClient(ec2.NewFromConfig(cfg)), nil
}

// NewEC2APIFromClient wraps an existing EC2 client.
func NewEC2APIFromClient(client EC2Client) *EC2API {
	return &EC2API{client: client}
}

// Describe returns the instance with the given ID.
func (a *EC2API) Describe(ctx context.Context, id string) (*Instance, error) {
	out, err := a.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		return nil, classifyEC2Error(err)
	}

	for _, reservation := range out.Reservations {
		for _, inst := range reservation.Instances {
			if aws.ToString(inst.InstanceId) != id {
				continue
			}
			result := &Instance{
				ID:         id,
				LaunchTime: inst.LaunchTime,
			}
			if inst.State != nil {
				result.State = string(inst.State.Name)
			}
			return result, nil
		}
	}

	return nil, notFound(id)
}

// Start issues StartInstances. Starting an instance that is already starting is
// accepted by EC2, so a retried dispatch has no extra effect.
func (a *EC2API) Start(ctx context.Context, id string) error {
	_, err := a.client.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		return classifyEC2Error(err)
	}
	return nil
}

// Stop issues StopInstances.
func (a *EC2API) Stop(ctx context.Context, id string) error {
	_, err := a.client.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		return classifyEC2Error(err)
	}
	return nil
}

// classifyEC2Error maps EC2 API error codes onto engine error classes. Errors it
// does not recognize are returned as-is for the generic classifier.
func classifyEC2Error(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.ErrorCode() {
	case "InvalidInstanceID.NotFound", "InvalidInstanceID.Malformed":
		return engine.NewPermanentError("resource not found", err).
			WithCode(engine.ErrCodeResourceNotFound)
	case "RequestLimitExceeded", "Throttling", "ThrottlingException":
		return engine.NewThrottledError("remote control API rate limited", err).
			WithCode(engine.ErrCodeRateLimited)
	case "IncorrectInstanceState", "IncorrectState":
		return engine.NewConflictError("remote refused the command in its current state", err).
			WithCode(engine.ErrCodeIncorrectState)
	case "UnauthorizedOperation", "AuthFailure":
		return engine.NewPermanentError("remote control API denied the request", err).
			WithCode(engine.ErrCodeRemoteFailed)
	case "InternalError", "InternalFailure", "ServiceUnavailable", "Unavailable":
		return engine.NewTransientError("remote control API unavailable", err).
			WithCode(engine.ErrCodeRemoteUnavailable)
	}

	return err
}
