// Package awsx wraps the AWS SDK pieces the scanner needs: credential
// loading, identity verification, and the account authorization-details
// download.
package awsx

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/McLaouth/cloudsplaining/pkg/version"
)

// Client bundles the authenticated SDK clients behind one session.
type Client struct {
	Config aws.Config
	STS    *sts.Client
	IAM    *iam.Client
}

// NewClient loads credentials from the default chain. AWS_ENDPOINT_URL
// overrides the endpoint for local test stacks.
func NewClient(ctx context.Context, region, profile string) (*Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	// Tag requests so account owners can attribute scanner traffic.
	cfg.APIOptions = append(cfg.APIOptions, func(stack *middleware.Stack) error {
		return stack.Build.Add(middleware.BuildMiddlewareFunc("ScannerUserAgent", func(ctx context.Context, input middleware.BuildInput, next middleware.BuildHandler) (
			middleware.BuildOutput, middleware.Metadata, error,
		) {
			if req, ok := input.Request.(*smithyhttp.Request); ok {
				ua := req.Header.Get("User-Agent")
				req.Header.Set("User-Agent", fmt.Sprintf("%s %s/%s", ua, version.AppName, version.Current))
			}
			return next.HandleBuild(ctx, input)
		}), middleware.After)
	})

	return &Client{
		Config: cfg,
		STS:    sts.NewFromConfig(cfg),
		IAM:    iam.NewFromConfig(cfg),
	}, nil
}

// VerifyIdentity validates the session credentials and returns the account ID.
func (c *Client) VerifyIdentity(ctx context.Context) (string, error) {
	result, err := c.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity: %w", err)
	}
	return aws.ToString(result.Account), nil
}
