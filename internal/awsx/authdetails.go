package awsx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/smithy-go"
)

// authorizationDetails accumulates paginated output into the same JSON shape
// the AWS CLI writes, so downloaded snapshots and CLI-produced files are
// interchangeable.
type authorizationDetails struct {
	Policies        []types.ManagedPolicyDetail `json:"Policies"`
	UserDetailList  []types.UserDetail          `json:"UserDetailList"`
	GroupDetailList []types.GroupDetail         `json:"GroupDetailList"`
	RoleDetailList  []types.RoleDetail          `json:"RoleDetailList"`
}

// DownloadAuthorizationDetails pages through GetAccountAuthorizationDetails
// and returns the merged snapshot as JSON. Only LocalManagedPolicy documents
// are requested; AWS-managed policy bodies are owned by AWS and identical in
// every account.
func (c *Client) DownloadAuthorizationDetails(ctx context.Context, includeAWSManaged bool) ([]byte, error) {
	input := &iam.GetAccountAuthorizationDetailsInput{}
	if !includeAWSManaged {
		input.Filter = []types.EntityType{
			types.EntityTypeUser,
			types.EntityTypeGroup,
			types.EntityTypeRole,
			types.EntityTypeLocalManagedPolicy,
		}
	}

	var details authorizationDetails
	paginator := iam.NewGetAccountAuthorizationDetailsPaginator(c.IAM, input)

	pages := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			var apiErr smithy.APIError
			if errors.As(err, &apiErr) && apiErr.ErrorCode() == "Throttling" {
				return nil, fmt.Errorf("authorization details download throttled after %d pages: %w", pages, err)
			}
			return nil, fmt.Errorf("get account authorization details: %w", err)
		}
		pages++

		details.Policies = append(details.Policies, page.Policies...)
		details.UserDetailList = append(details.UserDetailList, page.UserDetailList...)
		details.GroupDetailList = append(details.GroupDetailList, page.GroupDetailList...)
		details.RoleDetailList = append(details.RoleDetailList, page.RoleDetailList...)
	}

	slog.Debug("authorization details downloaded",
		"pages", pages,
		"policies", len(details.Policies),
		"users", len(details.UserDetailList),
		"groups", len(details.GroupDetailList),
		"roles", len(details.RoleDetailList),
	)

	return json.MarshalIndent(details, "", "  ")
}
