package identity

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// AWSSource resolves tags and security groups for the instance the agent is
// running on, using the instance metadata service for self-identification
// and the EC2 API for the authoritative tag store.
type AWSSource struct {
	imds *imds.Client
	ec2  *ec2.Client

	mu       sync.Mutex
	tags     map[string]string
	tagsErr  error
	tagsOnce bool
}

// NewAWSSource builds a source from the default credential chain. The region
// is taken from the instance's own placement when not set in the
// environment.
func NewAWSSource(ctx context.Context, region string) (*AWSSource, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	imdsClient := imds.NewFromConfig(cfg)
	if cfg.Region == "" {
		out, err := imdsClient.GetRegion(ctx, &imds.GetRegionInput{})
		if err != nil {
			return nil, fmt.Errorf("failed to determine region from instance metadata: %w", err)
		}
		cfg.Region = out.Region
	}

	return &AWSSource{
		imds: imdsClient,
		ec2:  ec2.NewFromConfig(cfg),
	}, nil
}

// Tag implements Source. All instance tags are fetched once and cached for
// the lifetime of the source; identity is resolved a single time per run.
func (s *AWSSource) Tag(ctx context.Context, key string) (string, bool, error) {
	tags, err := s.allTags(ctx)
	if err != nil {
		return "", false, err
	}
	v, ok := tags[key]
	return v, ok, nil
}

// SecurityGroups implements Source via the instance metadata service.
func (s *AWSSource) SecurityGroups(ctx context.Context) ([]string, error) {
	out, err := s.imds.GetMetadata(ctx, &imds.GetMetadataInput{Path: "security-groups"})
	if err != nil {
		return nil, fmt.Errorf("failed to read security groups from instance metadata: %w", err)
	}
	defer out.Content.Close()

	raw, err := io.ReadAll(out.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to read security group list: %w", err)
	}

	var groups []string
	for _, line := range strings.Split(string(raw), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			groups = append(groups, line)
		}
	}
	return groups, nil
}

func (s *AWSSource) allTags(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tagsOnce {
		return s.tags, s.tagsErr
	}
	s.tagsOnce = true
	s.tags, s.tagsErr = s.fetchTags(ctx)
	return s.tags, s.tagsErr
}

func (s *AWSSource) fetchTags(ctx context.Context) (map[string]string, error) {
	idDoc, err := s.imds.GetInstanceIdentityDocument(ctx, &imds.GetInstanceIdentityDocumentInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to read instance identity document: %w", err)
	}

	out, err := s.ec2.DescribeTags(ctx, &ec2.DescribeTagsInput{
		Filters: []ec2types.Filter{{
			Name:   aws.String("resource-id"),
			Values: []string{idDoc.InstanceID},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe instance tags: %w", err)
	}

	tags := make(map[string]string, len(out.Tags))
	for _, t := range out.Tags {
		if t.Key != nil && t.Value != nil {
			tags[*t.Key] = *t.Value
		}
	}
	return tags, nil
}
