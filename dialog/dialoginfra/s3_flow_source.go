package dialoginfra

import (
	"context"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/convo/pkg/kernel"
	"github.com/Abraxas-365/craftable/errx"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client used to read flows.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3FlowSource lee flujos desde s3://<bucket>/<prefix>/<botID>/
type S3FlowSource struct {
	client S3API
	bucket string
	prefix string
}

var _ dialog.FlowSource = (*S3FlowSource)(nil)

func NewS3FlowSource(client S3API, bucket, prefix string) *S3FlowSource {
	return &S3FlowSource{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3FlowSource) botPrefix(botID kernel.BotID) string {
	if s.prefix == "" {
		return botID.String() + "/"
	}
	return path.Join(s.prefix, botID.String()) + "/"
}

func (s *S3FlowSource) LoadAll(ctx context.Context, botID kernel.BotID) ([]dialog.Flow, error) {
	if botID.IsEmpty() || strings.Contains(botID.String(), "/") {
		return nil, dialog.ErrInvalidEvent().WithDetail("bot_id", botID.String())
	}

	prefix := s.botPrefix(botID)
	keys, err := s.listKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}

	flows := make([]dialog.Flow, 0, len(keys))
	for _, key := range keys {
		rel := strings.TrimPrefix(key, prefix)
		if flowName(rel) == "" {
			continue
		}
		data, err := s.read(ctx, key)
		if err != nil {
			return nil, err
		}
		f, err := DecodeFlow(rel, data)
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}

	sort.Slice(flows, func(i, j int) bool { return flows[i].Name < flows[j].Name })
	return flows, nil
}

func (s *S3FlowSource) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, errx.Wrap(err, "failed to list flow objects", errx.TypeInternal).
				WithDetail("bucket", s.bucket).
				WithDetail("prefix", prefix)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			return keys, nil
		}
		token = out.NextContinuationToken
	}
}

func (s *S3FlowSource) read(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errx.Wrap(err, "failed to get flow object", errx.TypeInternal).
			WithDetail("bucket", s.bucket).
			WithDetail("key", key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errx.Wrap(err, "failed to read flow object", errx.TypeInternal).WithDetail("key", key)
	}
	return data, nil
}
