// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cloudstorage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/scanrunner/internal/awsclient"
)

var (
	uploadCount  metric.Int64Counter
	uploadBytes  metric.Int64Counter
	uploadErrors metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/scanrunner/internal/cloudstorage")

	var err error
	uploadCount, err = meter.Int64Counter(
		"scanrunner.storage.upload.count",
		metric.WithDescription("Number of files written to storage targets"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.count counter: %w", err))
	}

	uploadBytes, err = meter.Int64Counter(
		"scanrunner.storage.upload.bytes",
		metric.WithDescription("Bytes written to storage targets"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.bytes counter: %w", err))
	}

	uploadErrors, err = meter.Int64Counter(
		"scanrunner.storage.upload.errors",
		metric.WithDescription("Number of failed writes to storage targets"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.errors counter: %w", err))
	}
}

func recordUpload(ctx context.Context, provider Provider, bucket string, size int64, err error) {
	attrs := metric.WithAttributes(
		attribute.String("provider", string(provider)),
		attribute.String("bucket", bucket),
	)
	if err != nil {
		uploadErrors.Add(ctx, 1, attrs)
		return
	}
	uploadCount.Add(ctx, 1, attrs)
	uploadBytes.Add(ctx, size, attrs)
}

type s3Client struct {
	awsS3Client *awsclient.S3Client
}

// UploadObject streams a local file to S3 with the multipart uploader.
func (c *s3Client) UploadObject(ctx context.Context, bucket, key, sourceFilename string) (err error) {
	file, err := os.Open(sourceFilename)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", sourceFilename, err)
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat source file: %w", err)
	}

	ctx, span := c.awsS3Client.Tracer.Start(ctx, "cloudstorage.s3UploadObject",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("key", key),
		),
	)
	defer span.End()
	defer func() { recordUpload(ctx, ProviderS3, bucket, stat.Size(), err) }()

	uploader := manager.NewUploader(c.awsS3Client.Client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(ContentType(key)),
		Metadata: map[string]string{
			"writer": "scanrunner",
		},
	})
	if err != nil {
		span.RecordError(err)
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			span.SetAttributes(attribute.String("aws.error_code", apiErr.ErrorCode()))
			return fmt.Errorf("failed to upload s3://%s/%s: %s: %w", bucket, key, apiErr.ErrorCode(), err)
		}
		return fmt.Errorf("failed to upload s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}
