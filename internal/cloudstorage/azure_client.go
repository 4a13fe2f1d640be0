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
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/scanrunner/internal/azureclient"
)

type azureClient struct {
	blobClient *azureclient.BlobClient
}

// UploadObject streams a local file into an Azure blob container.
func (c *azureClient) UploadObject(ctx context.Context, bucket, key, sourceFilename string) (err error) {
	file, err := os.Open(sourceFilename)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", sourceFilename, err)
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat source file: %w", err)
	}

	ctx, span := c.blobClient.Tracer.Start(ctx, "cloudstorage.azureUploadObject",
		trace.WithAttributes(
			attribute.String("container", bucket),
			attribute.String("key", key),
		),
	)
	defer span.End()
	defer func() { recordUpload(ctx, ProviderAzure, bucket, stat.Size(), err) }()

	_, err = c.blobClient.Client.UploadStream(ctx, bucket, key, file, &azblob.UploadStreamOptions{
		Metadata: map[string]*string{
			"writer": to.Ptr("scanrunner"),
		},
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr(ContentType(key)),
		},
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upload blob %s/%s: %w", bucket, key, err)
	}
	return nil
}
