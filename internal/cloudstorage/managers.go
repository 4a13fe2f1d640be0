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
	"sync"

	"github.com/cardinalhq/scanrunner/internal/awsclient"
	"github.com/cardinalhq/scanrunner/internal/azureclient"
)

// S3Settings applies to every s3:// storage target.
type S3Settings struct {
	Region       string
	Endpoint     string
	RoleARN      string
	UsePathStyle bool
	InsecureTLS  bool
}

// CloudManagers creates clients for every supported provider. Cloud
// credentials are loaded on first use, so sites that only replicate to
// mounted paths never touch AWS or Azure configuration.
type CloudManagers struct {
	s3Settings S3Settings

	awsOnce sync.Once
	aws     *awsclient.Manager
	awsErr  error

	azureOnce sync.Once
	azure     *azureclient.Manager
	azureErr  error

	files ClientProvider
}

var _ ClientProvider = (*CloudManagers)(nil)

func NewCloudManagers(s3Settings S3Settings) *CloudManagers {
	return &CloudManagers{
		s3Settings: s3Settings,
		files:      NewFileClientProvider(),
	}
}

func (m *CloudManagers) NewClient(ctx context.Context, loc Location) (Client, error) {
	switch loc.Provider {
	case ProviderFile:
		return m.files.NewClient(ctx, loc)

	case ProviderS3:
		m.awsOnce.Do(func() {
			m.aws, m.awsErr = awsclient.NewManager(ctx)
		})
		if m.awsErr != nil {
			return nil, fmt.Errorf("failed to create AWS manager: %w", m.awsErr)
		}
		s3c, err := m.aws.GetS3(ctx, m.s3Options()...)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		return &s3Client{awsS3Client: s3c}, nil

	case ProviderAzure:
		m.azureOnce.Do(func() {
			m.azure, m.azureErr = azureclient.NewManager(ctx)
		})
		if m.azureErr != nil {
			return nil, fmt.Errorf("failed to create Azure manager: %w", m.azureErr)
		}
		bc, err := m.azure.GetBlob(ctx, azureclient.WithBlobStorageAccount(loc.Account))
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
		}
		return &azureClient{blobClient: bc}, nil

	default:
		return nil, fmt.Errorf("unsupported storage provider: %q", loc.Provider)
	}
}

func (m *CloudManagers) s3Options() []awsclient.S3Option {
	var opts []awsclient.S3Option
	if m.s3Settings.Region != "" {
		opts = append(opts, awsclient.WithRegion(m.s3Settings.Region))
	}
	if m.s3Settings.RoleARN != "" {
		opts = append(opts, awsclient.WithRole(m.s3Settings.RoleARN))
	}
	if m.s3Settings.Endpoint != "" {
		opts = append(opts, awsclient.WithEndpoint(m.s3Settings.Endpoint))
	}
	if m.s3Settings.UsePathStyle {
		opts = append(opts, awsclient.WithPathStyle())
	}
	if m.s3Settings.InsecureTLS {
		opts = append(opts, awsclient.WithInsecureTLS())
	}
	return opts
}
