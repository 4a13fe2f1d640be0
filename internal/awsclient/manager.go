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

package awsclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Manager holds the process-wide AWS configuration used to build S3 clients
// for s3:// storage targets.
type Manager struct {
	sync.RWMutex
	baseCfg     aws.Config
	stsClient   *sts.Client
	sessionName string
	providers   map[roleKey]aws.CredentialsProvider
	tracer      trace.Tracer
}

type roleKey struct {
	Region  string
	RoleARN string
}

// NewManager loads the default AWS credential chain and instruments every
// SDK call with OpenTelemetry.
func NewManager(ctx context.Context, optFns ...func(*config.LoadOptions) error) (*Manager, error) {
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	otelaws.AppendMiddlewares(&cfg.APIOptions)

	return &Manager{
		baseCfg:     cfg,
		stsClient:   sts.NewFromConfig(cfg),
		sessionName: "scanrunner",
		providers:   make(map[roleKey]aws.CredentialsProvider),
		tracer:      otel.Tracer("github.com/cardinalhq/scanrunner/internal/awsclient"),
	}, nil
}

func (m *Manager) Region() string {
	return m.baseCfg.Region
}
