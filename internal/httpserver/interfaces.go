package httpserver

import (
	"context"
	"time"

	"github.com/skillcoder/kubedeploy/internal/infra/appstate"
	"github.com/skillcoder/kubedeploy/internal/infra/pinger"
	"github.com/skillcoder/kubedeploy/internal/logic/compiler"
	"github.com/skillcoder/kubedeploy/internal/logic/status"
)

// appstater is an internal interface for application state management
type appstater interface {
	GetState() appstate.State
	IsHealthy() bool
	IsReady() bool
	GetStateSince() time.Time
	GetUptime() time.Duration
	GetStartTime() time.Time
	GetAllStats() map[string]*pinger.Statistics
}

type renderer interface {
	RenderQuery(ctx context.Context, service, instance string) (*compiler.Result, error)
}

type statusObserver interface {
	DeployStatusQuery(ctx context.Context, service, instance string) (*status.AppStatus, error)
	InstanceStatusQuery(ctx context.Context, service, instance string, tailLines int) (*status.InstanceStatus, error)
}

type notFound interface {
	error
	IsNotFound()
}

type invalidConfig interface {
	error
	IsInvalidConfig()
}

type upstreamUnavailable interface {
	error
	IsUpstreamUnavailable()
}
