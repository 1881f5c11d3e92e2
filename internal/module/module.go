package module

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/shii9/PassiveNio/internal/config"
	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/ratelimit"
	"github.com/shii9/PassiveNio/internal/source"
)

// Descriptor is the static identity of a module.
type Descriptor struct {
	ID          string
	Name        string
	Source      string
	Description string
	// RequiresKey marks modules that cannot run without a credential.
	RequiresKey bool
	// KeyEnv is the environment variable consulted when api_key is unset.
	KeyEnv string
	// Quota is the source's default request budget.
	Quota ratelimit.Quota
}

// Env is what a module receives for one run.
type Env struct {
	Config  config.ModuleConfig
	APIKey  string
	Limiter *ratelimit.Limiter
	Client  *source.Client
	Log     *logrus.Entry
}

// Module is one passive data source. Collect talks to the outside world;
// Analyze is pure and turns the payload into findings. Analyze should be
// cheap; it runs against the same deadline as Collect and is abandoned when
// that deadline passes.
type Module interface {
	Descriptor() Descriptor
	Collect(ctx context.Context, target core.Target, env Env) (core.RawResult, error)
	Analyze(raw core.RawResult) ([]core.Finding, error)
}

// HTTP returns the injected client, or a default one sharing the limiter.
func (e Env) HTTP() *source.Client {
	if e.Client != nil {
		return e.Client
	}
	return source.NewClient(0, e.Limiter, e.Log)
}

// Logger never returns nil.
func (e Env) Logger() *logrus.Entry {
	if e.Log != nil {
		return e.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
