package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"conductor/internal/domain"
)

// StaticSampler reports fixed usage figures. It is the default until a
// real system probe is plugged in.
type StaticSampler struct {
	Usage domain.ResourceUsage
}

// NewStaticSampler returns a sampler reporting memory 50, cpu 30, network 20.
func NewStaticSampler() *StaticSampler {
	return &StaticSampler{Usage: domain.ResourceUsage{"memory": 50, "cpu": 30, "network": 20}}
}

func (s *StaticSampler) Sample(context.Context) (domain.ResourceUsage, error) {
	out := make(domain.ResourceUsage, len(s.Usage))
	for k, v := range s.Usage {
		out[k] = v
	}
	return out, nil
}

// exceeded lists the metrics of usage above their limit, sorted by name.
// Metrics without a limit are ignored.
func exceeded(usage domain.ResourceUsage, limits map[string]float64) []string {
	var over []string
	for metric, limit := range limits {
		if v, ok := usage[metric]; ok && v > limit {
			over = append(over, metric)
		}
	}
	sort.Strings(over)
	return over
}

func (o *Orchestrator) checkResources(ctx context.Context) (domain.ResourceUsage, error) {
	usage, err := o.deps.Sampler.Sample(ctx)
	if err != nil {
		return nil, fmt.Errorf("sample resources: %w", err)
	}
	if over := exceeded(usage, o.cfg.ResourceLimits); len(over) > 0 {
		return usage, domain.NewDomainError("Orchestrator.checkResources",
			domain.ErrResourceLimit, strings.Join(over, ", "))
	}
	return usage, nil
}

var _ domain.ResourceSampler = (*StaticSampler)(nil)
