package semcache

import "sync"

// Adaptive threshold tuning. Once a tenant has enough observed requests,
// the effective semantic threshold drifts toward a usable hit ratio: a low
// ratio loosens the threshold so near-misses start hitting, a very high
// ratio tightens it to guard answer quality. The drift is bounded so a
// pathological workload can never push the threshold out of a sane band.
const (
	adaptiveMinRequests = 20
	adaptiveStep        = 0.01
	adaptiveLowRatio    = 0.55
	adaptiveHighRatio   = 0.85
	adaptiveFloor       = 0.70
	adaptiveCeil        = 0.92
)

type thresholdController struct {
	mu       sync.Mutex
	base     float64
	byTenant map[string]*tenantThreshold
}

type tenantThreshold struct {
	threshold float64
	requests  int64
	hits      int64
}

func newThresholdController(base float64) *thresholdController {
	if base < adaptiveFloor {
		base = adaptiveFloor
	}
	if base > adaptiveCeil {
		base = adaptiveCeil
	}
	return &thresholdController{
		base:     base,
		byTenant: make(map[string]*tenantThreshold),
	}
}

// threshold returns the tenant's current effective threshold.
func (c *thresholdController) threshold(tenantID string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.byTenant[tenantID]; ok {
		return t.threshold
	}
	return c.base
}

// observe records the outcome of one request and adjusts the tenant's
// threshold when enough history has accumulated.
func (c *thresholdController) observe(tenantID string, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.byTenant[tenantID]
	if !ok {
		t = &tenantThreshold{threshold: c.base}
		c.byTenant[tenantID] = t
	}
	t.requests++
	if hit {
		t.hits++
	}
	if t.requests < adaptiveMinRequests {
		return
	}

	ratio := float64(t.hits) / float64(t.requests)
	switch {
	case ratio < adaptiveLowRatio:
		t.threshold -= adaptiveStep
	case ratio > adaptiveHighRatio:
		t.threshold += adaptiveStep
	}
	if t.threshold < adaptiveFloor {
		t.threshold = adaptiveFloor
	}
	if t.threshold > adaptiveCeil {
		t.threshold = adaptiveCeil
	}
}
