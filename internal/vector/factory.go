package vector

import "fmt"

// Metric selects how vectors are compared.
type Metric string

const (
	// MetricL2 ranks by squared euclidean distance; Score is 1/(1+distance).
	MetricL2 Metric = "l2"
	// MetricInnerProduct ranks by inner product (cosine similarity for normalized vectors).
	MetricInnerProduct Metric = "ip"
)

// NewIndex creates an in-memory index with the given metric and dimensions.
// An empty metric defaults to l2.
func NewIndex(metric string, dimensions int) (Index, error) {
	switch Metric(metric) {
	case MetricL2, "":
		return NewMemoryIndex(dimensions, MetricL2)
	case MetricInnerProduct:
		return NewMemoryIndex(dimensions, MetricInnerProduct)
	default:
		return nil, fmt.Errorf("unknown metric: %s (supported: l2, ip)", metric)
	}
}
