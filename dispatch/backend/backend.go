package backend

// Descriptor identifies one inference backend.
//
// RoutingKey is the stable identity used by the balancer registry, the
// circuit breaker manager, and the health monitor. Name is for humans and
// logs only.
type Descriptor struct {
	// RoutingKey uniquely identifies the backend (e.g. "mlx_studio").
	RoutingKey string

	// Name is a human-readable label (e.g. "Mac Studio (MLX)").
	Name string

	// BaseURL is the root of the backend's HTTP API, without trailing slash.
	BaseURL string
}

// IsZero reports whether the descriptor is the zero value.
func (d Descriptor) IsZero() bool {
	return d.RoutingKey == "" && d.BaseURL == ""
}
