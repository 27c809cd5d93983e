package reqid

import (
	"github.com/google/uuid"
)

// NextRequestID generates a fresh correlation ID for a request that did not
// carry one. IDs are random UUIDs so they are unique across process restarts
// and across gateway replicas behind the same load balancer.
func NextRequestID() string {
	return uuid.New().String()
}
