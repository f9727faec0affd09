package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/tendant/simple-files/pkg/simplefiles"
)

const healthTimeout = 3 * time.Second

// HealthResponse reports reachability of the record store and the blob store
type HealthResponse struct {
	Status           string `json:"status"`
	StoreConnection  string `json:"storeConnection"`
	BlobBucketStatus string `json:"blobBucketStatus"`
}

// HealthHandler returns 200 when both stores answer and 503 otherwise
func HealthHandler(service simplefiles.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		health := service.Health(ctx)

		resp := HealthResponse{
			Status:           "healthy",
			StoreConnection:  "connected",
			BlobBucketStatus: "initialized",
		}
		if health.RepositoryErr != nil {
			resp.StoreConnection = "disconnected"
		}
		if health.BlobStoreErr != nil {
			resp.BlobBucketStatus = "not initialized"
		}

		status := http.StatusOK
		if !health.Healthy() {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}

		render.Status(r, status)
		render.JSON(w, r, resp)
	}
}
