package api

import (
	"context"
	"net/http"
)

type healthResponse struct {
	Status string       `json:"status"`
	Mongo  string       `json:"mongo"`
	Redis  string       `json:"redis"`
	Stats  *healthStats `json:"stats,omitempty"`
}

type healthStats struct {
	Users    int64 `json:"users"`
	Channels int64 `json:"channels"`
	Blocks   int64 `json:"blocks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Mongo: "ok", Redis: "ok"}

	ctx := r.Context()

	if err := s.pingDependency(ctx, s.deps.Mongo); err != nil {
		resp.Mongo = "error"
		s.logger.WithField("event", "health_mongo_error").WithError(err).Warn("mongo ping failed during health check")
	}
	if err := s.pingDependency(ctx, s.deps.Redis); err != nil {
		resp.Redis = "error"
		s.logger.WithField("event", "health_redis_error").WithError(err).Warn("redis ping failed during health check")
	}

	if resp.Mongo != "ok" || resp.Redis != "ok" {
		resp.Status = "degraded"
	}

	// Counts are best-effort diagnostics; their failure does not degrade
	// health status.
	if s.deps.Stats != nil && resp.Mongo == "ok" {
		stats := &healthStats{}
		usersCount, usersErr := s.deps.Stats.CountUsers(ctx)
		channelsCount, channelsErr := s.deps.Stats.CountChannels(ctx)
		blocksCount, blocksErr := s.deps.Stats.CountBlocks(ctx)
		if usersErr == nil && channelsErr == nil && blocksErr == nil {
			stats.Users = usersCount
			stats.Channels = channelsCount
			stats.Blocks = blocksCount
			resp.Stats = stats
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) pingDependency(ctx context.Context, dep checker) error {
	if dep == nil {
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	return dep.Ping(pingCtx)
}
