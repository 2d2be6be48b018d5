// internal/tracking/pixels.go
package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"nurture-engine/internal/common/config"
	"nurture-engine/internal/common/errors"
	"nurture-engine/internal/common/logger"
)

const pixelKeyPrefix = "pixel:"

// pixelBinding ties a pixel ID to the lead and message it was embedded in.
// Opened flips on the first hit so later hits don't re-record.
type pixelBinding struct {
	LeadID string `json:"leadId"`
	Ref    string `json:"ref"`
	Opened bool   `json:"opened"`
}

// PixelService issues and resolves open-tracking pixels. Bindings live in
// Redis under a TTL; an expired pixel just stops recording opens.
type PixelService struct {
	client  *redis.Client
	baseURL string
	ttl     time.Duration
	logger  logger.Logger
}

func NewPixelService(client *redis.Client, cfg *config.TrackingConfig, log logger.Logger) *PixelService {
	ttl := time.Duration(cfg.PixelTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 720 * time.Hour
	}
	return &PixelService{
		client:  client,
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		ttl:     ttl,
		logger:  log,
	}
}

// Issue stores a fresh binding and returns the public pixel URL for
// embedding. Satisfies the dispatcher's PixelSource.
func (s *PixelService) Issue(ctx context.Context, leadID, ref string) (string, error) {
	id := uuid.New().String()

	payload, err := json.Marshal(pixelBinding{LeadID: leadID, Ref: ref})
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, pixelKeyPrefix+id, payload, s.ttl).Err(); err != nil {
		return "", errors.NewExternalServiceError("redis", err)
	}

	return s.URL(id), nil
}

// URL builds the public tracking URL for a pixel ID.
func (s *PixelService) URL(id string) string {
	return fmt.Sprintf("%s/track/%s", s.baseURL, id)
}

// Open resolves a pixel hit. It returns the binding (nil when unknown or
// expired) and whether this hit is the first open. The binding keeps its
// remaining TTL when flipped.
func (s *PixelService) Open(ctx context.Context, pixelID string) (*pixelBinding, bool, error) {
	raw, err := s.client.Get(ctx, pixelKeyPrefix+pixelID).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.NewExternalServiceError("redis", err)
	}

	var binding pixelBinding
	if err := json.Unmarshal([]byte(raw), &binding); err != nil {
		return nil, false, err
	}
	if binding.Opened {
		return &binding, false, nil
	}

	binding.Opened = true
	payload, err := json.Marshal(binding)
	if err != nil {
		return &binding, false, err
	}
	if err := s.client.Set(ctx, pixelKeyPrefix+pixelID, payload, redis.KeepTTL).Err(); err != nil {
		s.logger.Warn("failed to persist pixel open flag", map[string]interface{}{
			"pixelId": pixelID,
			"error":   err.Error(),
		})
	}

	return &binding, true, nil
}
