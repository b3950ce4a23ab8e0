package external

import (
	"context"

	"go.uber.org/zap"

	"github.com/drfirst/go-rxworkflow/internal/domain/claims"
)

// SwitchClient submits claims to a switch that speaks JSON over HTTP.
// Rejections arrive as normal 200 responses; transport failures and non-2xx
// statuses are errors.
type SwitchClient struct {
	c *jsonClient
}

// NewSwitchClient creates a switch client
func NewSwitchClient(cfg ClientConfig, logger *zap.Logger) *SwitchClient {
	return &SwitchClient{c: newJSONClient("claims-switch", cfg, logger)}
}

// Adjudicate implements claims.Switch
func (s *SwitchClient) Adjudicate(ctx context.Context, req *claims.Request) (*claims.Response, error) {
	var resp claims.Response
	if err := s.c.post(ctx, "/v1/claims", req, &resp, map[string]string{"Idempotency-Key": req.ClaimID}); err != nil {
		return nil, err
	}
	return &resp, nil
}

var _ claims.Switch = (*SwitchClient)(nil)
