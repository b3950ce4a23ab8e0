package external

import (
	"context"

	"go.uber.org/zap"

	"github.com/drfirst/go-rxworkflow/internal/domain/risk"
)

// PDMPClient fetches dispensing history through a registry gateway
type PDMPClient struct {
	c *jsonClient
}

// NewPDMPClient creates a PDMP gateway client
func NewPDMPClient(cfg ClientConfig, logger *zap.Logger) *PDMPClient {
	return &PDMPClient{c: newJSONClient("pdmp", cfg, logger)}
}

type historyResponse struct {
	Records []risk.Record `json:"records"`
}

// FetchHistory implements risk.Provider
func (p *PDMPClient) FetchHistory(ctx context.Context, q risk.Query) ([]risk.Record, error) {
	var resp historyResponse
	if err := p.c.post(ctx, "/v1/history", q, &resp, nil); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

var _ risk.Provider = (*PDMPClient)(nil)
