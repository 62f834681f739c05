package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cscannon/barter/internal/models"
)

// DataSource pulls balance snapshots and confirmed transfers from a remote
// node or indexer. The engine only consumes the results; it never talks to a
// chain directly.
type DataSource interface {
	FetchBalances(ctx context.Context, address string) ([]models.BalanceEntry, error)
	FetchTransfers(ctx context.Context, address string, fromBlock int64) ([]models.SettlementEvent, error)
}

// HTTPDataSource reads balances and transfers from an Alchemy-style indexer
// REST API, following pageKey pagination until exhausted.
type HTTPDataSource struct {
	BaseURL string
	APIKey  string
	Network string
	Chain   Blockchain

	Client *http.Client
}

// NewHTTPDataSource creates a datasource for one network endpoint.
func NewHTTPDataSource(baseURL, apiKey, network string, bc Blockchain) *HTTPDataSource {
	return &HTTPDataSource{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Network: network,
		Chain:   bc,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type ownedToken struct {
	Contract string `json:"contract"`
	TokenID  string `json:"tokenId"`
	Quantity int64  `json:"quantity"`
}

type balancePage struct {
	OwnedTokens []ownedToken `json:"ownedTokens"`
	PageKey     string       `json:"pageKey"`
}

type transferRecord struct {
	TxID        string `json:"txId"`
	From        string `json:"from"`
	To          string `json:"to"`
	Contract    string `json:"contract"`
	TokenID     string `json:"tokenId"`
	Quantity    int64  `json:"quantity"`
	Timestamp   int64  `json:"timestamp"`
	BlockHeight int64  `json:"blockHeight"`
}

type transferPage struct {
	Transfers []transferRecord `json:"transfers"`
	PageKey   string           `json:"pageKey"`
}

func (s *HTTPDataSource) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := fmt.Sprintf("%s/%s/v2/%s/%s?%s", s.BaseURL, s.Network, s.APIKey, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("datasource request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("datasource returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode datasource response: %w", err)
	}
	return nil
}

// FetchBalances returns the full holdings snapshot for an address.
func (s *HTTPDataSource) FetchBalances(ctx context.Context, address string) ([]models.BalanceEntry, error) {
	addr, err := s.Chain.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	var entries []models.BalanceEntry
	pageKey := ""
	for {
		params := url.Values{}
		params.Set("owner", addr)
		params.Set("withMetadata", "false")
		if pageKey != "" {
			params.Set("pageKey", pageKey)
		}

		var page balancePage
		if err := s.get(ctx, "getTokensForOwner", params, &page); err != nil {
			return nil, err
		}
		for _, tok := range page.OwnedTokens {
			entries = append(entries, models.BalanceEntry{
				Address:   addr,
				Contract:  tok.Contract,
				Specifier: tok.TokenID,
				Quantity:  tok.Quantity,
			})
		}
		if page.PageKey == "" {
			return entries, nil
		}
		pageKey = page.PageKey
	}
}

// FetchTransfers returns confirmed transfers touching an address at or after
// fromBlock, as settlement-event records already marked valid.
func (s *HTTPDataSource) FetchTransfers(ctx context.Context, address string, fromBlock int64) ([]models.SettlementEvent, error) {
	addr, err := s.Chain.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	var events []models.SettlementEvent
	pageKey := ""
	for {
		params := url.Values{}
		params.Set("address", addr)
		params.Set("fromBlock", fmt.Sprintf("%d", fromBlock))
		if pageKey != "" {
			params.Set("pageKey", pageKey)
		}

		var page transferPage
		if err := s.get(ctx, "getTransfers", params, &page); err != nil {
			return nil, err
		}
		for _, tr := range page.Transfers {
			from, err := s.Chain.NormalizeAddress(tr.From)
			if err != nil {
				return nil, err
			}
			to, err := s.Chain.NormalizeAddress(tr.To)
			if err != nil {
				return nil, err
			}
			events = append(events, models.SettlementEvent{
				TxID:        tr.TxID,
				Blockchain:  s.Chain.Name,
				Source:      from,
				Destination: to,
				Contract:    tr.Contract,
				Specifier:   tr.TokenID,
				Quantity:    tr.Quantity,
				Timestamp:   tr.Timestamp,
				BlockHeight: tr.BlockHeight,
				Valid:       true,
			})
		}
		if page.PageKey == "" {
			return events, nil
		}
		pageKey = page.PageKey
	}
}
