package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"account-guardian-go/engine"
)

// EnforcementClient 调用券商风控 API 执行撤单/平仓。
// HTTPClient 可注入 httptest，默认不发起真实网络调用。
type EnforcementClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

type enforcementResp struct {
	Results []struct {
		Target string `json:"target"`
		Error  string `json:"error"`
	} `json:"results"`
}

// ClosePosition 平掉指定账户的单个合约仓位。
func (c *EnforcementClient) ClosePosition(accountID, symbol string) error {
	resp, err := c.do(http.MethodDelete,
		fmt.Sprintf("/v1/accounts/%s/positions/%s", url.PathEscape(accountID), url.PathEscape(symbol)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("close position status %d", resp.StatusCode)
	}
	return nil
}

// CloseAllPositions 平掉账户全部仓位，返回逐合约结果。
func (c *EnforcementClient) CloseAllPositions(accountID string) ([]engine.Result, error) {
	resp, err := c.do(http.MethodDelete,
		fmt.Sprintf("/v1/accounts/%s/positions", url.PathEscape(accountID)))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("close all status %d", resp.StatusCode)
	}
	return decodeResults(resp)
}

// CancelAllOrders 撤销账户全部挂单，返回逐订单结果。
func (c *EnforcementClient) CancelAllOrders(accountID string) ([]engine.Result, error) {
	resp, err := c.do(http.MethodDelete,
		fmt.Sprintf("/v1/accounts/%s/orders", url.PathEscape(accountID)))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("cancel all status %d", resp.StatusCode)
	}
	return decodeResults(resp)
}

func (c *EnforcementClient) do(method, path string) (*http.Response, error) {
	if c == nil || c.HTTPClient == nil {
		return nil, fmt.Errorf("http client not set")
	}
	req, err := http.NewRequest(method, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", c.APIKey)
	return c.HTTPClient.Do(req)
}

func decodeResults(resp *http.Response) ([]engine.Result, error) {
	var er enforcementResp
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, err
	}
	results := make([]engine.Result, 0, len(er.Results))
	for _, r := range er.Results {
		res := engine.Result{Target: r.Target}
		if r.Error != "" {
			res.Err = fmt.Errorf("%s", r.Error)
		}
		results = append(results, res)
	}
	return results, nil
}

// NewEnforcementHTTPClient 提供一个带超时的 http.Client。
func NewEnforcementHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
