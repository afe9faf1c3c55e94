package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrpl-token-sync/internal/domain"
	"xrpl-token-sync/internal/failover"
)

const (
	testPool   = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	testIssuer = "rpZNAnHcvr6TbaY7QJa9yrVfu6coDz9pPH"
)

// newNodeServer starts a websocket server that answers every command with
// handler(request). Returning nil sends nothing.
func newNodeServer(t *testing.T, handler func(req map[string]any) []any) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req map[string]any
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			for _, frame := range handler(req) {
				if err := conn.WriteJSON(frame); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func ammResponse(id any) map[string]any {
	return map[string]any{
		"id":     id,
		"type":   "response",
		"status": "success",
		"result": map[string]any{
			"amm": map[string]any{
				"account": testPool,
				"amount":  "2500000000",
				"amount2": map[string]any{
					"currency": "SOL",
					"issuer":   testIssuer,
					"value":    "1250.5",
				},
				"lp_token": map[string]any{
					"currency": "03930D02208264E2E40EC1B0C09E4DB96EE197B1",
					"issuer":   testPool,
					"value":    "55000",
				},
				"trading_fee": 500,
			},
			"ledger_index": 9000001,
			"validated":    true,
		},
	}
}

func TestNode_CallAMMInfo(t *testing.T) {
	var got map[string]any
	url := newNodeServer(t, func(req map[string]any) []any {
		got = req
		return []any{
			map[string]any{"type": "ledgerClosed", "ledger_index": 1}, // stream noise
			ammResponse(req["id"]),
		}
	})
	node, err := NewNode(url, nil)
	require.NoError(t, err)

	resp, err := node.Call(context.Background(), AMMInfoRequest(testPool))
	require.NoError(t, err)

	assert.Equal(t, CommandAMMInfo, got["command"])
	assert.Equal(t, testPool, got["amm_account"])
	assert.Equal(t, "validated", got["ledger_index"])

	info, err := DecodeAMMInfo(resp.Payload)
	require.NoError(t, err)
	assert.True(t, info.Amount.IsXRP())
	assert.Equal(t, "2500", info.Amount.Value.String())
	assert.Equal(t, 500, info.TradingFee)

	r, err := info.Reserves(domain.TokenKey{Issuer: testIssuer, Currency: "SOL"})
	require.NoError(t, err)
	assert.Equal(t, "2500", r.Base.String())
	assert.Equal(t, "1250.5", r.Quote.String())
}

func TestNode_ErrorFrameIsMalformed(t *testing.T) {
	url := newNodeServer(t, func(req map[string]any) []any {
		return []any{map[string]any{
			"id":            req["id"],
			"type":          "response",
			"status":        "error",
			"error":         "actNotFound",
			"error_message": "Account not found.",
		}}
	})
	node, err := NewNode(url, nil)
	require.NoError(t, err)

	_, err = node.Call(context.Background(), AMMInfoRequest(testPool))

	assert.ErrorIs(t, err, failover.ErrMalformedResponse)
	assert.Contains(t, err.Error(), "actNotFound")
}

func TestNode_MissingResultIsMalformed(t *testing.T) {
	url := newNodeServer(t, func(req map[string]any) []any {
		return []any{map[string]any{"id": req["id"], "type": "response", "status": "success"}}
	})
	node, err := NewNode(url, nil)
	require.NoError(t, err)

	_, err = node.Call(context.Background(), AMMInfoRequest(testPool))

	assert.ErrorIs(t, err, failover.ErrMalformedResponse)
}

func TestNode_TimeoutIsTransport(t *testing.T) {
	url := newNodeServer(t, func(map[string]any) []any { return nil })
	node, err := NewNode(url, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = node.Call(ctx, AMMInfoRequest(testPool))

	assert.ErrorIs(t, err, failover.ErrTransport)
}

func TestNode_DialFailureIsTransport(t *testing.T) {
	node, err := NewNode("ws://127.0.0.1:1", nil)
	require.NoError(t, err)

	_, err = node.Call(context.Background(), AMMInfoRequest(testPool))

	assert.ErrorIs(t, err, failover.ErrTransport)
}

func TestNewNode_RejectsHTTP(t *testing.T) {
	_, err := NewNode("http://example.com", nil)
	assert.Error(t, err)
}

func TestNodes_FailoverToHealthyNode(t *testing.T) {
	bad := newNodeServer(t, func(req map[string]any) []any {
		return []any{map[string]any{"id": req["id"], "error": "tooBusy"}}
	})
	good := newNodeServer(t, func(req map[string]any) []any {
		return []any{map[string]any{
			"id":     req["id"],
			"status": "success",
			"result": map[string]any{
				"account":     testIssuer,
				"obligations": map[string]any{"SOL": "99999.5"},
			},
		}}
	})
	n1, err := NewNode(bad, nil)
	require.NoError(t, err)
	n2, err := NewNode(good, nil)
	require.NoError(t, err)

	c := failover.NewClient(failover.Options{AttemptTimeout: time.Second})
	res, err := failover.Do(context.Background(), c, []failover.Endpoint{n1, n2},
		GatewayBalancesRequest(testIssuer), DecodeGatewayBalances)

	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, "99999.5", res.Value.Supply("SOL").String())
	assert.True(t, res.Value.Supply("USD").IsZero())
}

func TestParse(t *testing.T) {
	cases := []struct {
		name string
		in   string
		ok   bool
	}{
		{"success", `{"id":3,"result":{"account":"r"},"status":"success"}`, true},
		{"no result", `{"id":3,"status":"success"}`, false},
		{"null result", `{"id":3,"result":null}`, false},
		{"top-level error", `{"id":3,"error":"noNetwork"}`, false},
		{"error inside result", `{"id":3,"result":{"error":"actMalformed","status":"error"}}`, false},
		{"not json", `<html>`, false},
		{"array result", `{"id":3,"result":[1,2]}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Parse([]byte(tc.in))
			_, isOk := p.(ParsedOk)
			assert.Equal(t, tc.ok, isOk)
		})
	}

	p := Parse([]byte(`{"id":7,"result":{"a":1}}`))
	require.IsType(t, ParsedOk{}, p)
	assert.Equal(t, uint64(7), p.FrameID())
	assert.JSONEq(t, `{"a":1}`, string(p.(ParsedOk).Payload))
}

func TestAmount_Unmarshal(t *testing.T) {
	var xrp Amount
	require.NoError(t, json.Unmarshal([]byte(`"1"`), &xrp))
	assert.True(t, xrp.IsXRP())
	assert.Equal(t, "0.000001", xrp.Value.String())

	var iou Amount
	require.NoError(t, json.Unmarshal([]byte(`{"currency":"USD","issuer":"rX","value":"1.5e-3"}`), &iou))
	assert.False(t, iou.IsXRP())
	assert.Equal(t, "0.0015", iou.Value.String())

	var bad Amount
	assert.Error(t, json.Unmarshal([]byte(`"12abc"`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`{"value":"1"}`), &bad))

	out, err := json.Marshal(Amount{Currency: XRPCurrency, Value: xrp.Value})
	require.NoError(t, err)
	assert.Equal(t, `"1"`, string(out))
}

func TestAMMInfo_ReservesTokenNotInPool(t *testing.T) {
	info, err := DecodeAMMInfo(mustMarshal(t, ammResponse(1)["result"]))
	require.NoError(t, err)

	_, err = info.Reserves(domain.TokenKey{Issuer: testIssuer, Currency: "USD"})
	assert.ErrorIs(t, err, ErrTokenNotInPool)
}

func TestDecodeAMMInfo_MissingAMM(t *testing.T) {
	_, err := DecodeAMMInfo(json.RawMessage(`{"ledger_index":1}`))
	assert.Error(t, err)
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
