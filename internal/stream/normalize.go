package stream

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"solana-signal-lab/internal/domain"
)

// Payload families recognized by Normalize.
const (
	SourcePumpPortal = "pumpportal"
	SourceLogs       = "solana-logs"
	SourceUnknown    = "unknown"
)

// PumpFunProgram is the pump.fun bonding-curve program ID.
const PumpFunProgram = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

// pumpTokenSupply is the fixed supply of every pump.fun token, in whole tokens.
var pumpTokenSupply = decimal.NewFromInt(1_000_000_000)

// Normalize classifies one inbound message. It never panics: malformed or
// unfamiliar input comes back as EventKindUnknown with the payload preserved.
func Normalize(payload []byte, receivedAt time.Time) (ev domain.RawEvent) {
	ev = domain.RawEvent{
		Mint:       domain.UnknownMint,
		Kind:       domain.EventKindUnknown,
		Source:     SourceUnknown,
		Payload:    append(json.RawMessage(nil), payload...),
		ReceivedAt: receivedAt.UnixMilli(),
	}
	defer func() {
		if r := recover(); r != nil {
			ev.Kind = domain.EventKindUnknown
		}
	}()

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return ev
	}

	if method, _ := obj["method"].(string); method == "logsNotification" {
		normalizeLogs(obj, &ev)
		return ev
	}
	if _, ok := obj["txType"]; ok {
		normalizePumpPortal(obj, &ev)
		return ev
	}
	if mint := stringField(obj, "mint"); mint != "" {
		ev.Mint = mint
	}
	return ev
}

func normalizePumpPortal(obj map[string]any, ev *domain.RawEvent) {
	ev.Source = SourcePumpPortal
	if mint := stringField(obj, "mint"); mint != "" {
		ev.Mint = mint
	}
	ev.Trader = stringField(obj, "traderPublicKey")
	ev.Signature = stringField(obj, "signature")

	switch strings.ToLower(stringField(obj, "txType")) {
	case "create":
		ev.Kind = domain.EventKindCreation
	case "buy", "sell":
		ev.Kind = domain.EventKindTrade
		ev.Side = strings.ToLower(stringField(obj, "txType"))
	case "migrate", "migration":
		ev.Kind = domain.EventKindMigration
	default:
		return
	}

	if ev.Mint == domain.UnknownMint {
		ev.Kind = domain.EventKindUnknown
		return
	}

	if d, ok := decimalField(obj, "solAmount"); ok {
		ev.SolAmount = floatPtr(d)
	}
	if mc, ok := marketCapSol(obj); ok {
		ev.MarketCapSol = floatPtr(mc)
	}
	ev.Name = optionalString(obj, "name")
	ev.Symbol = optionalString(obj, "symbol")
	ev.URI = optionalString(obj, "uri")
}

// marketCapSol prefers the reported figure and otherwise derives it from the
// virtual reserves of the bonding curve.
func marketCapSol(obj map[string]any) (decimal.Decimal, bool) {
	if mc, ok := decimalField(obj, "marketCapSol"); ok {
		return mc, true
	}
	vSol, okSol := decimalField(obj, "vSolInBondingCurve")
	vTok, okTok := decimalField(obj, "vTokensInBondingCurve")
	if !okSol || !okTok || !vTok.IsPositive() {
		return decimal.Decimal{}, false
	}
	return vSol.Div(vTok).Mul(pumpTokenSupply), true
}

// normalizeLogs classifies a logsNotification by the pump.fun instruction it carries.
func normalizeLogs(obj map[string]any, ev *domain.RawEvent) {
	ev.Source = SourceLogs

	params, _ := obj["params"].(map[string]any)
	result, _ := params["result"].(map[string]any)
	value, _ := result["value"].(map[string]any)
	if value == nil {
		return
	}
	ev.Signature = stringField(value, "signature")
	if value["err"] != nil {
		return
	}

	rawLogs, _ := value["logs"].([]any)
	logs := make([]string, 0, len(rawLogs))
	for _, l := range rawLogs {
		if s, ok := l.(string); ok {
			logs = append(logs, s)
		}
	}

	kind, side, mint := classifyPumpLogs(logs)
	if mint == "" {
		return
	}
	ev.Kind = kind
	ev.Side = side
	ev.Mint = mint
}

// classifyPumpLogs walks the logs inside pump.fun invocations and returns the
// first recognized instruction and the mint it names.
func classifyPumpLogs(logs []string) (kind domain.EventKind, side, mint string) {
	kind = domain.EventKindUnknown
	inPump := false
	for _, line := range logs {
		switch {
		case strings.Contains(line, "Program "+PumpFunProgram+" invoke"):
			inPump = true
			continue
		case strings.Contains(line, "Program "+PumpFunProgram+" success"),
			strings.Contains(line, "Program "+PumpFunProgram+" failed"):
			inPump = false
			continue
		}
		if !inPump {
			continue
		}

		if kind == domain.EventKindUnknown {
			switch {
			case strings.Contains(line, "Instruction: Create"):
				kind = domain.EventKindCreation
			case strings.Contains(line, "Instruction: Buy"):
				kind, side = domain.EventKindTrade, "buy"
			case strings.Contains(line, "Instruction: Sell"):
				kind, side = domain.EventKindTrade, "sell"
			case strings.Contains(line, "Instruction: Migrate"):
				kind = domain.EventKindMigration
			}
		}
		if mint == "" {
			if i := strings.Index(line, "mint="); i >= 0 {
				fields := strings.FieldsFunc(line[i+len("mint="):], func(r rune) bool {
					return r == ' ' || r == ',' || r == ';'
				})
				if len(fields) > 0 {
					mint = fields[0]
				}
			}
		}
	}
	if mint == "" {
		return domain.EventKindUnknown, "", ""
	}
	return kind, side, mint
}

func stringField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	}
	return ""
}

func optionalString(obj map[string]any, key string) *string {
	if s := stringField(obj, key); s != "" {
		return &s
	}
	return nil
}

// decimalField reads a numeric field sent either as a JSON number or a numeric string.
func decimalField(obj map[string]any, key string) (decimal.Decimal, bool) {
	var s string
	switch v := obj[key].(type) {
	case json.Number:
		s = v.String()
	case string:
		s = strings.TrimSpace(v)
	default:
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func floatPtr(d decimal.Decimal) *float64 {
	f, _ := d.Float64()
	return &f
}

// isControlMessage reports whether msg is a subscription acknowledgement or
// upstream notice rather than an event.
func isControlMessage(msg []byte) bool {
	var probe struct {
		Message *string         `json:"message"`
		Errors  json.RawMessage `json:"errors"`
		TxType  *string         `json:"txType"`
		Method  *string         `json:"method"`
		Result  json.RawMessage `json:"result"`
		ID      json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(msg, &probe); err != nil {
		return false
	}
	if probe.TxType != nil || probe.Method != nil {
		return false
	}
	if probe.Message != nil || len(probe.Errors) > 0 {
		return true
	}
	// JSON-RPC subscribe acknowledgement: {"jsonrpc":"2.0","result":123,"id":1}
	return len(probe.Result) > 0 && len(probe.ID) > 0
}
