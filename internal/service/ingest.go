package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/richardliu001/pix-acquirer/internal/gateway"
	"github.com/richardliu001/pix-acquirer/internal/model"
	"github.com/richardliu001/pix-acquirer/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ingest outcomes.
const (
	IngestCompleted        = "completed"
	IngestAlreadyCompleted = "already_completed"
	IngestNotFound         = "not_found"
	IngestRejected         = "rejected"
	IngestError            = "error"
)

// Notification is one settlement parsed out of a gateway webhook body.
type Notification struct {
	EndToEndID    string
	TxID          string
	CorrelationID string
	TransactionID string
	Amount        decimal.Decimal
	PaidAt        time.Time
	Payer         *model.Payer
}

type IngestResult struct {
	EndToEndID    string `json:"end_to_end_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Status        string `json:"status"`
}

// IngestService handles settlement notifications pushed by the gateway.
type IngestService struct {
	txs      *TransactionService
	resolver *resolver
	log      *zap.SugaredLogger
}

func NewIngestService(r repo.RepositoryInterface, gw gateway.Client, txs *TransactionService, logger *zap.SugaredLogger) *IngestService {
	return &IngestService{txs: txs, resolver: &resolver{repo: r, gw: gw, log: logger, now: time.Now}, log: logger}
}

// Handle parses body and settles every notification it can resolve. Only a body
// that is not JSON at all is an error; unknown transactions are reported per item.
func (s *IngestService) Handle(ctx context.Context, body []byte) ([]IngestResult, error) {
	notes, err := ParseNotifications(body)
	if err != nil {
		s.log.Warnw("unparseable gateway webhook", "error", err, "size", len(body))
		return nil, err
	}
	results := make([]IngestResult, 0, len(notes))
	for _, n := range notes {
		results = append(results, s.handleOne(ctx, n))
	}
	return results, nil
}

func (s *IngestService) handleOne(ctx context.Context, n Notification) IngestResult {
	res := IngestResult{EndToEndID: n.EndToEndID}
	h := &settlementHint{
		CorrelationID: firstNonEmpty(n.CorrelationID, n.TxID),
		TransactionID: firstNonEmpty(n.TransactionID, n.TxID),
		GatewayTxID:   n.TxID,
		EndToEndID:    n.EndToEndID,
		Amount:        n.Amount,
	}
	t, err := s.resolver.resolve(ctx, h, true)
	if err != nil {
		s.log.Errorw("settlement resolution failed", "end_to_end_id", n.EndToEndID, "txid", n.TxID, "error", err)
		res.Status = IngestError
		return res
	}
	if t == nil {
		s.log.Warnw("settlement for unknown transaction",
			"end_to_end_id", n.EndToEndID, "txid", n.TxID, "correlation_id", n.CorrelationID,
			"amount", h.Amount.StringFixed(2))
		res.Status = IngestNotFound
		return res
	}
	res.TransactionID = t.ID

	applied, _, err := s.txs.Complete(ctx, t.ID, Settlement{
		EndToEndID: n.EndToEndID, PaidAt: n.PaidAt, Amount: h.Amount, Payer: n.Payer, Source: "webhook",
	})
	switch {
	case err != nil:
		s.log.Warnw("settlement not applied", "transaction_id", t.ID, "end_to_end_id", n.EndToEndID, "error", err)
		res.Status = IngestRejected
	case applied:
		res.Status = IngestCompleted
	default:
		res.Status = IngestAlreadyCompleted
	}
	return res
}

// ParseNotifications accepts the BACEN batch layout {"pix":[...]}, an event
// envelope {"event":..., "data":{...}}, a bare array, or a single flat object.
func ParseNotifications(body []byte) ([]Notification, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	var raw interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: webhook body is not json", ErrInvalidInput)
	}

	var items []map[string]interface{}
	collect := func(v interface{}) {
		switch x := v.(type) {
		case map[string]interface{}:
			items = append(items, x)
		case []interface{}:
			for _, e := range x {
				if m, ok := e.(map[string]interface{}); ok {
					items = append(items, m)
				}
			}
		}
	}
	switch x := raw.(type) {
	case []interface{}:
		collect(x)
	case map[string]interface{}:
		switch {
		case x["pix"] != nil:
			collect(x["pix"])
		case x["data"] != nil:
			collect(x["data"])
		default:
			collect(x)
		}
	}

	out := make([]Notification, 0, len(items))
	for _, m := range items {
		n := Notification{
			EndToEndID:    str(m, "endToEndId", "endToEndID", "end_to_end_id", "e2eId", "e2eid"),
			TxID:          str(m, "txid", "txId", "tx_id"),
			CorrelationID: str(m, "correlationID", "correlationId", "correlation_id"),
			TransactionID: str(m, "transaction_id", "transactionId"),
			Amount:        amount(m, "valor", "amount", "value"),
		}
		if ts := str(m, "horario", "paid_at", "paidAt", "timestamp"); ts != "" {
			if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				n.PaidAt = t
			}
		}
		if p, ok := firstMap(m, "pagador", "payer"); ok {
			n.Payer = &model.Payer{
				Name:  str(p, "nome", "name"),
				TaxID: str(p, "cpf", "cnpj", "tax_id", "document"),
			}
		}
		if n.EndToEndID == "" && n.TxID == "" && n.CorrelationID == "" && n.TransactionID == "" && n.Amount.IsZero() {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func str(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func amount(m map[string]interface{}, keys ...string) decimal.Decimal {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if d, err := decimal.NewFromString(v); err == nil {
				return d
			}
		case json.Number:
			if d, err := decimal.NewFromString(v.String()); err == nil {
				return d
			}
		case map[string]interface{}:
			// {"valor": {"original": "10.00"}}
			if d := amount(v, "original", "pago"); !d.IsZero() {
				return d
			}
		}
	}
	return decimal.Zero
}

func firstMap(m map[string]interface{}, keys ...string) (map[string]interface{}, bool) {
	for _, k := range keys {
		if v, ok := m[k].(map[string]interface{}); ok {
			return v, true
		}
	}
	return nil, false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
