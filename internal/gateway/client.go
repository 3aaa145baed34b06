package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config describes the provider endpoint.
type Config struct {
	BaseURL  string
	PixKey   string
	Timeout  time.Duration
	PageSize int
}

// HTTPClient implements Client against a BACEN-style PIX API.
type HTTPClient struct {
	cfg    Config
	hc     *http.Client
	tokens TokenSource
	log    *zap.SugaredLogger
}

var _ Client = (*HTTPClient)(nil)

// NewClient wires the API client. Every call is bounded by cfg.Timeout.
func NewClient(cfg Config, hc *http.Client, tokens TokenSource, log *zap.SugaredLogger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPClient{cfg: cfg, hc: hc, tokens: tokens, log: log}
}

// wire types

type cobValue struct {
	Original            string `json:"original"`
	Pago                string `json:"pago,omitempty"`
	ModalidadeAlteracao int    `json:"modalidadeAlteracao"`
}

type cobCalendar struct {
	Criacao   string `json:"criacao,omitempty"`
	Expiracao int64  `json:"expiracao"`
}

type infoField struct {
	Nome  string `json:"nome"`
	Valor string `json:"valor"`
}

type cobRequest struct {
	Calendario         cobCalendar `json:"calendario"`
	Valor              cobValue    `json:"valor"`
	Chave              string      `json:"chave"`
	SolicitacaoPagador string      `json:"solicitacaoPagador,omitempty"`
	InfoAdicionais     []infoField `json:"infoAdicionais,omitempty"`
}

type cobResponse struct {
	TxID          string      `json:"txid"`
	Status        string      `json:"status"`
	Calendario    cobCalendar `json:"calendario"`
	Valor         cobValue    `json:"valor"`
	PixCopiaECola string      `json:"pixCopiaECola"`
	ImagemQrcode  string      `json:"imagemQrcode"`
	Location      string      `json:"location"`
	Pix           []pixEntry  `json:"pix"`
}

type pagador struct {
	Nome  string `json:"nome"`
	CPF   string `json:"cpf"`
	CNPJ  string `json:"cnpj"`
	Banco string `json:"banco"`
	Conta string `json:"conta"`
}

type pixEntry struct {
	EndToEndID    string          `json:"endToEndId"`
	TxID          string          `json:"txid"`
	Valor         decimal.Decimal `json:"valor"`
	Horario       string          `json:"horario"`
	Pagador       pagador         `json:"pagador"`
	CorrelationID string          `json:"correlationID"`
}

type pixListResponse struct {
	Parametros struct {
		Paginacao struct {
			PaginaAtual         int `json:"paginaAtual"`
			QuantidadeDePaginas int `json:"quantidadeDePaginas"`
		} `json:"paginacao"`
	} `json:"parametros"`
	Pix []pixEntry `json:"pix"`
}

type refundRequest struct {
	Valor  string `json:"valor"`
	Motivo string `json:"motivo,omitempty"`
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateCharge issues an immediate charge (cob).
func (c *HTTPClient) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	expiry := int64(req.Expiry / time.Second)
	if expiry <= 0 {
		expiry = 3600
	}
	body := cobRequest{
		Calendario:         cobCalendar{Expiracao: expiry},
		Valor:              cobValue{Original: req.Amount.StringFixed(2)},
		Chave:              c.cfg.PixKey,
		SolicitacaoPagador: req.Description,
		InfoAdicionais:     []infoField{{Nome: "correlationID", Valor: req.CorrelationID}},
	}
	var resp cobResponse
	if err := c.do(ctx, http.MethodPost, "/cob", nil, body, &resp); err != nil {
		return nil, err
	}

	created := time.Now()
	if t, ok := parseTime(resp.Calendario.Criacao); ok {
		created = t
	}
	if resp.Calendario.Expiracao > 0 {
		expiry = resp.Calendario.Expiracao
	}
	return &Charge{
		GatewayTxID: resp.TxID,
		QRCode:      resp.PixCopiaECola,
		QRCodeImage: resp.ImagemQrcode,
		PaymentLink: resp.Location,
		ExpiresAt:   created.Add(time.Duration(expiry) * time.Second),
	}, nil
}

// GetChargeStatus reads a charge and normalizes its status.
func (c *HTTPClient) GetChargeStatus(ctx context.Context, gatewayTxID string) (*ChargeStatus, error) {
	var resp cobResponse
	if err := c.do(ctx, http.MethodGet, "/cob/"+url.PathEscape(gatewayTxID), nil, nil, &resp); err != nil {
		return nil, err
	}
	out := &ChargeStatus{Status: mapStatus(resp.Status)}
	if resp.Valor.Pago != "" {
		if amt, err := decimal.NewFromString(resp.Valor.Pago); err == nil {
			out.PaidAmount = amt
		}
	}
	if len(resp.Pix) > 0 {
		p := resp.Pix[0]
		out.EndToEndID = p.EndToEndID
		out.Payer = p.Pagador.toPayer()
		if out.PaidAmount.IsZero() {
			out.PaidAmount = p.Valor
		}
		if t, ok := parseTime(p.Horario); ok {
			out.PaidAt = &t
		}
	}
	return out, nil
}

// RefundCharge requests a devolution of amount for the charge.
func (c *HTTPClient) RefundCharge(ctx context.Context, correlationID string, amount decimal.Decimal, reason string) (*Refund, error) {
	if reason == "" {
		reason = "Refund requested"
	}
	var resp refundResponse
	path := "/v2/pix/" + url.PathEscape(correlationID) + "/devolucao"
	if err := c.do(ctx, http.MethodPost, path, nil, refundRequest{Valor: amount.StringFixed(2), Motivo: reason}, &resp); err != nil {
		return nil, err
	}
	return &Refund{RefundID: resp.ID, Status: resp.Status}, nil
}

// ListReceivedPayments lists settled credits in [start, end]. Pages are zero based.
func (c *HTTPClient) ListReceivedPayments(ctx context.Context, start, end time.Time, page int) (*PaymentPage, error) {
	q := url.Values{}
	q.Set("inicio", start.UTC().Format(time.RFC3339))
	q.Set("fim", end.UTC().Format(time.RFC3339))
	q.Set("paginacao.paginaAtual", strconv.Itoa(page))
	q.Set("paginacao.itensPorPagina", strconv.Itoa(c.cfg.PageSize))

	var resp pixListResponse
	if err := c.do(ctx, http.MethodGet, "/pix", q, nil, &resp); err != nil {
		return nil, err
	}
	out := &PaymentPage{
		Page:       resp.Parametros.Paginacao.PaginaAtual,
		TotalPages: resp.Parametros.Paginacao.QuantidadeDePaginas,
		Payments:   make([]Payment, 0, len(resp.Pix)),
	}
	for _, p := range resp.Pix {
		out.Payments = append(out.Payments, p.toPayment())
	}
	return out, nil
}

// GetPaymentByEndToEndID loads one settled credit.
func (c *HTTPClient) GetPaymentByEndToEndID(ctx context.Context, e2eID string) (*Payment, error) {
	var resp pixEntry
	if err := c.do(ctx, http.MethodGet, "/pix/"+url.PathEscape(e2eID), nil, nil, &resp); err != nil {
		return nil, err
	}
	p := resp.toPayment()
	return &p, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	res, err := c.hc.Do(req)
	if err != nil {
		c.log.Warnw("gateway request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("gateway %s %s: %w", method, path, err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return err
	}
	c.log.Debugw("gateway response", "method", method, "path", path, "status", res.StatusCode, "took", time.Since(start))

	switch {
	case res.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case res.StatusCode >= 400:
		c.log.Warnw("gateway error response", "method", method, "path", path, "status", res.StatusCode, "body", string(raw))
		return &APIError{StatusCode: res.StatusCode, Body: string(raw)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("gateway %s %s: decode: %w", method, path, err)
	}
	return nil
}

func mapStatus(s string) Status {
	switch {
	case s == "CONCLUIDA":
		return StatusCompleted
	case strings.HasPrefix(s, "REMOVIDA"):
		return StatusCancelled
	default:
		return StatusPending
	}
}

func (p pagador) toPayer() Payer {
	taxID := p.CPF
	if taxID == "" {
		taxID = p.CNPJ
	}
	return Payer{Name: p.Nome, TaxID: taxID, Bank: p.Banco, Account: p.Conta}
}

func (p pixEntry) toPayment() Payment {
	ts, _ := parseTime(p.Horario)
	return Payment{
		GatewayTxID:   p.TxID,
		EndToEndID:    p.EndToEndID,
		CorrelationID: p.CorrelationID,
		Amount:        p.Valor,
		Timestamp:     ts,
		Payer:         p.Pagador.toPayer(),
	}
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsTimeout reports whether err came from a deadline rather than a provider answer.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
