package netgsm

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	obsmetrics "github.com/smallbiznis/relaya/internal/observability/metrics"
	providerdomain "github.com/smallbiznis/relaya/internal/provider/domain"
	"go.uber.org/zap"
)

const (
	sendPath    = "/sms/send/get"
	bulkPath    = "/sms/send/xml"
	reportPath  = "/sms/report"
	balancePath = "/balance/list/get"

	defaultTimeout = 30 * time.Second
)

// gatewayErrors maps the gateway's two-digit result codes into the shared
// taxonomy. Anything unlisted is treated as API_ERROR.
var gatewayErrors = map[string]providerdomain.ErrorCode{
	"20": providerdomain.ErrorCodeMessageTooLong,
	"30": providerdomain.ErrorCodeInvalidCredentials,
	"40": providerdomain.ErrorCodeInvalidHeader,
	"50": providerdomain.ErrorCodeNotAccepted,
	"60": providerdomain.ErrorCodeGatewayBalance,
	"70": providerdomain.ErrorCodeInvalidParameters,
	"80": providerdomain.ErrorCodeNotAccepted,
}

// reportStatuses maps the delivery-report endpoint's numeric codes into
// delivery statuses.
var reportStatuses = map[string]providerdomain.DeliveryStatus{
	"0":  providerdomain.DeliveryStatusPending,
	"1":  providerdomain.DeliveryStatusDelivered,
	"2":  providerdomain.DeliveryStatusFailed,
	"3":  providerdomain.DeliveryStatusRejected,
	"4":  providerdomain.DeliveryStatusSent,
	"12": providerdomain.DeliveryStatusFailed,
	"13": providerdomain.DeliveryStatusRejected,
}

type Config struct {
	BaseURL  string
	UserCode string
	Password string
	// Header is the registered sender id (msgheader).
	Header   string
	Language string
}

type Provider struct {
	cfg        Config
	httpClient *http.Client
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
}

func New(cfg Config, log *zap.Logger, obsMetrics *obsmetrics.Metrics) *Provider {
	if cfg.Language == "" {
		cfg.Language = "TR"
	}
	return &Provider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        log.Named("provider.netgsm"),
		obsMetrics: obsMetrics,
	}
}

func (p *Provider) Name() string { return "netgsm" }

func (p *Provider) Send(ctx context.Context, req providerdomain.SendRequest) (*providerdomain.SendResult, error) {
	if req.Recipient == "" || req.Body == "" {
		return nil, providerdomain.ErrInvalidRequest
	}

	header := req.SenderID
	if header == "" {
		header = p.cfg.Header
	}
	q := url.Values{}
	q.Set("usercode", p.cfg.UserCode)
	q.Set("password", p.cfg.Password)
	q.Set("gsmno", providerdomain.NormalizePhone(req.Recipient))
	q.Set("message", req.Body)
	q.Set("msgheader", header)
	q.Set("dil", p.cfg.Language)

	body, err := p.get(ctx, sendPath, q)
	if err != nil {
		return p.networkFailure(ctx, err), nil
	}

	raw := strings.TrimSpace(body)
	if code, ok := p.classify(raw); ok {
		p.recordError(ctx, code)
		return &providerdomain.SendResult{
			Status:       providerdomain.DeliveryStatusFailed,
			ErrorCode:    code,
			ErrorMessage: fmt.Sprintf("gateway result code %s", raw),
			RawResponse:  raw,
		}, nil
	}

	return &providerdomain.SendResult{
		Success:           true,
		ProviderMessageID: raw,
		Status:            providerdomain.DeliveryStatusSent,
		CreditsUsed:       int64(providerdomain.CalculateCredits(req.Body)),
		RawResponse:       raw,
	}, nil
}

// bulk XML schema expected by the gateway.
type mainBody struct {
	XMLName xml.Name   `xml:"mainbody"`
	Header  bulkHeader `xml:"header"`
	Body    bulkBody   `xml:"body"`
}

type bulkHeader struct {
	UserCode  string `xml:"usercode"`
	Password  string `xml:"password"`
	MsgHeader string `xml:"msgheader"`
	Language  string `xml:"dil"`
}

type bulkBody struct {
	Msg cdata    `xml:"msg"`
	No  []string `xml:"no"`
}

type cdata struct {
	Value string `xml:",cdata"`
}

func (p *Provider) SendBulk(ctx context.Context, req providerdomain.BulkRequest) (*providerdomain.BulkResult, error) {
	if len(req.Recipients) == 0 || req.Body == "" {
		return nil, providerdomain.ErrInvalidRequest
	}

	segs := int64(providerdomain.CalculateCredits(req.Body))
	header := req.SenderID
	if header == "" {
		header = p.cfg.Header
	}

	// Recipients that fail phone validation never reach the gateway and
	// never cost credits.
	out := &providerdomain.BulkResult{Results: make([]providerdomain.RecipientResult, 0, len(req.Recipients))}
	valid := make([]string, 0, len(req.Recipients))
	validIdx := make([]int, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		if !providerdomain.ValidatePhone(r) {
			out.Results = append(out.Results, providerdomain.RecipientResult{
				Recipient: r,
				Result: providerdomain.SendResult{
					Status:       providerdomain.DeliveryStatusFailed,
					ErrorCode:    providerdomain.ErrorCodeInvalidRecipient,
					ErrorMessage: "recipient failed phone validation",
				},
			})
			continue
		}
		validIdx = append(validIdx, len(out.Results))
		out.Results = append(out.Results, providerdomain.RecipientResult{Recipient: r})
		valid = append(valid, providerdomain.NormalizePhone(r))
	}
	if len(valid) == 0 {
		return out, nil
	}

	payload, err := xml.Marshal(mainBody{
		Header: bulkHeader{
			UserCode:  p.cfg.UserCode,
			Password:  p.cfg.Password,
			MsgHeader: header,
			Language:  p.cfg.Language,
		},
		Body: bulkBody{
			Msg: cdata{Value: req.Body},
			No:  valid,
		},
	})
	if err != nil {
		return nil, err
	}

	raw, err := p.post(ctx, bulkPath, "application/xml", payload)
	if err != nil {
		failure := p.networkFailure(ctx, err)
		for _, i := range validIdx {
			out.Results[i].Result = *failure
		}
		return out, nil
	}

	raw = strings.TrimSpace(raw)
	out.RawResponse = raw
	fields := strings.Fields(raw)
	if len(fields) < 2 || fields[0] != "00" {
		code := providerdomain.ErrorCodeAPIError
		if len(fields) > 0 {
			if mapped, ok := p.classify(fields[0]); ok {
				code = mapped
			}
		}
		p.recordError(ctx, code)
		for _, i := range validIdx {
			out.Results[i].Result = providerdomain.SendResult{
				Status:       providerdomain.DeliveryStatusFailed,
				ErrorCode:    code,
				ErrorMessage: fmt.Sprintf("gateway result %q", raw),
				RawResponse:  raw,
			}
		}
		return out, nil
	}

	out.BatchID = fields[1]
	for _, i := range validIdx {
		out.Results[i].Result = providerdomain.SendResult{
			Success:           true,
			ProviderMessageID: out.BatchID,
			Status:            providerdomain.DeliveryStatusSent,
			CreditsUsed:       segs,
			RawResponse:       raw,
		}
		out.CreditsUsed += segs
	}
	return out, nil
}

func (p *Provider) GetDeliveryReport(ctx context.Context, providerMessageID string) (*providerdomain.SendResult, error) {
	if providerMessageID == "" {
		return nil, providerdomain.ErrInvalidRequest
	}

	q := url.Values{}
	q.Set("usercode", p.cfg.UserCode)
	q.Set("password", p.cfg.Password)
	q.Set("bulkid", providerMessageID)

	body, err := p.get(ctx, reportPath, q)
	if err != nil {
		return p.networkFailure(ctx, err), nil
	}

	raw := strings.TrimSpace(body)
	if code, ok := p.classify(raw); ok {
		p.recordError(ctx, code)
		return &providerdomain.SendResult{
			ProviderMessageID: providerMessageID,
			Status:            providerdomain.DeliveryStatusFailed,
			ErrorCode:         code,
			ErrorMessage:      fmt.Sprintf("report query result code %s", raw),
			RawResponse:       raw,
		}, nil
	}

	status, ok := reportStatuses[raw]
	if !ok {
		status = providerdomain.DeliveryStatusPending
	}
	return &providerdomain.SendResult{
		Success:           status != providerdomain.DeliveryStatusFailed && status != providerdomain.DeliveryStatusRejected,
		ProviderMessageID: providerMessageID,
		Status:            status,
		RawResponse:       raw,
	}, nil
}

func (p *Provider) GetAccountBalance(ctx context.Context) (*providerdomain.BalanceInfo, error) {
	q := url.Values{}
	q.Set("usercode", p.cfg.UserCode)
	q.Set("password", p.cfg.Password)

	body, err := p.get(ctx, balancePath, q)
	if err != nil {
		return nil, err
	}

	raw := strings.TrimSpace(body)
	if code, ok := p.classify(raw); ok {
		p.recordError(ctx, code)
		return nil, fmt.Errorf("balance query rejected: %s", code)
	}

	amount, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil {
		return nil, fmt.Errorf("unparseable balance response %q", raw)
	}
	return &providerdomain.BalanceInfo{Amount: amount, Currency: "TRY", Raw: raw}, nil
}

// classify reports whether the response body is a two-digit gateway error
// code rather than a message id.
func (p *Provider) classify(raw string) (providerdomain.ErrorCode, bool) {
	if code, ok := gatewayErrors[raw]; ok {
		return code, true
	}
	if len(raw) <= 2 {
		return providerdomain.ErrorCodeAPIError, true
	}
	return "", false
}

func (p *Provider) networkFailure(ctx context.Context, err error) *providerdomain.SendResult {
	p.log.Warn("gateway request failed", zap.Error(err))
	p.recordError(ctx, providerdomain.ErrorCodeAPIError)
	return &providerdomain.SendResult{
		Status:       providerdomain.DeliveryStatusFailed,
		ErrorCode:    providerdomain.ErrorCodeAPIError,
		ErrorMessage: err.Error(),
	}
}

func (p *Provider) recordError(ctx context.Context, code providerdomain.ErrorCode) {
	if p.obsMetrics != nil {
		p.obsMetrics.RecordProviderError(ctx, p.Name(), string(code))
	}
}

func (p *Provider) get(ctx context.Context, path string, q url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	return p.do(req)
}

func (p *Provider) post(ctx context.Context, path, contentType string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	return p.do(req)
}

func (p *Provider) do(req *http.Request) (string, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gateway returned http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}
