package paypal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paymux/paymux/provider"
)

const (
	providerName = "paypal"

	apiSandboxURL    = "https://api-m.sandbox.paypal.com"
	apiProductionURL = "https://api-m.paypal.com"

	endpointToken         = "/v1/oauth2/token"
	endpointOrders        = "/v2/checkout/orders"
	endpointOrderCapture  = "/v2/checkout/orders/%s/capture"
	endpointOrderGet      = "/v2/checkout/orders/%s"
	endpointRefund        = "/v2/payments/captures/%s/refund"
	endpointSubscriptions = "/v1/billing/subscriptions"
	endpointVerifyWebhook = "/v1/notifications/verify-webhook-signature"

	// PayPal order statuses
	statusCreated   = "CREATED"
	statusApproved  = "APPROVED"
	statusCompleted = "COMPLETED"
	statusVoided    = "VOIDED"

	// token refresh safety margin
	tokenSlack = time.Minute
)

// PayPal webhook event types we translate
const (
	eventCaptureCompleted      = "PAYMENT.CAPTURE.COMPLETED"
	eventCaptureDenied         = "PAYMENT.CAPTURE.DENIED"
	eventCaptureRefunded       = "PAYMENT.CAPTURE.REFUNDED"
	eventSubscriptionCreated   = "BILLING.SUBSCRIPTION.CREATED"
	eventSubscriptionActivated = "BILLING.SUBSCRIPTION.ACTIVATED"
	eventSubscriptionCancelled = "BILLING.SUBSCRIPTION.CANCELLED"
	eventSaleCompleted         = "PAYMENT.SALE.COMPLETED"
	eventDisputeCreated        = "CUSTOMER.DISPUTE.CREATED"
)

// Provider implements provider.PaymentProvider for PayPal's REST API.
// PayPal authorizes on approval and settles on an explicit capture call, so
// Capture here issues the real order capture. Webhook authenticity is checked
// by PayPal's remote verification endpoint; there is no local signature
// scheme.
type Provider struct {
	clientID     string
	clientSecret string
	webhookID    string
	sandbox      bool
	client       *provider.HTTPClient

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewProvider creates a new PayPal payment provider
func NewProvider() provider.PaymentProvider {
	return &Provider{}
}

// Initialize sets up the provider with resolved credentials
func (p *Provider) Initialize(conf map[string]string) error {
	p.clientID = conf["client_id"]
	p.clientSecret = conf["client_secret"]
	if p.clientID == "" || p.clientSecret == "" {
		return errors.New("paypal: client_id and client_secret are required")
	}
	p.webhookID = conf["webhook_id"]
	p.sandbox = conf["sandbox"] == "true"

	baseURL := apiProductionURL
	if p.sandbox {
		baseURL = apiSandboxURL
	}
	p.client = provider.NewHTTPClient(provider.CreateHTTPClientConfig(providerName, baseURL, false, 0))
	return nil
}

// GetRequiredConfig returns the configuration fields required for PayPal
func (p *Provider) GetRequiredConfig(_ string) []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "client_id",
			Required:    true,
			Secret:      true,
			Type:        "string",
			Description: "PayPal REST API client id",
			Example:     "AeB1QxYz...",
			MinLength:   10,
		},
		{
			Key:         "client_secret",
			Required:    true,
			Secret:      true,
			Type:        "string",
			Description: "PayPal REST API client secret",
			Example:     "EGnHDxD_qRPdaLdZz...",
			MinLength:   10,
		},
		{
			Key:         "webhook_id",
			Required:    true,
			Secret:      false,
			Type:        "string",
			Description: "PayPal webhook id used for signature verification",
			Example:     "8PT597110X687430LKGECATA",
			MinLength:   10,
		},
		{
			Key:         "sandbox",
			Required:    true,
			Type:        "boolean",
			Description: "Use the PayPal sandbox environment",
			Example:     "true",
		},
	}
}

// ValidateConfig validates the provided configuration
func (p *Provider) ValidateConfig(conf map[string]string) error {
	return provider.ValidateConfigFields(providerName, conf, p.GetRequiredConfig(provider.ModeFor(conf["sandbox"] == "true")))
}

// Capabilities declares what PayPal supports
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		AutoCapture:   false,
		Subscriptions: true,
		Refunds:       true,
	}
}

// token returns a valid OAuth2 access token, refreshing it when needed
func (p *Provider) token(ctx context.Context) (string, error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.tokenExpiry.Add(-tokenSlack)) {
		return p.accessToken, nil
	}

	basic := base64.StdEncoding.EncodeToString([]byte(p.clientID + ":" + p.clientSecret))
	resp, err := p.client.SendForm(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointToken,
		Headers:  map[string]string{"Authorization": "Basic " + basic},
		FormData: map[string]string{"grant_type": "client_credentials"},
	})
	if err != nil {
		return "", err
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := p.client.ParseJSONResponse(resp, &tokenResp); err != nil {
		return "", fmt.Errorf("paypal: failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", errors.New("paypal: empty access token")
	}

	p.accessToken = tokenResp.AccessToken
	p.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	return p.accessToken, nil
}

func (p *Provider) authHeaders(ctx context.Context) (map[string]string, error) {
	token, err := p.token(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

// CreateCheckout creates a PayPal order and returns its approval link
func (p *Provider) CreateCheckout(ctx context.Context, request provider.CheckoutRequest) (*provider.CheckoutSession, error) {
	headers, err := p.authHeaders(ctx)
	if err != nil {
		return nil, err
	}

	order := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{
			{
				"amount": map[string]string{
					"currency_code": strings.ToUpper(request.Currency),
					"value":         fmt.Sprintf("%.2f", request.Amount),
				},
				"description": request.Description,
			},
		},
		"application_context": map[string]string{
			"return_url": request.SuccessURL,
			"cancel_url": request.CancelURL,
		},
	}

	resp, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointOrders,
		Headers:  headers,
		Body:     order,
	})
	if err != nil {
		return nil, err
	}

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := p.client.ParseJSONResponse(resp, &created); err != nil {
		return nil, fmt.Errorf("paypal: failed to parse order response: %w", err)
	}

	session := &provider.CheckoutSession{
		SessionID: created.ID,
		Provider:  providerName,
	}
	for _, link := range created.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			session.RedirectURL = link.Href
			break
		}
	}
	return session, nil
}

// Capture settles an approved order. This is a real, non-idempotent capture
// call; callers hold an operation claim around it.
func (p *Provider) Capture(ctx context.Context, sessionID string) (*provider.CaptureResult, error) {
	if sessionID == "" {
		return nil, errors.New("paypal: sessionID is required")
	}

	headers, err := p.authHeaders(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: fmt.Sprintf(endpointOrderCapture, sessionID),
		Headers:  headers,
	})
	if err != nil {
		return nil, err
	}

	var captured struct {
		Status        string `json:"status"`
		PurchaseUnits []struct {
			Payments struct {
				Captures []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
					Amount struct {
						CurrencyCode string `json:"currency_code"`
						Value        string `json:"value"`
					} `json:"amount"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}
	if err := p.client.ParseJSONResponse(resp, &captured); err != nil {
		return nil, fmt.Errorf("paypal: failed to parse capture response: %w", err)
	}

	result := &provider.CaptureResult{Status: mapOrderStatus(captured.Status)}
	for _, unit := range captured.PurchaseUnits {
		for _, c := range unit.Payments.Captures {
			result.PaymentRef = c.ID
			result.Currency = c.Amount.CurrencyCode
			result.Amount, _ = strconv.ParseFloat(c.Amount.Value, 64)
			break
		}
	}
	return result, nil
}

// CreateSubscription starts a PayPal billing subscription
func (p *Provider) CreateSubscription(ctx context.Context, request provider.SubscriptionRequest) (*provider.SubscriptionSession, error) {
	headers, err := p.authHeaders(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"plan_id":   request.PlanRef,
		"custom_id": request.CustomerRef,
	}

	resp, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointSubscriptions,
		Headers:  headers,
		Body:     body,
	})
	if err != nil {
		return nil, err
	}

	var created struct {
		ID    string `json:"id"`
		Links []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := p.client.ParseJSONResponse(resp, &created); err != nil {
		return nil, fmt.Errorf("paypal: failed to parse subscription response: %w", err)
	}

	session := &provider.SubscriptionSession{ProviderSubscriptionID: created.ID}
	for _, link := range created.Links {
		if link.Rel == "approve" {
			session.RedirectURL = link.Href
			break
		}
	}
	return session, nil
}

// GetSubscriptionStatus retrieves the PayPal-side subscription status
func (p *Provider) GetSubscriptionStatus(ctx context.Context, providerSubscriptionID string) (provider.SubscriptionStatus, error) {
	if providerSubscriptionID == "" {
		return provider.SubscriptionUnknown, errors.New("paypal: providerSubscriptionID is required")
	}

	headers, err := p.authHeaders(ctx)
	if err != nil {
		return provider.SubscriptionUnknown, err
	}

	resp, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodGet,
		Endpoint: endpointSubscriptions + "/" + providerSubscriptionID,
		Headers:  headers,
	})
	if err != nil {
		return provider.SubscriptionUnknown, err
	}

	var sub struct {
		Status string `json:"status"`
	}
	if err := p.client.ParseJSONResponse(resp, &sub); err != nil {
		return provider.SubscriptionUnknown, fmt.Errorf("paypal: failed to parse subscription: %w", err)
	}
	return mapSubscriptionStatus(sub.Status), nil
}

// RefundPayment refunds a capture, partially when an amount is given
func (p *Provider) RefundPayment(ctx context.Context, request provider.RefundRequest) (*provider.RefundResult, error) {
	if request.PaymentRef == "" {
		return nil, errors.New("paypal: paymentRef is required for refund")
	}

	headers, err := p.authHeaders(ctx)
	if err != nil {
		return nil, err
	}

	var body map[string]any
	if request.Amount > 0 {
		body = map[string]any{
			"amount": map[string]string{
				"currency_code": strings.ToUpper(request.Currency),
				"value":         fmt.Sprintf("%.2f", request.Amount),
			},
		}
	}
	if request.Reason != "" {
		if body == nil {
			body = map[string]any{}
		}
		body["note_to_payer"] = request.Reason
	}

	resp, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: fmt.Sprintf(endpointRefund, request.PaymentRef),
		Headers:  headers,
		Body:     body,
	})
	if err != nil {
		return nil, err
	}

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount struct {
			Value string `json:"value"`
		} `json:"amount"`
	}
	if err := p.client.ParseJSONResponse(resp, &refund); err != nil {
		return nil, fmt.Errorf("paypal: failed to parse refund response: %w", err)
	}

	result := &provider.RefundResult{
		RefundRef:  refund.ID,
		PaymentRef: request.PaymentRef,
		Status:     refund.Status,
	}
	result.Amount, _ = strconv.ParseFloat(refund.Amount.Value, 64)
	return result, nil
}

// VerifyWebhook asks PayPal's verification endpoint whether the delivery is
// genuine. The transmission headers travel along with the raw event body.
func (p *Provider) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	if p.webhookID == "" {
		return errors.New("paypal: webhook_id is not configured")
	}

	authHeaders, err := p.authHeaders(ctx)
	if err != nil {
		return err
	}

	body := map[string]any{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        p.webhookID,
		"webhook_event":     json.RawMessage(payload),
	}

	resp, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointVerifyWebhook,
		Headers:  authHeaders,
		Body:     body,
	})
	if err != nil {
		return err
	}

	var verification struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := p.client.ParseJSONResponse(resp, &verification); err != nil {
		return fmt.Errorf("paypal: failed to parse verification response: %w", err)
	}
	if verification.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("paypal: webhook verification returned %s", verification.VerificationStatus)
	}
	return nil
}

// ParseWebhook normalizes a verified PayPal event
func (p *Provider) ParseWebhook(_ context.Context, payload []byte) (*provider.WebhookEvent, error) {
	var evt struct {
		ID         string    `json:"id"`
		EventType  string    `json:"event_type"`
		CreateTime time.Time `json:"create_time"`
		Resource   struct {
			ID                 string `json:"id"`
			Status             string `json:"status"`
			BillingAgreementID string `json:"billing_agreement_id"`
			Amount             struct {
				CurrencyCode string `json:"currency_code"`
				Value        string `json:"value"`
			} `json:"amount"`
			SupplementaryData struct {
				RelatedIDs struct {
					OrderID string `json:"order_id"`
				} `json:"related_ids"`
			} `json:"supplementary_data"`
		} `json:"resource"`
	}
	if err := p.client.ParseJSONResponse(&provider.HTTPResponse{Body: payload}, &evt); err != nil {
		return nil, fmt.Errorf("paypal: failed to parse event: %w", err)
	}

	out := &provider.WebhookEvent{
		Provider:   providerName,
		EventID:    evt.ID,
		Type:       provider.EventUnknown,
		OccurredAt: evt.CreateTime.UTC(),
		Raw:        payload,
	}

	switch evt.EventType {
	case eventCaptureCompleted:
		out.Type = provider.EventPaymentSucceeded
		out.PaymentRef = evt.Resource.ID
		out.SessionID = evt.Resource.SupplementaryData.RelatedIDs.OrderID
		out.Currency = evt.Resource.Amount.CurrencyCode
		out.Amount, _ = strconv.ParseFloat(evt.Resource.Amount.Value, 64)
	case eventCaptureDenied:
		out.Type = provider.EventPaymentFailed
		out.PaymentRef = evt.Resource.ID
		out.SessionID = evt.Resource.SupplementaryData.RelatedIDs.OrderID
	case eventCaptureRefunded:
		out.Type = provider.EventRefundCreated
		out.PaymentRef = evt.Resource.ID
	case eventSubscriptionCreated:
		out.Type = provider.EventSubscriptionCreated
		out.ProviderSubscriptionID = evt.Resource.ID
	case eventSubscriptionActivated:
		out.Type = provider.EventSubscriptionUpdated
		out.ProviderSubscriptionID = evt.Resource.ID
	case eventSubscriptionCancelled:
		out.Type = provider.EventSubscriptionCancelled
		out.ProviderSubscriptionID = evt.Resource.ID
	case eventSaleCompleted:
		// recurring charge against a billing agreement
		out.Type = provider.EventSubscriptionRenewed
		out.PaymentRef = evt.Resource.ID
		out.ProviderSubscriptionID = evt.Resource.BillingAgreementID
		out.Currency = evt.Resource.Amount.CurrencyCode
		out.Amount, _ = strconv.ParseFloat(evt.Resource.Amount.Value, 64)
	case eventDisputeCreated:
		out.Type = provider.EventDisputeCreated
	}

	return out, nil
}

func mapOrderStatus(status string) provider.PaymentStatus {
	switch status {
	case statusCompleted:
		return provider.StatusSucceeded
	case statusCreated, statusApproved:
		return provider.StatusPending
	case statusVoided:
		return provider.StatusCancelled
	default:
		return provider.StatusProcessing
	}
}

func mapSubscriptionStatus(status string) provider.SubscriptionStatus {
	switch status {
	case "ACTIVE":
		return provider.SubscriptionActive
	case "APPROVAL_PENDING", "APPROVED":
		return provider.SubscriptionPending
	case "SUSPENDED":
		return provider.SubscriptionPastDue
	case "CANCELLED":
		return provider.SubscriptionCancelled
	case "EXPIRED":
		return provider.SubscriptionExpired
	default:
		return provider.SubscriptionUnknown
	}
}
